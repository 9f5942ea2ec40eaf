package launch

import (
	"context"
	"fmt"
	"os"

	"github.com/searchkit/enginepack/internal/config"
	"github.com/searchkit/enginepack/internal/fetch"
	"github.com/searchkit/enginepack/internal/installer"
	"github.com/searchkit/enginepack/internal/launcher"
	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/resolver"
)

// Options contains inputs for the launch entry point.
type Options struct {
	// ConfigPath is an optional path to the settings YAML file.
	ConfigPath string
	// ManifestPath overrides the manifest location from settings.
	ManifestPath string
	// CacheDir overrides the cache location from settings.
	CacheDir string
	// Name and Version select the package to launch.
	Name    string
	Version string
	// Home is the writable working directory for this run.
	// Empty falls back to <ENGINE>_HOME from the environment.
	Home string
	// ConfDir overrides the home-relative configuration location.
	// Empty falls back to <ENGINE>_CONF_PATH from the environment.
	ConfDir string
	// JavaHome overrides the JDK from settings or JAVA_HOME.
	JavaHome string
	// JavaOpts are appended to the engine's JVM options.
	JavaOpts []string
}

// errHomeRequired is returned when neither the flag nor the environment
// provides a home directory.
var errHomeRequired = fmt.Errorf("home directory must be provided")

// Run installs (or reuses) the artifact and launches the engine against a
// staged home. It is the public entry point for the enginepack-launch CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "enginepack-launch")

	cfg, err := loadConfig(opts.ConfigPath, opts.ManifestPath, opts.CacheDir)
	if err != nil {
		return err
	}

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}

	spec, rec, err := resolver.Resolve(m, opts.Name, opts.Version)
	if err != nil {
		return err
	}

	inst := installer.New(cfg.CacheDir, fetch.NewFetcher(cfg.FetchTimeout))

	artifact, err := inst.Install(ctx, spec, rec)
	if err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	home := opts.Home
	if home == "" {
		home = os.Getenv(rec.EnvPrefix + "_HOME")
	}

	if home == "" {
		return fmt.Errorf("package %s %s: %w", spec.Name, spec.Version, errHomeRequired)
	}

	confDir := opts.ConfDir
	if confDir == "" {
		confDir = os.Getenv(rec.EnvPrefix + "_CONF_PATH")
	}

	javaHome := opts.JavaHome
	if javaHome == "" {
		javaHome = cfg.JavaHome
	}

	cmd, err := launcher.Launch(ctx, &launcher.Options{
		Artifact: artifact,
		Recipe:   rec,
		Home:     home,
		ConfDir:  confDir,
		JavaHome: javaHome,
		JavaOpts: opts.JavaOpts,
	})
	if err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}

	logger.InfoKV(ctx, "Launcher done, server is on its own",
		"package", spec.Name, "version", spec.Version, "pid", cmd.Process.Pid)

	return nil
}

// loadConfig reads settings and applies CLI overrides.
func loadConfig(path, manifestPath, cacheDir string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if manifestPath != "" {
		cfg.ManifestPath = manifestPath
	}

	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}

	return cfg, nil
}
