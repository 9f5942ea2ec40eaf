package install

import (
	"context"
	"fmt"

	"github.com/searchkit/enginepack/internal/config"
	"github.com/searchkit/enginepack/internal/fetch"
	"github.com/searchkit/enginepack/internal/installer"
	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/resolver"
)

// Options contains inputs for the install entry point.
type Options struct {
	// ConfigPath is an optional path to the settings YAML file.
	ConfigPath string
	// ManifestPath overrides the manifest location from settings.
	ManifestPath string
	// CacheDir overrides the cache location from settings.
	CacheDir string
	// Name and Version select the package to install.
	Name    string
	Version string
	// WithJars also derives the secondary modules-jars artifact.
	WithJars bool
}

// Run resolves and installs one package release. It is the public entry
// point for the enginepack-install CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "enginepack-install")

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

	logger.InfoKV(ctx, "Resolved package",
		"package", spec.Name, "version", spec.Version, "url", spec.URL)

	inst := installer.New(cfg.CacheDir, fetch.NewFetcher(cfg.FetchTimeout))

	artifact, err := inst.Install(ctx, spec, rec)
	if err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	logger.InfoKV(ctx, "Artifact ready", "path", artifact.Root)

	if opts.WithJars && rec.JarsFrom != "" {
		jarsDir, err := inst.Jars(ctx, artifact, rec)
		if err != nil {
			return fmt.Errorf("derive jars artifact: %w", err)
		}

		logger.InfoKV(ctx, "Modules-jars artifact ready",
			"path", jarsDir,
			"export", fmt.Sprintf("%s_MODULES_JARS=%s", rec.EnvPrefix, jarsDir))
	}

	if rec.ServerBin != "" {
		logger.Infof(ctx, "Launch with: enginepack-launch %s %s --home <dir>",
			spec.Name, spec.Version)
	}

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
