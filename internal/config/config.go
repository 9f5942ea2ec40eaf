package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the enginepack binaries.
type Config struct {
	// ManifestPath is the path to the YAML version manifest.
	ManifestPath string `yaml:"manifest"`
	// CacheDir is the root directory for downloads and installed artifacts.
	CacheDir string `yaml:"cache_dir"`
	// JavaHome is the JDK location exported to launched engines.
	// Empty means inherit JAVA_HOME from the environment.
	JavaHome string `yaml:"java_home"`
	// FetchTimeout bounds a single artifact download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

const (
	// DefaultConfigFilename is the default filename for enginepack settings.
	DefaultConfigFilename = "enginepack-settings.yaml"

	// DefaultManifestFilename is the default filename for the version manifest.
	DefaultManifestFilename = "enginepack-manifest.yaml"

	// DefaultFetchTimeout bounds a single artifact download.
	// Distributions run to hundreds of megabytes, so this is generous.
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultFilePermissions is used when writing settings and manifest files.
	DefaultFilePermissions = 0o600

	// CacheDirEnv overrides the default cache location.
	CacheDirEnv = "ENGINEPACK_CACHE_DIR"
)

// errConfigIsNotSet is returned when a nil configuration is provided to Save.
var errConfigIsNotSet = errors.New("configuration is not set")

// Load reads configuration from the provided path and fills defaults.
// A missing file at the default path is not an error: defaults apply.
func Load(path string) (*Config, error) {
	usingDefault := path == ""
	if usingDefault {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if usingDefault && errors.Is(err, os.ErrNotExist) {
			cfg := new(Config)
			if err = Validate(cfg); err != nil {
				return nil, err
			}

			return cfg, nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults for absent fields and rejects unusable values.
func Validate(cfg *Config) error {
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = DefaultManifestFilename
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	if cfg.JavaHome != "" {
		info, err := os.Stat(cfg.JavaHome)
		if err != nil {
			return fmt.Errorf("java home: %w", err)
		}

		if !info.IsDir() {
			return fmt.Errorf("java home %s: %w", cfg.JavaHome, errNotADirectory)
		}
	}

	return nil
}

// errNotADirectory is returned when a configured path exists but is not a directory.
var errNotADirectory = errors.New("not a directory")

// defaultCacheDir resolves the artifact cache root:
// ENGINEPACK_CACHE_DIR, then ~/.cache/enginepack, then a relative fallback.
func defaultCacheDir() string {
	if dir := os.Getenv(CacheDirEnv); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".enginepack-cache"
	}

	return filepath.Join(home, ".cache", "enginepack")
}
