package manifestops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/searchkit/enginepack/internal/config"
	"github.com/searchkit/enginepack/internal/fetch"
	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/manifest"
)

// Options contains inputs shared by the manifest subcommands.
type Options struct {
	// ConfigPath is an optional path to the settings YAML file.
	ConfigPath string
	// ManifestPath overrides the manifest location from settings.
	ManifestPath string
	// Name selects a package family. Empty means all families for List.
	Name string
	// Versions are the releases to verify or generate entries for.
	Versions []string
}

// RunList prints manifest entries for one family or all of them.
func RunList(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "enginepack-manifest")

	cfg, m, err := load(opts)
	if err != nil {
		return err
	}

	names := m.Names()
	if opts.Name != "" {
		names = []string{opts.Name}
	}

	var b strings.Builder

	for _, name := range names {
		versions := m.Versions(name)
		if len(versions) == 0 {
			return &manifest.UnknownPackageError{Name: name}
		}

		fmt.Fprintf(&b, "%s: %s\n", name, strings.Join(versions, ", "))
	}

	logger.Infof(ctx, "Manifest %s lists:\n%s", cfg.ManifestPath, b.String())

	return nil
}

// RunVerify re-fetches each selected release and compares the streamed hash
// against the manifest. Nothing is installed; a mismatch is fatal.
func RunVerify(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "enginepack-manifest")

	cfg, m, err := load(opts)
	if err != nil {
		return err
	}

	fetcher := fetch.NewFetcher(cfg.FetchTimeout)

	for _, version := range opts.Versions {
		spec, err := m.Lookup(opts.Name, version)
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Hashing artifact", "package", spec.Name, "version", spec.Version, "url", spec.URL)

		got, err := fetcher.Hash(ctx, spec.URL)
		if err != nil {
			return fmt.Errorf("package %s %s: hash %s: %w", spec.Name, spec.Version, spec.URL, err)
		}

		want := fetch.NormalizeChecksum(spec.SHA256)
		if !strings.EqualFold(got, want) {
			return &fetch.IntegrityError{Name: spec.Name, Version: spec.Version, Want: want, Got: got}
		}

		logger.InfoKV(ctx, "Checksum verified", "package", spec.Name, "version", spec.Version)
	}

	return nil
}

// RunGenerate computes manifest entries for the selected releases from the
// per-family URL templates and streamed remote hashing, then merges them
// into the manifest file. Entries already present are skipped; identical
// URLs are hashed once.
func RunGenerate(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "enginepack-manifest")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.ManifestPath != "" {
		cfg.ManifestPath = opts.ManifestPath
	}

	existing, err := loadOrEmpty(cfg.ManifestPath)
	if err != nil {
		return err
	}

	var (
		fetcher  = fetch.NewFetcher(cfg.FetchTimeout)
		platform = manifest.DefaultPlatform()
		specs    = existing.Specs()
		hashMemo = make(map[string]string)
		added    int
	)

	for _, raw := range opts.Versions {
		version, ok := manifest.ExtractVersion(raw)
		if !ok {
			return fmt.Errorf("%q: %w", raw, errNotAVersion)
		}

		if existing.Has(opts.Name, version) {
			logger.InfoKV(ctx, "Skipping entry, already in manifest",
				"package", opts.Name, "version", version)
			continue
		}

		url, err := manifest.DefaultURL(opts.Name, version, platform)
		if err != nil {
			return err
		}

		hash, ok := hashMemo[url]
		if !ok {
			logger.InfoKV(ctx, "Hashing artifact", "package", opts.Name, "version", version, "url", url)

			hash, err = fetcher.Hash(ctx, url)
			if err != nil {
				return fmt.Errorf("package %s %s: hash %s: %w", opts.Name, version, url, err)
			}

			hashMemo[url] = hash
		}

		specs = append(specs, manifest.Spec{
			Name:    opts.Name,
			Version: version,
			URL:     url,
			SHA256:  hash,
		})
		added++
	}

	if added == 0 {
		logger.Info(ctx, "Manifest already up to date")
		return nil
	}

	if err = manifest.Save(cfg.ManifestPath, specs); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Manifest updated", "path", cfg.ManifestPath, "added", added)

	return nil
}

var errNotAVersion = errors.New("not a recognizable version")

// load reads settings and the manifest, applying the manifest override.
func load(opts *Options) (*config.Config, *manifest.Manifest, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	if opts.ManifestPath != "" {
		cfg.ManifestPath = opts.ManifestPath
	}

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return nil, nil, err
	}

	return cfg, m, nil
}

// loadOrEmpty tolerates a manifest file that does not exist yet.
func loadOrEmpty(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return manifest.New(nil), nil
		}

		return nil, err
	}

	return m, nil
}
