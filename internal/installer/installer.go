package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/searchkit/enginepack/internal/fetch"
	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/recipe"
)

// Artifact is the immutable output of applying a recipe to a fetched spec.
// Content-addressed: the same (spec, recipe) pair always maps to the same
// root and a byte-identical tree.
type Artifact struct {
	// Root is the installed directory tree.
	Root string
	// Spec is the manifest entry the artifact was built from.
	Spec manifest.Spec
	// Key is the cache key derived from (spec hash, recipe identity).
	Key string
}

// PatchApplicationError reports a recipe substitution whose target file or
// pattern is absent. Fatal unless the step was marked optional.
type PatchApplicationError struct {
	// Name and Version identify the offending package.
	Name    string
	Version string
	// Path is the file the step targeted.
	Path string
	// Find is the pattern that was not found. Empty means the file itself
	// was missing.
	Find string
}

func (e *PatchApplicationError) Error() string {
	if e.Find == "" {
		return fmt.Sprintf("package %s %s: patch target %s not found", e.Name, e.Version, e.Path)
	}

	return fmt.Sprintf("package %s %s: pattern %q not found in %s", e.Name, e.Version, e.Find, e.Path)
}

// errNoJarsArtifact is returned when Jars is called for a family without one.
var errNoJarsArtifact = errors.New("package family has no modules-jars artifact")

// Installer builds and caches installed artifacts under the cache directory.
type Installer struct {
	// cacheDir is the root for downloads and artifacts.
	cacheDir string
	// fetcher downloads and verifies release archives.
	fetcher *fetch.Fetcher
}

// New creates an installer over the provided cache directory.
func New(cacheDir string, fetcher *fetch.Fetcher) *Installer {
	return &Installer{cacheDir: cacheDir, fetcher: fetcher}
}

// Key derives the artifact cache key from the archive checksum and the
// resolved recipe identity.
func Key(spec manifest.Spec, rec recipe.Resolved) string {
	sum := sha256.Sum256([]byte(fetch.NormalizeChecksum(spec.SHA256) + "\n" + rec.Identity()))
	return hex.EncodeToString(sum[:8])
}

// Install builds the artifact for (spec, recipe), reusing the cache when the
// pair was built before. Idempotent: repeated calls with identical inputs
// yield a byte-identical tree. Concurrent builders race safely because the
// tree is assembled in a temp directory and renamed into place.
func (i *Installer) Install(ctx context.Context, spec manifest.Spec, rec recipe.Resolved) (*Artifact, error) {
	key := Key(spec, rec)
	root := i.artifactRoot(spec, key)
	artifact := &Artifact{Root: root, Spec: spec, Key: key}

	if _, err := os.Stat(root); err == nil {
		logger.DebugKV(ctx, "Artifact cache hit", "package", spec.Name, "version", spec.Version, "path", root)
		return artifact, nil
	}

	archive, err := i.downloadArchive(ctx, spec)
	if err != nil {
		return nil, err
	}

	extractDir, err := os.MkdirTemp(i.cacheDir, "extract-")
	if err != nil {
		return nil, fmt.Errorf("create extract directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(extractDir)
	}()

	srcRoot, err := fetch.Extract(archive, extractDir)
	if err != nil {
		return nil, fmt.Errorf("package %s %s: %w", spec.Name, spec.Version, err)
	}

	if err = os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}

	stage, err := os.MkdirTemp(filepath.Dir(root), ".build-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(stage)
	}()

	if err = assemble(srcRoot, stage, rec.Dirs); err != nil {
		return nil, fmt.Errorf("package %s %s: %w", spec.Name, spec.Version, err)
	}

	if err = applySteps(ctx, stage, root, spec, rec); err != nil {
		return nil, err
	}

	if err = markExecutables(stage, rec.BinDir); err != nil {
		return nil, fmt.Errorf("package %s %s: %w", spec.Name, spec.Version, err)
	}

	if err = normalizeTimes(stage); err != nil {
		return nil, fmt.Errorf("package %s %s: %w", spec.Name, spec.Version, err)
	}

	if err = os.Rename(stage, root); err != nil {
		// A concurrent builder may have won the race with identical bytes.
		if _, statErr := os.Stat(root); statErr == nil {
			logger.DebugKV(ctx, "Artifact built concurrently", "package", spec.Name, "path", root)
			return artifact, nil
		}

		return nil, fmt.Errorf("publish artifact: %w", err)
	}

	logger.InfoKV(ctx, "Installed artifact",
		"package", spec.Name, "version", spec.Version, "path", root)

	return artifact, nil
}

// Jars derives the secondary modules-jars artifact: a sibling directory of
// symlinks to every jar under the recipe's JarsFrom directory, plus an env
// file exporting <ENGINE>_MODULES_JARS so dependents discover the location
// without hardcoding a path.
func (i *Installer) Jars(ctx context.Context, artifact *Artifact, rec recipe.Resolved) (string, error) {
	if rec.JarsFrom == "" {
		return "", fmt.Errorf("package %s: %w", artifact.Spec.Name, errNoJarsArtifact)
	}

	jarsRoot := artifact.Root + "-jars"
	if _, err := os.Stat(jarsRoot); err == nil {
		return jarsRoot, nil
	}

	tmp, err := os.MkdirTemp(filepath.Dir(jarsRoot), ".jars-")
	if err != nil {
		return "", fmt.Errorf("create jars staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(tmp)
	}()

	src := filepath.Join(artifact.Root, rec.JarsFrom)

	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".jar") {
			return err
		}

		linkName := d.Name()
		if _, statErr := os.Lstat(filepath.Join(tmp, linkName)); statErr == nil {
			// Same jar name in two modules; qualify with the module directory.
			linkName = filepath.Base(filepath.Dir(path)) + "-" + linkName
		}

		return os.Symlink(path, filepath.Join(tmp, linkName))
	})
	if err != nil {
		return "", fmt.Errorf("package %s %s: collect jars: %w",
			artifact.Spec.Name, artifact.Spec.Version, err)
	}

	export := fmt.Sprintf("export %s_MODULES_JARS=%s\n", rec.EnvPrefix, jarsRoot)
	if err = os.WriteFile(filepath.Join(tmp, "env"), []byte(export), 0o644); err != nil { //nolint:gosec // Not a secret.
		return "", fmt.Errorf("write jars env file: %w", err)
	}

	if err = os.Rename(tmp, jarsRoot); err != nil {
		if _, statErr := os.Stat(jarsRoot); statErr == nil {
			return jarsRoot, nil
		}

		return "", fmt.Errorf("publish jars artifact: %w", err)
	}

	logger.InfoKV(ctx, "Derived modules-jars artifact",
		"package", artifact.Spec.Name, "path", jarsRoot)

	return jarsRoot, nil
}

// downloadArchive fetches the release archive into the downloads cache,
// reusing a previously verified download when present.
func (i *Installer) downloadArchive(ctx context.Context, spec manifest.Spec) (string, error) {
	ext := ".tar.gz"
	if strings.HasSuffix(spec.URL, ".zip") {
		ext = ".zip"
	}

	archive := filepath.Join(i.cacheDir, "downloads",
		fmt.Sprintf("%s-%s-%s%s", spec.Name, spec.Version, shortHash(spec.SHA256), ext))

	if _, err := os.Stat(archive); err == nil {
		logger.DebugKV(ctx, "Download cache hit", "package", spec.Name, "path", archive)
		return archive, nil
	}

	if err := i.fetcher.Download(ctx, spec, archive); err != nil {
		return "", err
	}

	return archive, nil
}

func (i *Installer) artifactRoot(spec manifest.Spec, key string) string {
	return filepath.Join(i.cacheDir, "artifacts",
		fmt.Sprintf("%s-%s-%s", spec.Name, spec.Version, key))
}

func shortHash(s string) string {
	s = fetch.NormalizeChecksum(s)
	if len(s) > 8 {
		return s[:8]
	}

	return s
}
