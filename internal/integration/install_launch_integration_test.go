package integration

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/searchkit/enginepack/internal/fetch"
	"github.com/searchkit/enginepack/internal/installer"
	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/resolver"
	"github.com/searchkit/enginepack/internal/service/install"
	"github.com/searchkit/enginepack/internal/service/launch"
	"github.com/searchkit/enginepack/internal/service/manifestops"
)

// archiveEntry describes one file inside a synthetic release tarball.
type archiveEntry struct {
	name string
	body string
	mode int64
}

// buildTarGz assembles a gzipped tarball and returns its bytes with their
// hex-encoded SHA-256.
func buildTarGz(t *testing.T, entries []archiveEntry) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, entry := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     entry.name,
			Mode:     entry.mode,
			Size:     int64(len(entry.body)),
			Typeflag: tar.TypeReg,
		}))

		_, err := tw.Write([]byte(entry.body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	sum := sha256.Sum256(buf.Bytes())

	return buf.Bytes(), hex.EncodeToString(sum[:])
}

// serveArchive exposes the tarball over HTTP for the duration of the test.
func serveArchive(t *testing.T, contents []byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(contents)
	}))

	t.Cleanup(server.Close)

	return server
}

// fakeRelease mimics the upstream Elasticsearch distribution layout closely
// enough for the recipe steps to act on it.
func fakeRelease() []archiveEntry {
	const root = "elasticsearch-7.10.2"

	return []archiveEntry{
		{
			name: root + "/bin/elasticsearch",
			body: "#!/bin/sh\n# keystore bootstrap: \"$ES_HOME/bin/elasticsearch-keystore\"\nexit 0\n",
			mode: 0o755,
		},
		{
			name: root + "/bin/elasticsearch-env",
			body: "#!/bin/sh\nES_CLASSPATH=\"$ES_HOME/lib/*\"\n",
			mode: 0o755,
		},
		{name: root + "/config/elasticsearch.yml", body: "cluster.name: integration\n", mode: 0o644},
		{name: root + "/lib/elasticsearch-core.jar", body: "core", mode: 0o644},
		{name: root + "/modules/lang-painless/painless.jar", body: "painless", mode: 0o644},
		{name: root + "/modules/x-pack-ml/ml.jar", body: "ml", mode: 0o644},
	}
}

// TestInstallThenLaunch_EndToEnd drives the full pipeline against a local
// release server: resolve, download, verify, patch, cache, derive the
// modules-jars artifact, then stage a home and start the server binary.
func TestInstallThenLaunch_EndToEnd(t *testing.T) {
	t.Parallel()

	contents, hash := buildTarGz(t, fakeRelease())
	server := serveArchive(t, contents)

	workDir := t.TempDir()
	cacheDir := filepath.Join(workDir, "cache")
	manifestPath := filepath.Join(workDir, "manifest.yaml")

	require.NoError(t, manifest.Save(manifestPath, []manifest.Spec{{
		Name:    "elasticsearch",
		Version: "7.10.2",
		URL:     server.URL + "/elasticsearch-7.10.2.tar.gz",
		SHA256:  hash,
	}}))

	ctx := context.Background()

	err := install.Run(ctx, &install.Options{
		ManifestPath: manifestPath,
		CacheDir:     cacheDir,
		Name:         "elasticsearch",
		Version:      "7.10.2",
		WithJars:     true,
	})
	require.NoError(t, err)

	// Locate the artifact through a cache hit.
	m, err := manifest.Load(manifestPath)
	require.NoError(t, err)

	spec, rec, err := resolver.Resolve(m, "elasticsearch", "7.10.2")
	require.NoError(t, err)

	inst := installer.New(cacheDir, fetch.NewFetcher(time.Minute))

	artifact, err := inst.Install(ctx, spec, rec)
	require.NoError(t, err)

	// The classpath patch pins lib/* to the artifact location.
	envScript, err := os.ReadFile(filepath.Join(artifact.Root, "bin", "elasticsearch-env"))
	require.NoError(t, err)
	require.Contains(t, string(envScript), artifact.Root+`/lib/*`)
	require.NotContains(t, string(envScript), `$ES_HOME/lib/*`)

	// The ML module is excluded.
	_, err = os.Stat(filepath.Join(artifact.Root, "modules", "x-pack-ml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	// The modules-jars artifact links every surviving jar and exports its
	// location.
	jarsRoot := artifact.Root + "-jars"

	link, err := os.Readlink(filepath.Join(jarsRoot, "painless.jar"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(artifact.Root, "modules", "lang-painless", "painless.jar"), link)

	envFile, err := os.ReadFile(filepath.Join(jarsRoot, "env"))
	require.NoError(t, err)
	require.Contains(t, string(envFile), "ELASTICSEARCH_MODULES_JARS="+jarsRoot)

	// Launch reuses the cached artifact and stages a writable home.
	home := filepath.Join(workDir, "home")

	err = launch.Run(ctx, &launch.Options{
		ManifestPath: manifestPath,
		CacheDir:     cacheDir,
		Name:         "elasticsearch",
		Version:      "7.10.2",
		Home:         home,
		JavaOpts:     []string{"-Xms64m"},
	})
	require.NoError(t, err)

	// The home holds an independent writable copy plus the pid marker.
	staged, err := os.Stat(filepath.Join(home, "bin", "elasticsearch"))
	require.NoError(t, err)
	require.NotZero(t, staged.Mode().Perm()&0o111)

	pid, err := os.ReadFile(filepath.Join(home, "enginepack.pid"))
	require.NoError(t, err)
	require.NotEmpty(t, pid)

	// Writing into the home must not leak back into the artifact.
	require.NoError(t, os.WriteFile(filepath.Join(home, "config", "elasticsearch.yml"),
		[]byte("cluster.name: mutated\n"), 0o644))

	original, err := os.ReadFile(filepath.Join(artifact.Root, "config", "elasticsearch.yml"))
	require.NoError(t, err)
	require.Equal(t, "cluster.name: integration\n", string(original))
}

// TestManifestVerify_EndToEnd checks a good manifest entry against the live
// archive and rejects a tampered one.
func TestManifestVerify_EndToEnd(t *testing.T) {
	t.Parallel()

	contents, hash := buildTarGz(t, fakeRelease())
	server := serveArchive(t, contents)

	workDir := t.TempDir()
	manifestPath := filepath.Join(workDir, "manifest.yaml")
	url := server.URL + "/elasticsearch-7.10.2.tar.gz"

	require.NoError(t, manifest.Save(manifestPath, []manifest.Spec{
		{Name: "elasticsearch", Version: "7.10.2", URL: url, SHA256: hash},
		{
			Name:    "elasticsearch",
			Version: "7.9.0",
			URL:     url,
			SHA256:  "0000000000000000000000000000000000000000000000000000000000000000",
		},
	}))

	ctx := context.Background()

	err := manifestops.RunVerify(ctx, &manifestops.Options{
		ManifestPath: manifestPath,
		Name:         "elasticsearch",
		Versions:     []string{"7.10.2"},
	})
	require.NoError(t, err)

	err = manifestops.RunVerify(ctx, &manifestops.Options{
		ManifestPath: manifestPath,
		Name:         "elasticsearch",
		Versions:     []string{"7.9.0"},
	})

	var integrityErr *fetch.IntegrityError

	require.ErrorAs(t, err, &integrityErr)
	require.Equal(t, "7.9.0", integrityErr.Version)
}
