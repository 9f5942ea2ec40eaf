package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/searchkit/enginepack/internal/fetch"
	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/recipe"
)

const fetchTimeout = 10 * time.Second

// esFixture builds a minimal Elasticsearch-like distribution archive.
func esFixture(t *testing.T) []byte {
	t.Helper()

	files := map[string]string{
		"elasticsearch-8.13.4/bin/elasticsearch": "#!/bin/sh\n" +
			`exec "$ES_HOME/bin/elasticsearch-keystore" "$@"` + "\n",
		"elasticsearch-8.13.4/bin/elasticsearch-env": "#!/bin/sh\n" +
			`ES_CLASSPATH="$ES_HOME/lib/*"` + "\n",
		"elasticsearch-8.13.4/bin/elasticsearch-plugin":        "#!/bin/sh\necho plugin\n",
		"elasticsearch-8.13.4/config/elasticsearch.yml":        "cluster.name: fixture\n",
		"elasticsearch-8.13.4/lib/elasticsearch-core.jar":      "core-jar-bytes",
		"elasticsearch-8.13.4/modules/lang-painless/p.jar":     "painless-jar-bytes",
		"elasticsearch-8.13.4/modules/x-pack-ml/ml.jar":        "ml-jar-bytes",
		"elasticsearch-8.13.4/jdk/bin/java":                    "not-a-real-jvm",
		"elasticsearch-8.13.4/modules/lang-painless/notes.txt": "not a jar\n",
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range names {
		body := files[name]
		mode := int64(0o644)

		if strings.Contains(name, "/bin/") {
			mode = 0o755
		}

		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: mode,
			Size: int64(len(body)),
		}))

		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

func serveArchive(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	return server
}

func esSpec(url string, payload []byte) manifest.Spec {
	sum := sha256.Sum256(payload)

	return manifest.Spec{
		Name:    "elasticsearch",
		Version: "8.13.4",
		URL:     url + "/elasticsearch-8.13.4.tar.gz",
		SHA256:  hex.EncodeToString(sum[:]),
	}
}

func esRecipe(t *testing.T) recipe.Resolved {
	t.Helper()

	r, ok := recipe.ForFamily("elasticsearch")
	require.True(t, ok)

	v, err := semver.NewVersion("8.13.4")
	require.NoError(t, err)

	resolved, err := r.Resolve(v)
	require.NoError(t, err)

	return resolved
}

// snapshot captures the tree as relative path -> description for comparison.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()

	out := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)

		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)

		if rel == "." {
			return nil
		}

		info, err := d.Info()
		require.NoError(t, err)

		switch {
		case d.IsDir():
			out[rel] = "dir"
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			require.NoError(t, err)
			out[rel] = "link:" + target
		default:
			contents, err := os.ReadFile(path)
			require.NoError(t, err)
			sum := sha256.Sum256(contents)
			out[rel] = fmt.Sprintf("file:%o:%s", info.Mode().Perm(), hex.EncodeToString(sum[:8]))
		}

		return nil
	})
	require.NoError(t, err)

	return out
}

// TestInstallAppliesRecipe runs the example scenario: layout assembled,
// home-directory patch applied, keystore reference rewritten, ML module
// excluded, executables marked.
func TestInstallAppliesRecipe(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)
	spec := esSpec(server.URL, payload)

	inst := New(t.TempDir(), fetch.NewFetcher(fetchTimeout))

	artifact, err := inst.Install(context.Background(), spec, esRecipe(t))
	require.NoError(t, err)

	// Expected layout, including an empty plugins directory absent upstream.
	for _, dir := range []string{"bin", "config", "lib", "modules", "plugins"} {
		info, err := os.Stat(filepath.Join(artifact.Root, dir))
		require.NoError(t, err, dir)
		require.True(t, info.IsDir())
	}

	// Directories outside the expected set are not installed.
	_, err = os.Stat(filepath.Join(artifact.Root, "jdk"))
	require.Error(t, err)

	// Home-directory patch pins the classpath to the install location.
	env, err := os.ReadFile(filepath.Join(artifact.Root, "bin", "elasticsearch-env"))
	require.NoError(t, err)
	require.Contains(t, string(env), `ES_CLASSPATH="`+artifact.Root+`/lib/*"`)
	require.NotContains(t, string(env), "$ES_HOME/lib")

	// Keystore reference rewritten to the final install path.
	launcher, err := os.ReadFile(filepath.Join(artifact.Root, "bin", "elasticsearch"))
	require.NoError(t, err)
	require.Contains(t, string(launcher), artifact.Root+"/bin/elasticsearch-keystore")

	// ML module dropped.
	_, err = os.Stat(filepath.Join(artifact.Root, "modules", "x-pack-ml"))
	require.Error(t, err)

	// Executable bits set under bin.
	info, err := os.Stat(filepath.Join(artifact.Root, "bin", "elasticsearch"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

// TestInstallReproducible rebuilds the same pair and compares trees.
func TestInstallReproducible(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)
	spec := esSpec(server.URL, payload)
	rec := esRecipe(t)

	inst := New(t.TempDir(), fetch.NewFetcher(fetchTimeout))

	first, err := inst.Install(context.Background(), spec, rec)
	require.NoError(t, err)

	before := snapshot(t, first.Root)

	require.NoError(t, os.RemoveAll(first.Root))

	second, err := inst.Install(context.Background(), spec, rec)
	require.NoError(t, err)
	require.Equal(t, first.Root, second.Root)
	require.Equal(t, before, snapshot(t, second.Root))
}

// TestInstallCacheHit ensures a built artifact is reused without network access.
func TestInstallCacheHit(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)
	spec := esSpec(server.URL, payload)
	rec := esRecipe(t)

	inst := New(t.TempDir(), fetch.NewFetcher(fetchTimeout))

	_, err := inst.Install(context.Background(), spec, rec)
	require.NoError(t, err)

	server.Close()

	artifact, err := inst.Install(context.Background(), spec, rec)
	require.NoError(t, err)

	_, err = os.Stat(artifact.Root)
	require.NoError(t, err)
}

// TestInstallIntegrityMismatch ensures a corrupted fetch leaves no artifact.
func TestInstallIntegrityMismatch(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)

	spec := esSpec(server.URL, payload)
	spec.SHA256 = strings.Repeat("ab", 32) // wrong on purpose

	cache := t.TempDir()
	inst := New(cache, fetch.NewFetcher(fetchTimeout))

	_, err := inst.Install(context.Background(), spec, esRecipe(t))

	var integrity *fetch.IntegrityError

	require.ErrorAs(t, err, &integrity)

	// No artifact, no cached download.
	entries, _ := os.ReadDir(filepath.Join(cache, "artifacts"))
	require.Empty(t, entries)

	entries, _ = os.ReadDir(filepath.Join(cache, "downloads"))
	require.Empty(t, entries)
}

// TestInstallPatchMissing ensures a required pattern miss is fatal
// and an optional one is not.
func TestInstallPatchMissing(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)
	spec := esSpec(server.URL, payload)

	v, err := semver.NewVersion("8.13.4")
	require.NoError(t, err)

	broken := recipe.Recipe{
		Family: "elasticsearch",
		Dirs:   []string{"bin", "config"},
		BinDir: "bin",
		Steps: []recipe.Step{
			{
				Kind:    recipe.StepSubstitute,
				Path:    "bin/elasticsearch",
				Find:    "pattern that exists nowhere",
				Replace: "x",
			},
		},
	}

	resolved, err := broken.Resolve(v)
	require.NoError(t, err)

	cache := t.TempDir()
	inst := New(cache, fetch.NewFetcher(fetchTimeout))

	_, err = inst.Install(context.Background(), spec, resolved)

	var patchErr *PatchApplicationError

	require.ErrorAs(t, err, &patchErr)
	require.Equal(t, "elasticsearch", patchErr.Name)
	require.Equal(t, "8.13.4", patchErr.Version)

	entries, _ := os.ReadDir(filepath.Join(cache, "artifacts"))
	require.Empty(t, entries)

	// Same step marked optional succeeds.
	broken.Steps[0].Optional = true

	resolved, err = broken.Resolve(v)
	require.NoError(t, err)

	_, err = inst.Install(context.Background(), spec, resolved)
	require.NoError(t, err)
}

// TestInstallExcludeMissingIsNoop ensures excluding an absent subpath succeeds.
func TestInstallExcludeMissingIsNoop(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)
	spec := esSpec(server.URL, payload)

	v, err := semver.NewVersion("8.13.4")
	require.NoError(t, err)

	r := recipe.Recipe{
		Family: "elasticsearch",
		Dirs:   []string{"bin", "modules"},
		BinDir: "bin",
		Steps: []recipe.Step{
			{Kind: recipe.StepExclude, Path: "modules/does-not-exist"},
		},
	}

	resolved, err := r.Resolve(v)
	require.NoError(t, err)

	inst := New(t.TempDir(), fetch.NewFetcher(fetchTimeout))

	_, err = inst.Install(context.Background(), spec, resolved)
	require.NoError(t, err)
}

// TestJars derives the secondary artifact and its discovery env file.
func TestJars(t *testing.T) {
	t.Parallel()

	payload := esFixture(t)
	server := serveArchive(t, payload)
	spec := esSpec(server.URL, payload)
	rec := esRecipe(t)

	inst := New(t.TempDir(), fetch.NewFetcher(fetchTimeout))

	artifact, err := inst.Install(context.Background(), spec, rec)
	require.NoError(t, err)

	jarsDir, err := inst.Jars(context.Background(), artifact, rec)
	require.NoError(t, err)
	require.Equal(t, artifact.Root+"-jars", jarsDir)

	// The painless jar is linked; the excluded ML jar is not; non-jars are skipped.
	link := filepath.Join(jarsDir, "p.jar")

	target, err := os.Readlink(link)
	require.NoError(t, err)
	require.Contains(t, target, filepath.Join("modules", "lang-painless", "p.jar"))

	_, err = os.Lstat(filepath.Join(jarsDir, "ml.jar"))
	require.Error(t, err)

	_, err = os.Lstat(filepath.Join(jarsDir, "notes.txt"))
	require.Error(t, err)

	// Discovery export for downstream build steps.
	env, err := os.ReadFile(filepath.Join(jarsDir, "env"))
	require.NoError(t, err)
	require.Equal(t, "export ELASTICSEARCH_MODULES_JARS="+jarsDir+"\n", string(env))
}

// TestJarsUnsupportedFamily ensures families without a jars artifact refuse.
func TestJarsUnsupportedFamily(t *testing.T) {
	t.Parallel()

	inst := New(t.TempDir(), fetch.NewFetcher(fetchTimeout))

	v, err := semver.NewVersion("0.8.1")
	require.NoError(t, err)

	r, ok := recipe.ForFamily("quickwit")
	require.True(t, ok)

	resolved, err := r.Resolve(v)
	require.NoError(t, err)

	artifact := &Artifact{Root: t.TempDir(), Spec: manifest.Spec{Name: "quickwit", Version: "0.8.1"}}

	_, err = inst.Jars(context.Background(), artifact, resolved)
	require.Error(t, err)
}
