package fetch

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/manifest"
)

// IntegrityError reports a fetched artifact whose content hash does not match
// the manifest. It is fatal and never retried: proceeding would install
// corrupt or tampered binaries.
type IntegrityError struct {
	// Name and Version identify the offending package.
	Name    string
	Version string
	// Want is the manifest checksum, Got the computed one.
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("package %s %s: checksum mismatch: want %s, got %s",
		e.Name, e.Version, e.Want, e.Got)
}

// TimeoutError reports a download that exceeded the configured fetch timeout.
type TimeoutError struct {
	// Name and Version identify the offending package.
	Name    string
	Version string
	// URL is the location that timed out.
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("package %s %s: download of %s timed out", e.Name, e.Version, e.URL)
}

var errBadHTTPStatus = errors.New("unexpected http status")

// Fetcher downloads release archives with a bounded timeout per artifact.
type Fetcher struct {
	// client performs HTTP requests.
	client *http.Client
	// timeout bounds a single download.
	timeout time.Duration
}

// NewFetcher creates a fetcher with the provided per-download timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Download fetches the artifact referenced by the spec, verifies its SHA-256
// against the manifest while streaming, and places it at dest through
// go-update so a late mismatch rolls back instead of leaving a partial file.
// No file appears at dest unless the checksum matched.
func (f *Fetcher) Download(ctx context.Context, spec manifest.Spec, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-")
	if err != nil {
		return fmt.Errorf("create temp download file: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	got, err := f.streamTo(ctx, spec.URL, tmp)
	if err != nil {
		return f.classify(ctx, spec, err)
	}

	want := NormalizeChecksum(spec.SHA256)
	if !strings.EqualFold(got, want) {
		return &IntegrityError{Name: spec.Name, Version: spec.Version, Want: want, Got: got}
	}

	checksum, err := hex.DecodeString(want)
	if err != nil {
		return fmt.Errorf("package %s %s: decode manifest checksum: %w", spec.Name, spec.Version, err)
	}

	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp download file: %w", err)
	}

	// go-update renames the previous target aside, so it must exist.
	created := false
	if _, err = os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File
		if placeholder, err = os.Create(filepath.Clean(dest)); err != nil {
			return fmt.Errorf("create download target: %w", err)
		}

		_ = placeholder.Close()
		created = true
	}

	options := goupdate.Options{
		TargetPath: dest,
		TargetMode: 0o644,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(tmp, options); err != nil {
		if created {
			_ = os.Remove(dest)
		}

		return fmt.Errorf("package %s %s: place download: %w", spec.Name, spec.Version, err)
	}

	// go-update keeps the previous content aside; nothing to roll back to here.
	_ = os.Remove(dest + ".old")

	logger.InfoKV(ctx, "Downloaded artifact", "package", spec.Name, "version", spec.Version, "path", dest)

	return nil
}

// Hash streams the content at url and returns its hex-encoded SHA-256
// without writing anything to disk.
func (f *Fetcher) Hash(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	return f.streamTo(ctx, url, io.Discard)
}

// streamTo copies the response body to w while hashing it.
func (f *Fetcher) streamTo(ctx context.Context, url string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s, %s: %w", url, resp.Status, errBadHTTPStatus)
	}

	hasher := sha256.New()
	if _, err = io.Copy(io.MultiWriter(w, hasher), resp.Body); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// classify maps a transport failure onto the error taxonomy.
func (f *Fetcher) classify(ctx context.Context, spec manifest.Spec, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Name: spec.Name, Version: spec.Version, URL: spec.URL}
	}

	return fmt.Errorf("package %s %s: download %s: %w", spec.Name, spec.Version, spec.URL, err)
}

// NormalizeChecksum strips common "sha256-" / "sha256:" prefixes so manifests
// may carry either plain or prefixed digests.
func NormalizeChecksum(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "sha256-")
	s = strings.TrimPrefix(s, "sha256:")

	return s
}
