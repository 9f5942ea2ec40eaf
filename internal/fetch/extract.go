package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var errUnsafeArchivePath = errors.New("archive entry escapes destination")

// Extract unpacks a release archive (tar.gz or zip) under dest and returns
// the tree root: dest itself, or the single top-level directory most
// distributions wrap their content in.
func Extract(archive, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create extract directory: %w", err)
	}

	var err error
	if strings.HasSuffix(archive, ".zip") {
		err = extractZip(archive, dest)
	} else {
		err = extractTarGz(archive, dest)
	}

	if err != nil {
		return "", err
	}

	return hoistRoot(dest)
}

// hoistRoot returns dest/<only-dir> when the archive wrapped everything in a
// single directory, dest otherwise.
func hoistRoot(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", fmt.Errorf("read extract directory: %w", err)
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}

	return dest, nil
}

func extractTarGz(archive, dest string) error {
	file, err := os.Open(filepath.Clean(archive))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}

	defer func() {
		_ = gz.Close()
	}()

	reader := tar.NewReader(gz)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read archive entry: %w", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err = writeFile(target, reader, header.FileInfo().Mode()); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
		case tar.TypeSymlink:
			if err = writeSymlink(dest, target, header.Linkname); err != nil {
				return fmt.Errorf("extract symlink %s: %w", header.Name, err)
			}
		default:
			// Hard links, devices and the like do not occur in the
			// distributions this tool packages.
			continue
		}
	}
}

func extractZip(archive, dest string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err = os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", entry.Name, err)
			}

			continue
		}

		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
		}

		err = writeFile(target, src, entry.FileInfo().Mode())

		_ = src.Close()

		if err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}

	return nil
}

// safeJoin resolves an archive entry name under dest, rejecting absolute
// paths and parent traversal.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", name, errUnsafeArchivePath)
	}

	return target, nil
}

func writeFile(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, src); err != nil { //nolint:gosec // Archives come from checksum-verified downloads.
		_ = out.Close()
		return err
	}

	return out.Close()
}

func writeSymlink(dest, target, linkname string) error {
	// Only relative links staying inside the tree are allowed.
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%s: %w", linkname, errUnsafeArchivePath)
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(target), linkname))
	if !strings.HasPrefix(resolved, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("%s: %w", linkname, errUnsafeArchivePath)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	return os.Symlink(linkname, target)
}
