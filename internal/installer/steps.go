package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/recipe"
)

// assemble copies the expected subset of directories from the extracted tree
// into the staging tree. Expected directories absent upstream are created
// empty: downstream tooling relies on the layout names existing.
func assemble(src, stage string, dirs []string) error {
	if dirs == nil {
		return copyTree(src, stage)
	}

	for _, dir := range dirs {
		from := filepath.Join(src, dir)
		to := filepath.Join(stage, dir)

		if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(to, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}

			continue
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}

		if err := copyTree(from, to); err != nil {
			return fmt.Errorf("copy %s: %w", dir, err)
		}
	}

	return nil
}

// applySteps runs the resolved recipe steps in declared order over the
// staging tree. finalRoot is the artifact's eventual location, used to
// expand the install path token so rewritten scripts reference the
// installed tree rather than a relative sibling.
func applySteps(ctx context.Context, stage, finalRoot string, spec manifest.Spec, rec recipe.Resolved) error {
	for _, step := range rec.Steps {
		switch step.Kind {
		case recipe.StepSubstitute:
			if err := substitute(ctx, stage, finalRoot, spec, step); err != nil {
				return err
			}
		case recipe.StepExclude:
			// Silent and non-fatal when the path is already absent.
			if err := os.RemoveAll(filepath.Join(stage, step.Path)); err != nil {
				return fmt.Errorf("package %s %s: exclude %s: %w",
					spec.Name, spec.Version, step.Path, err)
			}

			logger.DebugKV(ctx, "Excluded subpath", "package", spec.Name, "path", step.Path)
		}
	}

	return nil
}

// substitute performs one literal find-and-replace inside a staged file.
func substitute(ctx context.Context, stage, finalRoot string, spec manifest.Spec, step recipe.Step) error {
	target := filepath.Join(stage, step.Path)

	contents, err := os.ReadFile(filepath.Clean(target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && step.Optional {
			logger.DebugKV(ctx, "Skipping optional patch, file absent",
				"package", spec.Name, "path", step.Path)
			return nil
		}

		if errors.Is(err, os.ErrNotExist) {
			return &PatchApplicationError{Name: spec.Name, Version: spec.Version, Path: step.Path}
		}

		return fmt.Errorf("package %s %s: read %s: %w", spec.Name, spec.Version, step.Path, err)
	}

	text := string(contents)
	if !strings.Contains(text, step.Find) {
		if step.Optional {
			logger.DebugKV(ctx, "Skipping optional patch, pattern absent",
				"package", spec.Name, "path", step.Path)
			return nil
		}

		return &PatchApplicationError{
			Name: spec.Name, Version: spec.Version, Path: step.Path, Find: step.Find,
		}
	}

	replace := strings.ReplaceAll(step.Replace, recipe.InstallPathToken, finalRoot)
	text = strings.ReplaceAll(text, step.Find, replace)

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("stat %s: %w", step.Path, err)
	}

	if err = os.WriteFile(target, []byte(text), info.Mode().Perm()); err != nil {
		return fmt.Errorf("package %s %s: write %s: %w", spec.Name, spec.Version, step.Path, err)
	}

	return nil
}

// markExecutables sets the executable bits on every file under the recipe's
// bin directory.
func markExecutables(stage, binDir string) error {
	if binDir == "" {
		return nil
	}

	root := filepath.Join(stage, binDir)
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return err
		}

		return os.Chmod(path, 0o755)
	})
}

// normalizeTimes pins every mtime in the staged tree to the epoch so that
// repeated builds of the same (spec, recipe) pair compare identical.
func normalizeTimes(stage string) error {
	epoch := time.Unix(0, 0)

	return filepath.WalkDir(stage, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.Type()&os.ModeSymlink != 0 {
			return err
		}

		return os.Chtimes(path, epoch, epoch)
	})
}

// copyTree copies a directory tree with deterministic permissions:
// 0755 for directories and executables, 0644 for other files.
// Symlinks are recreated with their original targets.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&os.ModeSymlink != 0:
			linkname, err := os.Readlink(path)
			if err != nil {
				return err
			}

			return os.Symlink(linkname, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if info.Mode().Perm()&0o111 != 0 {
		mode = 0o755
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
