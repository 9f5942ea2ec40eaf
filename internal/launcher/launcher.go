package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/go-ps"

	"github.com/searchkit/enginepack/internal/installer"
	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/recipe"
)

// HomeNotWritableError reports a home directory that cannot be created or
// written to. Fatal and surfaced immediately: a permission failure cannot be
// fixed by retrying.
type HomeNotWritableError struct {
	// Home is the offending directory.
	Home string
	// Err is the underlying filesystem error.
	Err error
}

func (e *HomeNotWritableError) Error() string {
	return fmt.Sprintf("home directory %s is not writable: %v", e.Home, e.Err)
}

func (e *HomeNotWritableError) Unwrap() error {
	return e.Err
}

var (
	errNotLaunchable = errors.New("package family has no server executable")
	errHomeInUse     = errors.New("home directory is used by a running server")
	errNoArtifact    = errors.New("artifact does not exist")
)

// pidFilename marks a home directory as owned by a launched server.
const pidFilename = "enginepack.pid"

// Options are inputs accepted by Launch.
type Options struct {
	// Artifact is the installed tree to stage. Must already exist.
	Artifact *installer.Artifact
	// Recipe identifies the engine entry point and environment names.
	Recipe recipe.Resolved
	// Home is the writable working directory for this run.
	Home string
	// ConfDir overrides the home-relative configuration location.
	ConfDir string
	// JavaHome is the JDK exported to the engine. Empty inherits JAVA_HOME.
	JavaHome string
	// JavaOpts are appended to the engine's accumulated JVM options.
	JavaOpts []string
}

// Launch materializes a working copy of the artifact under the home
// directory, composes the engine environment, and starts the server binary
// with its working directory set to the home. Once the process is started
// the launcher's responsibility ends: no supervision, no health checks.
func Launch(ctx context.Context, opts *Options) (*exec.Cmd, error) {
	if opts.Recipe.ServerBin == "" {
		return nil, fmt.Errorf("package %s: %w", opts.Artifact.Spec.Name, errNotLaunchable)
	}

	if _, err := os.Stat(opts.Artifact.Root); err != nil {
		return nil, fmt.Errorf("package %s %s: %w: %s",
			opts.Artifact.Spec.Name, opts.Artifact.Spec.Version, errNoArtifact, opts.Artifact.Root)
	}

	runID := uuid.NewString()
	ctx = logger.WithKV(ctx, "run_id", runID, "home", opts.Home)

	if err := ensureWritableHome(opts.Home); err != nil {
		return nil, err
	}

	if err := ensureHomeNotInUse(opts.Home); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Staging working copy",
		"package", opts.Artifact.Spec.Name, "version", opts.Artifact.Spec.Version)

	if err := stage(opts.Artifact.Root, opts.Home); err != nil {
		return nil, fmt.Errorf("stage working copy: %w", err)
	}

	server := filepath.Join(opts.Home, opts.Recipe.BinDir, opts.Recipe.ServerBin)

	// The server must outlive this process, so the command is deliberately
	// not bound to ctx.
	cmd := exec.Command(server) //nolint:gosec // Path is derived from the staged artifact.
	cmd.Dir = opts.Home
	cmd.Env = buildEnv(os.Environ(), opts)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", server, err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(filepath.Join(opts.Home, pidFilename),
		[]byte(strconv.Itoa(pid)), 0o644); err != nil { //nolint:gosec // Pid is not a secret.
		logger.WarnKV(ctx, "Unable to write pid file", "error", err)
	}

	logger.InfoKV(ctx, "Server started", "pid", pid, "bin", server)

	return cmd, nil
}

// ensureWritableHome creates the home directory and probes that it accepts writes.
func ensureWritableHome(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return &HomeNotWritableError{Home: home, Err: err}
	}

	probe, err := os.CreateTemp(home, ".writable-")
	if err != nil {
		return &HomeNotWritableError{Home: home, Err: err}
	}

	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	return nil
}

// ensureHomeNotInUse rejects a home directory whose pid file points at a
// live process. Two concurrent servers sharing one home would corrupt the
// staged copy.
func ensureHomeNotInUse(home string) error {
	contents, err := os.ReadFile(filepath.Clean(filepath.Join(home, pidFilename)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		// Unreadable pid file is treated as stale.
		return os.Remove(filepath.Join(home, pidFilename))
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("inspect process %d: %w", pid, err)
	}

	if process != nil {
		return fmt.Errorf("%s (pid %d): %w", home, pid, errHomeInUse)
	}

	return os.Remove(filepath.Join(home, pidFilename))
}

// stage copies the artifact tree into the home directory. Files are copied
// writable rather than hard-linked: the engine writes into its own tree and
// a shared inode would leak those writes back into the immutable artifact.
func stage(artifactRoot, home string) error {
	return filepath.WalkDir(artifactRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(artifactRoot, path)
		if err != nil {
			return err
		}

		target := filepath.Join(home, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&os.ModeSymlink != 0:
			linkname, err := os.Readlink(path)
			if err != nil {
				return err
			}

			// Replay replaces any copy from a previous run.
			_ = os.Remove(target)

			return os.Symlink(linkname, target)
		default:
			return copyWritable(path, target)
		}
	})
}

func copyWritable(src, dst string) error {
	contents, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if info.Mode().Perm()&0o111 != 0 {
		mode = 0o755
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	return os.WriteFile(dst, contents, mode)
}

// buildEnv composes the engine environment on top of the parent environment:
// JAVA_HOME plus its engine-specific alias, the engine home, the optional
// configuration override, and accumulated JVM options.
func buildEnv(base []string, opts *Options) []string {
	env := base
	rec := opts.Recipe

	javaHome := opts.JavaHome
	if javaHome == "" {
		javaHome = os.Getenv("JAVA_HOME")
	}

	if javaHome != "" && rec.JavaEnvPrefix != "" {
		env = append(env,
			"JAVA_HOME="+javaHome,
			rec.JavaEnvPrefix+"_JAVA_HOME="+javaHome)
	}

	env = append(env, rec.EnvPrefix+"_HOME="+opts.Home)

	if opts.ConfDir != "" && rec.JavaEnvPrefix != "" {
		env = append(env,
			rec.JavaEnvPrefix+"_PATH_CONF="+opts.ConfDir,
			rec.EnvPrefix+"_CONF_PATH="+opts.ConfDir)
	}

	if rec.JavaEnvPrefix != "" {
		optsVar := rec.JavaEnvPrefix + "_JAVA_OPTS"

		accumulated := make([]string, 0, len(opts.JavaOpts)+1)
		if inherited := os.Getenv(optsVar); inherited != "" {
			accumulated = append(accumulated, inherited)
		}

		accumulated = append(accumulated, opts.JavaOpts...)

		if len(accumulated) > 0 {
			env = append(env, optsVar+"="+strings.Join(accumulated, " "))
		}
	}

	return env
}
