package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/service/launch"
	"github.com/searchkit/enginepack/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// manifestPath overrides the manifest location.
	manifestPath string
	// cacheDir overrides the artifact cache location.
	cacheDir string
	// homeDir is the writable working directory for the run.
	homeDir string
	// confDir overrides the home-relative configuration location.
	confDir string
	// javaHome overrides the JDK exported to the engine.
	javaHome string
	// javaOpts are appended to the engine's JVM options.
	javaOpts []string
	// logLevel sets the minimum log level.
	logLevel string

	// rootCmd represents the base command for launching an installed engine.
	rootCmd = &cobra.Command{
		Use:   "enginepack-launch <package> <version>",
		Short: "Stage a writable home from an installed artifact and start the engine",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling for the staging phase;
			// the started server itself is not bound to this context.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &launch.Options{
				ConfigPath:   configPath,
				ManifestPath: manifestPath,
				CacheDir:     cacheDir,
				Name:         args[0],
				Version:      args[1],
				Home:         homeDir,
				ConfDir:      confDir,
				JavaHome:     javaHome,
				JavaOpts:     javaOpts,
			}

			return launch.Run(ctx, options)
		},
	}
)

// Execute runs the enginepack-launch CLI and exits non-zero on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "path to the version manifest")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "artifact cache directory")
	rootCmd.Flags().StringVar(&homeDir, "home", "", "writable home directory for this run")
	rootCmd.Flags().StringVar(&confDir, "conf-dir", "", "configuration directory override")
	rootCmd.Flags().StringVar(&javaHome, "java-home", "", "JDK to export to the engine")
	rootCmd.Flags().StringArrayVar(&javaOpts, "java-opts", nil, "extra JVM options (repeatable)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level")
}
