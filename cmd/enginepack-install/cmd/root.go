package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/service/install"
	"github.com/searchkit/enginepack/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// manifestPath overrides the manifest location.
	manifestPath string
	// cacheDir overrides the artifact cache location.
	cacheDir string
	// withJars also derives the modules-jars artifact.
	withJars bool
	// logLevel sets the minimum log level.
	logLevel string

	// rootCmd represents the base command for installing a package release.
	rootCmd = &cobra.Command{
		Use:   "enginepack-install <package> <version>",
		Short: "Resolve and install a search-engine release into the artifact cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &install.Options{
				ConfigPath:   configPath,
				ManifestPath: manifestPath,
				CacheDir:     cacheDir,
				Name:         args[0],
				Version:      args[1],
				WithJars:     withJars,
			}

			return install.Run(ctx, options)
		},
	}
)

// Execute runs the enginepack-install CLI and exits non-zero on error.
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
	rootCmd.Flags().BoolVar(&withJars, "jars", false, "also derive the modules-jars artifact")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level")
}
