package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/searchkit/enginepack/internal/logger"
	"github.com/searchkit/enginepack/internal/service/manifestops"
	"github.com/searchkit/enginepack/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// manifestPath overrides the manifest location.
	manifestPath string
	// logLevel sets the minimum log level.
	logLevel string

	// rootCmd represents the base command for manifest maintenance.
	rootCmd = &cobra.Command{
		Use:   "enginepack-manifest",
		Short: "Inspect and maintain the version manifest",
	}

	listCmd = &cobra.Command{
		Use:   "list [package]",
		Short: "Print manifest entries for one package family or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			options := &manifestops.Options{
				ConfigPath:   configPath,
				ManifestPath: manifestPath,
			}
			if len(args) > 0 {
				options.Name = args[0]
			}

			return manifestops.RunList(ctx, options)
		},
	}

	verifyCmd = &cobra.Command{
		Use:   "verify <package> <version>...",
		Short: "Re-fetch releases and compare streamed hashes against the manifest",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			options := &manifestops.Options{
				ConfigPath:   configPath,
				ManifestPath: manifestPath,
				Name:         args[0],
				Versions:     args[1:],
			}

			return manifestops.RunVerify(ctx, options)
		},
	}

	generateCmd = &cobra.Command{
		Use:   "generate <package> <version>...",
		Short: "Hash releases from the per-family URL templates and merge them into the manifest",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			options := &manifestops.Options{
				ConfigPath:   configPath,
				ManifestPath: manifestPath,
				Name:         args[0],
				Versions:     args[1:],
			}

			return manifestops.RunGenerate(ctx, options)
		},
	}
)

// signalContext sets up graceful shutdown handling and applies the
// requested log level.
func signalContext() (context.Context, context.CancelFunc) {
	if level, ok := logger.ParseLevel(logLevel); ok {
		logger.SetLevel(level)
	}

	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// Execute runs the enginepack-manifest CLI and exits non-zero on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "path to the version manifest")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level")

	rootCmd.AddCommand(listCmd, verifyCmd, generateCmd)
}
