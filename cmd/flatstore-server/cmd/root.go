package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/service/server"
	"github.com/oshokin/flatstore/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// journalFile overrides where outcomes are recorded.
	journalFile string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command for running the installation daemon.
	rootCmd = &cobra.Command{
		Use:   "flatstore-server [listen-address]",
		Short: "Run the flatstore installation daemon.",
		Long: `Starts the gRPC daemon that downloads package descriptors and drives the installer.

Every line the installer prints is streamed to subscribed clients as it appears.
Only one operation per package runs at a time; different packages run in parallel.
The server listens on the address from the configuration file unless one is given as argument
(e.g., 127.0.0.1:50061). The last outcome of every package is kept in a YAML journal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				JournalFile:   journalFile,
				LogLevel:      logLevel,
			})
		},
	}
)

// Execute runs the flatstore-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.Flags().StringVarP(&journalFile, "journal-file", "j", "", "path to the installation journal")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
}
