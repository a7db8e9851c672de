package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
	client "github.com/oshokin/flatstore/internal/service/client"
	"github.com/oshokin/flatstore/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the server address from the configuration.
	serverAddress string
	// noColor disables coloured output.
	noColor bool
	// replay makes watch print the recent notifications first.
	replay bool

	// rootCmd represents the base command for talking to the daemon.
	rootCmd = &cobra.Command{
		Use:   "flatstore",
		Short: "Install and update Flatpak packages through the flatstore daemon.",
		Long: `Sends package commands to the flatstore daemon and prints the installer output live.

The daemon downloads the package reference, runs the installer and streams every line it prints.
The command exits with the installer exit code when it is not zero.
Server address is loaded from the configuration file unless --server is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd = &cobra.Command{
		Use:   "install <package-id>",
		Short: "Download the package reference and install it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Install(cmd.Context(), options(cmd), args[0])
		},
	}

	updateCmd = &cobra.Command{
		Use:   "update <package-id>",
		Short: "Update an installed package.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Update(cmd.Context(), options(cmd), args[0])
		},
	}

	fetchCmd = &cobra.Command{
		Use:   "fetch <package-id>",
		Short: "Download the package reference without installing it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Fetch(cmd.Context(), options(cmd), args[0])
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print the notifications of every operation until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return client.Watch(cmd.Context(), options(cmd), replay)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the operations in progress and running installer processes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return client.Status(cmd.Context(), options(cmd))
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history [package-id]",
		Short: "Show the last outcome of every package, or of a single one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = args[0]
			}

			return client.History(cmd.Context(), options(cmd), id)
		},
	}
)

func options(cmd *cobra.Command) *client.Options {
	return &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
		Out:           cmd.OutOrStdout(),
		NoColor:       noColor,
	}
}

// Execute runs the flatstore CLI. A failed installer run exits with its exit code.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err == nil {
		return
	}

	var exitErr *install.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}

	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)

	os.Exit(1)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	flags.StringVarP(&serverAddress, "server", "s", "", "server address, overrides the configuration")
	flags.BoolVar(&noColor, "no-color", false, "disable coloured output")

	watchCmd.Flags().BoolVarP(&replay, "replay", "r", false, "print recent notifications first")

	rootCmd.AddCommand(installCmd, updateCmd, fetchCmd, watchCmd, statusCmd, historyCmd)
}
