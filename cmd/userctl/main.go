package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingone-bulk-users/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	server   string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "userctl",
		Short:         "Bulk user operations against the PingOne bulk users server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("USERCTL_SERVER")
	if server == "" {
		server = "http://localhost:4000"
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "Base URL of the server")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	cmd.AddCommand(
		newImportCmd(opts),
		newExportCmd(opts),
		newModifyCmd(opts),
		newDeleteCmd(opts),
		newDeletePopulationCmd(opts),
		newSessionCmd(opts),
		newCancelCmd(opts),
		newPopulationsCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() zerolog.Logger {
	return logger.NewWithWriter(os.Stderr, o.logLevel, "pretty")
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server)
}
