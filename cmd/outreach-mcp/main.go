// Command outreach-mcp serves the marketing-automation API as MCP tools, over stdio or SSE.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "outreach-mcp",
		Short:         "MCP gateway for the outreach campaign API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("base-url", "", "Base URL of the upstream API")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")

	stdioCmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve a single session over stdin and stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStdIO(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	sseCmd := &cobra.Command{
		Use:   "sse",
		Short: "Serve many sessions over HTTP with server-sent events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSSE(cmd.Context(), cfg)
		},
	}
	sseCmd.Flags().String("addr", "", "Listen address of the HTTP server (default :8080)")

	rootCmd.AddCommand(stdioCmd, sseCmd)
	return rootCmd
}
