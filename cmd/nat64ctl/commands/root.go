// Package commands implements the nat64ctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat64/internal/control"
)

var (
	// client is the control channel client, dialed in PersistentPreRunE.
	client *control.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's control channel address (host:port).
	serverAddr string

	// network is the dial network: "tcp" or "unix".
	network string
)

// rootCmd is the top-level cobra command for nat64ctl.
var rootCmd = &cobra.Command{
	Use:   "nat64ctl",
	Short: "CLI client for the nat64d daemon",
	Long:  "nat64ctl talks to the nat64d daemon over its binary control channel to inspect and manage pool6/pool4/BIB/session state.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// version never talks to the daemon; don't require one to be running.
		if cmd.Name() == "version" {
			return nil
		}
		c, err := control.Dial(network, serverAddr)
		if err != nil {
			return fmt.Errorf("connect to nat64d: %w", err)
		}
		client = c
		return nil
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if client != nil {
			return client.Close()
		}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:6146",
		"nat64d control channel address (host:port, or socket path with --network unix)")
	rootCmd.PersistentFlags().StringVar(&network, "network", "tcp",
		"dial network: tcp or unix")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(pool6Cmd())
	rootCmd.AddCommand(pool4Cmd())
	rootCmd.AddCommand(bibCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(generalCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
