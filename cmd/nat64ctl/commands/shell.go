package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

// shellCmd launches an interactive nat64ctl shell backed by
// reeflective/console rather than a bare bufio.Scanner REPL: the console
// menu re-parses each line through the same cobra command tree rootCmd
// already builds, so every pool6/pool4/bib/session/general subcommand is
// available without a second copy of its flags and help text.
func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive nat64ctl shell",
		Long:  "Launches a console shell with history and completion over the same command tree as the rest of nat64ctl.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("nat64ctl")
			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				shellRoot := &cobra.Command{
					Use:   "",
					Short: "nat64ctl interactive commands",
				}
				shellRoot.AddCommand(pool6Cmd())
				shellRoot.AddCommand(pool4Cmd())
				shellRoot.AddCommand(bibCmd())
				shellRoot.AddCommand(sessionCmd())
				shellRoot.AddCommand(generalCmd())
				shellRoot.AddCommand(versionCmd())
				return shellRoot
			})

			fmt.Println("nat64ctl interactive shell. Type 'help' for commands, 'exit' to quit.")
			if err := app.Start(); err != nil {
				return fmt.Errorf("run interactive shell: %w", err)
			}
			return nil
		},
	}
}
