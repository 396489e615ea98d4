package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/dantte-lp/gonat64/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print nat64ctl's version",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(appversion.Full("nat64ctl"))
			return nil
		},
	}
}
