package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a tangram store at the configured root",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("initialized")+" tangram store at "+a.cfg.StoreDir)
			return nil
		}),
	}
}
