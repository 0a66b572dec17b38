package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/checkin"
)

func newCheckinCmd() *cobra.Command {
	var destructive, deterministic, locked bool

	c := &cobra.Command{
		Use:   "checkin <path>",
		Short: "Check a filesystem tree into the object store",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			fs := osfs.New("/")
			req := checkin.Request{Path: args[0], Destructive: destructive, Deterministic: deterministic, Locked: locked}

			events := make(chan checkin.Event, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", color.CyanString(ev.Stage), ev.Path, ev.Message)
				}
			}()

			result, err := checkin.Checkin(cmd.Context(), fs, a.store, a.index, a.messenger, a.resolver, req, nowUnix(), events)
			<-done
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Id.String())
			return nil
		}),
	}
	c.Flags().BoolVar(&destructive, "destructive", false, "allow consuming the input tree in place")
	c.Flags().BoolVar(&deterministic, "deterministic", false, "force strictly ordered traversal")
	c.Flags().BoolVar(&locked, "locked", false, "leave the lockfile unwritten")
	return c
}
