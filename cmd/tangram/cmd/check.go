package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/checkin"
	"github.com/tangramhq/tangram/internal/object"
)

// newCheckCmd is spec.md §6.4's `check`: runs the checkin pipeline (which
// already validates reference resolution and object encoding as it walks
// the tree) but, unlike `build`, never spawns anything — it decodes the
// resulting root object as a final shape check and reports success or
// failure without executing a command.
func newCheckCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a tree without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			fs := osfs.New("/")
			events := make(chan checkin.Event, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", color.CyanString(ev.Stage), ev.Path, ev.Message)
				}
			}()

			result, err := checkin.Checkin(cmd.Context(), fs, a.store, a.index, a.messenger, a.resolver, checkin.Request{Path: args[0]}, nowUnix(), events)
			<-done
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), color.RedString("fail"))
				return err
			}

			frame, err := a.store.Get(cmd.Context(), result.Id)
			if err != nil {
				return err
			}
			if _, err := object.Decode(frame); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), color.RedString("fail"))
				return fmt.Errorf("decoding %s: %w", result.Id, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("ok"), result.Id.String())
			return nil
		}),
	}
	return c
}
