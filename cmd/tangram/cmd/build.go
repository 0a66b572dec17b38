package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/checkin"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/object"
)

// newBuildCmd is spec.md §6.4's `build`: the common-case convenience that
// checks a tree in and, when the resulting artifact decodes as a command,
// immediately spawns and runs it — the same checkin-then-spawn sequence a
// caller would otherwise script by hand against `checkin` and `process
// put` separately.
func newBuildCmd() *cobra.Command {
	var network, retry bool

	c := &cobra.Command{
		Use:   "build <path>",
		Short: "Check a tree in and run it as a command",
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
				return fmt.Errorf("checking in %s: %w", args[0], err)
			}

			frame, err := a.store.Get(cmd.Context(), result.Id)
			if err != nil {
				return err
			}
			v, err := object.Decode(frame)
			if err != nil {
				return err
			}
			if _, ok := v.(*object.Command); !ok {
				fmt.Fprintln(cmd.OutOrStdout(), result.Id.String())
				return nil
			}

			pid, reused, err := a.engine.Spawn(cmd.Context(), index.SpawnRequest{
				Command: result.Id, Network: network, Retry: retry, Cached: true, Now: nowUnix(),
			})
			if err != nil {
				return err
			}
			if !reused {
				if err := a.engine.Execute(cmd.Context(), pid); err != nil {
					return err
				}
			}

			row, err := a.index.GetProcess(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if row.ErrorKind != "" {
				return fmt.Errorf("process %s finished with error kind %s", pid, row.ErrorKind)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pid.String())
			return nil
		}),
	}
	c.Flags().BoolVar(&network, "network", false, "grant the spawned command network access")
	c.Flags().BoolVar(&retry, "retry", false, "record the retry flag on the spawned process (cache reuse is unaffected)")
	return c
}
