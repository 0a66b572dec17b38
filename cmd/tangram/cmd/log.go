package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/pipe"
)

// newLogCmd is spec.md §6.4's top-level `log`, a shorthand for `process
// log`: both take a pipe id, since the pipe registry is keyed by pipe id.
func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <id>",
		Short: "Stream a process's live stdout/stderr pipe",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing pipe id: %w", err)
			}
			p, err := a.pipes.Pipe(pid)
			if err != nil {
				return err
			}
			for ev := range p.Read() {
				switch ev.Kind {
				case pipe.EventChunk:
					_, _ = cmd.OutOrStdout().Write(ev.Bytes)
				case pipe.EventEnd, pipe.EventError:
					p.MarkDrained()
					return nil
				}
			}
			return nil
		}),
	}
}
