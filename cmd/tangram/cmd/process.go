package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/pipe"
	syncpkg "github.com/tangramhq/tangram/internal/sync"
)

func newProcessCmd() *cobra.Command {
	c := &cobra.Command{Use: "process", Short: "Inspect and drive processes"}
	c.AddCommand(
		newProcessGetCmd(), newProcessPutCmd(), newProcessCancelCmd(), newProcessLogCmd(),
		newProcessOutputCmd(), newProcessPushCmd(), newProcessPullCmd(), newProcessStatusCmd(), newProcessChildrenCmd(),
	)
	return c
}

func newProcessGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a process row as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			row, err := a.index.GetProcess(cmd.Context(), pid)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(row)
		}),
	}
}

func newProcessPutCmd() *cobra.Command {
	var commandStr string
	var cacheable, network, retry bool
	c := &cobra.Command{
		Use:   "put",
		Short: "Spawn a process for the given command id",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			command, err := id.Parse(commandStr)
			if err != nil {
				return fmt.Errorf("parsing command id: %w", err)
			}
			pid, reused, err := a.engine.Spawn(cmd.Context(), index.SpawnRequest{
				Command: command, Cacheable: cacheable, Network: network, Retry: retry,
				Cached: true, Now: nowUnix(),
			})
			if err != nil {
				return err
			}
			if !reused {
				if err := a.engine.Execute(cmd.Context(), pid); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), pid.String())
			return nil
		}),
	}
	c.Flags().StringVar(&commandStr, "command", "", "command object id to run")
	c.Flags().BoolVar(&cacheable, "cacheable", false, "allow reusing a prior identical spawn")
	c.Flags().BoolVar(&network, "network", false, "grant network access (requires --checksum at spawn time via API)")
	c.Flags().BoolVar(&retry, "retry", false, "record the retry flag on the spawned process (cache reuse is unaffected)")
	_ = c.MarkFlagRequired("command")
	return c
}

func newProcessCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a process and its still-running children",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			return a.index.Cancel(cmd.Context(), pid, nowUnix())
		}),
	}
}

func newProcessStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Print a process's current status",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			row, err := a.index.GetProcess(cmd.Context(), pid)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(row.Status))
			return nil
		}),
	}
}

func newProcessOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output <id>",
		Short: "Print a process's captured output bytes",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			row, err := a.index.GetProcess(cmd.Context(), pid)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(row.Output)
			return err
		}),
	}
}

func newProcessChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <id>",
		Short: "List a process's direct children",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			children, err := a.index.Children(cmd.Context(), pid)
			if err != nil {
				return err
			}
			for _, c := range children {
				fmt.Fprintln(cmd.OutOrStdout(), c.String())
			}
			return nil
		}),
	}
}

func newProcessLogCmd() *cobra.Command {
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

func newProcessPushCmd() *cobra.Command {
	var remoteName string
	c := &cobra.Command{
		Use:   "push <id>",
		Short: "Push a process record to a named remote",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			conn, err := a.remotes.DialWithRetry(cmd.Context(), remoteName, 5)
			if err != nil {
				return err
			}
			defer conn.Close()
			exp := &syncpkg.Exporter{Store: a.store, Index: a.index}
			return exp.ServeAdvertising(cmd.Context(), conn, pid)
		}),
	}
	c.Flags().StringVar(&remoteName, "remote", "", "named remote to push to")
	_ = c.MarkFlagRequired("remote")
	return c
}

func newProcessPullCmd() *cobra.Command {
	var remoteName string
	c := &cobra.Command{
		Use:   "pull <id>",
		Short: "Pull a process record from a named remote",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			pid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing process id: %w", err)
			}
			conn, err := a.remotes.DialWithRetry(cmd.Context(), remoteName, 5)
			if err != nil {
				return err
			}
			defer conn.Close()
			imp := &syncpkg.Importer{Store: a.store, Index: a.index}
			return imp.Pull(cmd.Context(), conn, []syncpkg.WantItem{{Id: pid, Eager: true}})
		}),
	}
	c.Flags().StringVar(&remoteName, "remote", "", "named remote to pull from")
	_ = c.MarkFlagRequired("remote")
	return c
}
