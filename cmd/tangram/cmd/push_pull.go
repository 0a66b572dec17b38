package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
	syncpkg "github.com/tangramhq/tangram/internal/sync"
)

// newPushCmd is spec.md §6.4's top-level `push`, equivalent to `object
// push` but accepting any id kind (object or process).
func newPushCmd() *cobra.Command {
	var remoteName string
	c := &cobra.Command{
		Use:   "push <id>",
		Short: "Push an object or process to a named remote",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			oid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			conn, err := a.remotes.DialWithRetry(cmd.Context(), remoteName, 5)
			if err != nil {
				return err
			}
			defer conn.Close()
			exp := &syncpkg.Exporter{Store: a.store, Index: a.index}
			return exp.ServeAdvertising(cmd.Context(), conn, oid)
		}),
	}
	c.Flags().StringVar(&remoteName, "remote", "", "named remote to push to")
	_ = c.MarkFlagRequired("remote")
	return c
}

// newPullCmd is spec.md §6.4's top-level `pull`.
func newPullCmd() *cobra.Command {
	var remoteName string
	var eager bool
	c := &cobra.Command{
		Use:   "pull <id>",
		Short: "Pull an object or process from a named remote",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			oid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			conn, err := a.remotes.DialWithRetry(cmd.Context(), remoteName, 5)
			if err != nil {
				return err
			}
			defer conn.Close()
			imp := &syncpkg.Importer{Store: a.store, Index: a.index}
			return imp.Pull(cmd.Context(), conn, []syncpkg.WantItem{{Id: oid, Eager: eager}})
		}),
	}
	c.Flags().StringVar(&remoteName, "remote", "", "named remote to pull from")
	c.Flags().BoolVar(&eager, "eager", false, "force re-fetch even if the peer thinks we already have it")
	_ = c.MarkFlagRequired("remote")
	return c
}

// newPutCmd is spec.md §6.4's top-level `put`: store stdin as a leaf blob
// and print its id, the common case of `object put --kind leaf`.
func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put",
		Short: "Store stdin as a leaf blob and print its id",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			data, err := readAllStdin(cmd)
			if err != nil {
				return err
			}
			oid, err := a.store.Put(cmd.Context(), id.Leaf, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), oid.String())
			return nil
		}),
	}
}
