package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/object"
	syncpkg "github.com/tangramhq/tangram/internal/sync"
)

func newObjectCmd() *cobra.Command {
	c := &cobra.Command{Use: "object", Short: "Inspect and transfer individual objects"}
	c.AddCommand(newObjectGetCmd(), newObjectPutCmd(), newObjectTreeCmd(), newObjectExportCmd(), newObjectPushCmd(), newObjectPullCmd())
	return c
}

func newObjectGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print an object's raw frame bytes",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			oid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			frame, err := a.store.Get(cmd.Context(), oid)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(frame)
			return err
		}),
	}
}

func newObjectPutCmd() *cobra.Command {
	var kind string
	c := &cobra.Command{
		Use:   "put",
		Short: "Store raw bytes from stdin as the given kind and print the resulting id",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if !id.ValidKind(kind) {
				return fmt.Errorf("unknown object kind %q", kind)
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			oid, err := a.store.Put(cmd.Context(), id.Kind(kind), data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), oid.String())
			return nil
		}),
	}
	c.Flags().StringVar(&kind, "kind", string(id.Leaf), "object kind to hash the frame as")
	return c
}

func newObjectTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <id>",
		Short: "Print the child ids reachable from an object",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			oid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			row, err := a.index.GetObject(cmd.Context(), oid)
			if err != nil {
				return err
			}
			for _, child := range row.Children {
				fmt.Fprintln(cmd.OutOrStdout(), child.String())
			}
			return nil
		}),
	}
}

func newObjectExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <id>",
		Short: "Write an object's decoded JSON form to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			oid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			frame, err := a.store.Get(cmd.Context(), oid)
			if err != nil {
				return err
			}
			v, err := object.Decode(frame)
			if err != nil {
				return err
			}
			out, err := object.EncodeJSON(v)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}),
	}
}

func newObjectPushCmd() *cobra.Command {
	var remoteName string
	c := &cobra.Command{
		Use:   "push <id>",
		Short: "Push one object (and its closure) to a named remote",
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

func newObjectPullCmd() *cobra.Command {
	var remoteName string
	var eager bool
	c := &cobra.Command{
		Use:   "pull <id>",
		Short: "Pull one object (and its closure) from a named remote",
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
			imp := &syncpkg.Importer{Store: a.store, Index: a.index, Progress: func(p syncpkg.ProgressMessage) {
				fmt.Fprintf(cmd.ErrOrStderr(), "objects +%d bytes +%d\n", p.ObjectsDelta, p.BytesDelta)
			}}
			return imp.Pull(cmd.Context(), conn, []syncpkg.WantItem{{Id: oid, Eager: eager}})
		}),
	}
	c.Flags().StringVar(&remoteName, "remote", "", "named remote to pull from")
	c.Flags().BoolVar(&eager, "eager", false, "force re-fetch even if the peer thinks we already have it")
	_ = c.MarkFlagRequired("remote")
	return c
}
