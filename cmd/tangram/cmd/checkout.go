package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/checkout"
	"github.com/tangramhq/tangram/internal/id"
)

func newCheckoutCmd() *cobra.Command {
	var cacheDir string

	c := &cobra.Command{
		Use:   "checkout <artifact-id> <dest>",
		Short: "Materialize an artifact onto disk",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			artifact, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing artifact id: %w", err)
			}
			if cacheDir == "" {
				cacheDir = filepath.Join(a.cfg.StoreDir, "cache")
			}
			fs := osfs.New("/")
			req := checkout.Request{Artifact: artifact, Dest: args[1], CacheDir: cacheDir}
			if err := checkout.Checkout(cmd.Context(), a.store, fs, req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), args[1])
			return nil
		}),
	}
	c.Flags().StringVar(&cacheDir, "cache-dir", "", "hardlink cache directory (defaults under the store root)")
	return c
}
