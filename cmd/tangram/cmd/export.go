package cmd

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
)

// exportedObject is one line of spec.md §6.4's `export`/`import` bulk
// transfer format: a portable, single-file stand-in for the wire protocol
// `object push`/`pull` use against a live remote, the same way `git
// bundle` stands in for a live `git push`/`fetch` remote.
type exportedObject struct {
	Id    string `json:"id"`
	Frame string `json:"frame"` // base64
}

// newExportCmd walks an artifact's full closure and writes every object's
// raw frame, newline-delimited and base64-encoded, to a file — so it can
// travel by sneakernet and be replayed later with `import`.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <file>",
		Short: "Write an object's closure to a portable bundle file",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			root, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}

			f, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("creating bundle file: %w", err)
			}
			defer f.Close()
			w := bufio.NewWriter(f)
			enc := json.NewEncoder(w)

			seen := map[id.Id]bool{}
			queue := []id.Id{root}
			count := 0
			for len(queue) > 0 {
				oid := queue[0]
				queue = queue[1:]
				if seen[oid] {
					continue
				}
				seen[oid] = true

				frame, err := a.store.Get(cmd.Context(), oid)
				if err != nil {
					return fmt.Errorf("fetching %s: %w", oid, err)
				}
				if err := enc.Encode(exportedObject{Id: oid.String(), Frame: base64.StdEncoding.EncodeToString(frame)}); err != nil {
					return err
				}
				count++

				row, err := a.index.GetObject(cmd.Context(), oid)
				if err != nil {
					return fmt.Errorf("fetching children of %s: %w", oid, err)
				}
				queue = append(queue, row.Children...)
			}

			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d objects to %s\n", count, args[1])
			return nil
		}),
	}
}
