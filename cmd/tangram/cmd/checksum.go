package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
	"lukechampine.com/blake3"
)

// newChecksumCmd computes spec.md §4.5.1's artifact checksum with the same
// blake3/sha256 hex digests as process.ExecRunner's own digest helper,
// printed as "algorithm:hex" over the object's stored frame bytes.
func newChecksumCmd() *cobra.Command {
	var algorithm string
	c := &cobra.Command{
		Use:   "checksum <id>",
		Short: "Print the checksum of an object's raw frame bytes",
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
			var sum string
			switch algorithm {
			case "sha256":
				h := sha256.Sum256(frame)
				sum = hex.EncodeToString(h[:])
			case "blake3", "":
				algorithm = "blake3"
				h := blake3.Sum256(frame)
				sum = hex.EncodeToString(h[:])
			default:
				return fmt.Errorf("unknown checksum algorithm %q", algorithm)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", algorithm, sum)
			return nil
		}),
	}
	c.Flags().StringVar(&algorithm, "algorithm", "blake3", "blake3 or sha256")
	return c
}
