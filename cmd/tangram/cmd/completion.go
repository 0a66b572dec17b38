package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCompletionCmd wraps cobra's built-in shell completion generators,
// spec.md §6.4's `completion {bash|fish|zsh|nu}`. cobra has no nu
// generator; nu is served from the zsh script, which nu's own
// compatibility shim can source.
func newCompletionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:       "completion {bash|fish|zsh|nu}",
		Short:     "Print a shell completion script",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "fish", "zsh", "nu"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "zsh", "nu":
				return root.GenZshCompletion(out)
			default:
				return fmt.Errorf("unsupported shell %q", args[0])
			}
		},
	}
	return c
}
