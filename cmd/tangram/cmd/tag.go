package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
)

func newTagCmd() *cobra.Command {
	c := &cobra.Command{Use: "tag", Short: "Manage the tag tree"}
	c.AddCommand(newTagListCmd(), newTagGetCmd(), newTagPutCmd(), newTagDeleteCmd())
	return c
}

func splitTagPath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.Trim(s, "/"), "/")
}

func newTagListCmd() *cobra.Command {
	var reverse bool
	c := &cobra.Command{
		Use:   "list [path]",
		Short: "List the immediate children of a tag path",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			children, err := a.index.ListChildren(cmd.Context(), splitTagPath(path), reverse)
			if err != nil {
				return err
			}
			for _, c := range children {
				item := "-"
				if c.Item != nil {
					item = c.Item.String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Component, item)
			}
			return nil
		}),
	}
	c.Flags().BoolVar(&reverse, "reverse", false, "list in descending component order")
	return c
}

func newTagGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Resolve a tag path's leaf item id",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			item, err := a.index.ResolveTag(cmd.Context(), splitTagPath(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.String())
			return nil
		}),
	}
}

func newTagPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> <id>",
		Short: "Set a tag path's leaf item id",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			item, err := id.Parse(args[1])
			if err != nil {
				return fmt.Errorf("parsing item id: %w", err)
			}
			return a.index.PutTag(cmd.Context(), splitTagPath(args[0]), item)
		}),
	}
}

func newTagDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a tag leaf and decrement its parent's child count",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			return a.index.DeleteTag(cmd.Context(), splitTagPath(args[0]))
		}),
	}
}
