package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
)

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <id>",
		Short: "Print a blob's bytes, following file/branch indirection",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			oid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			data, err := resolveBlob(cmd.Context(), a.store, oid)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
}

// resolveBlob follows File -> Contents and Branch -> Children indirection
// down to raw Leaf bytes, the same recursive reconstruction
// internal/checkout's readBlob performs when writing a file to disk.
func resolveBlob(ctx context.Context, s store.Store, oid id.Id) ([]byte, error) {
	switch oid.Kind() {
	case id.Leaf:
		frame, err := s.Get(ctx, oid)
		if err != nil {
			return nil, err
		}
		v, err := object.Decode(frame)
		if err != nil {
			return nil, err
		}
		leaf, ok := v.(*object.Leaf)
		if !ok {
			return nil, tgerror.New(tgerror.Internal, "object %s decoded as non-leaf despite leaf id kind", oid)
		}
		return leaf.Bytes, nil

	case id.Branch:
		frame, err := s.Get(ctx, oid)
		if err != nil {
			return nil, err
		}
		v, err := object.Decode(frame)
		if err != nil {
			return nil, err
		}
		branch, ok := v.(*object.Branch)
		if !ok {
			return nil, tgerror.New(tgerror.Internal, "object %s decoded as non-branch despite branch id kind", oid)
		}
		out := make([]byte, 0, branch.TotalLength())
		for _, child := range branch.Children {
			b, err := resolveBlob(ctx, s, child.Child)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil

	case id.File:
		frame, err := s.Get(ctx, oid)
		if err != nil {
			return nil, err
		}
		v, err := object.Decode(frame)
		if err != nil {
			return nil, err
		}
		file, ok := v.(*object.File)
		if !ok {
			return nil, tgerror.New(tgerror.Internal, "object %s decoded as non-file despite file id kind", oid)
		}
		return resolveBlob(ctx, s, file.Contents)

	default:
		return nil, tgerror.New(tgerror.InvalidArgument, "cat does not support %s ids", oid.Kind())
	}
}
