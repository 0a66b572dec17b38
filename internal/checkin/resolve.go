package checkin

import (
	"context"
	"path"
	"strings"

	"github.com/tangramhq/tangram/internal/reference"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// resolveDependencies implements spec.md §4.3 step 3: path-form imports
// are rewritten to node references within this checkin's own arena; tag
// imports are handed to the reference resolver, which may consult
// remotes.
func resolveDependencies(ctx context.Context, a *arena, resolver *reference.Resolver) error {
	byPath := make(map[string]int, len(a.nodes))
	for i, n := range a.nodes {
		byPath[n.path] = i
	}

	for _, n := range a.nodes {
		if n.kind != kindFile {
			continue
		}
		for di := range n.dependencies {
			dep := &n.dependencies[di]
			ref, err := reference.Parse(dep.reference)
			if err != nil {
				return tgerror.Wrap(tgerror.Validation, err, "parsing import %q in %s", dep.reference, n.path)
			}

			if ref.Form == reference.FormPath {
				target := path.Clean(path.Join(path.Dir(n.path), ref.Path))
				target = strings.TrimPrefix(target, "./")
				idx, ok := byPath[target]
				if !ok {
					return tgerror.New(tgerror.NotFound, "import %q in %s resolves to %q, which was not checked in", dep.reference, n.path, target)
				}
				dep.resolvedNode = idx
				dep.hasResolvedNode = true
				continue
			}

			referent, err := resolver.Resolve(ctx, ref)
			if err != nil {
				if tgerror.KindOf(err) == tgerror.NotFound {
					// Per spec.md §8 scenario 3: an import with no local or
					// remote match stays an unresolved reference rather than
					// failing the whole checkin.
					continue
				}
				return err
			}
			dep.referent = referent
		}
	}
	return nil
}
