// Package reference parses and resolves tangram references (spec.md §4.8):
// filesystem paths, direct ids, and tag patterns. A tag component's version
// constraint is parsed with github.com/Masterminds/semver/v3 and kept on the
// Component, but resolution looks tags up by component names only: the
// constraint is not matched and versions are not ranked.
package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Form discriminates which of spec.md §4.8's three reference shapes a
// Reference took; the ?subpath/local/remote options refine any of them.
type Form int

const (
	FormPath Form = iota
	FormId
	FormTag
)

// Component is one `/`-delimited segment of a tag pattern, optionally
// bearing a semver constraint (`name@^1.2`).
type Component struct {
	Name       string
	Constraint *semver.Constraints
}

// Reference is a parsed, not-yet-resolved reference.
type Reference struct {
	Form Form

	Path string // FormPath
	Id   id.Id  // FormId

	Components []Component // FormTag
	Subpath    *string
	Local      *string
	Remote     *string
}

// Parse implements spec.md §4.8's grammar: `./path`/`/abs/path` for
// filesystem paths, `<kind>_<id>` for direct ids, and
// `name[@version][/sub/path]` for tag patterns, with `?subpath=&local=&remote=`
// query-string-style refinements on any form.
func Parse(raw string) (*Reference, error) {
	main, options := splitOptions(raw)

	ref := &Reference{}
	if v, ok := options["subpath"]; ok {
		ref.Subpath = &v
	}
	if v, ok := options["local"]; ok {
		ref.Local = &v
	}
	if v, ok := options["remote"]; ok {
		ref.Remote = &v
	}

	switch {
	case strings.HasPrefix(main, "./") || strings.HasPrefix(main, "../") || strings.HasPrefix(main, "/"):
		ref.Form = FormPath
		ref.Path = main
		return ref, nil
	case looksLikeId(main):
		parsed, err := id.Parse(main)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing reference %q as an id", raw)
		}
		ref.Form = FormId
		ref.Id = parsed
		return ref, nil
	default:
		components, err := parseTagComponents(main)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing reference %q as a tag pattern", raw)
		}
		ref.Form = FormTag
		ref.Components = components
		return ref, nil
	}
}

func splitOptions(raw string) (string, map[string]string) {
	idx := strings.IndexByte(raw, '?')
	if idx < 0 {
		return raw, nil
	}
	main := raw[:idx]
	options := make(map[string]string)
	for _, pair := range strings.Split(raw[idx+1:], "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			options[kv[0]] = kv[1]
		} else {
			options[kv[0]] = ""
		}
	}
	return main, options
}

// looksLikeId reports whether main has the shape "<kind>_<body>" for a
// known id.Kind prefix, distinguishing it from a bare tag name that
// happens to contain an underscore.
func looksLikeId(main string) bool {
	underscore := strings.IndexByte(main, '_')
	if underscore <= 0 {
		return false
	}
	return id.ValidKind(main[:underscore])
}

func parseTagComponents(main string) ([]Component, error) {
	if main == "" {
		return nil, tgerror.New(tgerror.InvalidArgument, "empty tag pattern")
	}
	parts := strings.Split(main, "/")
	components := make([]Component, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, tgerror.New(tgerror.InvalidArgument, "tag pattern has an empty path component")
		}
		name, versionExpr, hasVersion := strings.Cut(part, "@")
		c := Component{Name: name}
		if hasVersion && versionExpr != "" && versionExpr != "*" {
			constraint, err := semver.NewConstraint(versionExpr)
			if err != nil {
				return nil, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing version constraint %q", versionExpr)
			}
			c.Constraint = constraint
		}
		components = append(components, c)
	}
	return components, nil
}

// String renders components back to their canonical "name[@constraint]/..."
// textual form, used as the Referent's Tag when a tag pattern resolves.
func (r *Reference) String() string {
	switch r.Form {
	case FormPath:
		return r.Path
	case FormId:
		return r.Id.String()
	default:
		parts := make([]string, len(r.Components))
		for i, c := range r.Components {
			if c.Constraint != nil {
				parts[i] = fmt.Sprintf("%s@%s", c.Name, c.Constraint.String())
			} else {
				parts[i] = c.Name
			}
		}
		return strings.Join(parts, "/")
	}
}

// Referent is an alias of object.Referent so resolver callers don't need
// to import internal/object just to build one; Resolve returns the object
// package's type directly.
type Referent = object.Referent

// CheckinFunc triggers checkin of a filesystem path, breaking the import
// cycle that would otherwise exist between reference and checkin (checkin
// itself calls Resolve for tag-form dependencies).
type CheckinFunc func(ctx context.Context, path string) (id.Id, error)

// TagLookup is satisfied by internal/index.Index's tag tree operations,
// narrowed to what the resolver needs.
type TagLookup interface {
	ResolveTag(ctx context.Context, path []string) (id.Id, error)
}

// RemoteLookup is one remote's tag resolution, queried in configured order
// when the local tag tree has no match. No client in internal/remote
// implements it.
type RemoteLookup interface {
	Name() string
	ResolveTag(ctx context.Context, path []string) (id.Id, error)
}

// Resolver resolves parsed References against the local index, local
// checkin, and a sequence of remotes, per spec.md §4.8.
type Resolver struct {
	Local   TagLookup
	Remotes []RemoteLookup
	Checkin CheckinFunc
}

// Resolve implements spec.md §4.8: path references trigger checkin, id
// references are returned as-is, and tag patterns are looked up locally
// then, on miss, across remotes in order until the first match.
func (r *Resolver) Resolve(ctx context.Context, ref *Reference) (*Referent, error) {
	switch ref.Form {
	case FormPath:
		resolved, err := r.Checkin(ctx, ref.Path)
		if err != nil {
			return nil, err
		}
		return &Referent{Item: resolved, Subpath: ref.Subpath, Path: &ref.Path}, nil
	case FormId:
		return &Referent{Item: ref.Id, Subpath: ref.Subpath}, nil
	default:
		return r.resolveTag(ctx, ref)
	}
}

func (r *Resolver) resolveTag(ctx context.Context, ref *Reference) (*Referent, error) {
	path := componentNames(ref.Components)
	tagStr := ref.String()

	if r.Local != nil {
		if item, err := r.Local.ResolveTag(ctx, path); err == nil {
			return &Referent{Item: item, Subpath: ref.Subpath, Tag: &tagStr}, nil
		} else if tgerror.KindOf(err) != tgerror.NotFound {
			return nil, err
		}
	}

	for _, remote := range r.Remotes {
		item, err := remote.ResolveTag(ctx, path)
		if err == nil {
			return &Referent{Item: item, Subpath: ref.Subpath, Tag: &tagStr}, nil
		}
		if tgerror.KindOf(err) != tgerror.NotFound {
			return nil, err
		}
	}

	return nil, tgerror.New(tgerror.NotFound, "tag %q did not resolve locally or on any configured remote", tagStr)
}

func componentNames(components []Component) []string {
	names := make([]string, len(components))
	for i, c := range components {
		names[i] = c.Name
	}
	return names
}
