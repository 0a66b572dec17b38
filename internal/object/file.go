package object

import (
	"sort"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// FileDependency is one import edge discovered by the checkin module
// analyzer (spec.md §4.3 step 2): a raw reference string plus its resolved
// referent, if resolution has happened.
type FileDependency struct {
	Reference string    `json:"reference"`
	Referent  *Referent `json:"referent,omitempty"`
}

// File is contents (a blob id), an executable bit, its dependency edges,
// and an optional module kind (spec.md §3.2).
type File struct {
	Contents     id.Id                     `json:"contents"`
	Executable   bool                      `json:"executable"`
	Dependencies map[string]FileDependency `json:"dependencies,omitempty"`
	ModuleKind   *string                   `json:"moduleKind,omitempty"`
}

func (*File) Kind() id.Kind { return id.File }

// Validate enforces "a file's contents id is a blob-kind id".
func (f *File) Validate() error {
	if f.Contents.Kind() != id.Leaf && f.Contents.Kind() != id.Branch {
		return tgerror.New(tgerror.Validation, "file contents id %s is not a blob (leaf/branch) id", f.Contents)
	}
	return nil
}

func (f *File) marshalBinary(w *writer) {
	w.stringField(f.Contents.String())
	w.boolField(f.Executable)

	refs := make([]string, 0, len(f.Dependencies))
	for r := range f.Dependencies {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	w.uvarint(uint64(len(refs)))
	for _, ref := range refs {
		dep := f.Dependencies[ref]
		w.stringField(ref)
		w.stringField(dep.Reference)
		if dep.Referent != nil {
			w.boolField(true)
			w.stringField(dep.Referent.Item.String())
			writeOptionalString(w, dep.Referent.Subpath)
			writeOptionalString(w, dep.Referent.Tag)
			writeOptionalString(w, dep.Referent.Path)
		} else {
			w.boolField(false)
		}
	}

	writeOptionalString(w, f.ModuleKind)
}

func writeOptionalString(w *writer, s *string) {
	if s != nil {
		w.boolField(true)
		w.stringField(*s)
	} else {
		w.boolField(false)
	}
}

func readOptionalString(r *reader) (*string, error) {
	has, err := r.boolField()
	if err != nil || !has {
		return nil, err
	}
	s, err := r.stringField()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeFile(r *reader) (*File, error) {
	contentsStr, err := r.stringField()
	if err != nil {
		return nil, err
	}
	contents, err := id.Parse(contentsStr)
	if err != nil {
		return nil, err
	}
	executable, err := r.boolField()
	if err != nil {
		return nil, err
	}

	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	deps := make(map[string]FileDependency, n)
	for i := uint64(0); i < n; i++ {
		key, err := r.stringField()
		if err != nil {
			return nil, err
		}
		reference, err := r.stringField()
		if err != nil {
			return nil, err
		}
		hasReferent, err := r.boolField()
		if err != nil {
			return nil, err
		}
		dep := FileDependency{Reference: reference}
		if hasReferent {
			itemStr, err := r.stringField()
			if err != nil {
				return nil, err
			}
			item, err := id.Parse(itemStr)
			if err != nil {
				return nil, err
			}
			subpath, err := readOptionalString(r)
			if err != nil {
				return nil, err
			}
			tag, err := readOptionalString(r)
			if err != nil {
				return nil, err
			}
			path, err := readOptionalString(r)
			if err != nil {
				return nil, err
			}
			dep.Referent = &Referent{Item: item, Subpath: subpath, Tag: tag, Path: path}
		}
		deps[key] = dep
	}

	moduleKind, err := readOptionalString(r)
	if err != nil {
		return nil, err
	}

	f := &File{Contents: contents, Executable: executable, Dependencies: deps, ModuleKind: moduleKind}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
