package object

import (
	"sort"
	"strings"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Directory is either a flat mapping from entry name to artifact edge, or
// (when Entries is nil) a branch of sub-directory edges whose entry sets
// are disjoint and whose union forms the logical directory, per
// spec.md §3.2.
type Directory struct {
	Entries  map[string]Edge `json:"entries,omitempty"`
	Children []Edge          `json:"children,omitempty"`
}

func (*Directory) Kind() id.Kind { return id.Directory }

// Validate checks the invariants of spec.md §3.2: non-empty names, no "/",
// not "." or "..", and unique names within a single entry map.
func (d *Directory) Validate() error {
	if d.Entries != nil && d.Children != nil {
		return tgerror.New(tgerror.Validation, "directory has both entries and children; exactly one must be set")
	}
	for name := range d.Entries {
		if err := validateEntryName(name); err != nil {
			return err
		}
	}
	return nil
}

func validateEntryName(name string) error {
	if name == "" {
		return tgerror.New(tgerror.Validation, "directory entry name must not be empty")
	}
	if strings.Contains(name, "/") {
		return tgerror.New(tgerror.Validation, "directory entry name %q must not contain '/'", name)
	}
	if name == "." || name == ".." {
		return tgerror.New(tgerror.Validation, "directory entry name must not be %q", name)
	}
	return nil
}

func (d *Directory) marshalBinary(w *writer) {
	if d.Entries != nil {
		w.boolField(false) // flat entries
		names := make([]string, 0, len(d.Entries))
		for name := range d.Entries {
			names = append(names, name)
		}
		sort.Strings(names)
		w.uvarint(uint64(len(names)))
		for _, name := range names {
			w.stringField(name)
			d.Entries[name].marshalBinary(w)
		}
		return
	}
	w.boolField(true) // branch of sub-directories
	w.uvarint(uint64(len(d.Children)))
	for _, e := range d.Children {
		e.marshalBinary(w)
	}
}

func decodeDirectory(r *reader) (*Directory, error) {
	isBranch, err := r.boolField()
	if err != nil {
		return nil, err
	}
	if !isBranch {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		entries := make(map[string]Edge, n)
		for i := uint64(0); i < n; i++ {
			name, err := r.stringField()
			if err != nil {
				return nil, err
			}
			e, err := decodeEdge(r)
			if err != nil {
				return nil, err
			}
			entries[name] = e
		}
		return &Directory{Entries: entries}, nil
	}

	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	children := make([]Edge, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := decodeEdge(r)
		if err != nil {
			return nil, err
		}
		children = append(children, e)
	}
	return &Directory{Children: children}, nil
}
