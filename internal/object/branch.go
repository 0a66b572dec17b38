package object

import "github.com/tangramhq/tangram/internal/id"

// BranchChild is one (child, length) pair of a Branch's ordered sequence.
type BranchChild struct {
	Child  id.Id  `json:"child"`
	Length uint64 `json:"length"`
}

// Branch is an ordered sequence of child blobs forming a larger blob by
// concatenation (spec.md §3.2).
type Branch struct {
	Children []BranchChild `json:"children"`
}

func (*Branch) Kind() id.Kind { return id.Branch }

func (b *Branch) marshalBinary(w *writer) {
	w.uvarint(uint64(len(b.Children)))
	for _, c := range b.Children {
		w.stringField(c.Child.String())
		w.uvarint(c.Length)
	}
}

// TotalLength is the logical byte length of the concatenated blob.
func (b *Branch) TotalLength() uint64 {
	var total uint64
	for _, c := range b.Children {
		total += c.Length
	}
	return total
}

func decodeBranch(r *reader) (*Branch, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	children := make([]BranchChild, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := r.stringField()
		if err != nil {
			return nil, err
		}
		cid, err := id.Parse(s)
		if err != nil {
			return nil, err
		}
		length, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		children = append(children, BranchChild{Child: cid, Length: length})
	}
	return &Branch{Children: children}, nil
}
