package object

import "github.com/tangramhq/tangram/internal/id"

// Leaf is an opaque byte sequence: one chunk of a blob, capped by the
// checkin pipeline at a few MiB (spec.md §3.2).
type Leaf struct {
	Bytes []byte `json:"bytes"`
}

func (*Leaf) Kind() id.Kind { return id.Leaf }

func (l *Leaf) marshalBinary(w *writer) { w.bytesField(l.Bytes) }

func decodeLeaf(r *reader) (*Leaf, error) {
	b, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	return &Leaf{Bytes: b}, nil
}
