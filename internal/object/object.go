// Package object implements tangram's six object variants (leaf, branch,
// directory, file, symlink, graph) plus command, their canonical binary and
// JSON encodings (spec.md §3.2, §6.1), and content-addressed id derivation.
package object

import (
	"encoding/json"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// FormatBinary and FormatJSON are the two leading format bytes of spec.md
// §6.1. The JSON format's leading byte doubles as the first character of
// the JSON document itself ('{'), so no extra framing byte is written for
// it; the binary format prefixes a 0x00 byte followed by a one-byte kind
// discriminator, since JSON carries its own "kind" field instead.
const (
	FormatBinary byte = 0x00
	FormatJSON   byte = '{'
)

// Variant is implemented by every one of the six object kinds (and Command,
// which is object-adjacent but not itself an artifact or blob).
type Variant interface {
	Kind() id.Kind
	marshalBinary(w *writer)
}

var kindBytes = map[id.Kind]byte{
	id.Leaf:      1,
	id.Branch:    2,
	id.Directory: 3,
	id.File:      4,
	id.Symlink:   5,
	id.Graph:     6,
	id.Command:   7,
}

var byteKinds = func() map[byte]id.Kind {
	m := make(map[byte]id.Kind, len(kindBytes))
	for k, v := range kindBytes {
		m[v] = k
	}
	return m
}()

// EncodeBinary renders the canonical binary frame used for content
// addressing: spec.md says content-addressing "hashes the exact bytes
// written", and this implementation hashes the binary frame exclusively —
// the JSON frame exists only for debugging and tag lookups per §6.1, never
// for id derivation.
func EncodeBinary(v Variant) []byte {
	w := newWriter()
	w.buf.WriteByte(FormatBinary)
	w.buf.WriteByte(kindBytes[v.Kind()])
	v.marshalBinary(w)
	return w.bytes()
}

// EncodeJSON renders the debug/tag-lookup JSON frame. encoding/json sorts
// map keys and preserves struct field order, so this is already canonical
// without extra bookkeeping.
func EncodeJSON(v Variant) ([]byte, error) {
	data, err := json.Marshal(jsonEnvelope{Kind: v.Kind(), Variant: v})
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Internal, err, "encoding %s as json", v.Kind())
	}
	return data, nil
}

type jsonEnvelope struct {
	Kind    id.Kind `json:"kind"`
	Variant any     `json:"value"`
}

// ComputeId derives the content-addressed id of v from its canonical
// binary encoding.
func ComputeId(v Variant) id.Id {
	return id.NewContentAddressed(v.Kind(), EncodeBinary(v))
}

// Decode parses a framed object (as produced by EncodeBinary or
// EncodeJSON) back into its concrete Variant.
func Decode(frame []byte) (Variant, error) {
	if len(frame) == 0 {
		return nil, tgerror.New(tgerror.Validation, "empty object frame")
	}
	switch frame[0] {
	case FormatBinary:
		return decodeBinary(frame)
	case FormatJSON:
		return decodeJSON(frame)
	default:
		return nil, tgerror.New(tgerror.Validation, "unknown object format byte 0x%02x", frame[0])
	}
}

func decodeBinary(frame []byte) (Variant, error) {
	if len(frame) < 2 {
		return nil, tgerror.New(tgerror.Validation, "truncated object frame")
	}
	kind, ok := byteKinds[frame[1]]
	if !ok {
		return nil, tgerror.New(tgerror.Validation, "unknown object kind byte 0x%02x", frame[1])
	}
	r := newReader(frame[2:])
	v, err := unmarshalBinary(kind, r)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "decoding %s object", kind)
	}
	if !r.done() {
		return nil, tgerror.New(tgerror.Validation, "trailing bytes after %s object", kind)
	}
	return v, nil
}

func unmarshalBinary(kind id.Kind, r *reader) (Variant, error) {
	switch kind {
	case id.Leaf:
		return decodeLeaf(r)
	case id.Branch:
		return decodeBranch(r)
	case id.Directory:
		return decodeDirectory(r)
	case id.File:
		return decodeFile(r)
	case id.Symlink:
		return decodeSymlink(r)
	case id.Graph:
		return decodeGraph(r)
	case id.Command:
		return decodeCommand(r)
	default:
		return nil, tgerror.New(tgerror.Validation, "kind %q is not an object kind", kind)
	}
}

func decodeJSON(frame []byte) (Variant, error) {
	var peek struct {
		Kind id.Kind `json:"kind"`
	}
	if err := json.Unmarshal(frame, &peek); err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "decoding object envelope")
	}

	var env struct {
		Kind  id.Kind         `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "decoding object envelope")
	}

	var v Variant
	switch peek.Kind {
	case id.Leaf:
		v = &Leaf{}
	case id.Branch:
		v = &Branch{}
	case id.Directory:
		v = &Directory{}
	case id.File:
		v = &File{}
	case id.Symlink:
		v = &Symlink{}
	case id.Graph:
		v = &Graph{}
	case id.Command:
		v = &Command{}
	default:
		return nil, tgerror.New(tgerror.Validation, "unknown object kind %q", peek.Kind)
	}
	if err := json.Unmarshal(env.Value, v); err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "decoding %s value", peek.Kind)
	}
	return v, nil
}

// Edge is either a direct reference to another object (Object) or a
// pointer into a graph's node array (Pointer), per spec.md §3.2.
type Edge struct {
	Object  *id.Id   `json:"object,omitempty"`
	Pointer *Pointer `json:"pointer,omitempty"`
}

// Pointer addresses a node within a graph. A nil Graph means "the
// containing graph" (spec.md §3.2: "Pointers with no graph are resolved
// against the containing graph").
type Pointer struct {
	Graph *id.Id `json:"graph,omitempty"`
	Index int    `json:"index"`
}

func (e Edge) marshalBinary(w *writer) {
	if e.Object != nil {
		w.boolField(false) // isPointer=false
		w.stringField(e.Object.String())
		return
	}
	w.boolField(true)
	if e.Pointer.Graph != nil {
		w.boolField(true)
		w.stringField(e.Pointer.Graph.String())
	} else {
		w.boolField(false)
	}
	w.uvarint(uint64(e.Pointer.Index))
}

func decodeEdge(r *reader) (Edge, error) {
	isPointer, err := r.boolField()
	if err != nil {
		return Edge{}, err
	}
	if !isPointer {
		s, err := r.stringField()
		if err != nil {
			return Edge{}, err
		}
		oid, err := id.Parse(s)
		if err != nil {
			return Edge{}, err
		}
		return Edge{Object: &oid}, nil
	}

	hasGraph, err := r.boolField()
	if err != nil {
		return Edge{}, err
	}
	p := &Pointer{}
	if hasGraph {
		s, err := r.stringField()
		if err != nil {
			return Edge{}, err
		}
		gid, err := id.Parse(s)
		if err != nil {
			return Edge{}, err
		}
		p.Graph = &gid
	}
	idx, err := r.uvarint()
	if err != nil {
		return Edge{}, err
	}
	p.Index = int(idx)
	return Edge{Pointer: p}, nil
}

// Referent is a resolved reference: an item plus optional subpath/tag,
// per spec.md §4.8 and the GLOSSARY.
type Referent struct {
	Item    id.Id   `json:"item"`
	Subpath *string `json:"subpath,omitempty"`
	Tag     *string `json:"tag,omitempty"`
	Path    *string `json:"path,omitempty"`
}
