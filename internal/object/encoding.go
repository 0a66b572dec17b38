package object

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/tangramhq/tangram/internal/tgerror"
)

// writer accumulates a canonical binary encoding: every variable-length
// field (bytes, strings, ids) is length-prefixed with a uvarint, matching
// spec.md §6.1's "length-prefixed fields, variable-length integers".
type writer struct {
	buf bytes.Buffer
	tmp [binary.MaxVarintLen64]byte
}

func newWriter() *writer { return &writer{} }

func (w *writer) uvarint(v uint64) {
	n := binary.PutUvarint(w.tmp[:], v)
	w.buf.Write(w.tmp[:n])
}

func (w *writer) bytesField(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *writer) stringField(s string) { w.bytesField([]byte(s)) }

func (w *writer) boolField(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) bytes() []byte { return w.buf.Bytes() }

// reader is the dual of writer.
type reader struct {
	r *bytes.Reader
}

func newReader(b []byte) *reader { return &reader{r: bytes.NewReader(b)} }

func (r *reader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, tgerror.Wrap(tgerror.Validation, err, "reading uvarint field")
	}
	return v, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "reading length-prefixed field of %d bytes", n)
	}
	return buf, nil
}

func (r *reader) stringField() (string, error) {
	b, err := r.bytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) boolField() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, tgerror.Wrap(tgerror.Validation, err, "reading bool field")
	}
	return b != 0, nil
}

func (r *reader) done() bool { return r.r.Len() == 0 }
