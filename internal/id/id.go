// Package id implements tangram's two identifier families: content-addressed
// ids (BLAKE3 over the canonical encoding of an object) and time-ordered
// random ids (a 48-bit millisecond timestamp followed by 80 random bits),
// per spec.md §3.1.
package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/tangramhq/tangram/internal/tgerror"
	"lukechampine.com/blake3"
)

// Kind is the fixed three-to-ten-char token prefixing every id string.
type Kind string

const (
	Leaf      Kind = "leaf"
	Branch    Kind = "branch"
	Directory Kind = "directory"
	File      Kind = "file"
	Symlink   Kind = "symlink"
	Graph     Kind = "graph"
	Command   Kind = "command"
	Process   Kind = "process"
	Pipe      Kind = "pipe"
	Pty       Kind = "pty"
	User      Kind = "user"
)

// contentAddressed reports whether ids of this kind are hashes of their
// encoded body rather than time-ordered random values.
func (k Kind) contentAddressed() bool {
	switch k {
	case Leaf, Branch, Directory, File, Symlink, Graph, Command:
		return true
	default:
		return false
	}
}

// Id is an immutable identifier of the form "<kind>_<base-encoded body>".
// Equality of content-addressed ids is equality of content; the String
// form is bounded to under 80 characters by spec.md §6.2.
type Id struct {
	kind Kind
	body []byte
}

// the base62-like alphabet used for the body encoding: alphanumeric, no
// padding, unambiguous across case (spec.md §6.2 "alphanumeric scheme with
// no padding").
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var base = big.NewInt(int64(len(alphabet)))

func encodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	n := new(big.Int).SetBytes(body)
	if n.Sign() == 0 {
		return strings.Repeat("0", (len(body)*8+5)/6)
	}
	var sb strings.Builder
	zero := big.NewInt(0)
	mod := new(big.Int)
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		sb.WriteByte(alphabet[mod.Int64()])
	}
	s := []byte(sb.String())
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return string(s)
}

func decodeBody(s string) ([]byte, error) {
	n := new(big.Int)
	for _, c := range s {
		idx := strings.IndexRune(alphabet, c)
		if idx < 0 {
			return nil, tgerror.New(tgerror.InvalidArgument, "invalid id body character %q", c)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	return n.Bytes(), nil
}

// NewContentAddressed computes a content-addressed id of the given kind
// over the canonical encoding of an object.
func NewContentAddressed(kind Kind, encoded []byte) Id {
	sum := blake3.Sum256(encoded)
	return Id{kind: kind, body: sum[:]}
}

// NewRandom creates a time-ordered random id: a 48-bit big-endian Unix-ms
// timestamp followed by 80 random bits.
func NewRandom(kind Kind) (Id, error) {
	return newRandomAt(kind, time.Now())
}

func newRandomAt(kind Kind, now time.Time) (Id, error) {
	body := make([]byte, 16)
	ms := uint64(now.UnixMilli())
	body[0] = byte(ms >> 40)
	body[1] = byte(ms >> 32)
	body[2] = byte(ms >> 24)
	body[3] = byte(ms >> 16)
	body[4] = byte(ms >> 8)
	body[5] = byte(ms)
	if _, err := rand.Read(body[6:]); err != nil {
		return Id{}, tgerror.Wrap(tgerror.Internal, err, "generating random id body")
	}
	return Id{kind: kind, body: body}, nil
}

// Parse parses a string of the form "<kind>_<body>".
func Parse(s string) (Id, error) {
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return Id{}, tgerror.New(tgerror.InvalidArgument, "malformed id %q: missing kind separator", s)
	}
	kind := Kind(s[:idx])
	if !validKind(kind) {
		return Id{}, tgerror.New(tgerror.InvalidArgument, "malformed id %q: unknown kind %q", s, kind)
	}
	body, err := decodeBody(s[idx+1:])
	if err != nil {
		return Id{}, tgerror.Wrap(tgerror.InvalidArgument, err, "malformed id %q", s)
	}
	return Id{kind: kind, body: body}, nil
}

func validKind(k Kind) bool {
	switch k {
	case Leaf, Branch, Directory, File, Symlink, Graph, Command, Process, Pipe, Pty, User:
		return true
	default:
		return false
	}
}

// ValidKind reports whether s names one of the eleven known id kinds,
// letting callers (e.g. the reference parser distinguishing "<kind>_<id>"
// from a bare tag name) check without constructing a Kind value.
func ValidKind(s string) bool {
	return validKind(Kind(s))
}

// Kind returns the id's kind.
func (id Id) Kind() Kind { return id.kind }

// Body returns the raw identifier body (a hash or a timestamp+random blob).
func (id Id) Body() []byte { return append([]byte(nil), id.body...) }

// IsZero reports whether id is the zero value.
func (id Id) IsZero() bool { return id.kind == "" && len(id.body) == 0 }

// String renders the canonical "<kind>_<body>" form.
func (id Id) String() string {
	if id.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s_%s", id.kind, encodeBody(id.body))
}

// Equal reports content/value equality.
func (id Id) Equal(other Id) bool {
	return id.kind == other.kind && string(id.body) == string(other.body)
}

// Verify reports whether id is the correct content-addressed id for
// encoded, returning a checksum-mismatch-flavored error on failure. Only
// meaningful for content-addressed kinds.
func (id Id) Verify(encoded []byte) error {
	if !id.kind.contentAddressed() {
		return tgerror.New(tgerror.InvalidArgument, "id kind %q is not content-addressed", id.kind)
	}
	want := NewContentAddressed(id.kind, encoded)
	if !id.Equal(want) {
		return tgerror.New(tgerror.Validation, "content mismatch for %s: computed %s", id, want)
	}
	return nil
}

// Timestamp extracts the embedded millisecond timestamp from a
// time-ordered random id. It is for human readability and GC heuristics
// only, per spec.md §9 — correctness must never depend on it.
func (id Id) Timestamp() (time.Time, bool) {
	if id.kind.contentAddressed() || len(id.body) < 6 {
		return time.Time{}, false
	}
	ms := uint64(id.body[0])<<40 | uint64(id.body[1])<<32 | uint64(id.body[2])<<24 |
		uint64(id.body[3])<<16 | uint64(id.body[4])<<8 | uint64(id.body[5])
	return time.UnixMilli(int64(ms)), true
}

// MarshalJSON renders the id as its canonical string form.
func (id Id) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", id.String())), nil
}

// UnmarshalJSON parses the canonical string form.
func (id *Id) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*id = Id{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
