package id

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentAddressedRoundTrip(t *testing.T) {
	body := []byte("hello, world!\n")
	got := NewContentAddressed(Leaf, body)
	require.Equal(t, Leaf, got.Kind())

	parsed, err := Parse(got.String())
	require.NoError(t, err)
	require.True(t, got.Equal(parsed))
	require.NoError(t, got.Verify(body))
}

func TestVerifyRejectsMismatch(t *testing.T) {
	got := NewContentAddressed(Leaf, []byte("a"))
	err := got.Verify([]byte("b"))
	require.Error(t, err)
}

func TestIdempotentHashing(t *testing.T) {
	body := []byte("deterministic content")
	a := NewContentAddressed(Directory, body)
	b := NewContentAddressed(Directory, body)
	require.True(t, a.Equal(b))
	require.Equal(t, a.String(), b.String())
}

func TestRandomIdsAreUnique(t *testing.T) {
	a, err := NewRandom(Process)
	require.NoError(t, err)
	b, err := NewRandom(Process)
	require.NoError(t, err)
	require.False(t, a.Equal(b))
	require.Equal(t, Process, a.Kind())

	ts, ok := a.Timestamp()
	require.True(t, ok)
	require.False(t, ts.IsZero())
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse("bogus_00")
	require.Error(t, err)
}

func TestParseRejectsMissingSeparator(t *testing.T) {
	_, err := Parse("leaf")
	require.Error(t, err)
}

func TestStringLengthBounded(t *testing.T) {
	got := NewContentAddressed(Graph, []byte("x"))
	require.Less(t, len(got.String()), 80)
}

func TestJSONRoundTrip(t *testing.T) {
	got := NewContentAddressed(File, []byte("contents"))
	data, err := got.MarshalJSON()
	require.NoError(t, err)

	var out Id
	require.NoError(t, out.UnmarshalJSON(data))
	require.True(t, got.Equal(out))
}
