package remote

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/tgerror"
)

type fakeStream struct{ io.Reader }

func (fakeStream) Write(p []byte) (int, error) { return len(p), nil }
func (fakeStream) Close() error                { return nil }

type fakeClient struct {
	name     string
	failures int
	opened   int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Open(context.Context) (io.ReadWriteCloser, error) {
	f.opened++
	if f.opened <= f.failures {
		return nil, errors.New("transient dial failure")
	}
	return fakeStream{}, nil
}

func TestCacheAddGetRemove(t *testing.T) {
	c := NewCache()
	_, err := c.Get("origin")
	require.Error(t, err)
	require.Equal(t, tgerror.NotFound, tgerror.KindOf(err))

	client := &fakeClient{name: "origin"}
	c.Add(client)

	got, err := c.Get("origin")
	require.NoError(t, err)
	require.Equal(t, client, got)
	require.Equal(t, []string{"origin"}, c.Names())

	c.Remove("origin")
	_, err = c.Get("origin")
	require.Error(t, err)
}

func TestDialWithRetrySucceedsImmediately(t *testing.T) {
	c := NewCache()
	client := &fakeClient{name: "origin"}
	c.Add(client)

	stream, err := c.DialWithRetry(context.Background(), "origin", 3)
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.Equal(t, 1, client.opened)
}

func TestDialWithRetryRecoversAfterTransientFailure(t *testing.T) {
	c := NewCache()
	client := &fakeClient{name: "origin", failures: 1}
	c.Add(client)

	stream, err := c.DialWithRetry(context.Background(), "origin", 3)
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.Equal(t, 2, client.opened)
}

func TestDialWithRetryExhaustsMaxRetries(t *testing.T) {
	c := NewCache()
	client := &fakeClient{name: "origin", failures: 100}
	c.Add(client)

	_, err := c.DialWithRetry(context.Background(), "origin", 1)
	require.Error(t, err)
	require.Equal(t, tgerror.IO, tgerror.KindOf(err))
	require.Equal(t, 2, client.opened) // initial attempt + 1 retry
}

func TestDialWithRetryUnknownRemote(t *testing.T) {
	c := NewCache()
	_, err := c.DialWithRetry(context.Background(), "missing", 1)
	require.Error(t, err)
	require.Equal(t, tgerror.NotFound, tgerror.KindOf(err))
}
