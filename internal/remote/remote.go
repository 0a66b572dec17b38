// Package remote implements spec.md §4.10's named remote client cache: one
// entry per configured upstream, each able to open a duplex transport for
// an internal/sync session, reconnecting with exponential backoff and
// jitter. The registry-of-named-transports shape mirrors go-git's own
// transport.client registry (`transport.Register`/`transport.Get` keyed by
// URL scheme), generalized here to a name-keyed cache instead of a
// scheme-keyed one, since a tangram remote is an operator-given name, not
// a URL scheme.
package remote

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Client opens duplex transport sessions to one configured remote. Both
// httpclient.Client and sshclient.Client implement it.
type Client interface {
	// Open dials a fresh duplex stream for one sync session (spec.md
	// §4.7). The caller closes the returned stream when the session ends.
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	Name() string
}

// Cache holds every configured remote by name (spec.md §4.10: "Each
// server configures zero or more named remotes").
type Cache struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{clients: make(map[string]Client)}
}

// Add registers (or replaces) a named remote.
func (c *Cache) Add(client Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[client.Name()] = client
}

// Remove drops a named remote.
func (c *Cache) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, name)
}

// Get returns the named remote, or NotFound.
func (c *Cache) Get(name string) (Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.clients[name]
	if !ok {
		return nil, tgerror.New(tgerror.NotFound, "remote %q not configured", name)
	}
	return client, nil
}

// Names lists every configured remote, in no particular order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.clients))
	for n := range c.clients {
		out = append(out, n)
	}
	return out
}

// DialWithRetry opens a session against the named remote, retrying
// transient failures with exponential backoff and jitter capped at
// maxRetries, per spec.md §5's "Remote client reconnect: exponential
// backoff with jitter and a max-retries cap."
func (c *Cache) DialWithRetry(ctx context.Context, name string, maxRetries uint64) (io.ReadWriteCloser, error) {
	client, err := c.Get(name)
	if err != nil {
		return nil, err
	}

	var stream io.ReadWriteCloser
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	operation := func() error {
		s, err := client.Open(ctx)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "dialing remote %q", name)
	}
	return stream, nil
}

// defaultReconnectTimeout bounds how long DialWithRetry's caller should
// wait overall before giving up on a single remote, a sane default for
// CLI invocations that don't supply their own context deadline.
const defaultReconnectTimeout = 2 * time.Minute
