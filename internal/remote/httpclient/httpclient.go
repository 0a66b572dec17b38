// Package httpclient implements a remote.Client over plain net/http,
// streaming a sync session's frames as a chunked POST body and reading
// replies from the response body — the same io.Pipe-duplex-over-one-POST
// shape go-git's plumbing/transport/http client uses to stream pktlines
// without buffering the whole exchange in memory.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tangramhq/tangram/internal/tgerror"
)

// Client dials one HTTP(S) remote's /sync endpoint.
type Client struct {
	RemoteName string
	BaseURL    string
	Token      string
	HTTP       *http.Client
}

// New returns a Client with a sane default *http.Client timeout if none is
// supplied.
func New(name, baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{RemoteName: name, BaseURL: baseURL, Token: token, HTTP: httpClient}
}

func (c *Client) Name() string { return c.RemoteName }

// Open starts one long-lived POST whose request body is fed by the
// returned stream's Write calls and whose response body backs its Read
// calls, giving internal/sync a single io.ReadWriteCloser duplex over an
// otherwise half-duplex HTTP exchange.
func (c *Client) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sync", pr)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.InvalidArgument, err, "building sync request for remote %q", c.RemoteName)
	}
	req.Header.Set("Content-Type", "application/vnd.tangram.sync")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			errCh <- fmt.Errorf("remote %q returned status %d", c.RemoteName, resp.StatusCode)
			return
		}
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		return &stream{writer: pw, reader: resp.Body, closeResp: resp.Body}, nil
	case err := <-errCh:
		pw.Close()
		return nil, tgerror.Wrap(tgerror.IO, err, "opening sync session with remote %q", c.RemoteName)
	case <-ctx.Done():
		pw.Close()
		return nil, tgerror.Wrap(tgerror.Cancelled, ctx.Err(), "opening sync session with remote %q", c.RemoteName)
	}
}

// stream adapts a request-writer/response-reader pair to io.ReadWriteCloser.
type stream struct {
	writer    *io.PipeWriter
	reader    io.ReadCloser
	closeResp io.Closer
}

func (s *stream) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *stream) Close() error {
	werr := s.writer.Close()
	rerr := s.closeResp.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
