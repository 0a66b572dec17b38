// Package sshclient implements a remote.Client over SSH, using the exact
// four-package combination go-git's own plumbing/transport/ssh uses:
// golang.org/x/crypto/ssh for the transport, kevinburke/ssh_config to
// resolve ~/.ssh/config host aliases, xanzy/ssh-agent to reach a running
// ssh-agent, and skeema/knownhosts as the HostKeyCallback source.
package sshclient

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"

	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"

	kevinburke_ssh_config "github.com/kevinburke/ssh_config"
	"github.com/skeema/knownhosts"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Client dials one SSH remote and runs a fixed remote command that speaks
// the internal/sync frame protocol over its stdin/stdout, mirroring how
// git's ssh transport execs "git-upload-pack"/"git-receive-pack" on the
// far end instead of opening a generic shell.
type Client struct {
	RemoteName string
	Host       string // may be a host alias from ~/.ssh/config
	User       string
	Port       string
	RemoteCmd  string // defaults to "tangram serve --stdio"
}

// New returns a Client; Port and RemoteCmd fall back to their defaults
// when empty.
func New(name, host, user, port, remoteCmd string) *Client {
	if port == "" {
		port = "22"
	}
	if remoteCmd == "" {
		remoteCmd = "tangram serve --stdio"
	}
	return &Client{RemoteName: name, Host: host, User: user, Port: port, RemoteCmd: remoteCmd}
}

func (c *Client) Name() string { return c.RemoteName }

// Open dials the remote, authenticates with ssh-agent identities only (no
// identity file is tried; with no agent identities it returns
// Unauthorized), and starts RemoteCmd, returning its stdio as a single
// duplex stream.
func (c *Client) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	host := kevinburke_ssh_config.Get(c.Host, "HostName")
	if host == "" {
		host = c.Host
	}
	port := kevinburke_ssh_config.Get(c.Host, "Port")
	if port == "" {
		port = c.Port
	}

	dialer := net.Dialer{}
	addr := net.JoinHostPort(host, port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "dialing ssh remote %q at %s", c.RemoteName, addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, tgerror.Wrap(tgerror.Unauthorized, err, "ssh handshake with remote %q", c.RemoteName)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, tgerror.Wrap(tgerror.IO, err, "opening ssh session on remote %q", c.RemoteName)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, tgerror.Wrap(tgerror.IO, err, "opening stdin on remote %q", c.RemoteName)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, tgerror.Wrap(tgerror.IO, err, "opening stdout on remote %q", c.RemoteName)
	}
	if err := session.Start(c.RemoteCmd); err != nil {
		session.Close()
		client.Close()
		return nil, tgerror.Wrap(tgerror.IO, err, "starting %q on remote %q", c.RemoteCmd, c.RemoteName)
	}

	return &sessionStream{session: session, client: client, stdin: stdin, stdout: stdout}, nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	user := c.User
	if user == "" {
		user = kevinburke_ssh_config.Get(c.Host, "User")
	}
	if user == "" {
		user = os.Getenv("USER")
	}

	var authMethods []ssh.AuthMethod
	if agentConn, _, err := sshagent.New(); err == nil {
		if signers, err := agentConn.Signers(); err == nil && len(signers) > 0 {
			authMethods = append(authMethods, ssh.PublicKeysCallback(agentConn.Signers))
		}
	}

	home, _ := os.UserHomeDir()
	known := filepath.Join(home, ".ssh", "known_hosts")
	hostKeyCallback, err := knownhosts.New(known)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "loading known_hosts for remote %q", c.RemoteName)
	}

	if len(authMethods) == 0 {
		return nil, tgerror.New(tgerror.Unauthorized, "no ssh-agent identities available for remote %q", c.RemoteName)
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		HostKeyAlgorithms: []string{
			ssh.KeyAlgoED25519, ssh.KeyAlgoRSA, ssh.KeyAlgoECDSA256,
		},
	}, nil
}

type sessionStream struct {
	session *ssh.Session
	client  *ssh.Client
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sessionStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sessionStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }
func (s *sessionStream) Close() error {
	werr := s.stdin.Close()
	serr := s.session.Close()
	cerr := s.client.Close()
	if werr != nil {
		return werr
	}
	if serr != nil && serr != io.EOF {
		return serr
	}
	return cerr
}
