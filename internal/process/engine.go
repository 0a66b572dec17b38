package process

import (
	"context"
	"net"
	"time"

	"github.com/armon/go-socks5"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
	"golang.org/x/sync/errgroup"
)

// Engine drives one process through spec.md §3.3's state machine,
// delegating actual execution to a Runner. It holds no package-level
// state (spec.md §9 "no ambient/global runtime") — every caller threads
// an explicit *Engine value.
type Engine struct {
	Index  *index.Index
	Store  store.Store
	Runner Runner
	Now    func() int64
}

// Spawn implements spec.md §4.5's spawn(arg), delegating the reuse
// decision to the index and immediately marking the fresh process
// enqueued, since this single-engine implementation has no separate queue
// worker to hand it off to.
func (e *Engine) Spawn(ctx context.Context, req index.SpawnRequest) (id.Id, bool, error) {
	req.Now = e.Now()
	pid, reused, err := e.Index.Spawn(ctx, req)
	if err != nil {
		return id.Id{}, false, err
	}
	if !reused {
		if err := e.Index.Transition(ctx, pid, index.StatusEnqueued, e.Now()); err != nil {
			return id.Id{}, false, err
		}
	}
	return pid, reused, nil
}

// Execute dequeues, starts, runs, and finishes pid, enforcing spec.md
// §4.5.1's "network = true requires checksum" by refusing to start a
// network-enabled process that has no declared checksum and, when one is
// present, wrapping the Runner's outbound path in a per-process SOCKS5
// proxy that only exists for the process's lifetime.
func (e *Engine) Execute(ctx context.Context, pid id.Id) error {
	row, err := e.Index.GetProcess(ctx, pid)
	if err != nil {
		return err
	}
	if row.Network && row.Checksum == nil {
		return tgerror.New(tgerror.InvalidArgument, "process %s: network=true requires a checksum", pid)
	}

	if err := e.Index.Transition(ctx, pid, index.StatusDequeued, e.Now()); err != nil {
		return err
	}
	if err := e.Index.Transition(ctx, pid, index.StatusStarted, e.Now()); err != nil {
		return err
	}

	cmd, err := e.fetchCommand(ctx, row.Command)
	if err != nil {
		return e.fail(ctx, pid, tgerror.Internal, err)
	}

	var proxyAddr string
	var proxyClose func()
	if row.Network {
		addr, closeFn, err := startSandboxProxy()
		if err != nil {
			return e.fail(ctx, pid, tgerror.Internal, err)
		}
		proxyAddr, proxyClose = addr, closeFn
		defer proxyClose()
	}

	req := RunRequest{
		Process:   pid,
		Command:   row.Command,
		Env:       cmd.Env,
		Network:   row.Network,
		ProxyAddr: proxyAddr,
	}
	if cmd.Cwd != nil {
		req.WorkingDir = *cmd.Cwd
	}
	if row.Checksum != nil {
		req.Checksum = &Checksum{Algorithm: row.Checksum.Algorithm, Digest: row.Checksum.Digest}
	}

	result, err := e.Runner.Run(ctx, req)
	if err != nil {
		return e.fail(ctx, pid, tgerror.Internal, err)
	}

	var computed *index.Checksum
	if result.ComputedChecksum != nil {
		computed = &index.Checksum{Algorithm: result.ComputedChecksum.Algorithm, Digest: result.ComputedChecksum.Digest}
	}
	return e.Index.Finish(ctx, pid, index.FinishRequest{
		Exit:             result.Exit,
		Output:           result.Output,
		ErrorKind:        result.ErrorKind,
		ComputedChecksum: computed,
		At:               e.Now(),
	})
}

func (e *Engine) fail(ctx context.Context, pid id.Id, kind tgerror.Kind, cause error) error {
	_ = e.Index.Finish(ctx, pid, index.FinishRequest{
		Exit:      1,
		ErrorKind: string(kind),
		At:        e.Now(),
	})
	return tgerror.Wrap(kind, cause, "executing process %s", pid)
}

func (e *Engine) fetchCommand(ctx context.Context, cid id.Id) (*object.Command, error) {
	frame, err := e.Store.Get(ctx, cid)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "fetching command %s", cid)
	}
	v, err := object.Decode(frame)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "decoding command %s", cid)
	}
	cmd, ok := v.(*object.Command)
	if !ok {
		return nil, tgerror.New(tgerror.Validation, "%s is not a command object", cid)
	}
	return cmd, nil
}

// startSandboxProxy starts a loopback-only SOCKS5 proxy for one process's
// outbound traffic, the checksum-gated realization of §1's "network
// access requires a declared checksum" called for by SPEC_FULL.md §4.6.
func startSandboxProxy() (addr string, closeFn func(), err error) {
	server, err := socks5.New(&socks5.Config{})
	if err != nil {
		return "", nil, tgerror.Wrap(tgerror.Internal, err, "constructing sandbox proxy")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, tgerror.Wrap(tgerror.IO, err, "binding sandbox proxy listener")
	}
	go func() { _ = server.Serve(ln) }()
	return ln.Addr().String(), func() { _ = ln.Close() }, nil
}

// RunHeartbeatSweeper polls for processes whose heartbeat has gone stale
// and marks them finished with a heartbeat-lost error, bounded by ctx via
// an errgroup the way the rest of the server's background loops are
// (spec.md §4.5.3).
func RunHeartbeatSweeper(ctx context.Context, idx *index.Index, now func() int64, timeout, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := idx.SweepLostHeartbeats(ctx, int64(timeout/time.Second), now()); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}
