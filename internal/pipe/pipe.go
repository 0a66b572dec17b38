// Package pipe implements spec.md §4.6: process-bound streaming I/O
// endpoints. A Pipe is a unidirectional byte stream of Chunk/End/Error
// events; a Pty additionally carries terminal resize events. Both are
// registered by id and torn down once their owning process finishes and
// every reader has drained; there is no ttl-based teardown — the same
// create-then-garbage-collect shape go-git's own plumbing.EncodedObject
// readers follow, generalized here to a long-lived bidirectional stream
// instead of a single blob read.
package pipe

import (
	"context"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// EventKind discriminates the four event shapes of spec.md §4.6.
type EventKind int

const (
	EventChunk EventKind = iota
	EventEnd
	EventError
	EventWindowSize
)

// Event is one frame of a pipe or pty's stream.
type Event struct {
	Kind  EventKind
	Bytes []byte // EventChunk
	Err   error  // EventError
	Rows  int    // EventWindowSize
	Cols  int    // EventWindowSize
}

// Pipe is a unidirectional byte stream bound to one process (spec.md
// §4.6). Writers send Chunk/End/Error events on events; every call to Read
// returns that same channel, so concurrent readers share one sequence,
// each event going to only one of them (no fan-out).
type Pipe struct {
	Id id.Id

	mu       sync.Mutex
	events   chan Event
	done     bool
	drained  int
	readers  int
	closedCh chan struct{}
}

// New allocates a pipe with the given buffer depth.
func New(buffer int) (*Pipe, error) {
	pid, err := id.NewRandom(id.Pipe)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Internal, err, "generating pipe id")
	}
	return &Pipe{Id: pid, events: make(chan Event, buffer), closedCh: make(chan struct{})}, nil
}

// Write sends one Chunk event. It is an error to Write after End or Error
// has already been sent.
func (p *Pipe) Write(ctx context.Context, data []byte) error {
	return p.send(ctx, Event{Kind: EventChunk, Bytes: data})
}

// End signals end-of-stream; no further Write/End/Error is permitted.
func (p *Pipe) End(ctx context.Context) error {
	return p.send(ctx, Event{Kind: EventEnd})
}

// Fail signals an error terminating the stream.
func (p *Pipe) Fail(ctx context.Context, cause error) error {
	return p.send(ctx, Event{Kind: EventError, Err: cause})
}

func (p *Pipe) send(ctx context.Context, e Event) error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return tgerror.New(tgerror.InvalidArgument, "pipe %s: write after stream end", p.Id)
	}
	if e.Kind == EventEnd || e.Kind == EventError {
		p.done = true
	}
	p.mu.Unlock()

	select {
	case p.events <- e:
		if e.Kind == EventEnd || e.Kind == EventError {
			close(p.closedCh)
		}
		return nil
	case <-ctx.Done():
		return tgerror.Wrap(tgerror.Cancelled, ctx.Err(), "writing to pipe %s", p.Id)
	}
}

// Read implements spec.md §4.6's read(id) -> stream<event>: it returns the
// channel of events, which the caller ranges over until End/Error.
func (p *Pipe) Read() <-chan Event {
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
	return p.events
}

// Done reports whether End or Error has been sent (not that every reader
// has drained — Drained tracks that separately for GC purposes).
func (p *Pipe) Done() <-chan struct{} {
	return p.closedCh
}

// MarkDrained records that one reader has finished consuming the stream,
// feeding spec.md §4.6's "all readers have drained" deletion condition.
func (p *Pipe) MarkDrained() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained++
}

// FullyDrained reports whether every reader that ever called Read has
// since called MarkDrained.
func (p *Pipe) FullyDrained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drained >= p.readers
}

// Pty is a Pipe that additionally allocates a real pseudo-terminal via
// github.com/creack/pty and carries WindowSize resize events (spec.md
// §4.6).
type Pty struct {
	*Pipe
	master *os.File
}

func newPtyId() (id.Id, error) {
	pid, err := id.NewRandom(id.Pty)
	if err != nil {
		return id.Id{}, tgerror.Wrap(tgerror.Internal, err, "generating pty id")
	}
	return pid, nil
}

// NewPty opens a fresh pseudo-terminal and wraps its master side in a
// Pty, spec.md §4.6; it starts no command.
func NewPty(buffer int) (*Pty, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, tgerror.Wrap(tgerror.IO, err, "opening pseudo-terminal")
	}
	slave.Close() // the runner reopens /dev/tty-equivalent in the child; the engine only needs the master side

	pid, err := newPtyId()
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	p := &Pty{Pipe: &Pipe{Id: pid, events: make(chan Event, buffer), closedCh: make(chan struct{})}, master: master}
	return p, master, nil
}

// Resize sends a WindowSize event and applies it to the underlying pty.
func (p *Pty) Resize(ctx context.Context, rows, cols int) error {
	if err := pty.Setsize(p.master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "resizing pty %s", p.Id)
	}
	return p.send(ctx, Event{Kind: EventWindowSize, Rows: rows, Cols: cols})
}

// Close releases the pty's master file descriptor.
func (p *Pty) Close() error {
	return p.master.Close()
}
