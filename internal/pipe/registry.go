package pipe

import (
	"sync"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Registry holds every live pipe/pty, keyed by id, and the process that
// owns it (spec.md §4.6: "created before spawn and referenced in the
// command"). It is the server's single source of truth for pipe/pty
// lookups; the server shell holds one Registry value, no globals.
type Registry struct {
	mu    sync.Mutex
	pipes map[id.Id]*Pipe
	ptys  map[id.Id]*Pty
	owner map[id.Id]id.Id // pipe/pty id -> owning process id
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pipes: make(map[id.Id]*Pipe),
		ptys:  make(map[id.Id]*Pty),
		owner: make(map[id.Id]id.Id),
	}
}

// CreatePipe allocates a pipe owned by process.
func (r *Registry) CreatePipe(process id.Id, buffer int) (*Pipe, error) {
	p, err := New(buffer)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.pipes[p.Id] = p
	r.owner[p.Id] = process
	r.mu.Unlock()
	return p, nil
}

// CreatePty allocates a pty owned by process.
func (r *Registry) CreatePty(process id.Id, buffer int) (*Pty, error) {
	p, _, err := NewPty(buffer)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.ptys[p.Id] = p
	r.owner[p.Id] = process
	r.mu.Unlock()
	return p, nil
}

// Pipe looks up a pipe by id, or NotFound.
func (r *Registry) Pipe(pid id.Id) (*Pipe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipes[pid]
	if !ok {
		return nil, tgerror.New(tgerror.NotFound, "pipe %s not found", pid)
	}
	return p, nil
}

// Pty looks up a pty by id, or NotFound.
func (r *Registry) Pty(pid id.Id) (*Pty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ptys[pid]
	if !ok {
		return nil, tgerror.New(tgerror.NotFound, "pty %s not found", pid)
	}
	return p, nil
}

// ReapFinished removes every pipe/pty owned by a finished process whose
// stream has ended and whose readers have all drained, per spec.md §4.6's
// deletion condition. Callers supply the set of finished process ids;
// internal/gc does not call it.
func (r *Registry) ReapFinished(finished map[id.Id]bool) []id.Id {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []id.Id
	for pid, p := range r.pipes {
		owner := r.owner[pid]
		if !finished[owner] {
			continue
		}
		select {
		case <-p.closedCh:
			if !p.FullyDrained() {
				continue
			}
		default:
			continue
		}
		delete(r.pipes, pid)
		delete(r.owner, pid)
		reaped = append(reaped, pid)
	}
	for pid, p := range r.ptys {
		owner := r.owner[pid]
		if !finished[owner] {
			continue
		}
		select {
		case <-p.closedCh:
			if !p.FullyDrained() {
				continue
			}
		default:
			continue
		}
		_ = p.Close()
		delete(r.ptys, pid)
		delete(r.owner, pid)
		reaped = append(reaped, pid)
	}
	return reaped
}
