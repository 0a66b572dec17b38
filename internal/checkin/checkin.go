// Package checkin's entry point ties together the nine-stage pipeline of
// spec.md §4.3: walk, analyze, resolve, chunk, group cycles, emit,
// publish, fixup, lockfile.
package checkin

import (
	"context"

	"github.com/go-git/go-billy/v5"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/messenger"
	"github.com/tangramhq/tangram/internal/reference"
	"github.com/tangramhq/tangram/internal/store"
)

// Request is spec.md §4.3's checkin input tuple.
type Request struct {
	Path string

	// Destructive permits the walker to consume the input in place
	// (spec.md §4.3 "Destructive mode"); this implementation's walker
	// always copies, so Destructive currently only suppresses the fixup
	// step's read-only bit (there is nothing to protect from further
	// writes once the source is considered consumed).
	Destructive bool

	// Deterministic requests strictly ordered, single-threaded traversal.
	// This walker is always single-threaded and lexicographically
	// ordered, so Deterministic has no effect; it is accepted for
	// interface compatibility with callers built against the full spec.
	Deterministic bool

	Locked bool
}

// Event is one progress notification emitted during a checkin, per
// spec.md §4.3's "Output: stream of progress events".
type Event struct {
	Stage   string
	Path    string
	Message string
}

// Result is spec.md §4.3's terminal output: the root artifact id.
type Result struct {
	Id       id.Id
	Lockfile *Lockfile
}

// Checkin runs the full pipeline against fs, writing objects to s,
// publishing to idx and m, and resolving tag dependencies through
// resolver. events, if non-nil, receives progress notifications and is
// closed when Checkin returns.
func Checkin(ctx context.Context, fs billy.Filesystem, s store.Store, idx *index.Index, m *messenger.Messenger, resolver *reference.Resolver, req Request, now int64, events chan<- Event) (*Result, error) {
	defer func() {
		if events != nil {
			close(events)
		}
	}()

	emit := func(stage, path, msg string) {
		if events == nil {
			return
		}
		select {
		case events <- Event{Stage: stage, Path: path, Message: msg}:
		case <-ctx.Done():
		}
	}

	emit("walk", req.Path, "walking filesystem")
	a, err := walk(fs, req.Path)
	if err != nil {
		return nil, err
	}

	emit("analyze", req.Path, "scanning module imports")
	analyzeModules(a)

	emit("resolve", req.Path, "resolving dependencies")
	if err := resolveDependencies(ctx, a, resolver); err != nil {
		return nil, err
	}

	emit("emit", req.Path, "chunking blobs and writing objects")
	artifactId, emitted, err := emitArtifact(ctx, a, s)
	if err != nil {
		return nil, err
	}

	emit("publish", req.Path, "publishing to index")
	if err := publish(ctx, idx, m, emitted, now); err != nil {
		return nil, err
	}

	if !req.Destructive {
		emit("fixup", req.Path, "normalizing cache entry permissions and mtimes")
		if err := fixup(fs, req.Path, a); err != nil {
			return nil, err
		}
	}

	var lf *Lockfile
	if !req.Locked {
		emit("lockfile", req.Path, "writing lockfile")
		lf = buildLockfile(a)
		if err := writeLockfile(fs, req.Path, req.Locked, a); err != nil {
			return nil, err
		}
	}

	return &Result{Id: artifactId, Lockfile: lf}, nil
}
