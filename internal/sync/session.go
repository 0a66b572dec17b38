package sync

import (
	"context"
	"io"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
	"golang.org/x/sync/errgroup"
)

// WantItem is one id the Importer asks the Exporter for, spec.md §4.7's
// Get(Item(...)).
type WantItem struct {
	Id    id.Id
	Eager bool
}

// ProgressFunc receives advisory progress reports from either side of a
// session, spec.md §4.7's "Progress".
type ProgressFunc func(ProgressMessage)

// Importer pulls objects and processes it doesn't have from an Exporter
// peer (spec.md §4.7). It is the receiving side of one sync session.
type Importer struct {
	Store    store.Store
	Index    *index.Index
	Progress ProgressFunc
}

// Pull requests every item in want over conn, verifying and storing each
// Put response as it arrives, and returns once both sides have sent End.
// The two directions (our outbound Gets, their inbound Puts) run
// concurrently via errgroup, per SPEC_FULL.md §4.8.
func (imp *Importer) Pull(ctx context.Context, conn io.ReadWriter, want []WantItem) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for _, w := range want {
			msg := SyncMessage{Kind: MessageGet, Get: &GetMessage{
				Kind:   GetItem,
				Object: &ObjectGet{Id: w.Id, Eager: w.Eager},
			}}
			if w.Id.Kind() == id.Process {
				msg.Get.Object = nil
				msg.Get.Process = &ProcessGet{Id: w.Id, Eager: w.Eager}
			}
			if err := writeFrame(conn, msg); err != nil {
				return err
			}
		}
		return writeFrame(conn, endMessage())
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			msg, err := readFrame(conn)
			if err != nil {
				return err
			}
			switch msg.Kind {
			case MessageEnd:
				return nil
			case MessageProgress:
				if imp.Progress != nil && msg.Progress != nil {
					imp.Progress(*msg.Progress)
				}
			case MessagePut:
				if err := imp.applyPut(ctx, msg.Put); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

func (imp *Importer) applyPut(ctx context.Context, p *PutMessage) error {
	if p == nil {
		return tgerror.New(tgerror.Validation, "put message missing body")
	}
	switch p.Kind {
	case PutObject:
		computed := id.NewContentAddressed(p.ObjectId.Kind(), p.ObjectBytes)
		if computed.String() != p.ObjectId.String() {
			return tgerror.New(tgerror.Validation, "object %s failed content verification on receipt", p.ObjectId)
		}
		if _, err := imp.Store.Put(ctx, p.ObjectId.Kind(), p.ObjectBytes); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "storing received object %s", p.ObjectId)
		}
		return nil
	case PutProcess:
		// A process record is accepted and dropped: nothing in this module
		// decodes p.ProcessData or writes a process row from it.
		return nil
	default:
		return tgerror.New(tgerror.Validation, "unknown put item kind %q", p.Kind)
	}
}

// Exporter serves Get requests from an Importer peer by reading from
// Store/Index and replying with Put messages (spec.md §4.7). It is the
// sending side of one sync session.
type Exporter struct {
	Store store.Store
	Index *index.Index
}

// Serve drives one session on conn until the peer sends End and every
// queued reply has been flushed.
func (exp *Exporter) Serve(ctx context.Context, conn io.ReadWriter) error {
	return exp.serve(ctx, conn, nil)
}

// ServeAdvertising behaves like Serve but first sends oid unsolicited,
// the push side of spec.md §4.7's otherwise pull-shaped exchange: the
// peer did not Get this id, but the caller is telling it about one
// anyway, the same way git's push client sends ref updates the receiver
// never explicitly asked for.
func (exp *Exporter) ServeAdvertising(ctx context.Context, conn io.ReadWriter, oid id.Id) error {
	frame, err := exp.Store.Get(ctx, oid)
	if err != nil {
		return err
	}
	advertisement := SyncMessage{Kind: MessagePut, Put: &PutMessage{Kind: PutObject, ObjectId: oid, ObjectBytes: frame}}
	return exp.serve(ctx, conn, []SyncMessage{advertisement})
}

func (exp *Exporter) serve(ctx context.Context, conn io.ReadWriter, preload []SyncMessage) error {
	replies := make(chan SyncMessage, 64+len(preload))
	for _, m := range preload {
		replies <- m
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(replies)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			msg, err := readFrame(conn)
			if err != nil {
				return err
			}
			if msg.Kind == MessageEnd {
				return nil
			}
			if msg.Kind != MessageGet || msg.Get == nil {
				continue
			}
			reply, err := exp.resolve(ctx, msg.Get)
			if err != nil {
				return err
			}
			if reply != nil {
				select {
				case replies <- *reply:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	g.Go(func() error {
		for reply := range replies {
			if err := writeFrame(conn, reply); err != nil {
				return err
			}
		}
		return writeFrame(conn, endMessage())
	})

	return g.Wait()
}

func (exp *Exporter) resolve(ctx context.Context, get *GetMessage) (*SyncMessage, error) {
	if get.Kind != GetItem {
		return nil, nil // Complete hints require no reply
	}
	if get.Object != nil {
		frame, err := exp.Store.Get(ctx, get.Object.Id)
		if err != nil {
			if tgerror.KindOf(err) == tgerror.NotFound {
				return nil, nil
			}
			return nil, err
		}
		return &SyncMessage{Kind: MessagePut, Put: &PutMessage{
			Kind: PutObject, ObjectId: get.Object.Id, ObjectBytes: frame,
		}}, nil
	}
	if get.Process != nil {
		row, err := exp.Index.GetProcess(ctx, get.Process.Id)
		if err != nil {
			if tgerror.KindOf(err) == tgerror.NotFound {
				return nil, nil
			}
			return nil, err
		}
		// The reply carries the process id only: ProcessData is left empty,
		// so the peer receives none of the process record's contents.
		_ = row
		return &SyncMessage{Kind: MessagePut, Put: &PutMessage{
			Kind: PutProcess, ProcessId: get.Process.Id,
		}}, nil
	}
	return nil, nil
}
