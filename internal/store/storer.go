// Package store implements tangram's content-addressed object store
// (spec.md §4.1): a narrow Store interface with an in-memory backend for
// tests and an on-disk backend for servers, mirroring the way go-git splits
// storage.Storer into focused sub-interfaces backed by either
// storage/memory or storage/filesystem.
package store

import (
	"context"

	"github.com/tangramhq/tangram/internal/id"
)

// Store is the object-id-to-bytes mapping at the center of spec.md §4.1.
// Every method is context-aware because fsstore's Get may block on disk IO
// and the caller (sync, checkout) must be cancellable.
type Store interface {
	// Put writes frame under its content-addressed id, discovered internally.
	Put(ctx context.Context, kind id.Kind, frame []byte) (id.Id, error)

	// PutBatch writes many frames and returns their ids in request order.
	// memstore applies a batch under one lock; fsstore writes the items one
	// at a time, so an error part-way through leaves the earlier items
	// stored.
	PutBatch(ctx context.Context, frames []PutRequest) ([]id.Id, error)

	// Get returns the raw frame bytes for oid, or a NotFound tgerror.
	Get(ctx context.Context, oid id.Id) ([]byte, error)

	// GetBatch looks up many ids at once; the result slice is positional
	// with ids, and a missing id yields a nil entry rather than aborting
	// the whole batch, since partial sync responses are expected.
	GetBatch(ctx context.Context, ids []id.Id) ([][]byte, error)

	// Has reports object presence without paying the cost of reading it.
	Has(ctx context.Context, oid id.Id) (bool, error)

	// Delete removes oid. Used only by the garbage collector (§4.9); the
	// store itself never deletes on a normal Put/Get path.
	Delete(ctx context.Context, oid id.Id) error
}

// PutRequest pairs a raw frame with the kind tangram should hash it as.
type PutRequest struct {
	Kind  id.Kind
	Frame []byte
}
