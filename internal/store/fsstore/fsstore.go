// Package fsstore is store.Store's on-disk backend (spec.md §4.1): one file
// per object, sharded by the first two characters of the id body exactly
// the way go-git's dotgit shards loose objects by the first two hex digits
// of a SHA-1, built on github.com/go-git/go-billy/v5 so the store never
// touches the os package directly.
package fsstore

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/golang/groupcache/lru"
	"github.com/klauspost/compress/zstd"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// compressThreshold is the frame size above which a frame of any kind is
// stored zstd-compressed, matching SPEC_FULL.md §4.1's at-rest compression
// note.
const compressThreshold = 256

// defaultCacheEntries bounds the read cache the same way go-git's
// plumbing/cache defaults an object LRU to a fixed entry count rather than
// a byte budget.
const defaultCacheEntries = 4096

// Store is the filesystem-backed object store. It is safe for concurrent
// use: the cache has its own lock and writes are atomic renames, so two
// writers racing to create the same content-addressed id just race
// harmlessly to the same final bytes.
type Store struct {
	fs    billy.Filesystem
	cache *lru.Cache // key: string id, value: []byte frame

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCacheEntries overrides the default read-cache size.
func WithCacheEntries(n int) Option {
	return func(s *Store) {
		s.cache = lru.New(n)
	}
}

var _ store.Store = (*Store)(nil)

// New constructs a Store rooted at fs. fs is typically osfs.New(path) in
// production and memfs.New() in tests, matching go-git's own storage layer
// split.
func New(fs billy.Filesystem, opts ...Option) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Internal, err, "constructing zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Internal, err, "constructing zstd decoder")
	}
	s := &Store{
		fs:      fs,
		cache:   lru.New(defaultCacheEntries),
		encoder: enc,
		decoder: dec,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Put(ctx context.Context, kind id.Kind, frame []byte) (id.Id, error) {
	oid := id.NewContentAddressed(kind, frame)
	if err := s.writeObject(oid, frame); err != nil {
		return id.Id{}, err
	}
	s.cache.Add(oid.String(), append([]byte(nil), frame...))
	return oid, nil
}

func (s *Store) PutBatch(ctx context.Context, frames []store.PutRequest) ([]id.Id, error) {
	ids := make([]id.Id, len(frames))
	for i, req := range frames {
		oid, err := s.Put(ctx, req.Kind, req.Frame)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "put batch: item %d", i)
		}
		ids[i] = oid
	}
	return ids, nil
}

func (s *Store) Get(ctx context.Context, oid id.Id) ([]byte, error) {
	if v, ok := s.cache.Get(oid.String()); ok {
		return append([]byte(nil), v.([]byte)...), nil
	}
	frame, err := s.readObject(oid)
	if err != nil {
		return nil, err
	}
	s.cache.Add(oid.String(), append([]byte(nil), frame...))
	return frame, nil
}

func (s *Store) GetBatch(ctx context.Context, ids []id.Id) ([][]byte, error) {
	out := make([][]byte, len(ids))
	for i, oid := range ids {
		frame, err := s.Get(ctx, oid)
		if err != nil {
			if tgerror.KindOf(err) == tgerror.NotFound {
				continue
			}
			return nil, err
		}
		out[i] = frame
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, oid id.Id) (bool, error) {
	if _, ok := s.cache.Get(oid.String()); ok {
		return true, nil
	}
	_, err := s.fs.Stat(s.path(oid))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, oid id.Id) error {
	s.cache.Remove(oid.String())
	if err := s.fs.Remove(s.path(oid)); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "deleting object %s", oid)
	}
	return nil
}

// shard returns the two-character shard prefix of an id's body, go-git
// dotgit style.
func shard(oid id.Id) string {
	body := oid.String()
	// skip "<kind>_" to the body portion
	for i, c := range body {
		if c == '_' {
			rest := body[i+1:]
			if len(rest) >= 2 {
				return rest[:2]
			}
			return rest
		}
	}
	return "00"
}

func (s *Store) path(oid id.Id) string {
	return fmt.Sprintf("objects/%s/%s/%s", oid.Kind(), shard(oid), oid.String())
}

func (s *Store) writeObject(oid id.Id, frame []byte) error {
	dir := fmt.Sprintf("objects/%s/%s", oid.Kind(), shard(oid))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "creating shard directory %s", dir)
	}

	payload := frame
	compressed := false
	if len(frame) > compressThreshold {
		payload = s.encoder.EncodeAll(frame, nil)
		compressed = true
	}

	tmp, err := s.fs.TempFile(dir, "tmp-")
	if err != nil {
		return tgerror.Wrap(tgerror.IO, err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()

	header := []byte{0}
	if compressed {
		header[0] = 1
	}
	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return tgerror.Wrap(tgerror.IO, err, "writing object header")
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return tgerror.Wrap(tgerror.IO, err, "writing object payload")
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return tgerror.Wrap(tgerror.IO, err, "closing temp file")
	}

	final := s.path(oid)
	// Readers never observe a partially-written file: the rename is the
	// only operation that makes the final path exist.
	if err := s.fs.Rename(tmpName, final); err != nil {
		_ = s.fs.Remove(tmpName)
		return tgerror.Wrap(tgerror.IO, err, "renaming object into place at %s", final)
	}
	return nil
}

func (s *Store) readObject(oid id.Id) ([]byte, error) {
	f, err := s.fs.Open(s.path(oid))
	if err != nil {
		return nil, tgerror.New(tgerror.NotFound, "object %s not found", oid)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "reading object %s", oid)
	}
	if len(data) == 0 {
		return nil, tgerror.New(tgerror.IO, "object %s file is empty", oid)
	}

	header, payload := data[0], data[1:]
	switch header {
	case 0:
		return payload, nil
	case 1:
		out, err := s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "decompressing object %s", oid)
		}
		return out, nil
	default:
		return nil, tgerror.New(tgerror.IO, "object %s has unknown compression header %d", oid, header)
	}
}

