package checkin

import (
	"context"

	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/store"
)

// Chunking parameters for spec.md §4.3 step 4's content-defined chunking:
// a buzhash-based rolling hash cuts chunk boundaries at content-dependent
// offsets so that inserting or deleting bytes near the start of a large
// file only perturbs the chunks touching the edit, not the whole blob —
// the same rationale restic and rsync use their rolling hashes for.
const (
	minChunkSize = 64 * 1024
	maxChunkSize = 4 * 1024 * 1024
	avgChunkBits = 18 // average chunk size 2^18 = 256 KiB
	windowSize   = 64
	branchFanout = 1024
)

// chunk is one content-defined slice of a file's bytes, carrying both the
// raw bytes (until emit.go writes it to the store) and, once computed,
// its leaf id.
type chunk struct {
	data []byte
	id   string
}

// buzhashTable is a fixed, deterministic permutation of byte values used
// to roll the hash; it must never vary between runs or machines, since
// chunk boundaries (and therefore blob ids) depend on it (spec.md §8
// invariant 3, idempotence).
var buzhashTable = func() [256]uint32 {
	var t [256]uint32
	state := uint32(0x9e3779b9)
	for i := range t {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		t[i] = state
	}
	return t
}()

// chunkContent splits data into content-defined chunks. Files smaller than
// minChunkSize always yield exactly one chunk (becoming a single leaf).
func chunkContent(data []byte) [][]byte {
	if len(data) <= minChunkSize {
		if len(data) == 0 {
			return [][]byte{{}}
		}
		return [][]byte{data}
	}

	mask := uint32(1)<<avgChunkBits - 1
	var chunks [][]byte
	start := 0
	var h uint32
	for i := 0; i < len(data); i++ {
		h = (h << 1) ^ buzhashTable[data[i]]
		length := i - start + 1
		if length < minChunkSize {
			continue
		}
		boundary := length >= windowSize && h&mask == 0
		if boundary || length >= maxChunkSize || i == len(data)-1 {
			chunks = append(chunks, data[start:i+1])
			start = i + 1
			h = 0
		}
	}
	if start < len(data) {
		chunks = append(chunks, data[start:])
	}
	return chunks
}

// buildBlob implements the chunking half of spec.md §4.3 step 4: it splits
// the file bytes into content-defined chunks stored on n.chunks. The leaf
// per chunk and the branch levels above them are built afterwards by
// blobVariants and written by putBlob.
func buildBlob(n *arenaNode) {
	pieces := chunkContent(n.rawContents)
	n.chunks = make([]chunk, len(pieces))
	for i, p := range pieces {
		n.chunks[i] = chunk{data: p}
	}
}

// blobVariants returns, in bottom-up order, every object.Variant (leaves
// and any branch levels) that must be written to realize node's blob, plus
// the id of the root (what File.Contents will reference). Leaf ids are
// filled in before branch levels are built, since a branch's children are
// the leaves' (or lower branches') content-addressed ids.
func blobVariants(n *arenaNode) ([]object.Variant, object.Variant) {
	if len(n.chunks) == 0 {
		leaf := &object.Leaf{Bytes: nil}
		return []object.Variant{leaf}, leaf
	}

	leaves := make([]object.Variant, len(n.chunks))
	for i, c := range n.chunks {
		leaves[i] = &object.Leaf{Bytes: c.data}
	}
	if len(leaves) == 1 {
		return leaves, leaves[0]
	}

	all := append([]object.Variant{}, leaves...)
	level := leaves
	lengths := make([]uint64, len(n.chunks))
	for i, c := range n.chunks {
		lengths[i] = uint64(len(c.data))
	}

	for len(level) > 1 {
		var next []object.Variant
		var nextLengths []uint64
		for i := 0; i < len(level); i += branchFanout {
			end := i + branchFanout
			if end > len(level) {
				end = len(level)
			}
			children := make([]object.BranchChild, end-i)
			var total uint64
			for j := i; j < end; j++ {
				children[j-i] = object.BranchChild{Child: object.ComputeId(level[j]), Length: lengths[j]}
				total += lengths[j]
			}
			b := &object.Branch{Children: children}
			next = append(next, b)
			nextLengths = append(nextLengths, total)
			all = append(all, b)
		}
		level = next
		lengths = nextLengths
	}
	return all, level[0]
}

// putBlob writes every object in a node's blob to store (leaves before the
// branch levels that reference them) and sets the node's contentsId,
// recording each write in emitted for index publication.
func putBlob(ctx context.Context, s store.Store, n *arenaNode, emitted *[]emittedObject) error {
	variants, root := blobVariants(n)
	write := func(v object.Variant) error {
		frame := object.EncodeBinary(v)
		if _, err := s.Put(ctx, v.Kind(), frame); err != nil {
			return err
		}
		*emitted = append(*emitted, emittedObject{id: object.ComputeId(v), children: childrenOfVariant(v), size: int64(len(frame))})
		return nil
	}
	for _, v := range variants {
		if _, ok := v.(*object.Branch); ok {
			continue // branches are written after their children below
		}
		if err := write(v); err != nil {
			return err
		}
	}
	for _, v := range variants {
		if _, ok := v.(*object.Branch); !ok {
			continue
		}
		if err := write(v); err != nil {
			return err
		}
	}
	n.contentsId = object.ComputeId(root).String()
	n.rawContents = nil // release memory once chunks are durable
	return nil
}
