package ioutil

import (
	"io"

	"github.com/tangramhq/tangram/internal/syncpool"
)

// Copy calls io.CopyBuffer and uses a buffer from syncpool.GetByteSlice,
// to reduce the complexity when using it while avoiding the allocation
// of a new buffer per call.
func Copy(dst io.Writer, src io.Reader) (n int64, err error) {
	buf := syncpool.GetByteSlice()
	n, err = io.CopyBuffer(dst, src, *buf)
	syncpool.PutByteSlice(buf)

	return
}
