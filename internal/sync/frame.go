package sync

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/tangramhq/tangram/internal/tgerror"
)

// maxFrameSize bounds a single SyncMessage frame, guarding against a
// corrupt or adversarial length prefix causing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes one length-prefixed JSON-encoded SyncMessage: a
// 4-byte big-endian length followed by the JSON body, the narrow framing
// this protocol needs in place of a generic pkt-line decoder.
func writeFrame(w io.Writer, m SyncMessage) error {
	body, err := json.Marshal(m)
	if err != nil {
		return tgerror.Wrap(tgerror.Internal, err, "encoding sync message")
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "writing sync frame header")
	}
	if _, err := w.Write(body); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "writing sync frame body")
	}
	return nil
}

// readFrame reads and decodes one frame written by writeFrame.
func readFrame(r io.Reader) (SyncMessage, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return SyncMessage{}, tgerror.Wrap(tgerror.IO, err, "reading sync frame header")
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return SyncMessage{}, tgerror.New(tgerror.Validation, "sync frame of %d bytes exceeds maximum %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return SyncMessage{}, tgerror.Wrap(tgerror.IO, err, "reading sync frame body")
	}
	var m SyncMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return SyncMessage{}, tgerror.Wrap(tgerror.Validation, err, "decoding sync message")
	}
	return m, nil
}
