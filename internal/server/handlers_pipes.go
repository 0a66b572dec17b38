package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tangramhq/tangram/internal/pipe"
	"github.com/tangramhq/tangram/internal/tgerror"
)

type createPipeRequest struct {
	Process string `json:"process"`
	Buffer  int    `json:"buffer,omitempty"`
}

func (s *Server) handleCreatePipe(w http.ResponseWriter, r *http.Request) {
	var body createPipeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.Validation, err, "decoding pipe create request"))
		return
	}
	pid, err := idFromString(body.Process)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing process id"))
		return
	}
	buffer := body.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	p, err := s.Pipes.CreatePipe(pid, buffer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": p.Id.String()})
}

// handleReadPipe streams Events as text/event-stream frames, spec.md
// §6.3's `x-tg-event`/`x-tg-data` trailing-frame convention carried here
// as SSE event names and data payloads instead of trailer headers, since
// Go's net/http doesn't expose HTTP trailers to a streaming handler
// without disabling chunked responses.
func (s *Server) handleReadPipe(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing pipe id"))
		return
	}
	p, err := s.Pipes.Pipe(pid)
	if err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, tgerror.New(tgerror.Internal, "streaming unsupported by response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-p.Read():
			if !ok {
				p.MarkDrained()
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
			if ev.Kind == pipe.EventEnd || ev.Kind == pipe.EventError {
				p.MarkDrained()
				return
			}
		}
	}
}

func writeSSEEvent(w io.Writer, ev pipe.Event) {
	switch ev.Kind {
	case pipe.EventChunk:
		fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", jsonString(ev.Bytes))
	case pipe.EventEnd:
		fmt.Fprintf(w, "event: end\ndata: {}\n\n")
	case pipe.EventError:
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonString([]byte(ev.Err.Error())))
	case pipe.EventWindowSize:
		fmt.Fprintf(w, "event: window-size\ndata: {\"rows\":%d,\"cols\":%d}\n\n", ev.Rows, ev.Cols)
	}
}

func jsonString(b []byte) string {
	out, _ := json.Marshal(string(b))
	return string(out)
}

func (s *Server) handleWritePipe(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing pipe id"))
		return
	}
	p, err := s.Pipes.Pipe(pid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.IO, err, "reading pipe write body"))
		return
	}
	if err := p.Write(r.Context(), data); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClosePipe(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing pipe id"))
		return
	}
	p, err := s.Pipes.Pipe(pid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := p.End(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
