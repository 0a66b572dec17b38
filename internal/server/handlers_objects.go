package server

import (
	"encoding/json"
	"net/http"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
)

type putObjectItem struct {
	Kind  id.Kind `json:"kind"`
	Frame []byte  `json:"frame"`
}

type putObjectsBatchRequest struct {
	Items []putObjectItem `json:"items"`
}

func (s *Server) handlePutObjectsBatch(w http.ResponseWriter, r *http.Request) {
	var req putObjectsBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.Validation, err, "decoding batch put request"))
		return
	}
	frames := make([]store.PutRequest, len(req.Items))
	for i, item := range req.Items {
		frames[i] = store.PutRequest{Kind: item.Kind, Frame: item.Frame}
	}
	ids, err := s.Store.PutBatch(r.Context(), frames)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	oid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing object id"))
		return
	}
	frame, err := s.Store.Get(r.Context(), oid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

func (s *Server) handleTouchObject(w http.ResponseWriter, r *http.Request) {
	oid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing object id"))
		return
	}
	if err := s.Index.TouchObject(r.Context(), oid, nowUnix()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
