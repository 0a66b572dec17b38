package server

import (
	"encoding/json"
	"net/http"

	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/tgerror"
)

type spawnRequestBody struct {
	Command   string          `json:"command"`
	Parent    string          `json:"parent,omitempty"`
	Cacheable bool            `json:"cacheable"`
	Checksum  *index.Checksum `json:"checksum,omitempty"`
	Network   bool            `json:"network"`
	Retry     bool            `json:"retry"`
	CacheTTL  int64           `json:"cacheTtl,omitempty"`
}

func (s *Server) handleSpawnProcess(w http.ResponseWriter, r *http.Request) {
	var body spawnRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.Validation, err, "decoding spawn request"))
		return
	}
	command, err := idFromString(body.Command)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing command id"))
		return
	}
	req := index.SpawnRequest{
		Command:   command,
		Cacheable: body.Cacheable,
		Checksum:  body.Checksum,
		Network:   body.Network,
		Retry:     body.Retry,
		Cached:    true,
		CacheTTL:  body.CacheTTL,
		Now:       nowUnix(),
	}
	if body.Parent != "" {
		parent, err := idFromString(body.Parent)
		if err != nil {
			s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing parent id"))
			return
		}
		req.Parent = &parent
	}

	pid, reused, err := s.Engine.Spawn(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !reused {
		go func() {
			if err := s.Engine.Execute(r.Context(), pid); err != nil {
				s.Log.Error("process execution failed", "process", pid.String(), "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": pid.String(), "reused": reused})
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing process id"))
		return
	}
	row, err := s.Index.GetProcess(r.Context(), pid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

type finishRequestBody struct {
	Exit             int             `json:"exit"`
	Output           []byte          `json:"output,omitempty"`
	ErrorKind        string          `json:"errorKind,omitempty"`
	ComputedChecksum *index.Checksum `json:"computedChecksum,omitempty"`
}

func (s *Server) handleFinishProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing process id"))
		return
	}
	var body finishRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.Validation, err, "decoding finish request"))
		return
	}
	err = s.Index.Finish(r.Context(), pid, index.FinishRequest{
		Exit:             body.Exit,
		Output:           body.Output,
		ErrorKind:        body.ErrorKind,
		ComputedChecksum: body.ComputedChecksum,
		At:               nowUnix(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing process id"))
		return
	}
	if err := s.Index.Heartbeat(r.Context(), pid, nowUnix()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := parseId(r)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing process id"))
		return
	}
	if err := s.Index.Cancel(r.Context(), pid, nowUnix()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
