// Package server implements spec.md §6.3's HTTP surface over one explicit
// *Server value threaded through every handler — no package-level state,
// matching the "no ambient global" discipline spec.md §9 states directly
// and the way go-git's own Repository value is always passed explicitly
// rather than reached for globally.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tangramhq/tangram/internal/gc"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/pipe"
	"github.com/tangramhq/tangram/internal/process"
	"github.com/tangramhq/tangram/internal/reference"
	"github.com/tangramhq/tangram/internal/remote"
	"github.com/tangramhq/tangram/internal/store"
	sync_ "github.com/tangramhq/tangram/internal/sync"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Principal identifies the caller a request was authenticated as,
// threaded through context.Context rather than any global, per spec.md
// §9's explicit-value discipline.
type Principal struct {
	Name string
}

type principalKey struct{}

// WithPrincipal attaches p to ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Server is the one value every handler closes over: no init()-time
// registration, no package-level mux.
type Server struct {
	Store      store.Store
	Index      *index.Index
	Engine     *process.Engine
	Pipes      *pipe.Registry
	Resolver   *reference.Resolver
	Remotes    *remote.Cache
	Collector  *gc.Collector
	Log        *slog.Logger
	AuthTokens map[string]string // token -> principal name; empty disables auth
}

// Mux builds the routing table for spec.md §6.3's selected HTTP surface
// using Go 1.22's method+pattern ServeMux, the grounded stdlib choice
// since no router/framework library appears anywhere in the survey.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /objects/batch", s.withAuth(s.handlePutObjectsBatch))
	mux.HandleFunc("GET /objects/{id}", s.withAuth(s.handleGetObject))
	mux.HandleFunc("POST /objects/{id}/touch", s.withAuth(s.handleTouchObject))

	mux.HandleFunc("POST /processes", s.withAuth(s.handleSpawnProcess))
	mux.HandleFunc("GET /processes/{id}", s.withAuth(s.handleGetProcess))
	mux.HandleFunc("POST /processes/{id}/finish", s.withAuth(s.handleFinishProcess))
	mux.HandleFunc("POST /processes/{id}/heartbeat", s.withAuth(s.handleHeartbeat))
	mux.HandleFunc("POST /processes/{id}/cancel", s.withAuth(s.handleCancelProcess))

	mux.HandleFunc("POST /pipes", s.withAuth(s.handleCreatePipe))
	mux.HandleFunc("GET /pipes/{id}/read", s.withAuth(s.handleReadPipe))
	mux.HandleFunc("POST /pipes/{id}/write", s.withAuth(s.handleWritePipe))
	mux.HandleFunc("POST /pipes/{id}/close", s.withAuth(s.handleClosePipe))

	mux.HandleFunc("POST /sync", s.withAuth(s.handleSync))
	mux.HandleFunc("GET /reference/{path...}", s.withAuth(s.handleReference))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /clean", s.withAuth(s.handleClean))

	return mux
}

// withAuth enforces a bearer token when AuthTokens is non-empty, matching
// spec.md §7's "unauthorized → 401" mapping for a missing/bad token.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.AuthTokens) == 0 {
			next(w, r)
			return
		}
		token := bearerToken(r)
		name, ok := s.AuthTokens[token]
		if !ok {
			s.writeError(w, tgerror.New(tgerror.Unauthorized, "missing or invalid bearer token"))
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), Principal{Name: name})))
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// writeError serializes the error chain as JSON with the HTTP status
// spec.md §7 maps from its kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := tgerror.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"kind":    string(kind),
		"message": err.Error(),
	})
}

func statusForKind(k tgerror.Kind) int {
	switch k {
	case tgerror.NotFound:
		return http.StatusNotFound
	case tgerror.InvalidArgument, tgerror.Validation:
		return http.StatusBadRequest
	case tgerror.Unauthorized:
		return http.StatusUnauthorized
	case tgerror.Forbidden:
		return http.StatusForbidden
	case tgerror.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if s.Collector == nil {
		s.writeError(w, tgerror.New(tgerror.Internal, "garbage collector not configured"))
		return
	}
	var opts gc.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, context.Canceled) {
		opts = gc.Options{}
	}
	report, err := s.Collector.Run(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("path")
	ref, err := reference.Parse(raw)
	if err != nil {
		s.writeError(w, tgerror.Wrap(tgerror.InvalidArgument, err, "parsing reference %q", raw))
		return
	}
	resolved, err := s.Resolver.Resolve(r.Context(), ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}
	exp := &sync_.Exporter{Store: s.Store, Index: s.Index}
	conn := &httpDuplex{r: r.Body, w: w, flusher: flusher}
	if err := exp.Serve(r.Context(), conn); err != nil {
		s.Log.Error("sync session ended with error", "error", err)
	}
}

// httpDuplex adapts one request body (reads) and the response writer
// (writes) into the io.ReadWriter internal/sync's framing expects,
// flushing after every write so the client sees frames as they're
// produced instead of buffered until the handler returns.
type httpDuplex struct {
	r       interface {
		Read([]byte) (int, error)
	}
	w       http.ResponseWriter
	flusher http.Flusher
}

func (d *httpDuplex) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *httpDuplex) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if d.flusher != nil {
		d.flusher.Flush()
	}
	return n, err
}

func parseId(r *http.Request) (id.Id, error) {
	return id.Parse(r.PathValue("id"))
}
