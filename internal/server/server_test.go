package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/reference"
	"github.com/tangramhq/tangram/internal/store/memstore"
	"github.com/tangramhq/tangram/internal/tgerror"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	idx, err := index.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return &Server{Store: memstore.New(), Index: idx, Resolver: &reference.Resolver{}}
}

func TestStatusForKind(t *testing.T) {
	cases := map[tgerror.Kind]int{
		tgerror.NotFound:         http.StatusNotFound,
		tgerror.InvalidArgument:  http.StatusBadRequest,
		tgerror.Validation:       http.StatusBadRequest,
		tgerror.Unauthorized:     http.StatusUnauthorized,
		tgerror.Forbidden:        http.StatusForbidden,
		tgerror.Conflict:         http.StatusConflict,
		tgerror.Internal:         http.StatusInternalServerError,
		tgerror.ChecksumMismatch: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusForKind(kind), "kind %s", kind)
	}
}

func TestHandleHealthIsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	s.AuthTokens = map[string]string{"secret": "alice"}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	s.AuthTokens = map[string]string{"secret": "alice"}

	req := httptest.NewRequest(http.MethodGet, "/objects/"+mustLeaf(t, "x").String(), nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuthAcceptsValidToken(t *testing.T) {
	s := newTestServer(t)
	s.AuthTokens = map[string]string{"secret": "alice"}

	oid := mustLeaf(t, "hello")
	_, err := s.Store.Put(req(t).Context(), id.Leaf, []byte("hello"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/objects/"+oid.String(), nil)
	r.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestPutObjectsBatchThenGet(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(putObjectsBatchRequest{Items: []putObjectItem{{Kind: id.Leaf, Frame: []byte("payload")}}})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/objects/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Ids []id.Id `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Ids, 1)

	r2 := httptest.NewRequest(http.MethodGet, "/objects/"+resp.Ids[0].String(), nil)
	rec2 := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec2, r2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, "payload", rec2.Body.String())
}

func TestHandleGetObjectNotFound(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/objects/"+mustLeaf(t, "missing").String(), nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, r)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReferenceResolvesIdForm(t *testing.T) {
	s := newTestServer(t)
	oid := mustLeaf(t, "abc")
	_, err := s.Store.Put(req(t).Context(), id.Leaf, []byte("abc"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/reference/"+oid.String(), nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}

func mustLeaf(t *testing.T, body string) id.Id {
	t.Helper()
	return id.NewContentAddressed(id.Leaf, []byte(body))
}

func req(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/", nil)
}
