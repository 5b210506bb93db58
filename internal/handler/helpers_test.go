package handler_test

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/auth"
	"github.com/sakif/codeflow/internal/docstore/sqlite"
	"github.com/sakif/codeflow/internal/service"
)

const testUserHeader = "X-Test-User"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// services bundles real services over an in-memory SQLite store.
type services struct {
	store    *sqlite.DB
	folders  *service.FolderResolver
	snippets *service.SnippetService
	users    *service.AuthService
	tokens   *auth.TokenService
}

func newServices(t *testing.T) *services {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	logger := discardLogger()
	folders := service.NewFolderResolver(db, logger)
	return &services{
		store:    db,
		folders:  folders,
		snippets: service.NewSnippetService(db, folders, logger),
		users:    service.NewAuthService(db, tokens, logger),
		tokens:   tokens,
	}
}

// fakeAuth stands in for RequireAuth: the user id comes from a header
// instead of a signed cookie.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(testUserHeader); id != "" {
			r = r.WithContext(auth.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newRouter(routes func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(fakeAuth)
	routes(r)
	return r
}

// do sends one request as user (empty = anonymous) and returns the
// recorder. body may be nil, a string, or a value to encode as JSON.
func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := sonic.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func newSnippet(title, language string) service.NewSnippet {
	return service.NewSnippet{Title: title, Code: "// " + title, Language: language}
}
