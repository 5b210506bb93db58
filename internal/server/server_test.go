package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/auth"
	"github.com/sakif/codeflow/internal/config"
	"github.com/sakif/codeflow/internal/docstore/sqlite"
	"github.com/sakif/codeflow/internal/executor"
	"github.com/sakif/codeflow/internal/model"
)

const testSecret = "server-test-secret-0123456789"

type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	return &executor.Result{Stdout: req.Code, Status: executor.StatusOK}, nil
}

func newTestServer(t *testing.T, exec executor.Executor) *Server {
	t.Helper()

	cfg := new(config.Config)
	require.NoError(t, defaults.Set(cfg))
	cfg.Auth.JWTSecret = testSecret

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{Store: store, Executor: exec, Languages: []string{"python"}, closers: []func() error{store.Close}}
	srv, err := New(cfg, logger, deps)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(context.Background()) })
	return srv
}

func sessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate(userID)
	require.NoError(t, err)
	return &http.Cookie{Name: auth.CookieName, Value: token}
}

func send(srv *Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestNew_RequiresStore(t *testing.T) {
	cfg := new(config.Config)
	require.NoError(t, defaults.Set(cfg))
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{})
	assert.Error(t, err)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, echoExecutor{})

	rr := send(srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"languages":["python"]`)

	rr = send(srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `codeflow_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestServer_ProtectedRoutesNeedCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/api/me", "/api/snippets", "/api/folders", "/api/editor"} {
		rr := send(srv, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	bad := &http.Cookie{Name: auth.CookieName, Value: "not-a-token"}
	rr := send(srv, http.MethodGet, "/api/snippets", "", bad)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServer_SnippetFlowWithCookie(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := sessionCookie(t, "alice")

	rr := send(srv, http.MethodPost, "/api/snippets", `{"title":"hello","code":"print(1)","language":"python"}`, alice)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created model.Snippet
	require.NoError(t, sonic.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.OwnerID)

	rr = send(srv, http.MethodGet, "/api/snippets", "", alice)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []model.Snippet
	require.NoError(t, sonic.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	rr = send(srv, http.MethodGet, "/api/snippets/"+created.ID, "", sessionCookie(t, "bob"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestServer_ExecuteRoute(t *testing.T) {
	t.Run("anonymous callers may run code", func(t *testing.T) {
		srv := newTestServer(t, echoExecutor{})
		rr := send(srv, http.MethodPost, "/api/execute", `{"language":"python","code":"print(2)"}`, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Contains(t, rr.Body.String(), `"stdout":"print(2)"`)

		rr = send(srv, http.MethodGet, "/metrics", "", nil)
		assert.Contains(t, rr.Body.String(), `codeflow_executions_total{language="python",status="ok"} 1`)
	})

	t.Run("not routed without an executor", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rr := send(srv, http.MethodPost, "/api/execute", `{"language":"python","code":"1"}`, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestServer_AssistantWithoutKey(t *testing.T) {
	srv := newTestServer(t, nil)
	// No Assistant in Deps: the route does not exist.
	rr := send(srv, http.MethodPost, "/api/assistant/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_GitHubLoginDisabled(t *testing.T) {
	srv := newTestServer(t, nil)
	rr := send(srv, http.MethodGet, "/auth/github/login", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestJudge0Languages(t *testing.T) {
	all := judge0Languages(nil)
	assert.Contains(t, all, "python")
	assert.IsIncreasing(t, all)

	assert.Equal(t, []string{"go", "python"}, judge0Languages([]string{"python", "cobol", "go"}))
}
