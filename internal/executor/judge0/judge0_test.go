package judge0

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/executor"
)

// fakeJudge0 answers the submit call with a token and each poll with the
// next canned body. The last body repeats once the list runs out.
type fakeJudge0 struct {
	polls  []string
	polled atomic.Int32

	mu        sync.Mutex
	submitted submission
	authToken string
}

func (f *fakeJudge0) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authToken = r.Header.Get("X-Auth-Token")
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/submissions":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		_ = sonic.Unmarshal(body, &f.submitted)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"token":"tok-1"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/submissions/tok-1":
		n := int(f.polled.Add(1)) - 1
		if n >= len(f.polls) {
			n = len(f.polls) - 1
		}
		_, _ = io.WriteString(w, f.polls[n])
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL), WithPolling(time.Millisecond, 5)}, opts...)
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestExecute_PollsUntilAccepted(t *testing.T) {
	fake := &fakeJudge0{polls: []string{
		`{"status":{"id":1,"description":"In Queue"}}`,
		`{"status":{"id":2,"description":"Processing"}}`,
		`{"stdout":"hi\n","exit_code":0,"status":{"id":3,"description":"Accepted"}}`,
	}}
	c := newTestClient(t, fake, WithAuthToken("secret"))

	res, err := c.Execute(context.Background(), executor.Request{Language: "python", Code: "print('hi')", Stdin: "x"})
	require.NoError(t, err)

	assert.Equal(t, executor.StatusOK, res.Status)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, int32(3), fake.polled.Load())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 71, fake.submitted.LanguageID)
	assert.Equal(t, "print('hi')", fake.submitted.SourceCode)
	assert.Equal(t, "x", fake.submitted.Stdin)
	assert.Equal(t, "secret", fake.authToken)
}

func TestExecute_FinalStatuses(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus executor.Status
		wantStderr string
	}{
		{
			name:       "compile error",
			body:       `{"compile_output":"main.c:1: error","status":{"id":6}}`,
			wantStatus: executor.StatusCompileError,
			wantStderr: "main.c:1: error",
		},
		{
			name:       "runtime error",
			body:       `{"stderr":"Traceback","status":{"id":5}}`,
			wantStatus: executor.StatusRuntimeError,
			wantStderr: "Traceback",
		},
		{
			name:       "runtime error without output",
			body:       `{"status":{"id":5}}`,
			wantStatus: executor.StatusRuntimeError,
			wantStderr: "Runtime error",
		},
		{
			name:       "other failure uses message",
			body:       `{"message":"Exec format error","status":{"id":13}}`,
			wantStatus: executor.StatusRuntimeError,
			wantStderr: "Exec format error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeJudge0{polls: []string{tt.body}})

			res, err := c.Execute(context.Background(), executor.Request{Language: "c", Code: "int main"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantStderr, res.Stderr)
			assert.NotEqual(t, 0, res.ExitCode)
		})
	}
}

func TestExecute_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeJudge0{polls: []string{`{"status":{"id":2}}`}}
	c := newTestClient(t, fake)

	res, err := c.Execute(context.Background(), executor.Request{Language: "go", Code: "package main"})
	require.NoError(t, err)

	assert.Equal(t, executor.StatusTimeout, res.Status)
	assert.Equal(t, executor.TimeoutExitCode, res.ExitCode)
	assert.Equal(t, int32(5), fake.polled.Load())
}

func TestExecute_UnsupportedLanguage(t *testing.T) {
	c := New(slog.Default())
	_, err := c.Execute(context.Background(), executor.Request{Language: "brainfuck"})
	assert.True(t, errors.Is(err, executor.ErrUnsupportedLanguage))
}

func TestExecute_SubmitRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	_, err := c.Execute(context.Background(), executor.Request{Language: "python", Code: "1"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "429"), err.Error())
}

func TestExecute_ContextCancelledWhilePolling(t *testing.T) {
	fake := &fakeJudge0{polls: []string{`{"status":{"id":1}}`}}
	c := newTestClient(t, fake, WithPolling(50*time.Millisecond, 100))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := c.Execute(ctx, executor.Request{Language: "python", Code: "1"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
