// Package judge0 runs code on a remote Judge0 instance: submit, then poll
// the submission until it reaches a final status.
package judge0

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sakif/codeflow/internal/executor"
)

const (
	DefaultBaseURL      = "https://ce.judge0.com/"
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 20

	cpuTimeLimitSeconds = 2
	memoryLimitKB       = 128000
)

// Judge0 status ids.
const (
	statusInQueue      = 1
	statusProcessing   = 2
	statusAccepted     = 3
	statusRuntimeError = 5
	statusCompileError = 6
)

// LanguageIDs maps editor language names to Judge0 language ids.
var LanguageIDs = map[string]int{
	"javascript": 63,
	"python":     71,
	"java":       62,
	"c":          50,
	"cpp":        54,
	"csharp":     51,
	"ruby":       72,
	"go":         79,
	"rust":       73,
	"php":        68,
	"typescript": 74,
	"kotlin":     77,
	"swift":      83,
	"r":          80,
	"sql":        86,
	"bash":       46,
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/") + "/"
		}
	}
}

// WithAuthToken sets the X-Auth-Token header for self-hosted instances.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithPolling(interval time.Duration, attempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.interval = interval
		}
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// Client implements executor.Executor against the Judge0 REST API.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	interval time.Duration
	attempts int
	logger   *slog.Logger
}

func New(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		interval: DefaultPollInterval,
		attempts: DefaultMaxAttempts,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submission struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput *string `json:"expected_output"`
	CPUTimeLimit   int     `json:"cpu_time_limit"`
	MemoryLimit    int     `json:"memory_limit"`
}

type submissionResult struct {
	Token         string  `json:"token"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	ExitCode      *int    `json:"exit_code"`
	Status        *struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

func (r *submissionResult) statusID() int {
	if r.Status == nil {
		return 0
	}
	return r.Status.ID
}

func (c *Client) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	langID, ok := LanguageIDs[req.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", executor.ErrUnsupportedLanguage, req.Language)
	}
	start := time.Now()

	token, err := c.submit(ctx, submission{
		SourceCode:   req.Code,
		LanguageID:   langID,
		Stdin:        req.Stdin,
		CPUTimeLimit: cpuTimeLimitSeconds,
		MemoryLimit:  memoryLimitKB,
	})
	if err != nil {
		return nil, err
	}

	var last *submissionResult
	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := wait(ctx, c.interval); err != nil {
			return nil, err
		}
		res, err := c.fetch(ctx, token)
		if err != nil {
			// A failed poll counts as an attempt; the next one may succeed.
			c.logger.Warn("judge0 poll failed", slog.String("token", token), slog.String("error", err.Error()))
			continue
		}
		last = res
		if res.statusID() >= statusAccepted {
			return toResult(res, time.Since(start)), nil
		}
	}

	c.logger.Warn("judge0 submission did not finish", slog.String("token", token), slog.Int("attempts", c.attempts))
	out := &executor.Result{
		Stderr:   "Execution timed out",
		ExitCode: executor.TimeoutExitCode,
		Status:   executor.StatusTimeout,
		Duration: time.Since(start),
	}
	if last != nil {
		out.Stdout = deref(last.Stdout)
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, s submission) (string, error) {
	body, err := sonic.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("judge0: encoding submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"submissions?base64_encoded=false", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("judge0: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out submissionResult
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("judge0: submitting: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("judge0: submitting: response has no token")
	}
	return out.Token, nil
}

func (c *Client) fetch(ctx context.Context, token string) (*submissionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"submissions/"+token+"?base64_encoded=false", nil)
	if err != nil {
		return nil, fmt.Errorf("judge0: building request: %w", err)
	}
	var out submissionResult
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("judge0: fetching %s: %w", token, err)
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return sonic.Unmarshal(data, out)
}

func toResult(res *submissionResult, elapsed time.Duration) *executor.Result {
	out := &executor.Result{
		Stdout:   deref(res.Stdout),
		Stderr:   deref(res.Stderr),
		Duration: elapsed,
	}
	if res.ExitCode != nil {
		out.ExitCode = *res.ExitCode
	}

	switch res.statusID() {
	case statusAccepted:
		out.Status = executor.StatusOK
	case statusCompileError:
		out.Status = executor.StatusCompileError
		out.Stderr = firstNonEmpty(deref(res.CompileOutput), "Compilation error")
	case statusRuntimeError:
		out.Status = executor.StatusRuntimeError
		out.Stderr = firstNonEmpty(out.Stderr, "Runtime error")
	default:
		out.Status = executor.StatusRuntimeError
		out.Stderr = firstNonEmpty(deref(res.Message), out.Stderr, "Execution failed")
	}
	if out.Status != executor.StatusOK && out.ExitCode == 0 {
		out.ExitCode = 1
	}
	return out
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
