package docker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/executor"
)

func TestScript(t *testing.T) {
	rt := DefaultRuntimes()["c"]
	assert.Equal(t,
		`printf '%s' "$CODE" > /tmp/main.c && gcc -O2 -o /tmp/main /tmp/main.c && /tmp/main`,
		script(rt))
}

func TestExecOptions_CodeTravelsInEnv(t *testing.T) {
	rt := DefaultRuntimes()["go"]
	code := `package main; func main() { println("$(rm -rf /)") }`

	opts := execOptions(rt, executor.Request{Language: "go", Code: code})

	assert.Equal(t, "CODE="+code, opts.Env[0])
	assert.Contains(t, opts.Env, "GOCACHE=/tmp/.cache")
	assert.Equal(t, []string{"sh", "-c", script(rt)}, opts.Cmd)
	assert.NotContains(t, opts.Cmd[2], code)
	assert.True(t, opts.AttachStdin)
}

func TestConfig_Only(t *testing.T) {
	cfg := DefaultConfig().Only("python", "go", "cobol")
	assert.Equal(t, []string{"go", "python"}, cfg.Languages())

	all := DefaultConfig().Only()
	assert.Len(t, all.Runtimes, len(DefaultRuntimes()))
}

func TestExecute_UnsupportedLanguage(t *testing.T) {
	e := &Executor{runtimes: map[string]Runtime{}}
	_, err := e.Execute(context.Background(), executor.Request{Language: "cobol"})
	assert.True(t, errors.Is(err, executor.ErrUnsupportedLanguage))
}

func TestDockerExecutor(t *testing.T) {
	// Skip in CI environments if docker is not available
	if os.Getenv("CI") != "" {
		t.Skip("Skipping docker test in CI environment")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := DefaultConfig().Only("python")
	cfg.Timeout = 3 * time.Second

	exec, err := New(cfg, logger)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	defer exec.Close()

	run := func(t *testing.T, req executor.Request) *executor.Result {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := exec.Execute(ctx, req)
		require.NoError(t, err)
		return res
	}

	t.Run("successful execution", func(t *testing.T) {
		res := run(t, executor.Request{Language: "python", Code: `print("Hello from test sandbox!")`})
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, executor.StatusOK, res.Status)
		assert.Contains(t, res.Stdout, "Hello from test sandbox!")
		assert.Empty(t, res.Stderr)
		assert.Greater(t, res.Duration, time.Duration(0))
	})

	t.Run("syntax error", func(t *testing.T) {
		res := run(t, executor.Request{Language: "python", Code: `print("Missing parenthesis"`})
		assert.NotEqual(t, 0, res.ExitCode)
		assert.Equal(t, executor.StatusRuntimeError, res.Status)
		assert.Contains(t, res.Stderr, "SyntaxError")
	})

	t.Run("stdin", func(t *testing.T) {
		res := run(t, executor.Request{Language: "python", Code: `print(input()[::-1])`, Stdin: "abc\n"})
		assert.Equal(t, "cba\n", res.Stdout)
	})

	t.Run("infinite loop timeout", func(t *testing.T) {
		res := run(t, executor.Request{Language: "python", Code: `while True: pass`})
		assert.Equal(t, executor.TimeoutExitCode, res.ExitCode)
		assert.Equal(t, executor.StatusTimeout, res.Status)
		assert.Contains(t, res.Stderr, "timed out")
	})

	t.Run("multiline logic", func(t *testing.T) {
		res := run(t, executor.Request{Language: "python", Code: strings.Join([]string{
			"def fib(n):",
			"    if n <= 1: return n",
			"    return fib(n-1) + fib(n-2)",
			"print(fib(5))",
		}, "\n")})
		assert.Equal(t, 0, res.ExitCode)
		assert.Contains(t, res.Stdout, "5")
	})
}
