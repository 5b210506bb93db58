// Package executor runs user code in an isolated environment and reports
// what it printed. Backends live in sub-packages (docker, judge0).
package executor

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedLanguage is returned when a backend has no runtime for the
// requested language.
var ErrUnsupportedLanguage = errors.New("executor: unsupported language")

// Status summarises how a run ended.
type Status string

const (
	StatusOK           Status = "ok"
	StatusRuntimeError Status = "runtime_error"
	StatusCompileError Status = "compile_error"
	StatusTimeout      Status = "timeout"
)

// TimeoutExitCode is reported when a run is killed for exceeding its time
// limit, matching the unix timeout command.
const TimeoutExitCode = 124

// Request is one piece of code to run.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

// Result represents the output and status of the code execution.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// StatusFromExitCode derives a status for backends that only expose an exit
// code.
func StatusFromExitCode(code int) Status {
	switch code {
	case 0:
		return StatusOK
	case TimeoutExitCode:
		return StatusTimeout
	default:
		return StatusRuntimeError
	}
}
