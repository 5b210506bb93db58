package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/codeflow/internal/executor"
)

// Executor implements the executor.Executor interface using Docker.
type Executor struct {
	cli      *client.Client
	config   Config
	logger   *slog.Logger
	runtimes map[string]Runtime
	pools    map[string]*Pool // keyed by image, shared by languages on the same image
}

// New creates a new Docker Executor, pulls every configured image and starts
// one warm pool per image. A language whose image cannot be pulled is
// dropped with a warning; New fails only when no language is left.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	exec := &Executor{
		cli:      cli,
		config:   cfg,
		logger:   logger,
		runtimes: make(map[string]Runtime),
		pools:    make(map[string]*Pool),
	}

	pulled := make(map[string]error)
	for _, lang := range cfg.Languages() {
		rt := cfg.Runtimes[lang]
		err, seen := pulled[rt.Image]
		if !seen {
			err = exec.pull(rt.Image)
			pulled[rt.Image] = err
		}
		if err != nil {
			logger.Warn("language disabled, image unavailable",
				slog.String("language", lang), slog.String("image", rt.Image), slog.String("error", err.Error()))
			continue
		}
		exec.runtimes[lang] = rt
		if _, ok := exec.pools[rt.Image]; !ok {
			exec.pools[rt.Image] = NewPool(cli, rt.Image, cfg, logger)
		}
	}

	if len(exec.runtimes) == 0 {
		_ = cli.Close()
		return nil, fmt.Errorf("docker: no runtime image could be pulled")
	}

	for _, pool := range exec.pools {
		pool.Start()
	}
	return exec, nil
}

func (e *Executor) pull(ref string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	e.logger.Info("ensuring docker image is available", slog.String("image", ref))
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pulling %s: %w", ref, err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("docker: pulling %s: %w", ref, err)
	}
	return nil
}

// Languages reports the languages this executor can run.
func (e *Executor) Languages() []string {
	return Config{Runtimes: e.runtimes}.Languages()
}

// Close shuts down the executor pools and docker client.
func (e *Executor) Close() error {
	for _, pool := range e.pools {
		pool.Stop()
	}
	return e.cli.Close()
}

// Execute runs the provided code in a sandboxed container for its language.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	rt, ok := e.runtimes[req.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", executor.ErrUnsupportedLanguage, req.Language)
	}
	start := time.Now()

	containerID, err := e.pools[rt.Image].GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: acquiring container: %w", err)
	}

	// Containers are single use.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	executeCtx, executeCancel := context.WithTimeout(ctx, e.config.Timeout)
	defer executeCancel()

	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, execOptions(rt, req))
	if err != nil {
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attachResp.Close()

	if req.Stdin != "" {
		if _, err := io.WriteString(attachResp.Conn, req.Stdin); err != nil {
			return nil, fmt.Errorf("docker: writing stdin: %w", err)
		}
	}
	_ = attachResp.CloseWrite()

	var stdout, stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	var exitCode int
	select {
	case <-done:
		inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			exitCode = inspectResp.ExitCode
		}
	case <-executeCtx.Done():
		// Closing the connection unblocks StdCopy before the buffers are read.
		attachResp.Close()
		<-done
		exitCode = executor.TimeoutExitCode
		stderr.WriteString("\nExecution timed out.\n")
	}

	return &executor.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Status:   executor.StatusFromExitCode(exitCode),
		Duration: time.Since(start),
	}, nil
}

// execOptions builds the exec that writes the source from $CODE into /tmp
// and runs it. Passing the code through the environment avoids any shell
// quoting of user input.
func execOptions(rt Runtime, req executor.Request) container.ExecOptions {
	env := append([]string{"CODE=" + req.Code}, rt.Env...)
	return container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Env:          env,
		Cmd:          []string{"sh", "-c", script(rt)},
	}
}

func script(rt Runtime) string {
	return fmt.Sprintf(`printf '%%s' "$CODE" > /tmp/%s && %s`, rt.File, rt.Run)
}
