// Package media implements pipeline capabilities on top of external tools:
// poppler for PDFs, ffmpeg and whisper.cpp for audio, yt-dlp for video.
package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"friday/internal/domain"
	"friday/internal/logging"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// tool is one external binary plus the runner used to call it.
type tool struct {
	path   string
	runner commandRunner
	logger *logging.Logger
}

func newTool(path, fallback string, runner commandRunner, logger *logging.Logger) tool {
	if strings.TrimSpace(path) == "" {
		path = fallback
	}
	if runner == nil {
		runner = &execRunner{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return tool{path: path, runner: runner, logger: logger}
}

// run executes the tool. Failures come back as *domain.Error carrying the
// command log: a missing binary is a dependency error, cancellation is
// cancelled, a deadline is io, and a non-zero exit gets failKind.
func (t tool) run(ctx context.Context, failKind domain.ErrorKind, what string, args ...string) (commandResult, error) {
	res, err := t.runner.Run(ctx, t.path, args...)
	log := &domain.CommandLog{
		Command:  t.path,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   truncate(res.Stdout, 4096),
		Stderr:   truncate(res.Stderr, 4096),
	}
	if err == nil {
		t.logger.Debug("command finished", "command", t.path, "args", args)
		return res, nil
	}

	derr := &domain.Error{Kind: failKind, Message: what + " failed", CommandLog: log, Err: err}
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, errNotFound):
		derr.Kind = domain.KindDependency
		derr.Message = t.path + " is not installed or not on PATH"
	case errors.Is(ctx.Err(), context.Canceled):
		return res, domain.Cancelled(ctx.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		derr.Kind = domain.KindIO
		derr.Message = what + " timed out"
	default:
		if msg := lastLine(res.Stderr); msg != "" {
			derr.Message = what + " failed: " + msg
		}
	}
	t.logger.Warn("command failed", "command", t.path, "exit_code", res.ExitCode, "error", err)
	return res, derr
}

// errNotFound lets test runners simulate a missing binary.
var errNotFound = errors.New("executable not found")

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
