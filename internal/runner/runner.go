// Package runner invokes the external package/runtime manager binary.
//
// A failed child process is never a Go error: timeouts, non-zero exits and
// even failures to start the binary are all reported through Result with a
// non-zero ExitCode, so callers can distinguish "the tool ran and failed"
// from their own validation errors.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// isolationVars identify the interpreter context of the host process and
// are stripped from every child environment.
var isolationVars = []string{"VIRTUAL_ENV", "PYTHONPATH", "PYTHONHOME"}

// waitDelay bounds how long Wait blocks on inherited pipes after the child
// has been killed.
const waitDelay = 5 * time.Second

// Run outcomes reported to the Recorder.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeTimeout    = "timeout"
	OutcomeStartError = "start_error"
)

// Result captures one invocation of the manager binary.
type Result struct {
	Args     []string
	Dir      string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// OK reports whether the child exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Command returns the manager subcommand (first argument), e.g. "add".
func (r Result) Command() string {
	if len(r.Args) == 0 {
		return ""
	}
	return r.Args[0]
}

// Recorder receives one observation per finished run.
type Recorder interface {
	ObserveRun(command, outcome string, d time.Duration)
}

type Option func(*Runner)

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// Runner executes the manager binary with a cleaned environment and a
// wall-clock timeout.
type Runner struct {
	binary   string
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

func New(binary string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the per-run wall-clock bound.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes the binary with args in dir and waits for it to finish.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) Result {
	res := Result{Args: args, Dir: dir}
	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("runner.command", res.Command()),
		attribute.String("runner.dir", dir),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary, args...)
	cmd.Dir = dir
	cmd.Env = cleanEnv(os.Environ())
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("runner executing", "binary", r.binary, "args", args, "dir", dir)

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	outcome := OutcomeOK
	switch {
	case runErr == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		outcome = OutcomeTimeout
		res.TimedOut = true
		res.ExitCode = 1
		res.Stderr = fmt.Sprintf("Error: Command timed out after %s.", formatTimeout(r.timeout))
		r.logger.Warn("runner timed out", "args", args, "dir", dir, "timeout", r.timeout)
	case ctx.Err() != nil:
		outcome = OutcomeFailed
		res.ExitCode = 1
		res.Stderr = joinStderr(res.Stderr, "Error: Command canceled: "+ctx.Err().Error())
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			outcome = OutcomeFailed
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode <= 0 {
				res.ExitCode = 1
			}
		} else {
			outcome = OutcomeStartError
			res.ExitCode = 1
			res.Stderr = joinStderr(res.Stderr, "Error: "+runErr.Error())
			r.logger.Error("runner failed to start", "binary", r.binary, "dir", dir, "error", runErr)
		}
	}

	span.SetAttributes(
		attribute.Int("runner.exit_code", res.ExitCode),
		attribute.Bool("runner.timed_out", res.TimedOut),
	)
	if !res.OK() {
		span.SetStatus(codes.Error, outcome)
	}
	if r.recorder != nil {
		r.recorder.ObserveRun(res.Command(), outcome, res.Duration)
	}

	r.logger.Debug("runner finished",
		"args", args,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"stdout_bytes", len(res.Stdout),
		"stderr_bytes", len(res.Stderr),
	)
	return res
}

// cleanEnv copies environ without the interpreter isolation variables.
func cleanEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if isIsolationVar(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isIsolationVar(name string) bool {
	for _, v := range isolationVars {
		if name == v {
			return true
		}
	}
	return false
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func joinStderr(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return strings.TrimRight(existing, "\n") + "\n" + msg
}
