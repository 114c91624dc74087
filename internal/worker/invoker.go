// Package worker runs external CLI models as opaque text-in/text-out
// processes. Every worker-level failure (non-zero exit, spawn error,
// timeout, cancellation) is normalized into an Outcome; Invoke never
// returns an error.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
)

// Outcome is the structured result of one worker invocation. ExitCode
// is nil when the process never produced one (spawn failure, timeout,
// or termination by signal).
type Outcome struct {
	OK        bool   `json:"ok"`
	ExitCode  *int   `json:"code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Session ties an invocation to its job so that an external cancel
// request can terminate the live process, and so the invoker can tell
// a cancellation apart from an ordinary signal death.
type Session interface {
	// Cancelled reports whether cancellation has been requested.
	Cancelled() bool
	// Register adds a live process to the job's termination set. The
	// returned release func removes it once the process has exited.
	Register(p *os.Process) (release func())
}

// killGrace is how long a SIGTERM'd process gets before SIGKILL.
const killGrace = 2 * time.Second

// Runner invokes external CLI workers.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Invoke resolves the model's argument template against the prompt,
// starts the worker process, and collects its output under a hard
// wall-clock timeout. sess may be nil for invocations not tied to a
// job (synchronous runs, model self-tests).
func (r *Runner) Invoke(ctx context.Context, model catalog.Model, prompt string, timeout time.Duration, sess Session) Outcome {
	args := ResolveArgs(model.ArgsTemplate, prompt)

	cmd := exec.Command(model.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		r.logger.Warn("worker spawn failed",
			zap.String("model", model.ID),
			zap.String("command", model.Command),
			zap.Error(err))
		return Outcome{OK: false, Stderr: err.Error()}
	}

	release := func() {}
	if sess != nil {
		release = sess.Register(cmd.Process)
		// A cancel sweep may have run between Start and Register.
		if sess.Cancelled() {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	defer release()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return r.settle(model, err, &stdout, &stderr, sess)
	case <-timer.C:
		r.terminate(cmd, done)
		note := fmt.Sprintf("[timeout after %dms]", timeout.Milliseconds())
		r.logger.Warn("worker timed out",
			zap.String("model", model.ID),
			zap.Duration("timeout", timeout))
		return Outcome{
			OK:     false,
			Stdout: stdout.String(),
			Stderr: appendNote(stderr.String(), note),
		}
	case <-ctx.Done():
		r.terminate(cmd, done)
		return Outcome{
			OK:        false,
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			Cancelled: true,
		}
	}
}

// settle maps a finished process to an Outcome.
func (r *Runner) settle(model catalog.Model, err error, stdout, stderr *bytes.Buffer, sess Session) Outcome {
	out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	switch e := err.(type) {
	case nil:
		code := 0
		out.OK = true
		out.ExitCode = &code
	case *exec.ExitError:
		if code := e.ExitCode(); code >= 0 {
			out.ExitCode = &code
		}
	default:
		out.Stderr = appendNote(out.Stderr, err.Error())
	}
	// A signal death with cancellation pending is a cancel, not a
	// worker failure.
	if out.ExitCode == nil && sess != nil && sess.Cancelled() {
		out.Cancelled = true
	}
	if !out.OK {
		r.logger.Debug("worker exited non-ok", zap.String("model", model.ID))
	}
	return out
}

// terminate asks the process to exit and escalates to SIGKILL after a
// grace period. Always reaps before returning so output buffers are
// safe to read.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}

func appendNote(stderr, note string) string {
	return strings.TrimSpace(stderr + "\n" + note)
}
