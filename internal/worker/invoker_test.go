package worker

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
)

// fakeSession is a minimal Session for tests.
type fakeSession struct {
	mu        sync.Mutex
	cancelled bool
	procs     []*os.Process
}

func (s *fakeSession) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *fakeSession) Register(p *os.Process) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs = append(s.procs, p)
	return func() {}
}

func (s *fakeSession) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	for _, p := range s.procs {
		p.Signal(os.Interrupt)
	}
}

func testRunner() *Runner {
	return NewRunner(zap.NewNop())
}

func TestInvokeSuccess(t *testing.T) {
	model := catalog.Model{
		ID:           "echo",
		Command:      "echo",
		ArgsTemplate: "{{prompt}}",
	}
	out := testRunner().Invoke(context.Background(), model, "hello world", 5*time.Second, nil)
	if !out.OK {
		t.Fatalf("expected OK, got %+v", out)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %v", out.ExitCode)
	}
	if strings.TrimSpace(out.Stdout) != "hello world" {
		t.Errorf("got stdout %q", out.Stdout)
	}
}

func TestInvokeNonZeroExit(t *testing.T) {
	model := catalog.Model{
		ID:           "fail",
		Command:      "sh",
		ArgsTemplate: `-c "echo oops >&2; exit 3"`,
	}
	out := testRunner().Invoke(context.Background(), model, "", 5*time.Second, nil)
	if out.OK {
		t.Fatal("expected failure")
	}
	if out.ExitCode == nil || *out.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %v", out.ExitCode)
	}
	if !strings.Contains(out.Stderr, "oops") {
		t.Errorf("stderr %q missing diagnostics", out.Stderr)
	}
	if out.Cancelled {
		t.Error("plain failure must not be marked cancelled")
	}
}

func TestInvokeSpawnError(t *testing.T) {
	model := catalog.Model{
		ID:      "missing",
		Command: "definitely-not-a-real-binary-xyz",
	}
	out := testRunner().Invoke(context.Background(), model, "", time.Second, nil)
	if out.OK {
		t.Fatal("expected failure")
	}
	if out.ExitCode != nil {
		t.Errorf("spawn failure must have nil exit code, got %v", out.ExitCode)
	}
	if out.Stderr == "" {
		t.Error("expected spawn error in stderr")
	}
}

func TestInvokeTimeout(t *testing.T) {
	model := catalog.Model{
		ID:           "sleeper",
		Command:      "sleep",
		ArgsTemplate: "30",
	}
	start := time.Now()
	out := testRunner().Invoke(context.Background(), model, "", 100*time.Millisecond, nil)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout took %v, expected prompt termination", elapsed)
	}
	if out.OK {
		t.Fatal("expected failure on timeout")
	}
	if !strings.Contains(out.Stderr, "[timeout after 100ms]") {
		t.Errorf("stderr %q missing timeout note", out.Stderr)
	}
	if out.Cancelled {
		t.Error("timeout is not a cancellation")
	}
}

func TestInvokeContextCancel(t *testing.T) {
	model := catalog.Model{
		ID:           "sleeper",
		Command:      "sleep",
		ArgsTemplate: "30",
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	out := testRunner().Invoke(ctx, model, "", time.Minute, nil)
	if !out.Cancelled {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
	if out.OK {
		t.Error("cancelled run must not be OK")
	}
}

func TestInvokeSessionCancelledBeforeRegister(t *testing.T) {
	// A cancel that lands between process start and registration must
	// still terminate the worker instead of waiting out the timeout.
	model := catalog.Model{
		ID:           "sleeper",
		Command:      "sleep",
		ArgsTemplate: "30",
	}
	sess := &fakeSession{cancelled: true}
	start := time.Now()
	out := testRunner().Invoke(context.Background(), model, "", time.Minute, sess)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("took %v, expected prompt termination", elapsed)
	}
	if !out.Cancelled {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
}

func TestInvokeSessionCancel(t *testing.T) {
	model := catalog.Model{
		ID:           "sleeper",
		Command:      "sleep",
		ArgsTemplate: "30",
	}
	sess := &fakeSession{}
	go func() {
		time.Sleep(100 * time.Millisecond)
		sess.cancelAll()
	}()
	out := testRunner().Invoke(context.Background(), model, "", time.Minute, sess)
	if !out.Cancelled {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
	if out.ExitCode != nil {
		t.Errorf("signal death must have nil exit code, got %v", out.ExitCode)
	}
}
