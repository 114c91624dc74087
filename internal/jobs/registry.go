// Package jobs tracks the lifecycle of asynchronous team runs: status,
// phase, progress, cancellation, and the set of live worker processes
// spawned on a job's behalf.
package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/orchestrator"
	"github.com/nidhogg/agent-studio/internal/reply"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Progress is a monotonic current/total counter pair.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Job is a point-in-time snapshot of one asynchronous run.
type Job struct {
	ID              string                 `json:"id"`
	TeamID          string                 `json:"teamId"`
	Prompt          string                 `json:"prompt"`
	Status          Status                 `json:"status"`
	Phase           string                 `json:"phase"`
	Progress        Progress               `json:"progress"`
	CurrentAgent    string                 `json:"currentAgent,omitempty"`
	CancelRequested bool                   `json:"cancelRequested,omitempty"`
	PlannerDecision *reply.PlannerDecision `json:"plannerDecision,omitempty"`
	Plan            *reply.Plan            `json:"plan,omitempty"`
	Review          *reply.ReviewSummary   `json:"review,omitempty"`
	Trace           *orchestrator.Trace    `json:"trace,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Runner executes one team run, reporting progress through the handle.
type Runner interface {
	Run(ctx context.Context, st catalog.State, team catalog.Team, prompt string, h orchestrator.JobHandle) (*orchestrator.Trace, error)
}

// Hook observes job transitions: "created", "progress", and the
// terminal "completed"/"failed"/"cancelled". It runs outside the
// registry lock and must not block for long.
type Hook func(job Job, event string)

// record is the mutable job state plus the live process set. Both are
// owned by the Registry and mutated only under its lock.
type record struct {
	job   Job
	procs map[*os.Process]struct{}
}

// Registry owns every in-flight and finished job record.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*record
	runner Runner
	hooks  []Hook
	logger *zap.Logger
}

// NewRegistry creates a Registry around a Runner.
func NewRegistry(runner Runner, logger *zap.Logger) *Registry {
	return &Registry{
		jobs:   make(map[string]*record),
		runner: runner,
		logger: logger,
	}
}

// OnTransition registers a lifecycle hook. Not safe to call after jobs
// have started.
func (r *Registry) OnTransition(h Hook) {
	r.hooks = append(r.hooks, h)
}

// Create allocates a job for the team run and starts it asynchronously,
// returning the job id immediately.
func (r *Registry) Create(st catalog.State, team catalog.Team, prompt string) string {
	id := "job-" + uuid.New().String()
	now := time.Now().UTC()
	rec := &record{
		job: Job{
			ID:        id,
			TeamID:    team.ID,
			Prompt:    prompt,
			Status:    StatusRunning,
			Phase:     "queued",
			Progress:  Progress{Current: 0, Total: 1},
			CreatedAt: now,
			UpdatedAt: now,
		},
		procs: make(map[*os.Process]struct{}),
	}

	r.mu.Lock()
	r.jobs[id] = rec
	snapshot := rec.job
	r.mu.Unlock()

	r.logger.Info("job created",
		zap.String("job", id),
		zap.String("team", team.ID),
		zap.String("strategy", string(team.Strategy)))
	r.emit(snapshot, "created")

	go r.execute(id, st, team, prompt)
	return id
}

// execute runs the engine and records the terminal transition.
func (r *Registry) execute(id string, st catalog.State, team catalog.Team, prompt string) {
	tracker := &Tracker{registry: r, id: id}
	trace, err := r.runner.Run(context.Background(), st, team, prompt, tracker)

	var snapshot Job
	var event string
	r.update(id, func(rec *record) {
		// The terminal check prefers cancelled over any other outcome
		// once the flag was observed.
		switch {
		case rec.job.CancelRequested || errors.Is(err, orchestrator.ErrCancelled):
			rec.job.Status = StatusCancelled
			rec.job.Phase = "cancelled"
			// Sub-results captured before the cancel stay visible.
			rec.job.Trace = trace
		case err != nil:
			rec.job.Status = StatusFailed
			rec.job.Phase = "failed"
			rec.job.Error = err.Error()
		default:
			rec.job.Status = StatusCompleted
			rec.job.Trace = trace
		}
		snapshot = rec.job
		event = string(rec.job.Status)
	})

	switch snapshot.Status {
	case StatusFailed:
		r.logger.Warn("job failed", zap.String("job", id), zap.String("error", snapshot.Error))
	default:
		r.logger.Info("job finished", zap.String("job", id), zap.String("status", string(snapshot.Status)))
	}
	r.emit(snapshot, event)
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return rec.job, nil
}

// RequestCancel flags the job for cancellation and signals every live
// worker process registered to it. The status transition to cancelled
// happens only when the run observes the flag; cancelling a job that
// already reached a terminal state is a no-op.
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	rec, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrJobNotFound
	}
	terminal := rec.job.Status != StatusRunning
	if !terminal {
		rec.job.CancelRequested = true
		rec.job.Phase = "cancelling"
		rec.job.UpdatedAt = time.Now().UTC()
	}
	procs := make([]*os.Process, 0, len(rec.procs))
	for p := range rec.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	if terminal {
		return nil
	}
	for _, p := range procs {
		_ = p.Signal(syscall.SIGTERM)
	}
	r.logger.Info("job cancel requested",
		zap.String("job", id),
		zap.Int("live_processes", len(procs)))
	return nil
}

// update applies fn under the lock and stamps UpdatedAt.
func (r *Registry) update(id string, fn func(rec *record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok {
		return
	}
	fn(rec)
	rec.job.UpdatedAt = time.Now().UTC()
}

func (r *Registry) emit(job Job, event string) {
	for _, h := range r.hooks {
		h(job, event)
	}
}
