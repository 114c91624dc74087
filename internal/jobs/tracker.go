package jobs

import (
	"os"

	"github.com/nidhogg/agent-studio/internal/orchestrator"
	"github.com/nidhogg/agent-studio/internal/reply"
)

// Tracker is the handle a run uses to write progress into its job
// record and to tie spawned worker processes to it. It implements
// orchestrator.JobHandle.
type Tracker struct {
	registry *Registry
	id       string
}

var _ orchestrator.JobHandle = (*Tracker)(nil)

// Cancelled reports whether cancellation was requested for the job.
func (t *Tracker) Cancelled() bool {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	rec, ok := t.registry.jobs[t.id]
	return ok && rec.job.CancelRequested
}

// Register adds a live worker process to the job's termination set.
func (t *Tracker) Register(p *os.Process) func() {
	t.registry.mu.Lock()
	rec, ok := t.registry.jobs[t.id]
	if ok {
		rec.procs[p] = struct{}{}
	}
	t.registry.mu.Unlock()
	if !ok {
		return func() {}
	}
	return func() {
		t.registry.mu.Lock()
		delete(rec.procs, p)
		t.registry.mu.Unlock()
	}
}

// Phase records the engine's sub-state label.
func (t *Tracker) Phase(phase string) {
	var snapshot Job
	t.registry.update(t.id, func(rec *record) {
		rec.job.Phase = phase
		snapshot = rec.job
	})
	t.registry.emit(snapshot, "progress")
}

// Progress advances the job's counters. Regressions are dropped so the
// counters stay monotonic, and current is clamped to total.
func (t *Tracker) Progress(current, total int) {
	t.registry.update(t.id, func(rec *record) {
		if current > total {
			current = total
		}
		if total == rec.job.Progress.Total && current < rec.job.Progress.Current {
			return
		}
		rec.job.Progress = Progress{Current: current, Total: total}
	})
}

// CurrentAgent records which agent the run is working through.
func (t *Tracker) CurrentAgent(name string) {
	t.registry.update(t.id, func(rec *record) {
		rec.job.CurrentAgent = name
	})
}

// PlannerDecided attaches the manager's routing decision.
func (t *Tracker) PlannerDecided(d reply.PlannerDecision) {
	t.registry.update(t.id, func(rec *record) {
		rec.job.PlannerDecision = &d
	})
}

// PlanReady attaches the orchestration plan.
func (t *Tracker) PlanReady(p reply.Plan) {
	t.registry.update(t.id, func(rec *record) {
		rec.job.Plan = &p
	})
}

// ReviewReady attaches the review summary.
func (t *Tracker) ReviewReady(r reply.ReviewSummary) {
	t.registry.update(t.id, func(rec *record) {
		rec.job.Review = &r
	})
}
