// Package orchestrator drives team runs. One submitted prompt becomes
// one of four execution shapes: a direct single-route dispatch, a
// concurrent broadcast with manager synthesis, a manager-decided
// re-dispatch, or a manager-orchestrated plan/execute/review cycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/reply"
	"github.com/nidhogg/agent-studio/internal/worker"
)

// Wall-clock budgets per worker invocation kind.
const (
	PlannerTimeout = 30 * time.Second
	MemberTimeout  = 45 * time.Second
	TestTimeout    = 15 * time.Second
	DefaultTimeout = 120 * time.Second
)

// ErrCancelled unwinds a run whose job observed a cancellation request.
var ErrCancelled = errors.New("run cancelled")

// Invoker runs one external worker to completion.
type Invoker interface {
	Invoke(ctx context.Context, model catalog.Model, prompt string, timeout time.Duration, sess worker.Session) worker.Outcome
}

// JobHandle is how a run reports progress to, and observes cancellation
// from, its job record. Every method must be safe for concurrent use.
type JobHandle interface {
	worker.Session
	Phase(phase string)
	Progress(current, total int)
	CurrentAgent(name string)
	PlannerDecided(d reply.PlannerDecision)
	PlanReady(p reply.Plan)
	ReviewReady(r reply.ReviewSummary)
}

// Engine executes team runs against an Invoker.
type Engine struct {
	invoker Invoker
	logger  *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(invoker Invoker, logger *zap.Logger) *Engine {
	return &Engine{invoker: invoker, logger: logger}
}

// Run executes the team's strategy for the prompt and returns the
// Trace. It returns an error only for configuration problems that make
// the strategy impossible, or ErrCancelled when the job handle observed
// a cancellation request at a phase boundary. ErrCancelled may carry a
// partial Trace: sub-results captured before the cancel are never
// discarded.
func (e *Engine) Run(ctx context.Context, st catalog.State, team catalog.Team, prompt string, h JobHandle) (*Trace, error) {
	if h == nil {
		h = nopHandle{}
	}
	started := time.Now().UTC()
	members := st.TeamMembers(team)

	strategy := team.Strategy
	if strategy == "" {
		strategy = catalog.StrategySingleRoute
	}

	var planner *reply.PlannerDecision
	if strategy == catalog.StrategyManagerDecide {
		total := len(members)
		if total < 1 {
			total = 1
		}
		h.Phase("planning")
		h.Progress(0, total)
		if manager, ok := st.Manager(team); ok {
			h.CurrentAgent(manager.Name)
		}
		d := e.planWithManager(ctx, st, team, members, prompt, h)
		if h.Cancelled() {
			return nil, ErrCancelled
		}
		planner = &d
		h.PlannerDecided(d)
		strategy = d.Mode
		e.logger.Info("planner decided",
			zap.String("team", team.ID),
			zap.String("mode", string(d.Mode)),
			zap.String("agent", d.AgentID),
			zap.String("parser", string(d.Parser)))
	}

	var (
		trace *Trace
		err   error
	)
	switch strategy {
	case catalog.StrategyBroadcast:
		trace, err = e.runBroadcast(ctx, st, team, members, prompt, h, planner)
	case catalog.StrategyManagerOrchestrate:
		trace, err = e.runOrchestrate(ctx, st, team, members, prompt, h)
	default:
		trace, err = e.runSingleRoute(ctx, st, team, members, prompt, h, planner)
	}
	if trace == nil {
		return nil, err
	}

	trace.ID = "run-" + uuid.New().String()
	trace.TeamID = team.ID
	trace.Prompt = prompt
	trace.StartedAt = started
	trace.FinishedAt = time.Now().UTC()
	return trace, err
}

// planWithManager consults the manager's worker for a routing decision.
// A missing manager or model degrades to broadcast rather than failing.
func (e *Engine) planWithManager(ctx context.Context, st catalog.State, team catalog.Team, members []catalog.Agent, prompt string, h JobHandle) reply.PlannerDecision {
	manager, ok := st.Manager(team)
	if !ok {
		return reply.PlannerDecision{Mode: catalog.StrategyBroadcast, Reason: "no-manager"}
	}
	model, ok := st.ModelByID(manager.ModelID)
	if !ok {
		return reply.PlannerDecision{Mode: catalog.StrategyBroadcast, Reason: "no-manager-model"}
	}

	validIDs := agentIDs(members)
	out := e.invoker.Invoke(ctx, model, plannerPrompt(manager, members, prompt), PlannerTimeout, h)
	text := out.Stdout + "\n" + out.Stderr
	return reply.ParsePlanner(text, validIDs)
}

// runSingleRoute selects one member by first keyword match (or the
// planner's forced agent) and dispatches the prompt to it.
func (e *Engine) runSingleRoute(ctx context.Context, st catalog.State, team catalog.Team, members []catalog.Agent, prompt string, h JobHandle, planner *reply.PlannerDecision) (*Trace, error) {
	selected, matched := chooseAgent(prompt, members)
	if planner != nil && planner.AgentID != "" {
		for _, m := range members {
			if m.ID == planner.AgentID {
				selected = &m
				matched = ""
				break
			}
		}
	}
	if selected == nil {
		if manager, ok := st.Manager(team); ok {
			selected = &manager
		}
	}
	if selected == nil {
		return nil, errors.New("no agent available in team")
	}
	model, ok := st.ModelByID(selected.ModelID)
	if !ok {
		return nil, fmt.Errorf("model not found for agent %s", selected.Name)
	}

	h.Phase("single-route")
	h.CurrentAgent(selected.Name)
	h.Progress(0, 1)

	route := Route{
		SelectedAgentID:   selected.ID,
		SelectedAgentName: selected.Name,
		MatchedKeyword:    matched,
		Mode:              catalog.StrategySingleRoute,
		ModelID:           model.ID,
		Command:           model.Command,
		ArgsTemplate:      model.ArgsTemplate,
		PlannerDecision:   planner,
	}
	if manager, ok := st.Manager(team); ok {
		route.ManagerAgentID = manager.ID
	}

	out := e.invoker.Invoke(ctx, model, dispatchPrompt(*selected, prompt), MemberTimeout, h)
	if h.Cancelled() {
		return &Trace{Route: route, SubRuns: []SubRun{}, Result: out}, ErrCancelled
	}
	h.Progress(1, 1)

	return &Trace{Route: route, SubRuns: []SubRun{}, Result: out}, nil
}

// runBroadcast invokes every member concurrently, then either asks the
// manager's worker to synthesize a final answer or stitches the member
// outputs together.
func (e *Engine) runBroadcast(ctx context.Context, st catalog.State, team catalog.Team, members []catalog.Agent, prompt string, h JobHandle, planner *reply.PlannerDecision) (*Trace, error) {
	if len(members) == 0 {
		return nil, errors.New("no team members configured")
	}

	manager, hasManager := st.Manager(team)
	managerModel, hasManagerModel := catalog.Model{}, false
	if hasManager {
		managerModel, hasManagerModel = st.ModelByID(manager.ModelID)
	}

	total := len(members)
	if hasManagerModel {
		total++
	}
	h.Phase("running-members")
	h.Progress(0, total)
	h.CurrentAgent("")

	subRuns := make([]SubRun, len(members))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	step := func(name string) {
		mu.Lock()
		completed++
		cur := completed
		mu.Unlock()
		h.Progress(cur, total)
		h.CurrentAgent(name)
	}

	for i, agent := range members {
		wg.Add(1)
		go func(i int, agent catalog.Agent) {
			defer wg.Done()
			model, ok := st.ModelByID(agent.ModelID)
			if !ok {
				subRuns[i] = SubRun{
					AgentID:   agent.ID,
					AgentName: agent.Name,
					ModelID:   agent.ModelID,
					Outcome:   worker.Outcome{Stderr: fmt.Sprintf("model not found for agent %s", agent.Name)},
				}
				step(agent.Name)
				return
			}
			out := e.invoker.Invoke(ctx, model, dispatchPrompt(agent, prompt), MemberTimeout, h)
			subRuns[i] = SubRun{AgentID: agent.ID, AgentName: agent.Name, ModelID: model.ID, Outcome: out}
			step(agent.Name)
		}(i, agent)
	}
	wg.Wait()

	route := Route{Mode: catalog.StrategyBroadcast, PlannerDecision: planner}
	if hasManager {
		route.ManagerAgentID = manager.ID
	}
	// Cancellation keeps whatever the members already produced.
	if h.Cancelled() {
		return &Trace{Route: route, SubRuns: subRuns}, ErrCancelled
	}

	var result worker.Outcome
	if hasManagerModel {
		h.Phase("manager-summarizing")
		h.CurrentAgent(manager.Name)
		result = e.invoker.Invoke(ctx, managerModel, synthesisPrompt(manager, prompt, subRuns), MemberTimeout, h)
		if h.Cancelled() {
			return &Trace{Route: route, SubRuns: subRuns, Result: result}, ErrCancelled
		}
		h.Progress(total, total)
	} else {
		parts := make([]string, len(subRuns))
		ok := true
		for i, r := range subRuns {
			body := r.Stdout
			if body == "" {
				body = r.Stderr
			}
			if body == "" {
				body = "(empty)"
			}
			parts[i] = fmt.Sprintf("[%s] %s", r.AgentName, body)
			ok = ok && r.OK
		}
		zero := 0
		result = worker.Outcome{OK: ok, ExitCode: &zero, Stdout: strings.Join(parts, "\n\n")}
	}

	return &Trace{Route: route, SubRuns: subRuns, Result: result}, nil
}

// chooseAgent scans members in team order and picks the first whose
// specialty keyword appears in the prompt (case-insensitive substring).
// Without a hit the first member is the deterministic default.
func chooseAgent(prompt string, members []catalog.Agent) (*catalog.Agent, string) {
	lower := strings.ToLower(prompt)
	for i := range members {
		for _, kw := range members[i].Specialties {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return &members[i], kw
			}
		}
	}
	if len(members) > 0 {
		return &members[0], ""
	}
	return nil, ""
}

func agentIDs(members []catalog.Agent) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

// nopHandle is used for synchronous runs with no job record.
type nopHandle struct{}

func (nopHandle) Cancelled() bool                     { return false }
func (nopHandle) Register(*os.Process) func()         { return func() {} }
func (nopHandle) Phase(string)                        {}
func (nopHandle) Progress(int, int)                   {}
func (nopHandle) CurrentAgent(string)                 {}
func (nopHandle) PlannerDecided(reply.PlannerDecision) {}
func (nopHandle) PlanReady(reply.Plan)                {}
func (nopHandle) ReviewReady(reply.ReviewSummary)     {}
