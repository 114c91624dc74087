package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/reply"
	"github.com/nidhogg/agent-studio/internal/worker"
)

// fakeInvoker replies from a per-model script instead of spawning
// processes. Replies not scripted fall back to echoing the model id.
type fakeInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []fakeCall
}

type fakeCall struct {
	ModelID string
	Prompt  string
}

func (f *fakeInvoker) Invoke(_ context.Context, model catalog.Model, prompt string, _ time.Duration, _ worker.Session) worker.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{ModelID: model.ID, Prompt: prompt})
	text, ok := f.replies[model.ID]
	f.mu.Unlock()
	if !ok {
		text = "reply from " + model.ID
	}
	zero := 0
	return worker.Outcome{OK: true, ExitCode: &zero, Stdout: text}
}

func testState(strategy catalog.Strategy) catalog.State {
	return catalog.State{
		Models: []catalog.Model{
			{ID: "m-manager", Name: "Manager Model", Command: "true", Enabled: true},
			{ID: "m-code", Name: "Code Model", Command: "true", Enabled: true},
			{ID: "m-docs", Name: "Docs Model", Command: "true", Enabled: true},
			{ID: "m-research", Name: "Research Model", Command: "true", Enabled: true},
		},
		Agents: []catalog.Agent{
			{ID: "agent-manager", Name: "Manager", Role: catalog.RoleManager, ModelID: "m-manager"},
			{ID: "agent-code", Name: "Coder", Role: catalog.RoleSpecialist, ModelID: "m-code", Specialties: []string{"code", "bug"}},
			{ID: "agent-docs", Name: "Writer", Role: catalog.RoleSpecialist, ModelID: "m-docs", Specialties: []string{"docs", "readme"}},
			{ID: "agent-research", Name: "Scout", Role: catalog.RoleSpecialist, ModelID: "m-research", Specialties: []string{"research"}},
		},
		Teams: []catalog.Team{
			{
				ID:             "team-1",
				Name:           "Team One",
				ManagerAgentID: "agent-manager",
				MemberAgentIDs: []string{"agent-code", "agent-docs", "agent-research"},
				Strategy:       strategy,
			},
		},
	}
}

func runTeam(t *testing.T, st catalog.State, inv *fakeInvoker, prompt string) *Trace {
	t.Helper()
	engine := NewEngine(inv, zap.NewNop())
	trace, err := engine.Run(context.Background(), st, st.Teams[0], prompt, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return trace
}

func TestRunSingleRouteKeyword(t *testing.T) {
	st := testState(catalog.StrategySingleRoute)
	inv := &fakeInvoker{replies: map[string]string{"m-docs": "docs answer"}}

	trace := runTeam(t, st, inv, "please update the readme file")

	if trace.Route.SelectedAgentID != "agent-docs" {
		t.Fatalf("selected %q, want agent-docs", trace.Route.SelectedAgentID)
	}
	if trace.Route.MatchedKeyword != "readme" {
		t.Errorf("matched %q, want readme", trace.Route.MatchedKeyword)
	}
	if trace.Result.Stdout != "docs answer" {
		t.Errorf("result %q", trace.Result.Stdout)
	}
	if len(trace.SubRuns) != 0 {
		t.Errorf("single-route must have no sub runs, got %d", len(trace.SubRuns))
	}
	if trace.ID == "" || !strings.HasPrefix(trace.ID, "run-") {
		t.Errorf("trace id %q", trace.ID)
	}
}

func TestRunSingleRouteDefaultsToFirstMember(t *testing.T) {
	st := testState(catalog.StrategySingleRoute)
	inv := &fakeInvoker{}

	trace := runTeam(t, st, inv, "nothing matches any specialty keyword")

	if trace.Route.SelectedAgentID != "agent-code" {
		t.Fatalf("selected %q, want first member agent-code", trace.Route.SelectedAgentID)
	}
	if trace.Route.MatchedKeyword != "" {
		t.Errorf("expected no matched keyword, got %q", trace.Route.MatchedKeyword)
	}
}

func TestRunBroadcast(t *testing.T) {
	st := testState(catalog.StrategyBroadcast)
	inv := &fakeInvoker{replies: map[string]string{
		"m-code":     "code view",
		"m-docs":     "docs view",
		"m-research": "research view",
		"m-manager":  "synthesized final answer",
	}}

	trace := runTeam(t, st, inv, "describe the system")

	if len(trace.SubRuns) != 3 {
		t.Fatalf("got %d sub runs, want 3", len(trace.SubRuns))
	}
	// Sub runs keep member order regardless of completion order.
	wantOrder := []string{"agent-code", "agent-docs", "agent-research"}
	for i, want := range wantOrder {
		if trace.SubRuns[i].AgentID != want {
			t.Errorf("sub run %d from %q, want %q", i, trace.SubRuns[i].AgentID, want)
		}
	}
	if trace.Result.Stdout != "synthesized final answer" {
		t.Errorf("result %q, want manager synthesis", trace.Result.Stdout)
	}
	if !trace.Result.OK {
		t.Error("expected OK result")
	}
}

func TestRunBroadcastWithoutManagerStitches(t *testing.T) {
	st := testState(catalog.StrategyBroadcast)
	st.Teams[0].ManagerAgentID = ""
	inv := &fakeInvoker{replies: map[string]string{
		"m-code": "code view",
		"m-docs": "docs view",
	}}

	trace := runTeam(t, st, inv, "describe the system")

	out := trace.Result.Stdout
	for _, want := range []string{"[Coder] code view", "[Writer] docs view"} {
		if !strings.Contains(out, want) {
			t.Errorf("stitched output %q missing %q", out, want)
		}
	}
	if !trace.Result.OK {
		t.Error("all members OK, result should be OK")
	}
}

func TestRunBroadcastNoMembers(t *testing.T) {
	st := testState(catalog.StrategyBroadcast)
	st.Teams[0].MemberAgentIDs = nil
	engine := NewEngine(&fakeInvoker{}, zap.NewNop())

	if _, err := engine.Run(context.Background(), st, st.Teams[0], "x", nil); err == nil {
		t.Fatal("expected error for empty team")
	}
}

func TestRunManagerDecideForcesAgent(t *testing.T) {
	st := testState(catalog.StrategyManagerDecide)
	inv := &fakeInvoker{replies: map[string]string{
		"m-manager":  "BEGIN_PLAN\nmode=single-route\nagent_id=agent-research\nreason=research task\nEND_PLAN",
		"m-research": "research answer",
	}}

	trace := runTeam(t, st, inv, "find prior art on code generation")

	if trace.Route.SelectedAgentID != "agent-research" {
		t.Fatalf("selected %q, want planner-forced agent-research", trace.Route.SelectedAgentID)
	}
	if trace.Route.PlannerDecision == nil {
		t.Fatal("expected planner decision on route")
	}
	if trace.Route.PlannerDecision.Parser != reply.ParseTagged {
		t.Errorf("parser %q, want tagged", trace.Route.PlannerDecision.Parser)
	}
	// The keyword match is suppressed when the planner picks the agent.
	if trace.Route.MatchedKeyword != "" {
		t.Errorf("matched keyword %q, want empty", trace.Route.MatchedKeyword)
	}
}

func TestRunManagerDecideFallsBackToBroadcast(t *testing.T) {
	st := testState(catalog.StrategyManagerDecide)
	inv := &fakeInvoker{replies: map[string]string{
		"m-manager": "I am not sure what you mean.",
	}}

	trace := runTeam(t, st, inv, "ambiguous request")

	if trace.Route.Mode != catalog.StrategyBroadcast {
		t.Fatalf("mode %q, want broadcast fallback", trace.Route.Mode)
	}
	if len(trace.SubRuns) != 3 {
		t.Errorf("got %d sub runs, want 3", len(trace.SubRuns))
	}
	if trace.Route.PlannerDecision == nil || trace.Route.PlannerDecision.Parser != reply.ParseFallback {
		t.Error("expected fallback planner decision on route")
	}
}

func TestRunOrchestrateFallbackPlan(t *testing.T) {
	st := testState(catalog.StrategyManagerOrchestrate)
	inv := &fakeInvoker{replies: map[string]string{
		// Manager reply carries no JSON, forcing the fallback plan.
		"m-manager":  "no plan here",
		"m-code":     `{"task_id":"T1","status":"done","deliverables":["patch"],"evidence":["tested"]}`,
		"m-docs":     `{"task_id":"T2","status":"done","deliverables":["guide"],"evidence":["reviewed"]}`,
		"m-research": `{"task_id":"T3","status":"blocked","deliverables":[],"evidence":[]}`,
	}}

	trace := runTeam(t, st, inv, "ship the feature")

	if trace.Plan == nil {
		t.Fatal("expected plan on trace")
	}
	if len(trace.Plan.Tasks) != 3 {
		t.Fatalf("fallback plan has %d tasks, want one per member", len(trace.Plan.Tasks))
	}
	if trace.Review == nil {
		t.Fatal("expected review on trace")
	}
	if trace.Review.OverallStatus != reply.WorkPartial {
		t.Errorf("overall %q, want partial", trace.Review.OverallStatus)
	}
	if trace.Review.CompletionRate != 0.67 {
		t.Errorf("completion rate %v, want 0.67", trace.Review.CompletionRate)
	}
	if !trace.Result.OK {
		t.Error("partial orchestration still reports OK")
	}
	if !strings.Contains(trace.Result.Stdout, "Orchestration partial") {
		t.Errorf("summary %q missing status line", trace.Result.Stdout)
	}
	if len(trace.SubRuns) != 3 {
		t.Errorf("got %d sub runs, want 3", len(trace.SubRuns))
	}
}

func TestRunOrchestrateManagerPlan(t *testing.T) {
	st := testState(catalog.StrategyManagerOrchestrate)
	inv := &fakeInvoker{replies: map[string]string{
		"m-manager": `{"goal":"split the work","tasks":[
			{"id":"T1","owner_agent_id":"agent-code","description":"write it","done_criteria":["compiles"]},
			{"id":"T2","owner_agent_id":"agent-docs","description":"explain it"}]}`,
		"m-code": `{"task_id":"T1","status":"done","deliverables":["code"],"evidence":["tests"]}`,
		"m-docs": `{"task_id":"T2","status":"done","deliverables":["doc"],"evidence":["review"]}`,
	}}

	trace := runTeam(t, st, inv, "ship it")

	if len(trace.Plan.Tasks) != 2 {
		t.Fatalf("plan has %d tasks, want 2", len(trace.Plan.Tasks))
	}
	if trace.Review.OverallStatus != reply.WorkDone {
		t.Errorf("overall %q, want done", trace.Review.OverallStatus)
	}
	if trace.Review.CompletionRate != 1.0 {
		t.Errorf("completion rate %v, want 1.0", trace.Review.CompletionRate)
	}
	if len(trace.Review.NextActions) != 0 {
		t.Errorf("expected no next actions, got %d", len(trace.Review.NextActions))
	}
}

// cancelHandle is a JobHandle whose cancel flag tests can flip
// mid-run.
type cancelHandle struct {
	nopHandle
	mu        sync.Mutex
	cancelled bool
}

func (c *cancelHandle) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *cancelHandle) cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
}

// cancellingInvoker flags the handle cancelled once `after`
// invocations have returned.
type cancellingInvoker struct {
	inner  *fakeInvoker
	handle *cancelHandle
	mu     sync.Mutex
	after  int
	count  int
}

func (c *cancellingInvoker) Invoke(ctx context.Context, model catalog.Model, prompt string, timeout time.Duration, sess worker.Session) worker.Outcome {
	out := c.inner.Invoke(ctx, model, prompt, timeout, sess)
	c.mu.Lock()
	c.count++
	hit := c.count >= c.after
	c.mu.Unlock()
	if hit {
		c.handle.cancel()
	}
	return out
}

func TestRunBroadcastCancelKeepsSubRuns(t *testing.T) {
	st := testState(catalog.StrategyBroadcast)
	handle := &cancelHandle{}
	inv := &cancellingInvoker{inner: &fakeInvoker{}, handle: handle, after: 3}
	engine := NewEngine(inv, zap.NewNop())

	trace, err := engine.Run(context.Background(), st, st.Teams[0], "describe the system", handle)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if trace == nil {
		t.Fatal("cancelled run must keep its partial trace")
	}
	if len(trace.SubRuns) != 3 {
		t.Fatalf("got %d sub runs, want all 3 captured before the cancel", len(trace.SubRuns))
	}
	for i, r := range trace.SubRuns {
		if !r.OK {
			t.Errorf("sub run %d lost its outcome: %+v", i, r)
		}
	}
	if trace.ID == "" || trace.TeamID != "team-1" {
		t.Errorf("partial trace not stamped: id=%q team=%q", trace.ID, trace.TeamID)
	}
}

func TestRunOrchestrateCancelKeepsSubRuns(t *testing.T) {
	st := testState(catalog.StrategyManagerOrchestrate)
	handle := &cancelHandle{}
	// One planner call plus three task calls, then the cancel lands.
	inv := &cancellingInvoker{inner: &fakeInvoker{}, handle: handle, after: 4}
	engine := NewEngine(inv, zap.NewNop())

	trace, err := engine.Run(context.Background(), st, st.Teams[0], "ship it", handle)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if trace == nil {
		t.Fatal("cancelled run must keep its partial trace")
	}
	if trace.Plan == nil || len(trace.Plan.Tasks) != 3 {
		t.Error("partial trace must keep the plan")
	}
	if len(trace.SubRuns) != 3 {
		t.Fatalf("got %d sub runs, want all 3 captured before the cancel", len(trace.SubRuns))
	}
}

func TestChooseAgentFirstKeywordWins(t *testing.T) {
	members := testState(catalog.StrategySingleRoute).Agents[1:]
	agent, kw := chooseAgent("there is a bug in the docs", members)
	if agent == nil || agent.ID != "agent-code" {
		t.Fatalf("got %+v, want agent-code (team order wins)", agent)
	}
	if kw != "bug" {
		t.Errorf("keyword %q, want bug", kw)
	}
}
