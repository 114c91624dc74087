package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/reply"
	"github.com/nidhogg/agent-studio/internal/worker"
)

// orchestrateTotal is the fixed progress total of the four-phase cycle.
const orchestrateTotal = 4

// runOrchestrate drives the plan → dispatch/execute → review →
// complete cycle. The final summary is assembled mechanically from the
// review; no extra manager invocation happens after execution.
func (e *Engine) runOrchestrate(ctx context.Context, st catalog.State, team catalog.Team, members []catalog.Agent, prompt string, h JobHandle) (*Trace, error) {
	if len(members) == 0 {
		return nil, errors.New("no team members configured")
	}

	route := Route{Mode: catalog.StrategyManagerOrchestrate}
	if manager, ok := st.Manager(team); ok {
		route.ManagerAgentID = manager.ID
	}

	// Phase 1: plan.
	h.Phase("orchestrate-planning")
	h.Progress(0, orchestrateTotal)

	plan := e.buildPlan(ctx, st, team, members, prompt, h)
	if h.Cancelled() {
		return &Trace{Route: route, SubRuns: []SubRun{}, Plan: &plan}, ErrCancelled
	}
	h.PlanReady(plan)
	h.Progress(1, orchestrateTotal)
	e.logger.Info("orchestration planned",
		zap.String("team", team.ID),
		zap.Int("tasks", len(plan.Tasks)))

	// Phase 2: dispatch and execute every task concurrently.
	h.Phase("orchestrate-dispatch")
	agentsByID := make(map[string]catalog.Agent, len(members))
	for _, m := range members {
		agentsByID[m.ID] = m
	}

	subRuns := make([]SubRun, len(plan.Tasks))
	results := make([]reply.WorkResult, len(plan.Tasks))
	h.Phase("orchestrate-executing")

	var wg sync.WaitGroup
	for i, task := range plan.Tasks {
		wg.Add(1)
		go func(i int, task reply.Task) {
			defer wg.Done()
			owner := agentsByID[task.OwnerAgentID]
			model, ok := st.ModelByID(owner.ModelID)
			if !ok {
				out := worker.Outcome{Stderr: fmt.Sprintf("model not found for agent %s", owner.Name)}
				subRuns[i] = SubRun{AgentID: owner.ID, AgentName: owner.Name, ModelID: owner.ModelID, TaskID: task.ID, Outcome: out}
				results[i] = reply.WorkResult{TaskID: task.ID, Status: reply.WorkFailed, Risks: []string{out.Stderr}}
				return
			}
			h.CurrentAgent(owner.Name)
			out := e.invoker.Invoke(ctx, model, taskPrompt(owner, plan.Goal, task, prompt), MemberTimeout, h)
			subRuns[i] = SubRun{AgentID: owner.ID, AgentName: owner.Name, ModelID: model.ID, TaskID: task.ID, Outcome: out}
			results[i] = reply.ParseWork(out.Stdout, task)
		}(i, task)
	}
	wg.Wait()
	// Cancellation keeps whatever the task owners already produced.
	if h.Cancelled() {
		return &Trace{Route: route, SubRuns: subRuns, Plan: &plan}, ErrCancelled
	}
	h.Progress(2, orchestrateTotal)

	// Phase 3: review every (task, result) pair.
	h.Phase("orchestrate-review")
	reviews := make([]reply.TaskReview, len(plan.Tasks))
	for i, task := range plan.Tasks {
		reviews[i] = reply.Review(task, results[i])
	}
	summary := reply.Summarize(plan.Tasks, reviews)
	h.ReviewReady(summary)
	h.Progress(3, orchestrateTotal)
	if h.Cancelled() {
		return &Trace{Route: route, SubRuns: subRuns, Plan: &plan, Review: &summary}, ErrCancelled
	}

	// Phase 4: assemble the human-readable completion summary.
	h.Phase("orchestrate-complete")
	zero := 0
	result := worker.Outcome{
		OK:       summary.OverallStatus != reply.WorkFailed,
		ExitCode: &zero,
		Stdout:   renderSummary(plan, results, summary),
	}
	h.Progress(orchestrateTotal, orchestrateTotal)

	return &Trace{
		Route:   route,
		SubRuns: subRuns,
		Result:  result,
		Plan:    &plan,
		Review:  &summary,
	}, nil
}

// buildPlan asks the manager's worker for a task decomposition and
// falls back to one task per member when the manager is absent or its
// reply is unusable.
func (e *Engine) buildPlan(ctx context.Context, st catalog.State, team catalog.Team, members []catalog.Agent, prompt string, h JobHandle) reply.Plan {
	validIDs := agentIDs(members)
	if manager, ok := st.Manager(team); ok {
		if model, ok := st.ModelByID(manager.ModelID); ok {
			h.CurrentAgent(manager.Name)
			out := e.invoker.Invoke(ctx, model, orchestratePlanPrompt(manager, members, prompt), PlannerTimeout, h)
			if plan, ok := reply.ParsePlan(out.Stdout+"\n"+out.Stderr, validIDs); ok {
				return plan
			}
			e.logger.Warn("orchestration plan unparseable, using fallback",
				zap.String("team", team.ID))
		}
	}
	return fallbackPlan(members, prompt)
}

// fallbackPlan restates the prompt once per member, from that member's
// angle.
func fallbackPlan(members []catalog.Agent, prompt string) reply.Plan {
	plan := reply.Plan{Goal: prompt}
	for i, m := range members {
		plan.Tasks = append(plan.Tasks, reply.Task{
			ID:           fmt.Sprintf("T%d", i+1),
			OwnerAgentID: m.ID,
			Description:  fmt.Sprintf("Address the user task from the %s perspective: %s", m.Name, prompt),
			DoneCriteria: []string{"the reply addresses the user task"},
		})
	}
	return plan
}

// renderSummary builds the mechanical completion report.
func renderSummary(plan reply.Plan, results []reply.WorkResult, summary reply.ReviewSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Orchestration %s: completion %.0f%% (%d task(s))\n",
		summary.OverallStatus, summary.CompletionRate*100, len(plan.Tasks))
	if plan.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", plan.Goal)
	}
	b.WriteString("\n")
	for i, task := range plan.Tasks {
		res := results[i]
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", task.ID, task.OwnerAgentID, res.Status, task.Description)
		for _, d := range res.Deliverables {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}
	if len(summary.NextActions) > 0 {
		b.WriteString("\nNext actions:\n")
		for _, na := range summary.NextActions {
			fmt.Fprintf(&b, "  - [%s] %s\n", na.AgentID, na.Note)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
