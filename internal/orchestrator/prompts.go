package orchestrator

import (
	"fmt"
	"strings"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/reply"
)

// dispatchPrompt is the direct worker prompt: the agent's system prompt
// followed by the user task.
func dispatchPrompt(agent catalog.Agent, prompt string) string {
	return fmt.Sprintf("System: %s\n\nUser: %s", agent.SystemPrompt, prompt)
}

// plannerPrompt asks the manager for a routing decision in the tagged
// block grammar the planner parser understands. Extra prose around the
// block is tolerated.
func plannerPrompt(manager catalog.Agent, members []catalog.Agent, prompt string) string {
	sys := manager.SystemPrompt
	if sys == "" {
		sys = "Plan routing."
	}
	validIDs := strings.Join(agentIDs(members), ", ")
	if validIDs == "" {
		validIDs = "(none)"
	}
	lines := make([]string, len(members))
	for i, m := range members {
		specs := strings.Join(m.Specialties, ",")
		if specs == "" {
			specs = "none"
		}
		lines[i] = fmt.Sprintf("%s: %s (%s)", m.ID, m.Name, specs)
	}
	return strings.Join([]string{
		"System: " + sys,
		"Decide execution mode for this task.",
		"Reply using this exact template first (no markdown):",
		"BEGIN_PLAN",
		"mode=<single-route|broadcast>",
		"agent_id=<member-agent-id or none>",
		"reason=<short reason>",
		"END_PLAN",
		"If you also provide JSON after that, keep it consistent.",
		"Valid agent IDs: " + validIDs,
		"Members:\n" + strings.Join(lines, "\n"),
		"User task: " + prompt,
	}, "\n\n")
}

// synthesisPrompt asks the manager to fold every member's output into a
// final answer.
func synthesisPrompt(manager catalog.Agent, prompt string, subRuns []SubRun) string {
	sys := manager.SystemPrompt
	if sys == "" {
		sys = "Summarize team outputs."
	}
	parts := []string{
		"System: " + sys,
		"User task: " + prompt,
		"",
		"Team member outputs:",
	}
	for i, r := range subRuns {
		stdout := r.Stdout
		if stdout == "" {
			stdout = "(empty)"
		}
		stderr := r.Stderr
		if stderr == "" {
			stderr = "(empty)"
		}
		parts = append(parts, fmt.Sprintf("#%d %s (%s)\nSTDOUT:\n%s\nSTDERR:\n%s", i+1, r.AgentName, r.ModelID, stdout, stderr))
	}
	parts = append(parts, "", "Provide a final concise answer for the user.")
	return strings.Join(parts, "\n")
}

// orchestratePlanPrompt asks the manager to decompose the task into a
// JSON task list owned by valid member ids.
func orchestratePlanPrompt(manager catalog.Agent, members []catalog.Agent, prompt string) string {
	sys := manager.SystemPrompt
	if sys == "" {
		sys = "Decompose the task for your team."
	}
	lines := make([]string, len(members))
	for i, m := range members {
		specs := strings.Join(m.Specialties, ",")
		if specs == "" {
			specs = "none"
		}
		lines[i] = fmt.Sprintf("%s: %s (%s)", m.ID, m.Name, specs)
	}
	return strings.Join([]string{
		"System: " + sys,
		"Break the user task into tasks for your team members.",
		"Reply with a JSON object exactly in this shape (prose around it is tolerated):",
		`{"goal":"<one line>","tasks":[{"id":"T1","owner_agent_id":"<member-agent-id>","description":"<what to do>","done_criteria":["<how completion is judged>"]}]}`,
		"Every owner_agent_id must be one of the valid agent IDs.",
		"Valid agent IDs: " + strings.Join(agentIDs(members), ", "),
		"Members:\n" + strings.Join(lines, "\n"),
		"User task: " + prompt,
	}, "\n\n")
}

// taskPrompt dispatches one plan task to its owner, instructing the
// worker to reply with a structured JSON work result.
func taskPrompt(owner catalog.Agent, goal string, task reply.Task, prompt string) string {
	criteria := strings.Join(task.DoneCriteria, "; ")
	if criteria == "" {
		criteria = "addresses the task description"
	}
	return strings.Join([]string{
		"System: " + owner.SystemPrompt,
		"Goal: " + goal,
		fmt.Sprintf("Task %s: %s", task.ID, task.Description),
		"Done criteria: " + criteria,
		"Original user task: " + prompt,
		"Reply with a JSON object exactly in this shape (prose around it is tolerated):",
		fmt.Sprintf(`{"task_id":%q,"status":"done|partial|blocked|failed","deliverables":["..."],"evidence":["..."],"risks":["..."]}`, task.ID),
	}, "\n\n")
}
