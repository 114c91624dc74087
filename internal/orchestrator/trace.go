package orchestrator

import (
	"time"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/reply"
	"github.com/nidhogg/agent-studio/internal/worker"
)

// Route records the routing decision actually taken for a run.
type Route struct {
	ManagerAgentID    string                 `json:"managerAgentId,omitempty"`
	SelectedAgentID   string                 `json:"selectedAgentId,omitempty"`
	SelectedAgentName string                 `json:"selectedAgentName,omitempty"`
	MatchedKeyword    string                 `json:"matchedKeyword,omitempty"`
	Mode              catalog.Strategy       `json:"mode"`
	ModelID           string                 `json:"modelId,omitempty"`
	Command           string                 `json:"command,omitempty"`
	ArgsTemplate      string                 `json:"argsTemplate,omitempty"`
	PlannerDecision   *reply.PlannerDecision `json:"plannerDecision,omitempty"`
}

// SubRun is one member or task invocation inside a fan-out strategy.
type SubRun struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	ModelID   string `json:"modelId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	worker.Outcome
}

// Trace is the immutable record of one completed team run.
type Trace struct {
	ID         string               `json:"id"`
	TeamID     string               `json:"teamId"`
	Prompt     string               `json:"prompt"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Route      Route                `json:"route"`
	SubRuns    []SubRun             `json:"subRuns"`
	Result     worker.Outcome       `json:"result"`
	Plan       *reply.Plan          `json:"plan,omitempty"`
	Review     *reply.ReviewSummary `json:"review,omitempty"`
}
