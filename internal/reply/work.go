package reply

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WorkStatus is the closed status set a worker may report for a task.
type WorkStatus string

const (
	WorkDone    WorkStatus = "done"
	WorkPartial WorkStatus = "partial"
	WorkBlocked WorkStatus = "blocked"
	WorkFailed  WorkStatus = "failed"
)

// validWorkStatus reports membership in the closed set.
func validWorkStatus(s WorkStatus) bool {
	switch s {
	case WorkDone, WorkPartial, WorkBlocked, WorkFailed:
		return true
	}
	return false
}

// Plan is a manager's decomposition of a prompt into owned tasks.
type Plan struct {
	Goal  string `json:"goal"`
	Tasks []Task `json:"tasks"`
}

// Task is one unit of a plan, owned by a team member.
type Task struct {
	ID           string   `json:"id"`
	OwnerAgentID string   `json:"ownerAgentId"`
	Description  string   `json:"description"`
	DoneCriteria []string `json:"doneCriteria"`
}

// WorkResult is the structured outcome a worker reports for one task.
type WorkResult struct {
	TaskID       string     `json:"taskId"`
	Status       WorkStatus `json:"status"`
	Deliverables []string   `json:"deliverables"`
	Evidence     []string   `json:"evidence"`
	Risks        []string   `json:"risks"`
	Raw          string     `json:"raw"`
}

// ParsePlan extracts an orchestration plan from a manager's reply. It
// keeps only tasks owned by a valid member id; if no usable task
// survives, ok is false and the caller falls back to its default plan.
func ParsePlan(text string, validAgentIDs []string) (Plan, bool) {
	obj := jsonObjectRe.FindString(text)
	if obj == "" {
		return Plan{}, false
	}
	var parsed struct {
		Goal  string `json:"goal"`
		Tasks []struct {
			ID           string   `json:"id"`
			OwnerAgentID string   `json:"owner_agent_id"`
			Description  string   `json:"description"`
			DoneCriteria []string `json:"done_criteria"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Plan{}, false
	}

	plan := Plan{Goal: parsed.Goal}
	for i, t := range parsed.Tasks {
		if !contains(validAgentIDs, t.OwnerAgentID) {
			continue
		}
		id := t.ID
		if id == "" {
			id = taskID(i)
		}
		plan.Tasks = append(plan.Tasks, Task{
			ID:           id,
			OwnerAgentID: t.OwnerAgentID,
			Description:  strings.TrimSpace(t.Description),
			DoneCriteria: t.DoneCriteria,
		})
	}
	if len(plan.Tasks) == 0 {
		return Plan{}, false
	}
	return plan, true
}

// ParseWork extracts a WorkResult from a worker's free-text reply for
// the given task. Non-JSON text degrades to a partial result carrying
// the trimmed text as its single deliverable, or failed when empty.
func ParseWork(text string, task Task) WorkResult {
	raw := excerpt(text)

	if obj := jsonObjectRe.FindString(text); obj != "" {
		var parsed struct {
			TaskID       string          `json:"task_id"`
			Status       string          `json:"status"`
			Deliverables json.RawMessage `json:"deliverables"`
			Evidence     json.RawMessage `json:"evidence"`
			Risks        json.RawMessage `json:"risks"`
		}
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil {
			status := WorkStatus(strings.ToLower(parsed.Status))
			if !validWorkStatus(status) {
				status = WorkPartial
			}
			return WorkResult{
				TaskID:       task.ID,
				Status:       status,
				Deliverables: coerceStrings(parsed.Deliverables),
				Evidence:     coerceStrings(parsed.Evidence),
				Risks:        coerceStrings(parsed.Risks),
				Raw:          raw,
			}
		}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return WorkResult{TaskID: task.ID, Status: WorkFailed, Raw: raw}
	}
	return WorkResult{
		TaskID:       task.ID,
		Status:       WorkPartial,
		Deliverables: []string{trimmed},
		Raw:          raw,
	}
}

// coerceStrings turns a JSON value into a string slice: arrays keep
// their stringable elements, scalars become a one-element slice, and
// anything else is empty.
func coerceStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []string{s}
	}
	return nil
}

func taskID(i int) string {
	return fmt.Sprintf("T%d", i+1)
}
