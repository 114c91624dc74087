package reply

import (
	"fmt"
	"math"
)

// TaskReview scores one work result against its task.
type TaskReview struct {
	TaskID string     `json:"taskId"`
	Status WorkStatus `json:"status"`
	Score  float64    `json:"score"`
	Issues []string   `json:"issues"`
}

// NextAction is a rework note for a task that did not finish.
type NextAction struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Note    string `json:"note"`
}

// ReviewSummary aggregates all task reviews for one orchestrated run.
type ReviewSummary struct {
	OverallStatus  WorkStatus   `json:"overallStatus"`
	CompletionRate float64      `json:"completionRate"`
	Reviews        []TaskReview `json:"reviews"`
	NextActions    []NextAction `json:"nextActions"`
}

// statusScores is the deterministic scoring table.
var statusScores = map[WorkStatus]float64{
	WorkDone:    1.0,
	WorkPartial: 0.6,
	WorkBlocked: 0.2,
	WorkFailed:  0.0,
}

// Review scores a work result. It is a pure function: issues accumulate
// independently and no I/O happens here.
func Review(task Task, result WorkResult) TaskReview {
	score, ok := statusScores[result.Status]
	if !ok {
		score = 0.5
	}

	var issues []string
	if len(result.Deliverables) == 0 {
		issues = append(issues, "no deliverables")
	}
	if len(result.Evidence) == 0 {
		issues = append(issues, "no evidence")
	}
	if result.Status != WorkDone {
		issues = append(issues, fmt.Sprintf("status is %s", result.Status))
	}

	return TaskReview{
		TaskID: task.ID,
		Status: result.Status,
		Score:  score,
		Issues: issues,
	}
}

// Summarize folds per-task reviews into a ReviewSummary. The completion
// rate is the done fraction rounded to two decimals; next actions list
// a rework note for every task that is not done.
func Summarize(tasks []Task, reviews []TaskReview) ReviewSummary {
	summary := ReviewSummary{Reviews: reviews}
	if len(tasks) == 0 {
		summary.OverallStatus = WorkFailed
		return summary
	}

	ownerByTask := make(map[string]string, len(tasks))
	for _, t := range tasks {
		ownerByTask[t.ID] = t.OwnerAgentID
	}

	done := 0
	for _, r := range reviews {
		if r.Status == WorkDone {
			done++
			continue
		}
		note := fmt.Sprintf("rework %s", r.TaskID)
		if len(r.Issues) > 0 {
			note = fmt.Sprintf("rework %s: %s", r.TaskID, r.Issues[0])
		}
		summary.NextActions = append(summary.NextActions, NextAction{
			TaskID:  r.TaskID,
			AgentID: ownerByTask[r.TaskID],
			Note:    note,
		})
	}

	rate := float64(done) / float64(len(tasks))
	summary.CompletionRate = math.Round(rate*100) / 100

	switch {
	case done == len(tasks):
		summary.OverallStatus = WorkDone
	case done > 0:
		summary.OverallStatus = WorkPartial
	default:
		summary.OverallStatus = WorkFailed
	}
	return summary
}
