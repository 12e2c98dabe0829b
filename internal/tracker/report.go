package tracker

import (
	"time"
)

// Summary aggregates task counts and timing.
type Summary struct {
	Total             int            `json:"total"`
	ByStatus          map[Status]int `json:"by_status"`
	AverageDurationMs int64          `json:"average_duration_ms"`
	AtRisk            int            `json:"at_risk"`
}

// AgentWorkload describes one agent's share of the tracked work.
type AgentWorkload struct {
	AgentInstanceID   string `json:"agent_instance_id"`
	ActiveTasks       int    `json:"active_tasks"`
	CompletedTasks    int    `json:"completed_tasks"`
	FailedTasks       int    `json:"failed_tasks"`
	AverageDurationMs int64  `json:"average_duration_ms"`
}

// Report is a filtered snapshot plus aggregates.
type Report struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Tasks       []Task                   `json:"tasks"`
	Summary     Summary                  `json:"summary"`
	Workloads   map[string]AgentWorkload `json:"workloads"`
}

// ReportOptions narrow GenerateReport.
type ReportOptions struct {
	WorkflowPlanID string
	Since          *time.Time
}

// GetSummary counts tasks per status, averages completed-task duration, and
// counts at-risk tasks: non-terminal, with a future deadline whose remaining
// share of the original budget is below 20%.
func (t *Tracker) GetSummary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now().UTC()
	s := Summary{ByStatus: make(map[Status]int)}
	var totalDur time.Duration
	var durCount int64

	for _, task := range t.tasks {
		s.Total++
		s.ByStatus[task.Status]++

		if task.Status == StatusCompleted && task.StartedAt != nil && task.CompletedAt != nil {
			totalDur += task.CompletedAt.Sub(*task.StartedAt)
			durCount++
		}
		if atRisk(task, now) {
			s.AtRisk++
		}
	}
	if durCount > 0 {
		s.AverageDurationMs = totalDur.Milliseconds() / durCount
	}
	return s
}

func atRisk(task *Task, now time.Time) bool {
	if task.Status.Terminal() || task.Deadline == nil {
		return false
	}
	deadline := *task.Deadline
	if !deadline.After(now) {
		return false
	}
	budget := deadline.Sub(task.CreatedAt)
	if budget <= 0 {
		return false
	}
	remaining := deadline.Sub(now)
	return float64(remaining)/float64(budget) < atRiskRatio
}

// GetAgentWorkloads computes per-agent activity over every agent owning at
// least one indexed task.
func (t *Tracker) GetAgentWorkloads() map[string]AgentWorkload {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]AgentWorkload, len(t.byAgent))
	for agentID, ids := range t.byAgent {
		w := AgentWorkload{AgentInstanceID: agentID}
		var totalDur time.Duration
		var durCount int64
		for id := range ids {
			task, ok := t.tasks[id]
			if !ok {
				continue
			}
			switch task.Status {
			case StatusAssigned, StatusInProgress:
				w.ActiveTasks++
			case StatusCompleted:
				w.CompletedTasks++
				if task.StartedAt != nil && task.CompletedAt != nil {
					totalDur += task.CompletedAt.Sub(*task.StartedAt)
					durCount++
				}
			case StatusFailed, StatusTimeout:
				w.FailedTasks++
			}
		}
		if durCount > 0 {
			w.AverageDurationMs = totalDur.Milliseconds() / durCount
		}
		out[agentID] = w
	}
	return out
}

// GenerateReport assembles a stamped snapshot: filtered tasks, the summary,
// and per-agent workloads.
func (t *Tracker) GenerateReport(opts ReportOptions) Report {
	tasks := t.ListTasks(Filter{WorkflowPlanID: opts.WorkflowPlanID})
	if opts.Since != nil {
		filtered := tasks[:0]
		for _, task := range tasks {
			if !task.CreatedAt.Before(*opts.Since) {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	return Report{
		GeneratedAt: t.now().UTC(),
		Tasks:       tasks,
		Summary:     t.GetSummary(),
		Workloads:   t.GetAgentWorkloads(),
	}
}
