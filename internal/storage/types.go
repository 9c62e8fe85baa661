package storage

import "plangate/internal/plan"

// Continuation 会话结束时未完成计划的快照
// Continuation is a snapshot of an incomplete plan saved at session end.
type Continuation struct {
	SessionID string      `json:"session_id"`
	PlanName  string      `json:"plan_name"`
	Items     []plan.Item `json:"items"`
	SavedAt   string      `json:"saved_at"`
}

// PendingCount returns how many snapshot items were still open.
func (c Continuation) PendingCount() int {
	n := 0
	for _, it := range c.Items {
		if !it.Done() {
			n++
		}
	}
	return n
}

// CostDelta 单次事件新增的用量
// CostDelta is the usage added by one event.
type CostDelta struct {
	Cost         float64
	InputTokens  int
	OutputTokens int
}

// CostTotals 会话累计用量
// CostTotals is the accumulated usage for a session.
type CostTotals struct {
	SessionID    string  `json:"session_id"`
	Cost         float64 `json:"cost"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	ToolCalls    int     `json:"tool_calls"`
	UpdatedAt    string  `json:"updated_at"`
}

// HistoryEntry 已结束会话的摘要
// HistoryEntry summarizes one ended session.
type HistoryEntry struct {
	SessionID      string `json:"session_id"`
	PlanName       string `json:"plan_name"`
	ItemsTotal     int    `json:"items_total"`
	ItemsCompleted int    `json:"items_completed"`
	ArchivePath    string `json:"archive_path,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	EndedAt        string `json:"ended_at"`
}

// ActivePlanRef 指向最近活跃计划的会话
// ActivePlanRef points at the session owning the most recent active plan,
// so a resumed conversation with a fresh session id can pick it up.
type ActivePlanRef struct {
	SessionID string `json:"session_id"`
	PlanName  string `json:"plan_name"`
	UpdatedAt string `json:"updated_at"`
}
