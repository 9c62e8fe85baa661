// Package storage persists per-session gate state: the live plan, the
// blocked-attempt counter, continuations, the cost ledger and session
// history. SQLite in WAL mode with a busy timeout serializes concurrent
// invocations touching the same session.
package storage

import (
	"errors"
	"time"

	"plangate/internal/plan"
)

// ErrNotFound 请求的记录不存在
// ErrNotFound marks a missing record; callers distinguish it from real
// storage failures, which the gate treats as fail-closed.
var ErrNotFound = errors.New("not found")

// Store 持久化接口
// Store is the persistence interface.
type Store interface {
	// Plan 操作 / Plan operations
	SavePlan(p *plan.Plan) error
	LoadPlan(sessionID string) (*plan.Plan, error)
	DeletePlan(sessionID string) error
	ListPlans() ([]*plan.Plan, error)

	// 阻断计数 / Blocked-attempt counter
	BlockedCount(sessionID string) (int, error)
	IncrementBlocked(sessionID string) (int, error)
	ResetBlocked(sessionID string) error

	// 续接快照 / Continuation snapshots
	SaveContinuation(rec Continuation) error
	FindContinuations(prefix string) ([]Continuation, error)
	DeleteContinuation(sessionID string) error
	SweepContinuations(olderThan time.Time) (int, error)

	// 成本账本 / Cost ledger
	AddCost(sessionID string, delta CostDelta) (CostTotals, error)
	SessionCost(sessionID string) (CostTotals, error)

	// 会话历史 / Session history
	AppendHistory(entry HistoryEntry) error
	ListHistory(limit int) ([]HistoryEntry, error)

	// 活跃计划指针 / Active-plan pointer (cross-session fallback)
	ActivePlan() (ActivePlanRef, error)
	SetActivePlan(ref ActivePlanRef) error
	ClearActivePlan() error

	// 生命周期 / Lifecycle
	Close() error
}
