// Package continuation 在会话被允许终止但仍有未完成任务时保存可恢复的快照
// Package continuation snapshots incomplete plans when a session is allowed
// to end, so a later session can pick up the remaining work.
package continuation

import (
	"fmt"
	"strings"
	"time"

	"plangate/internal/plan"
	"plangate/internal/storage"
)

// DefaultRetention 快照默认保留时长 / default snapshot retention window
const DefaultRetention = 7 * 24 * time.Hour

// Store is the slice of the storage layer the manager needs.
type Store interface {
	SaveContinuation(rec storage.Continuation) error
	FindContinuations(prefix string) ([]storage.Continuation, error)
	DeleteContinuation(sessionID string) error
	SweepContinuations(olderThan time.Time) (int, error)
}

// Manager saves, resumes, and expires continuation snapshots.
type Manager struct {
	store     Store
	retention time.Duration
}

// NewManager creates a manager. Non-positive retention falls back to the
// default window.
func NewManager(store Store, retention time.Duration) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{store: store, retention: retention}
}

// Snapshot 保存未完成计划的快照；已完成的计划不保存
// Snapshot persists the plan's items when any are still pending. A complete
// or empty plan produces no record.
func (m *Manager) Snapshot(p *plan.Plan) error {
	if p == nil || len(p.Pending()) == 0 {
		return nil
	}
	items := make([]plan.Item, len(p.Items))
	copy(items, p.Items)
	rec := storage.Continuation{
		SessionID: p.SessionID,
		PlanName:  p.Name,
		Items:     items,
	}
	if err := m.store.SaveContinuation(rec); err != nil {
		return fmt.Errorf("snapshot plan for %s: %w", p.SessionID, err)
	}
	return nil
}

// List returns snapshots whose session id starts with prefix, most recent
// first. An empty prefix lists all.
func (m *Manager) List(prefix string) ([]storage.Continuation, error) {
	return m.store.FindContinuations(prefix)
}

// Resume 按前缀匹配快照并消费它，返回挂载到新会话的计划
// Resume finds the most recent snapshot matching prefix, rebuilds a plan
// bound to newSessionID, and consumes the record. Completed statuses and
// item order survive the transfer.
func (m *Manager) Resume(prefix, newSessionID string) (*plan.Plan, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("resume prefix is empty")
	}
	recs, err := m.store.FindContinuations(prefix)
	if err != nil {
		return nil, fmt.Errorf("find continuations: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("continuation for %q: %w", prefix, storage.ErrNotFound)
	}
	rec := recs[0]

	p := plan.New(newSessionID, rec.PlanName)
	p.Source = "continuation"
	p.Items = make([]plan.Item, len(rec.Items))
	copy(p.Items, rec.Items)
	p.Touch()

	if err := m.store.DeleteContinuation(rec.SessionID); err != nil {
		return nil, fmt.Errorf("consume continuation %s: %w", rec.SessionID, err)
	}
	return p, nil
}

// Sweep 删除超过保留期的快照 / drop snapshots older than the retention window
func (m *Manager) Sweep(now time.Time) (int, error) {
	return m.store.SweepContinuations(now.Add(-m.retention))
}
