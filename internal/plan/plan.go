// Package plan owns the tracked task list for a session: the Plan/Item data
// model, reconciliation of free-text completion reports against pending
// items, and the plan-file / summary formats.
package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"plangate/internal/lexical"
)

// 条目状态 / Item statuses
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// ErrValidation marks malformed caller input. The operation that produced it
// performed no state mutation.
var ErrValidation = errors.New("validation")

// Item 计划中的单个任务条目
// Item is a single tracked task.
type Item struct {
	ID          int      `json:"id"`
	Text        string   `json:"text"`
	Keywords    []string `json:"keywords,omitempty"` // cached normalized stems
	Status      string   `json:"status"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

// Done reports whether the item has been completed.
func (it Item) Done() bool { return it.Status == StatusDone }

// KeywordSet returns the cached keyword set, deriving and caching it on
// first use.
func (it *Item) KeywordSet() lexical.Set {
	if len(it.Keywords) == 0 {
		it.Keywords = lexical.Tokens(it.Text)
	}
	return lexical.SetOf(it.Keywords)
}

// Plan 某个会话当前的任务列表；条目保持插入顺序
// Plan is the live task list for one session. Item order is insertion order
// and is preserved across all mutations.
type Plan struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Source    string `json:"source,omitempty"`    // "command" | "file"
	PlanFile  string `json:"plan_file,omitempty"` // originating file, when Source == "file"
	Items     []Item `json:"items"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// New creates an empty plan for a session.
func New(sessionID, name string) *Plan {
	now := nowStamp()
	return &Plan{
		SessionID: strings.TrimSpace(sessionID),
		Name:      strings.TrimSpace(name),
		Source:    "command",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a pending item at the end of the plan.
func (p *Plan) Append(text string) (*Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: item text is empty", ErrValidation)
	}
	item := Item{
		ID:       len(p.Items) + 1,
		Text:     text,
		Keywords: lexical.Tokens(text),
		Status:   StatusPending,
	}
	p.Items = append(p.Items, item)
	p.Touch()
	return &p.Items[len(p.Items)-1], nil
}

// Complete marks the item with the given id done and stamps its completion
// time. Completing an already-done item is a no-op.
func (p *Plan) Complete(id int) bool {
	for i := range p.Items {
		if p.Items[i].ID != id {
			continue
		}
		if p.Items[i].Done() {
			return false
		}
		p.Items[i].Status = StatusDone
		p.Items[i].CompletedAt = nowStamp()
		p.Touch()
		return true
	}
	return false
}

// Pending returns the incomplete items in insertion order.
func (p *Plan) Pending() []Item {
	var out []Item
	for _, it := range p.Items {
		if !it.Done() {
			out = append(out, it)
		}
	}
	return out
}

// CompletedCount returns how many items are done.
func (p *Plan) CompletedCount() int {
	n := 0
	for _, it := range p.Items {
		if it.Done() {
			n++
		}
	}
	return n
}

// AllDone reports whether every item is done. An empty plan counts as done.
func (p *Plan) AllDone() bool {
	return len(p.Pending()) == 0
}

// Touch bumps UpdatedAt. The stamp strictly increases even when two
// mutations land within the same clock reading.
func (p *Plan) Touch() {
	now := time.Now().UTC()
	if prev, err := time.Parse(time.RFC3339Nano, p.UpdatedAt); err == nil && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	p.UpdatedAt = now.Format(time.RFC3339Nano)
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
