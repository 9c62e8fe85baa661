package tui

import (
	"strings"
	"testing"

	"plangate/internal/plan"
	"plangate/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeStore struct {
	plans         []*plan.Plan
	blocked       map[string]int
	costs         map[string]float64
	continuations []storage.Continuation
	history       []storage.HistoryEntry
}

func (f *fakeStore) ListPlans() ([]*plan.Plan, error) { return f.plans, nil }

func (f *fakeStore) BlockedCount(sessionID string) (int, error) {
	return f.blocked[sessionID], nil
}

func (f *fakeStore) SessionCost(sessionID string) (storage.CostTotals, error) {
	return storage.CostTotals{SessionID: sessionID, Cost: f.costs[sessionID]}, nil
}

func (f *fakeStore) FindContinuations(prefix string) ([]storage.Continuation, error) {
	return f.continuations, nil
}

func (f *fakeStore) ListHistory(limit int) ([]storage.HistoryEntry, error) {
	return f.history, nil
}

func testSnapshotApp(t *testing.T) App {
	t.Helper()
	p := plan.New("sess-1", "Auth rework")
	p.Append("Create login page")
	p.Append("Wire session store")
	p.Complete(1)
	store := &fakeStore{
		plans:   []*plan.Plan{p},
		blocked: map[string]int{"sess-1": 2},
		costs:   map[string]float64{"sess-1": 0.42},
		continuations: []storage.Continuation{
			{SessionID: "old-9", PlanName: "Migration", Items: p.Items, SavedAt: "2026-08-20T10:00:00Z"},
		},
		history: []storage.HistoryEntry{
			{SessionID: "done-1", PlanName: "Refactor", ItemsTotal: 3, ItemsCompleted: 3, EndedAt: "2026-08-19T09:00:00Z"},
		},
	}

	app := NewApp(store)
	app.width, app.height = 120, 40
	app.relayout()

	snap, err := loadSnapshot(store)
	if err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	m, _ := app.Update(snapshotMsg{snap: snap})
	return m.(App)
}

func TestAppUpdate_SnapshotAndPanels(t *testing.T) {
	app := testSnapshotApp(t)

	if len(app.snap.Sessions) != 1 {
		t.Fatalf("expected 1 session row, got %d", len(app.snap.Sessions))
	}
	if app.snap.Sessions[0].Blocked != 2 {
		t.Fatalf("blocked count not loaded: %d", app.snap.Sessions[0].Blocked)
	}
	view := app.renderSessions()
	if !strings.Contains(view, "sess-1") || !strings.Contains(view, "1/2") {
		t.Fatalf("session row missing progress: %q", view)
	}

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated := m.(App)
	if updated.activePanel != PanelContinuations {
		t.Fatalf("expected continuations panel, got %v", updated.activePanel)
	}
	if !strings.Contains(updated.renderContinuations(), "old-9") {
		t.Fatalf("continuation row missing")
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated = m.(App)
	if updated.activePanel != PanelHistory {
		t.Fatalf("expected history panel, got %v", updated.activePanel)
	}
	if !strings.Contains(updated.renderHistory(), "Refactor") {
		t.Fatalf("history row missing")
	}
}

func TestAppUpdate_DetailAndBack(t *testing.T) {
	app := testSnapshotApp(t)

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	updated := m.(App)
	if updated.detail == nil {
		t.Fatalf("expected plan detail after enter")
	}
	if updated.detail.SessionID != "sess-1" {
		t.Fatalf("unexpected detail session: %s", updated.detail.SessionID)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyEsc})
	updated = m.(App)
	if updated.detail != nil {
		t.Fatalf("expected detail cleared after esc")
	}
}

func TestAppUpdate_SnapshotErrorShown(t *testing.T) {
	app := testSnapshotApp(t)
	m, _ := app.Update(snapshotMsg{err: errDummy("db locked")})
	updated := m.(App)
	if updated.lastError != "db locked" {
		t.Fatalf("unexpected last error: %q", updated.lastError)
	}
}

type errDummy string

func (e errDummy) Error() string { return string(e) }

func TestPlanMarkdown(t *testing.T) {
	p := plan.New("s1", "Release prep")
	p.Append("Tag the build")
	p.Append("Write changelog")
	p.Complete(1)

	md := PlanMarkdown(p)
	if !strings.Contains(md, "# Release prep") {
		t.Fatalf("missing title: %q", md)
	}
	if !strings.Contains(md, "- [x] 1. Tag the build") {
		t.Fatalf("missing completed item: %q", md)
	}
	if !strings.Contains(md, "- [ ] 2. Write changelog") {
		t.Fatalf("missing open item: %q", md)
	}
	if PlanMarkdown(nil) != "" {
		t.Fatalf("nil plan should render empty")
	}
}

func TestRenderHelpers(t *testing.T) {
	if got := renderProgressBar(50, 10); strings.Count(got, "█") != 5 {
		t.Fatalf("unexpected bar: %q", got)
	}
	if got := percentOf(0, 0); got != 0 {
		t.Fatalf("expected 0%% for empty plan, got %v", got)
	}
	if got := short("abcdefgh", 5); got != "abcd…" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}
