package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"plangate/internal/plan"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPlan(t *testing.T, sessionID string, tasks ...string) *plan.Plan {
	t.Helper()
	p := plan.New(sessionID, "test plan")
	for _, task := range tasks {
		if _, err := p.Append(task); err != nil {
			t.Fatalf("Append(%q): %v", task, err)
		}
	}
	return p
}

func TestSQLiteStore_PlanRoundTrip(t *testing.T) {
	store := newTestStore(t)
	p := testPlan(t, "sess_rt_001", "Create the login page", "Write tests")
	p.Complete(1)

	if err := store.SavePlan(p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	loaded, err := store.LoadPlan("sess_rt_001")
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.Name != "test plan" || loaded.UpdatedAt != p.UpdatedAt || loaded.CreatedAt != p.CreatedAt {
		t.Fatalf("plan meta lost: %+v", loaded)
	}
	if len(loaded.Items) != 2 {
		t.Fatalf("items=%d, want 2", len(loaded.Items))
	}
	if loaded.Items[0].Text != "Create the login page" || !loaded.Items[0].Done() {
		t.Fatalf("item 1 wrong: %+v", loaded.Items[0])
	}
	if loaded.Items[0].CompletedAt == "" {
		t.Fatalf("completed_at lost in round trip")
	}
	if len(loaded.Items[0].Keywords) == 0 {
		t.Fatalf("keyword cache lost in round trip")
	}
	if loaded.Items[1].Done() {
		t.Fatalf("item 2 should be pending")
	}
}

func TestSQLiteStore_LoadPlanNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadPlan("sess_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_DeletePlanClearsActivePointer(t *testing.T) {
	store := newTestStore(t)
	p := testPlan(t, "sess_del_001", "a")
	if err := store.SavePlan(p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if _, err := store.ActivePlan(); err != nil {
		t.Fatalf("ActivePlan after save: %v", err)
	}
	if err := store.DeletePlan("sess_del_001"); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if _, err := store.LoadPlan("sess_del_001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("plan should be gone, err=%v", err)
	}
	if _, err := store.ActivePlan(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("active pointer should be cleared, err=%v", err)
	}
}

func TestSQLiteStore_BlockedCounter(t *testing.T) {
	store := newTestStore(t)

	count, err := store.BlockedCount("sess_cnt_001")
	if err != nil || count != 0 {
		t.Fatalf("initial count=%d err=%v, want 0", count, err)
	}
	for want := 1; want <= 3; want++ {
		got, err := store.IncrementBlocked("sess_cnt_001")
		if err != nil {
			t.Fatalf("IncrementBlocked: %v", err)
		}
		if got != want {
			t.Fatalf("count=%d, want %d", got, want)
		}
	}
	if err := store.ResetBlocked("sess_cnt_001"); err != nil {
		t.Fatalf("ResetBlocked: %v", err)
	}
	count, _ = store.BlockedCount("sess_cnt_001")
	if count != 0 {
		t.Fatalf("count after reset=%d, want 0", count)
	}
}

func TestSQLiteStore_CountersIndependentPerSession(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.IncrementBlocked("sess_a"); err != nil {
		t.Fatalf("IncrementBlocked: %v", err)
	}
	count, err := store.BlockedCount("sess_b")
	if err != nil || count != 0 {
		t.Fatalf("sess_b count=%d err=%v, want 0", count, err)
	}
}

func TestSQLiteStore_Continuations(t *testing.T) {
	store := newTestStore(t)
	rec := Continuation{
		SessionID: "sess_cont_abc",
		PlanName:  "migration",
		Items: []plan.Item{
			{ID: 1, Text: "Write tests", Status: plan.StatusPending},
			{ID: 2, Text: "Ship it", Status: plan.StatusDone},
		},
	}
	if err := store.SaveContinuation(rec); err != nil {
		t.Fatalf("SaveContinuation: %v", err)
	}

	// prefix match
	found, err := store.FindContinuations("sess_cont")
	if err != nil {
		t.Fatalf("FindContinuations: %v", err)
	}
	if len(found) != 1 || found[0].SessionID != "sess_cont_abc" {
		t.Fatalf("found=%+v", found)
	}
	if found[0].PendingCount() != 1 {
		t.Fatalf("PendingCount=%d, want 1", found[0].PendingCount())
	}
	if len(found[0].Items) != 2 || found[0].Items[0].Text != "Write tests" {
		t.Fatalf("items lost in round trip: %+v", found[0].Items)
	}

	// no match for an unrelated prefix
	none, err := store.FindContinuations("zzz")
	if err != nil {
		t.Fatalf("FindContinuations(zzz): %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unexpected matches: %+v", none)
	}

	if err := store.DeleteContinuation("sess_cont_abc"); err != nil {
		t.Fatalf("DeleteContinuation: %v", err)
	}
	found, _ = store.FindContinuations("sess_cont")
	if len(found) != 0 {
		t.Fatalf("continuation should be consumed")
	}
}

func TestSQLiteStore_SweepContinuations(t *testing.T) {
	store := newTestStore(t)
	old := Continuation{
		SessionID: "sess_old",
		SavedAt:   time.Now().UTC().Add(-8 * 24 * time.Hour).Format(time.RFC3339),
	}
	fresh := Continuation{SessionID: "sess_fresh"}
	if err := store.SaveContinuation(old); err != nil {
		t.Fatalf("SaveContinuation(old): %v", err)
	}
	if err := store.SaveContinuation(fresh); err != nil {
		t.Fatalf("SaveContinuation(fresh): %v", err)
	}

	removed, err := store.SweepContinuations(time.Now().UTC().Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("SweepContinuations: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed=%d, want 1", removed)
	}
	left, _ := store.FindContinuations("")
	if len(left) != 1 || left[0].SessionID != "sess_fresh" {
		t.Fatalf("left=%+v, want only sess_fresh", left)
	}
}

func TestSQLiteStore_CostLedger(t *testing.T) {
	store := newTestStore(t)

	totals, err := store.AddCost("sess_cost_001", CostDelta{Cost: 0.5, InputTokens: 100, OutputTokens: 50})
	if err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if totals.Cost != 0.5 || totals.ToolCalls != 1 {
		t.Fatalf("totals=%+v", totals)
	}
	totals, err = store.AddCost("sess_cost_001", CostDelta{Cost: 0.25, InputTokens: 10, OutputTokens: 5})
	if err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if totals.Cost != 0.75 || totals.InputTokens != 110 || totals.OutputTokens != 55 || totals.ToolCalls != 2 {
		t.Fatalf("accumulated totals wrong: %+v", totals)
	}

	// unknown session reads as zero, not an error
	zero, err := store.SessionCost("sess_unknown")
	if err != nil || zero.Cost != 0 {
		t.Fatalf("zero=%+v err=%v", zero, err)
	}
}

func TestSQLiteStore_HistoryCap(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < historyCap+10; i++ {
		err := store.AppendHistory(HistoryEntry{SessionID: "sess_hist", PlanName: "p", ItemsTotal: 1})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	entries, err := store.ListHistory(0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != historyCap {
		t.Fatalf("history=%d, want %d", len(entries), historyCap)
	}
}

func TestSQLiteStore_ActivePlanPointer(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.ActivePlan(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty pointer err=%v, want ErrNotFound", err)
	}
	if err := store.SetActivePlan(ActivePlanRef{SessionID: "sess_ap", PlanName: "p"}); err != nil {
		t.Fatalf("SetActivePlan: %v", err)
	}
	ref, err := store.ActivePlan()
	if err != nil || ref.SessionID != "sess_ap" {
		t.Fatalf("ref=%+v err=%v", ref, err)
	}
	if err := store.ClearActivePlan(); err != nil {
		t.Fatalf("ClearActivePlan: %v", err)
	}
	if _, err := store.ActivePlan(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pointer should be cleared, err=%v", err)
	}
}
