package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"plangate/internal/archive"
	"plangate/internal/config"
	"plangate/internal/engine"
	"plangate/internal/storage"
)

// runSessions prints every tracked session with plan progress, stop-gate
// state and accumulated cost.
func runSessions(store storage.Store, out io.Writer) error {
	plans, err := store.ListPlans()
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	if len(plans) == 0 {
		fmt.Fprintln(out, "no tracked sessions")
		return nil
	}
	for _, p := range plans {
		blocked, err := store.BlockedCount(p.SessionID)
		if err != nil {
			blocked = 0
		}
		totals, err := store.SessionCost(p.SessionID)
		if err != nil {
			totals = storage.CostTotals{}
		}
		fmt.Fprintf(out, "%s  %q  %d/%d done", p.SessionID, p.Name, p.CompletedCount(), len(p.Items))
		if blocked > 0 {
			fmt.Fprintf(out, "  stops blocked: %d", blocked)
		}
		if totals.Cost > 0 {
			fmt.Fprintf(out, "  cost: $%.4f", totals.Cost)
		}
		fmt.Fprintln(out)
	}

	recs, err := store.FindContinuations("")
	if err != nil {
		return fmt.Errorf("list continuations: %w", err)
	}
	if len(recs) > 0 {
		fmt.Fprintln(out, "\ncontinuations:")
		for _, rec := range recs {
			fmt.Fprintf(out, "  %s  %q  %d task(s) pending  saved %s\n",
				rec.SessionID, rec.PlanName, rec.PendingCount(), rec.SavedAt)
		}
	}
	return nil
}

// runResume restores the most recent continuation matching prefix into a
// fresh session and persists it so the next hook invocation finds it.
func runResume(eng *engine.Engine, store storage.Store, prefix string, out io.Writer) error {
	newID, err := newSessionID()
	if err != nil {
		return err
	}
	p, err := eng.Continuations().Resume(prefix, newID)
	if err != nil {
		return err
	}
	if err := store.SavePlan(p); err != nil {
		return fmt.Errorf("save resumed plan: %w", err)
	}
	fmt.Fprintf(out, "resumed %q into session %s (%d/%d done)\n",
		p.Name, p.SessionID, p.CompletedCount(), len(p.Items))
	return nil
}

func runHistory(store storage.Store, out io.Writer) error {
	entries, err := store.ListHistory(20)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no session history")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %q  %d/%d done  ended %s\n",
			e.SessionID, e.PlanName, e.ItemsCompleted, e.ItemsTotal, e.EndedAt)
	}
	return nil
}

// runSweep expires old continuations and prunes the archive directory down
// to the retention limit.
func runSweep(cfg config.Config, eng *engine.Engine, out io.Writer) error {
	swept, err := eng.Continuations().Sweep(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sweep continuations: %w", err)
	}
	pruned, err := archive.New(cfg.Storage.ArchiveDir(), cfg.Retention.ArchiveKeep).Prune()
	if err != nil {
		return fmt.Errorf("prune archives: %w", err)
	}
	fmt.Fprintf(out, "swept %d continuation(s), pruned %d archive(s)\n", swept, pruned)
	return nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
