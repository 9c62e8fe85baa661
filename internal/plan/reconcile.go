package plan

import (
	"fmt"
	"strings"

	"plangate/internal/lexical"
)

// DefaultThreshold 接受匹配的最低 Jaccard 分数
// DefaultThreshold is the calibrated acceptance score. Lower causes false
// merges, higher causes missed matches.
const DefaultThreshold = 0.3

// ReportEntry 完成报告中的一条记录
// ReportEntry is one (text, asserted-complete) pair from a progress update.
type ReportEntry struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Report 由调用方提交的完成报告
// Report is a caller-asserted completion report.
type Report struct {
	Entries []ReportEntry
}

// Match 一次被接受的匹配
// Match records one accepted reconciliation.
type Match struct {
	ItemID     int
	ItemText   string
	ReportText string
	Score      float64
	Exact      bool
}

// Result 对账结果：接受的匹配与未匹配的报告文本
// Result carries the accepted matches and, for observability, the report
// texts that matched nothing. Unmatched entries are never an error.
type Result struct {
	Matches   []Match
	Unmatched []string
}

// Changed reports whether reconciliation mutated the plan.
func (r Result) Changed() bool { return len(r.Matches) > 0 }

// Reconcile matches completed report entries against the plan's pending
// items and marks the winners done. Only entries asserted complete are
// considered. Exact raw-text equality (case and whitespace insensitive)
// short-circuits before the lexical pipeline; otherwise the highest Jaccard
// score above threshold wins, earliest insertion order breaking ties.
//
// Reconcile is idempotent: done items are never candidates, so resubmitting
// a report after its target completed is a no-op.
func Reconcile(report Report, p *Plan, threshold float64) (Result, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	for _, entry := range report.Entries {
		if strings.TrimSpace(entry.Text) == "" {
			return Result{}, fmt.Errorf("%w: report entry has no text", ErrValidation)
		}
	}

	var res Result
	if p == nil || len(p.Items) == 0 {
		for _, entry := range report.Entries {
			if entry.Completed {
				res.Unmatched = append(res.Unmatched, entry.Text)
			}
		}
		return res, nil
	}

	for _, entry := range report.Entries {
		if !entry.Completed {
			continue
		}
		if m, ok := matchOne(entry.Text, p, threshold); ok {
			p.Complete(m.ItemID)
			res.Matches = append(res.Matches, m)
		} else {
			res.Unmatched = append(res.Unmatched, entry.Text)
		}
	}
	return res, nil
}

func matchOne(text string, p *Plan, threshold float64) (Match, bool) {
	folded := foldText(text)

	// Exact short-circuit against every pending item's raw text.
	for i := range p.Items {
		it := &p.Items[i]
		if it.Done() {
			continue
		}
		if foldText(it.Text) == folded {
			return Match{ItemID: it.ID, ItemText: it.Text, ReportText: text, Score: 1.0, Exact: true}, true
		}
	}

	reported := lexical.Normalize(text)
	best := Match{Score: 0}
	found := false
	for i := range p.Items {
		it := &p.Items[i]
		if it.Done() {
			continue
		}
		score := lexical.Score(reported, it.KeywordSet())
		// strict > keeps the earliest pending item on equal scores
		if score > best.Score {
			best = Match{ItemID: it.ID, ItemText: it.Text, ReportText: text, Score: score}
			found = true
		}
	}
	if !found || best.Score <= threshold {
		return Match{}, false
	}
	return best, true
}

func foldText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
