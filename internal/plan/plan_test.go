package plan

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestPlan(t *testing.T, tasks ...string) *Plan {
	t.Helper()
	p := New("sess_plan_001", "test plan")
	for _, task := range tasks {
		if _, err := p.Append(task); err != nil {
			t.Fatalf("Append(%q): %v", task, err)
		}
	}
	return p
}

func TestPlan_AppendPreservesOrder(t *testing.T) {
	p := newTestPlan(t, "first", "second", "third")
	for i, want := range []string{"first", "second", "third"} {
		if p.Items[i].Text != want {
			t.Fatalf("Items[%d].Text=%q, want %q", i, p.Items[i].Text, want)
		}
		if p.Items[i].ID != i+1 {
			t.Fatalf("Items[%d].ID=%d, want %d", i, p.Items[i].ID, i+1)
		}
	}
}

func TestPlan_AppendEmptyIsValidationError(t *testing.T) {
	p := New("sess_plan_002", "p")
	if _, err := p.Append("   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("Append(blank) err=%v, want ErrValidation", err)
	}
	if len(p.Items) != 0 {
		t.Fatalf("failed append must not mutate the plan")
	}
}

func TestPlan_UpdatedAtStrictlyIncreases(t *testing.T) {
	p := newTestPlan(t, "a")
	prev, err := time.Parse(time.RFC3339Nano, p.UpdatedAt)
	if err != nil {
		t.Fatalf("parse UpdatedAt: %v", err)
	}
	for i := 0; i < 5; i++ {
		p.Touch()
		cur, err := time.Parse(time.RFC3339Nano, p.UpdatedAt)
		if err != nil {
			t.Fatalf("parse UpdatedAt: %v", err)
		}
		if !cur.After(prev) {
			t.Fatalf("UpdatedAt did not increase: %v -> %v", prev, cur)
		}
		prev = cur
	}
}

func TestPlan_CompleteStampsAndCounts(t *testing.T) {
	p := newTestPlan(t, "a", "b")
	if !p.Complete(1) {
		t.Fatalf("Complete(1) should succeed")
	}
	if p.Complete(1) {
		t.Fatalf("second Complete(1) must be a no-op")
	}
	if p.Items[0].CompletedAt == "" {
		t.Fatalf("CompletedAt not stamped")
	}
	if p.CompletedCount() != 1 || p.AllDone() {
		t.Fatalf("counts wrong: completed=%d allDone=%v", p.CompletedCount(), p.AllDone())
	}
	p.Complete(2)
	if !p.AllDone() {
		t.Fatalf("plan should be all done")
	}
}

func TestReconcile_FuzzyMatchScenario(t *testing.T) {
	// spec scenario: two items, fuzzy report completes the first only
	p := newTestPlan(t, "Create the login page", "Write tests")
	res, err := Reconcile(Report{Entries: []ReportEntry{
		{Text: "Login page implemented", Completed: true},
	}}, p, DefaultThreshold)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ItemID != 1 {
		t.Fatalf("Matches=%+v, want item 1 matched", res.Matches)
	}
	if res.Matches[0].Exact {
		t.Fatalf("fuzzy match should not be flagged exact")
	}
	if !p.Items[0].Done() || p.Items[1].Done() {
		t.Fatalf("item statuses wrong: %+v", p.Items)
	}
}

func TestReconcile_ExactMatchSkipsScoring(t *testing.T) {
	p := newTestPlan(t, "Create the login page", "Write tests")
	res, err := Reconcile(Report{Entries: []ReportEntry{
		{Text: "  write TESTS ", Completed: true},
	}}, p, DefaultThreshold)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ItemID != 2 || !res.Matches[0].Exact {
		t.Fatalf("Matches=%+v, want exact match on item 2", res.Matches)
	}
	if res.Matches[0].Score != 1.0 {
		t.Fatalf("exact match score=%v, want 1.0", res.Matches[0].Score)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	p := newTestPlan(t, "Create the login page", "Write tests")
	report := Report{Entries: []ReportEntry{{Text: "Login page implemented", Completed: true}}}

	first, err := Reconcile(report, p, DefaultThreshold)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if !first.Changed() {
		t.Fatalf("first reconcile should change the plan")
	}
	second, err := Reconcile(report, p, DefaultThreshold)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if second.Changed() {
		t.Fatalf("second reconcile must be a no-op, got %+v", second.Matches)
	}
	if p.CompletedCount() != 1 {
		t.Fatalf("completed=%d after duplicate report, want 1", p.CompletedCount())
	}
}

func TestReconcile_TieBreaksToEarliestItem(t *testing.T) {
	// both items normalize to the identical keyword set
	p := newTestPlan(t, "Update the cache layer", "The cache layer update")
	res, err := Reconcile(Report{Entries: []ReportEntry{
		{Text: "cache layer updated", Completed: true},
	}}, p, DefaultThreshold)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("want one match, got %+v", res.Matches)
	}
	if res.Matches[0].ItemID != 1 {
		t.Fatalf("tie must resolve to earliest item, got %d", res.Matches[0].ItemID)
	}
}

func TestReconcile_IncompleteAndUnmatchedEntries(t *testing.T) {
	p := newTestPlan(t, "Create the login page")
	res, err := Reconcile(Report{Entries: []ReportEntry{
		{Text: "Create the login page", Completed: false},
		{Text: "totally unrelated quantum entanglement", Completed: true},
	}}, p, DefaultThreshold)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Changed() {
		t.Fatalf("no entry should have matched, got %+v", res.Matches)
	}
	if len(res.Unmatched) != 1 {
		t.Fatalf("Unmatched=%v, want the unrelated entry reported", res.Unmatched)
	}
	if p.Items[0].Done() {
		t.Fatalf("incomplete assertion must not complete the item")
	}
}

func TestReconcile_MalformedReport(t *testing.T) {
	p := newTestPlan(t, "Create the login page")
	_, err := Reconcile(Report{Entries: []ReportEntry{{Text: "", Completed: true}}}, p, DefaultThreshold)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
	if p.Items[0].Done() {
		t.Fatalf("validation failure must cause zero mutation")
	}
}

func TestReconcile_NilOrEmptyPlan(t *testing.T) {
	res, err := Reconcile(Report{Entries: []ReportEntry{{Text: "anything", Completed: true}}}, nil, DefaultThreshold)
	if err != nil {
		t.Fatalf("nil plan must be legal input: %v", err)
	}
	if len(res.Unmatched) != 1 {
		t.Fatalf("Unmatched=%v, want report surfaced", res.Unmatched)
	}
}

func TestParseMarkdown(t *testing.T) {
	content := `# Plan: Ship login
Some prose that is not a task.

## Tasks
- [ ] Create the login page
- [x] Set up the repo
- [~] Reference material, not a task
1. numbered lines are ignored

## Audit Template
- [ ] this lives under a template section
`
	p := ParseMarkdown("sess_md_001", "plans/login.md", content)
	if p.Name != "Ship login" {
		t.Fatalf("Name=%q", p.Name)
	}
	if len(p.Items) != 2 {
		t.Fatalf("Items=%d, want 2 (checkboxes only, actionable only)", len(p.Items))
	}
	if p.Items[0].Done() || !p.Items[1].Done() {
		t.Fatalf("statuses wrong: %+v", p.Items)
	}
}

func TestParseJSONAndCarryStatuses(t *testing.T) {
	content := `{"name":"api work","items":[{"task":"Add endpoint"},{"task":"Write tests","status":"completed"}]}`
	p, err := ParseJSON("sess_js_001", "plans/api.json", content)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(p.Items) != 2 || !p.Items[1].Done() {
		t.Fatalf("parsed wrong: %+v", p.Items)
	}

	// rewrite of the same plan file keeps earlier completions
	fresh, err := ParseJSON("sess_js_001", "plans/api.json", `{"name":"api work","items":[{"task":"Add endpoint"},{"task":"Write tests"}]}`)
	if err != nil {
		t.Fatalf("ParseJSON fresh: %v", err)
	}
	CarryStatuses(fresh, p)
	if !fresh.Items[1].Done() {
		t.Fatalf("CarryStatuses lost completion: %+v", fresh.Items)
	}
}

func TestIsPlanFile(t *testing.T) {
	cases := map[string]bool{
		"plans/x.md":             true,
		"/home/u/plans/x.json":   true,
		"plans/x.txt":            false,
		"src/main.go":            false,
		"docs/plans.md":          false,
		"project/plans/fix.json": true,
	}
	for path, want := range cases {
		if got := IsPlanFile(path); got != want {
			t.Fatalf("IsPlanFile(%q)=%v, want %v", path, got, want)
		}
	}
}

func TestFullContextAndSummary(t *testing.T) {
	p := newTestPlan(t, "Create the login page", "Write tests")
	p.Complete(1)

	ctx := FullContext(p)
	for _, want := range []string{"1/2", "START HERE", "Write tests", "activeForm"} {
		if !strings.Contains(ctx, want) {
			t.Fatalf("FullContext missing %q:\n%s", want, ctx)
		}
	}

	sum := Summary(p)
	if !strings.Contains(sum, "[x] 1. Create the login page") || !strings.Contains(sum, "[ ] 2. Write tests") {
		t.Fatalf("Summary wrong:\n%s", sum)
	}

	brief := BriefReminder(p)
	if !strings.Contains(brief, "1/2") || !strings.Contains(brief, "Write tests") {
		t.Fatalf("BriefReminder wrong: %s", brief)
	}
}

func TestActiveForm(t *testing.T) {
	cases := map[string]string{
		"fix the parser":    "Fixing the parser",
		"write tests":       "Writing tests",
		"deploying service": "Deploying service",
		"login page":        "Login page",
	}
	for in, want := range cases {
		if got := ActiveForm(in); got != want {
			t.Fatalf("ActiveForm(%q)=%q, want %q", in, got, want)
		}
	}
}
