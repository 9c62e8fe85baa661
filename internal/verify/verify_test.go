package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"plangate/internal/plan"
)

// completionServer returns an OpenAI-compatible chat completion whose
// message content is the given string.
func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id":    "cmpl-test",
			"model": "test-model",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func completedPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p := plan.New("sess_verify", "release")
	for _, task := range []string{"Create the login page", "Write tests"} {
		if _, err := p.Append(task); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	p.Complete(1)
	return p
}

func TestVerify_DisabledPasses(t *testing.T) {
	c := NewClient(Config{Enabled: false})
	res, err := c.Verify(context.Background(), completedPlan(t))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Passed {
		t.Fatalf("disabled verifier must pass")
	}
}

func TestVerify_NothingCompletedPasses(t *testing.T) {
	c := NewClient(Config{Enabled: true, BaseURL: "http://127.0.0.1:1", Model: "m"})
	p := plan.New("sess_verify", "empty")
	res, err := c.Verify(context.Background(), p)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Passed {
		t.Fatalf("plan with no completed items must pass without a call")
	}
}

func TestVerify_ParsesVerdict(t *testing.T) {
	srv := completionServer(t, `{"passed": true, "confidence": 0.9, "issues": []}`)
	defer srv.Close()

	c := NewClient(Config{Enabled: true, BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model"})
	res, err := c.Verify(context.Background(), completedPlan(t))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Passed || res.Confidence != 0.9 {
		t.Fatalf("res=%+v", res)
	}
}

func TestVerify_LowConfidenceFails(t *testing.T) {
	srv := completionServer(t, `{"passed": true, "confidence": 0.4, "remediation": ["Add error handling to the login page"]}`)
	defer srv.Close()

	c := NewClient(Config{Enabled: true, BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model", ConfidenceThreshold: 0.7})
	res, err := c.Verify(context.Background(), completedPlan(t))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Passed {
		t.Fatalf("confidence below threshold must fail: %+v", res)
	}
	if len(res.Remediation) != 1 {
		t.Fatalf("remediation=%v", res.Remediation)
	}
}

func TestVerify_CodeFencedVerdict(t *testing.T) {
	srv := completionServer(t, "Here is my assessment:\n```json\n{\"passed\": false, \"confidence\": 0.8, \"issues\": [\"tests missing\"]}\n```")
	defer srv.Close()

	c := NewClient(Config{Enabled: true, BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model"})
	res, err := c.Verify(context.Background(), completedPlan(t))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Passed || len(res.Issues) != 1 {
		t.Fatalf("res=%+v", res)
	}
}

func TestAppendRemediation(t *testing.T) {
	p := completedPlan(t)
	before := len(p.Items)

	added := AppendRemediation(p, Result{
		Passed:      false,
		Remediation: []string{"Add error handling", "Write tests", "  "},
	})
	// "Write tests" already exists, blank is skipped
	if added != 1 {
		t.Fatalf("added=%d, want 1", added)
	}
	if len(p.Items) != before+1 {
		t.Fatalf("items=%d, want %d", len(p.Items), before+1)
	}
	last := p.Items[len(p.Items)-1]
	if last.Text != "Add error handling" || last.Done() {
		t.Fatalf("appended item=%+v", last)
	}

	if AppendRemediation(p, Result{Passed: true, Remediation: []string{"anything"}}) != 0 {
		t.Fatalf("passing verdict must not append")
	}
	if AppendRemediation(nil, Result{Passed: false, Remediation: []string{"x"}}) != 0 {
		t.Fatalf("nil plan must not append")
	}
}

func TestParseVerdict_Garbage(t *testing.T) {
	if _, err := parseVerdict("not json at all"); err == nil {
		t.Fatalf("expected parse error")
	}
	res, err := parseVerdict(`{"passed": true, "confidence": 1.7}`)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if res.Confidence != 1 {
		t.Fatalf("confidence=%v, want clamped to 1", res.Confidence)
	}
}
