// Package verify 使用 LLM 对已完成任务做建议性复核
// Package verify runs an advisory LLM review of completed work. It never
// blocks a stop on its own: a disabled or failing verifier reports a pass.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"plangate/internal/plan"

	openai "github.com/sashabaranov/go-openai"
)

// Config mirrors the verify section of the app configuration.
type Config struct {
	Enabled             bool
	BaseURL             string
	APIKey              string
	Model               string
	TimeoutMS           int
	ConfidenceThreshold float64
}

// Result is the verifier's verdict on a plan's completed items.
type Result struct {
	Passed      bool     `json:"passed"`
	Confidence  float64  `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
}

// Client wraps the OpenAI-compatible endpoint used for verification.
type Client struct {
	api        *openai.Client
	model      string
	confidence float64
	enabled    bool
}

const maxRetries = 2

// NewClient creates a verifier. A missing threshold defaults to 0.7.
func NewClient(cfg Config) *Client {
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = 0.7
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	apiCfg.HTTPClient = httpClient

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		confidence: cfg.ConfidenceThreshold,
		enabled:    cfg.Enabled,
	}
}

// Enabled reports whether verification runs at all.
func (c *Client) Enabled() bool { return c.enabled }

// Verify 复核计划中已完成的任务；关闭或无已完成项时直接通过
// Verify reviews the plan's completed items. A disabled verifier or a plan
// with nothing completed passes immediately.
func (c *Client) Verify(ctx context.Context, p *plan.Plan) (Result, error) {
	if !c.enabled || p == nil || p.CompletedCount() == 0 {
		return Result{Passed: true, Confidence: 1.0}, nil
	}

	prompt := buildPrompt(p)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion response")
			continue
		}
		res, err := parseVerdict(resp.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			continue
		}
		if res.Confidence < c.confidence {
			res.Passed = false
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("verify plan: %w", lastErr)
}

// AppendRemediation 将复核建议的补救任务追加到计划
// AppendRemediation appends the verdict's remediation items to the plan and
// returns how many were added. Duplicate texts are skipped.
func AppendRemediation(p *plan.Plan, res Result) int {
	if p == nil || res.Passed {
		return 0
	}
	existing := map[string]struct{}{}
	for _, it := range p.Items {
		existing[strings.ToLower(strings.TrimSpace(it.Text))] = struct{}{}
	}
	added := 0
	for _, text := range res.Remediation {
		key := strings.ToLower(strings.TrimSpace(text))
		if key == "" {
			continue
		}
		if _, ok := existing[key]; ok {
			continue
		}
		if _, err := p.Append(text); err != nil {
			continue
		}
		existing[key] = struct{}{}
		added++
	}
	return added
}

const systemPrompt = `You review a coding agent's completed task list. Respond with a single JSON object:
{"passed": bool, "confidence": 0.0-1.0, "issues": ["..."], "remediation": ["..."]}
Remediation entries must be concrete follow-up tasks. No prose outside the JSON.`

func buildPrompt(p *plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n\nCompleted tasks:\n", p.Name)
	for _, it := range p.Items {
		if it.Done() {
			fmt.Fprintf(&b, "- %s\n", it.Text)
		}
	}
	if pending := p.Pending(); len(pending) > 0 {
		b.WriteString("\nStill pending:\n")
		for _, it := range pending {
			fmt.Fprintf(&b, "- %s\n", it.Text)
		}
	}
	b.WriteString("\nAssess whether the completed tasks look genuinely done and consistent.")
	return b.String()
}

// parseVerdict 解析模型输出的 JSON，兼容代码块包裹
// parseVerdict extracts the verdict JSON, tolerating code fences and
// surrounding prose.
func parseVerdict(content string) (Result, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	var res Result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return Result{}, fmt.Errorf("parse verdict: %w", err)
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}
