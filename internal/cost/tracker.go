// Package cost 按会话累计 token 用量与费用
// Package cost accrues per-session token usage and dollar cost, and reports
// when a session approaches or exceeds its budget.
package cost

import (
	"fmt"
	"strings"

	"plangate/internal/storage"
)

// ModelPrice USD per million tokens.
type ModelPrice struct {
	InputPerM  float64
	OutputPerM float64
}

// modelPrices 按模型前缀匹配，长前缀优先在 lookupPrice 中处理
var modelPrices = map[string]ModelPrice{
	"gpt-4o-mini":   {InputPerM: 0.15, OutputPerM: 0.60},
	"gpt-4o":        {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4":         {InputPerM: 30.00, OutputPerM: 60.00},
	"gpt-3.5":       {InputPerM: 0.50, OutputPerM: 1.50},
	"claude-haiku":  {InputPerM: 0.80, OutputPerM: 4.00},
	"claude-sonnet": {InputPerM: 3.00, OutputPerM: 15.00},
	"claude-opus":   {InputPerM: 15.00, OutputPerM: 75.00},
	"claude":        {InputPerM: 3.00, OutputPerM: 15.00},
	"qwen":          {InputPerM: 0.45, OutputPerM: 1.80},
	"o1":            {InputPerM: 15.00, OutputPerM: 60.00},
}

var defaultPrice = ModelPrice{InputPerM: 1.00, OutputPerM: 4.00}

// Price returns the per-million-token price for a model, matching the
// longest known prefix. Unknown models get a conservative default.
func Price(model string) ModelPrice {
	m := strings.ToLower(strings.TrimSpace(model))
	best := ""
	for prefix := range modelPrices {
		if strings.HasPrefix(m, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPrice
	}
	return modelPrices[best]
}

// Estimate 按模型价格计算一次调用的费用（美元）
// Estimate converts token counts to dollars for the given model.
func Estimate(model string, inputTokens, outputTokens int) float64 {
	p := Price(model)
	return float64(inputTokens)/1e6*p.InputPerM + float64(outputTokens)/1e6*p.OutputPerM
}

// Store is the slice of the storage layer the tracker needs.
type Store interface {
	AddCost(sessionID string, delta storage.CostDelta) (storage.CostTotals, error)
	SessionCost(sessionID string) (storage.CostTotals, error)
}

// Status is the budget view of a session after an accrual.
type Status struct {
	Totals    storage.CostTotals
	LimitUSD  float64
	Warn      bool // past the warn fraction of the limit
	OverLimit bool
}

// Message returns a one-line budget notice, or "" when under the warn mark.
func (s Status) Message() string {
	switch {
	case s.OverLimit:
		return fmt.Sprintf("Session cost $%.2f has exceeded the $%.2f limit.", s.Totals.Cost, s.LimitUSD)
	case s.Warn:
		return fmt.Sprintf("Session cost $%.2f is approaching the $%.2f limit.", s.Totals.Cost, s.LimitUSD)
	default:
		return ""
	}
}

// Tracker accrues usage into the session cost ledger.
type Tracker struct {
	store        Store
	tokenizer    *Tokenizer
	limitUSD     float64
	warnFraction float64
}

// NewTracker creates a tracker. Non-positive limit or fraction fall back to
// $10 and 0.8.
func NewTracker(store Store, limitUSD, warnFraction float64) *Tracker {
	if limitUSD <= 0 {
		limitUSD = 10.0
	}
	if warnFraction <= 0 || warnFraction > 1 {
		warnFraction = 0.8
	}
	return &Tracker{
		store:        store,
		tokenizer:    DefaultTokenizer(),
		limitUSD:     limitUSD,
		warnFraction: warnFraction,
	}
}

// Accrue 记录一次调用的 token 用量 / record one call's token usage
func (t *Tracker) Accrue(sessionID, model string, inputTokens, outputTokens int) (Status, error) {
	delta := storage.CostDelta{
		Cost:         Estimate(model, inputTokens, outputTokens),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
	totals, err := t.store.AddCost(sessionID, delta)
	if err != nil {
		return Status{}, fmt.Errorf("accrue cost: %w", err)
	}
	return t.status(totals), nil
}

// AccrueText 没有精确计数时按文本估算 / estimate from raw text when counts are absent
func (t *Tracker) AccrueText(sessionID, model, input, output string) (Status, error) {
	return t.Accrue(sessionID, model, t.tokenizer.CountText(input), t.tokenizer.CountText(output))
}

// SessionStatus reads the ledger without accruing anything.
func (t *Tracker) SessionStatus(sessionID string) (Status, error) {
	totals, err := t.store.SessionCost(sessionID)
	if err != nil {
		return Status{}, fmt.Errorf("session cost: %w", err)
	}
	return t.status(totals), nil
}

func (t *Tracker) status(totals storage.CostTotals) Status {
	return Status{
		Totals:    totals,
		LimitUSD:  t.limitUSD,
		Warn:      totals.Cost >= t.limitUSD*t.warnFraction,
		OverLimit: totals.Cost >= t.limitUSD,
	}
}
