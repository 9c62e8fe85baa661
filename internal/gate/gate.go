// Package gate 决定会话是否允许终止
// Package gate decides whether a session may terminate while a plan has
// pending items, with an escape valve that prevents a permanent block loop.
package gate

import (
	"fmt"
	"strings"

	"plangate/internal/plan"
)

// DefaultMaxAttempts 连续拦截次数上限 / ceiling for consecutive blocked attempts
const DefaultMaxAttempts = 5

// DefaultOverridePhrases 用户明确要求强制停止的短语
// Phrases that signal the user explicitly wants to stop regardless of the plan.
var DefaultOverridePhrases = []string{
	"force stop",
	"/force-stop",
	"stop anyway",
	"ignore incomplete",
	"skip verification",
	"let me stop",
}

// Kind 终止判定结果类型 / outcome of a termination attempt
type Kind int

const (
	// AllowedClean: nothing pending, or the user overrode the gate.
	AllowedClean Kind = iota
	// AllowedForced: pending items remain but the attempt ceiling was hit.
	AllowedForced
	// Blocked: pending items remain and the session must continue.
	Blocked
)

func (k Kind) String() string {
	switch k {
	case AllowedClean:
		return "allowed"
	case AllowedForced:
		return "allowed_forced"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision 结构化判定结果 / structured gate decision
type Decision struct {
	Kind      Kind
	Override  bool        // allowed because an override phrase was present
	Remaining []plan.Item // pending items at decision time
	Attempt   int         // 1-based blocked-attempt number (Blocked and AllowedForced)
	Max       int         // configured attempt ceiling
}

// Allowed reports whether the session may terminate.
func (d Decision) Allowed() bool {
	return d.Kind != Blocked
}

// Message 拦截时返回给代理的续作指令
// Message renders the instruction returned to the agent when blocked, or a
// short confirmation for forced allows. Empty for clean allows.
func (d Decision) Message() string {
	switch d.Kind {
	case Blocked:
		var b strings.Builder
		if d.Attempt > 0 {
			fmt.Fprintf(&b, "Stop blocked (attempt %d/%d): %d task(s) still pending.\n",
				d.Attempt, d.Max, len(d.Remaining))
		} else {
			// 计数写入失败的失败关闭路径，没有可报告的次数
			// fail-closed path: the counter write failed, so there is no
			// attempt number to report
			fmt.Fprintf(&b, "Stop blocked: %d task(s) still pending and the attempt counter could not be updated.\n",
				len(d.Remaining))
		}
		b.WriteString("Continue working on the remaining tasks:\n")
		for _, it := range d.Remaining {
			fmt.Fprintf(&b, "  %d. %s\n", it.ID, it.Text)
		}
		b.WriteString("Mark each task complete as you finish it. Do not stop until the list is done.")
		return b.String()
	case AllowedForced:
		return fmt.Sprintf("Stop allowed after %d blocked attempts with %d task(s) still pending. A continuation snapshot was saved.",
			d.Attempt, len(d.Remaining))
	default:
		return ""
	}
}

// CounterStore 拦截计数器的持久化接口 / persistence surface the gate needs
type CounterStore interface {
	IncrementBlocked(sessionID string) (int, error)
	ResetBlocked(sessionID string) error
}

// Gate evaluates stop attempts against a plan and a per-session counter.
type Gate struct {
	counters    CounterStore
	maxAttempts int
	phrases     []string
}

// New creates a gate. Zero or negative maxAttempts and a nil phrase list fall
// back to the package defaults.
func New(counters CounterStore, maxAttempts int, overridePhrases []string) *Gate {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if overridePhrases == nil {
		overridePhrases = DefaultOverridePhrases
	}
	return &Gate{counters: counters, maxAttempts: maxAttempts, phrases: overridePhrases}
}

// ContainsOverride 检查文本是否包含强制停止短语
// ContainsOverride reports whether text contains any override phrase,
// case-insensitively.
func ContainsOverride(text string, phrases []string) bool {
	folded := strings.ToLower(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(folded, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Evaluate 按固定顺序判定一次终止尝试：
// 强制短语 > 计划完成 > 次数上限 > 拦截
// Evaluate runs one termination attempt. Check order is fixed: override
// phrase, then plan completion, then the attempt ceiling, else block. Any
// allow resets the counter. A counter write failure on the block path fails
// closed: the session stays blocked and the error is returned for logging.
func (g *Gate) Evaluate(sessionID string, p *plan.Plan, trigger string) (Decision, error) {
	var remaining []plan.Item
	if p != nil {
		remaining = p.Pending()
	}

	if ContainsOverride(trigger, g.phrases) {
		d := Decision{Kind: AllowedClean, Override: true, Remaining: remaining, Max: g.maxAttempts}
		return d, g.reset(sessionID)
	}

	if len(remaining) == 0 {
		d := Decision{Kind: AllowedClean, Max: g.maxAttempts}
		return d, g.reset(sessionID)
	}

	count, err := g.counters.IncrementBlocked(sessionID)
	if err != nil {
		// 失败时保持拦截 / fail closed: do not let a storage fault end the session
		d := Decision{Kind: Blocked, Remaining: remaining, Attempt: 0, Max: g.maxAttempts}
		return d, fmt.Errorf("increment blocked count: %w", err)
	}

	if count >= g.maxAttempts {
		d := Decision{Kind: AllowedForced, Remaining: remaining, Attempt: count, Max: g.maxAttempts}
		return d, g.reset(sessionID)
	}

	return Decision{Kind: Blocked, Remaining: remaining, Attempt: count, Max: g.maxAttempts}, nil
}

// reset clears the counter after an allow. A failure here is reported but
// never turns an allow back into a block.
func (g *Gate) reset(sessionID string) error {
	if err := g.counters.ResetBlocked(sessionID); err != nil {
		return fmt.Errorf("reset blocked count: %w", err)
	}
	return nil
}
