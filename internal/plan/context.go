package plan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// 注入给 agent 的计划上下文与摘要文本。
// Plan context and summary text injected back into the agent's turns.

// Summary renders the /showplan view.
func Summary(p *Plan) string {
	if p == nil {
		return "No active plan."
	}
	name := p.Name
	if name == "" {
		name = "Unnamed Plan"
	}
	if len(p.Items) == 0 {
		return fmt.Sprintf("Plan: %s\nNo items yet. Report progress to add tracked tasks.", name)
	}

	completed := p.CompletedCount()
	total := len(p.Items)
	pct := float64(completed) / float64(total) * 100

	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", name)
	fmt.Fprintf(&b, "Progress: %d/%d (%.0f%%)\n\nItems:\n", completed, total, pct)
	for i, it := range p.Items {
		box := "[ ]"
		if it.Done() {
			box = "[x]"
		}
		fmt.Fprintf(&b, "  %s %d. %s\n", box, i+1, it.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BriefReminder 单行进度提醒
// BriefReminder is the one-line progress nudge for ordinary prompts.
func BriefReminder(p *Plan) string {
	pending := p.Pending()
	if len(pending) == 0 {
		return ""
	}
	total := len(p.Items)
	next := pending[0].Text
	if len(next) > 50 {
		next = next[:50] + "..."
	}
	name := p.Name
	if name == "" {
		name = "Active"
	}
	return fmt.Sprintf("Plan %q: %d/%d complete. Current: %q", name, total-len(pending), total, next)
}

// FullContext renders the complete plan context injected after a blocked
// stop or a session resume: completed work, remaining work with a START HERE
// marker, last activity, and a todo-sync payload the agent can replay.
func FullContext(p *Plan) string {
	pending := p.Pending()
	total := len(p.Items)
	completed := total - len(pending)

	var b strings.Builder
	name := p.Name
	if name == "" {
		name = "Current Plan"
	}
	fmt.Fprintf(&b, "ACTIVE PLAN: %s\n", name)
	fmt.Fprintf(&b, "Progress: %d/%d tasks complete\n\n", completed, total)

	if completed > 0 {
		b.WriteString("COMPLETED:\n")
		for _, it := range p.Items {
			if it.Done() {
				fmt.Fprintf(&b, "- %s\n", it.Text)
			}
		}
		b.WriteString("\n")
	}

	if len(pending) > 0 {
		b.WriteString("REMAINING (your current work):\n")
		for i, it := range pending {
			marker := ""
			if i == 0 {
				marker = " <- START HERE"
			}
			fmt.Fprintf(&b, "%d. [ ] %s%s\n", i+1, it.Text, marker)
		}
		b.WriteString("\n")
	}

	if ts, err := time.Parse(time.RFC3339Nano, p.UpdatedAt); err == nil {
		fmt.Fprintf(&b, "Last activity: %s\n", ts.Format("2006-01-02 15:04"))
	}

	b.WriteString("\nDO NOT attempt to stop until all tasks are complete.\n\n")

	type todoEntry struct {
		Content    string `json:"content"`
		Status     string `json:"status"`
		ActiveForm string `json:"activeForm"`
	}
	todos := make([]todoEntry, 0, len(pending))
	for _, it := range pending {
		todos = append(todos, todoEntry{
			Content:    it.Text,
			Status:     "pending",
			ActiveForm: ActiveForm(it.Text),
		})
	}
	payload, err := json.MarshalIndent(todos, "", "  ")
	if err == nil {
		b.WriteString("---\nSync your todo list with these items to track progress:\n\n```json\n")
		b.Write(payload)
		b.WriteString("\n```")
	}
	return b.String()
}

var activeVerbs = map[string]string{
	"fix": "Fixing", "add": "Adding", "create": "Creating", "update": "Updating",
	"run": "Running", "test": "Testing", "deploy": "Deploying", "implement": "Implementing",
	"modify": "Modifying", "remove": "Removing", "delete": "Deleting", "refactor": "Refactoring",
	"write": "Writing", "read": "Reading", "build": "Building", "configure": "Configuring",
	"setup": "Setting up", "check": "Checking", "verify": "Verifying", "review": "Reviewing",
	"analyze": "Analyzing", "debug": "Debugging", "optimize": "Optimizing",
	"install": "Installing", "migrate": "Migrating", "integrate": "Integrating",
}

// ActiveForm 将任务描述转为现在进行时表述
// ActiveForm converts a task description to its present-participle form for
// todo-list display.
func ActiveForm(task string) string {
	task = strings.TrimSpace(task)
	if task == "" {
		return task
	}
	words := strings.Fields(task)
	first := strings.ToLower(words[0])
	if strings.HasSuffix(first, "ing") {
		return capitalize(task)
	}
	if active, ok := activeVerbs[first]; ok {
		words[0] = active
		return strings.Join(words, " ")
	}
	return capitalize(task)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
