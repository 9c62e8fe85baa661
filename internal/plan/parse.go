package plan

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// 计划文件解析：支持 markdown 勾选框与 JSON 两种格式。
// Plan file parsing: markdown checkbox lists and JSON documents.

var (
	checkboxRe = regexp.MustCompile(`^[-*]\s*\[([ xX~])\]\s*(.+)$`)
	headerRe   = regexp.MustCompile(`^#{1,3}\s*(.+)$`)
	nameRe     = regexp.MustCompile(`(?m)^#\s+(?:Plan:?\s*)?(.+)$`)
)

// nonActionableSections: checkbox items under these headings are templates or
// category checklists, not tasks, and are skipped so they never gate a stop.
var nonActionableSections = []string{
	"template",
	"categories",
	"what to look for",
	"per-module",
	"checklist items",
	"cross-cutting concerns",
}

// IsPlanFile reports whether path looks like a tracked plan document.
func IsPlanFile(path string) bool {
	cleaned := filepath.ToSlash(path)
	if !strings.Contains(cleaned, "/plans/") && !strings.HasPrefix(cleaned, "plans/") {
		return false
	}
	switch filepath.Ext(cleaned) {
	case ".md", ".json":
		return true
	default:
		return false
	}
}

// ParseMarkdown extracts a plan from a markdown document. Only checkbox
// items (- [ ] / - [x]) become tasks; numbered lists, headers and prose are
// ignored so design notes never turn into tracked items. A [~] box or a
// template-style section heading marks an entry as non-actionable and it is
// dropped.
func ParseMarkdown(sessionID, path, content string) *Plan {
	p := New(sessionID, "")
	p.Source = "file"
	p.PlanFile = path

	if m := nameRe.FindStringSubmatch(content); m != nil {
		p.Name = strings.TrimSpace(m[1])
	}
	if p.Name == "" {
		p.Name = "Unnamed Plan"
	}

	section := ""
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if m := headerRe.FindStringSubmatch(line); m != nil {
			section = strings.TrimSpace(m[1])
			continue
		}
		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		box := strings.ToLower(m[1])
		if box == "~" || isNonActionableSection(section) {
			continue
		}
		item, err := p.Append(m[2])
		if err != nil {
			continue
		}
		if box == "x" {
			p.Complete(item.ID)
		}
	}
	return p
}

type jsonPlanDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Items       []struct {
		Task   string `json:"task"`
		Text   string `json:"text"`
		Status string `json:"status"`
	} `json:"items"`
}

// ParseJSON extracts a plan from a JSON plan document.
func ParseJSON(sessionID, path, content string) (*Plan, error) {
	var doc jsonPlanDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("%w: parse json plan: %v", ErrValidation, err)
	}
	p := New(sessionID, doc.Name)
	p.Source = "file"
	p.PlanFile = path
	if p.Name == "" {
		p.Name = "Unnamed Plan"
	}
	for _, entry := range doc.Items {
		text := entry.Task
		if text == "" {
			text = entry.Text
		}
		item, err := p.Append(text)
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(entry.Status)) {
		case "completed", "done":
			p.Complete(item.ID)
		}
	}
	return p, nil
}

// ParseFile picks the parser from the file extension.
func ParseFile(sessionID, path, content string) (*Plan, error) {
	if filepath.Ext(path) == ".json" {
		return ParseJSON(sessionID, path, content)
	}
	return ParseMarkdown(sessionID, path, content), nil
}

// CarryStatuses preserves the completed status of same-text items when a
// plan file is rewritten mid-session.
func CarryStatuses(fresh, previous *Plan) {
	if previous == nil {
		return
	}
	done := make(map[string]bool, len(previous.Items))
	for _, it := range previous.Items {
		if it.Done() {
			done[foldText(it.Text)] = true
		}
	}
	for i := range fresh.Items {
		if fresh.Items[i].Status == StatusPending && done[foldText(fresh.Items[i].Text)] {
			fresh.Items[i].Status = StatusDone
			fresh.Items[i].CompletedAt = previous.UpdatedAt
		}
	}
}

func isNonActionableSection(section string) bool {
	if section == "" {
		return false
	}
	lower := strings.ToLower(section)
	for _, kw := range nonActionableSections {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
