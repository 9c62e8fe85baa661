package tui

import (
	"fmt"
	"strings"

	"plangate/internal/plan"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// PlanMarkdown 把计划渲染为 markdown 任务清单
// PlanMarkdown renders a plan as a markdown task checklist.
func PlanMarkdown(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	fmt.Fprintf(&b, "session `%s`", p.SessionID)
	if p.Source != "" {
		fmt.Fprintf(&b, " · source %s", p.Source)
	}
	fmt.Fprintf(&b, " · %d/%d done\n\n", p.CompletedCount(), len(p.Items))
	for _, it := range p.Items {
		mark := " "
		if it.Done() {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %d. %s\n", mark, it.ID, it.Text)
	}
	if p.PlanFile != "" {
		fmt.Fprintf(&b, "\ntracked from `%s`\n", p.PlanFile)
	}
	return b.String()
}
