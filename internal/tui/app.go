// Package tui 会话仪表盘：浏览被跟踪会话的计划进度、阻断计数和成本
// Package tui is the session dashboard: it lists tracked sessions with plan
// progress, stop-gate state and cost, plus continuations and history.
package tui

import (
	"fmt"
	"strings"

	"plangate/internal/plan"
	"plangate/internal/storage"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PanelID 面板标识
// PanelID identifies a panel
type PanelID int

const (
	PanelSessions PanelID = iota
	PanelContinuations
	PanelHistory
)

// Store is the slice of the storage layer the dashboard reads from.
type Store interface {
	ListPlans() ([]*plan.Plan, error)
	BlockedCount(sessionID string) (int, error)
	SessionCost(sessionID string) (storage.CostTotals, error)
	FindContinuations(prefix string) ([]storage.Continuation, error)
	ListHistory(limit int) ([]storage.HistoryEntry, error)
}

// sessionRow 会话列表的一行
// sessionRow is one line of the session list.
type sessionRow struct {
	Plan    *plan.Plan
	Blocked int
	Cost    float64
}

// snapshot 一次完整的数据刷新
// snapshot is one full data refresh.
type snapshot struct {
	Sessions      []sessionRow
	Continuations []storage.Continuation
	History       []storage.HistoryEntry
}

// snapshotMsg carries a finished refresh back into the Update loop.
type snapshotMsg struct {
	snap snapshot
	err  error
}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	store Store

	// 布局 / Layout
	width  int
	height int

	// 面板 / Panels
	activePanel PanelID
	listView    viewport.Model

	// 数据 / Data
	snap     snapshot
	selected int
	detail   *plan.Plan

	// 状态 / State
	lastError string

	// 配置 / Config
	theme Theme
	keys  KeyMap
}

// NewApp 创建仪表盘应用
// NewApp creates the dashboard application
func NewApp(store Store) App {
	return App{
		store:       store,
		activePanel: PanelSessions,
		theme:       DarkTheme(),
		keys:        DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return a.refresh()
}

// refresh 在后台加载一次快照
// refresh loads a snapshot off the Update loop.
func (a App) refresh() tea.Cmd {
	store := a.store
	return func() tea.Msg {
		snap, err := loadSnapshot(store)
		return snapshotMsg{snap: snap, err: err}
	}
}

func loadSnapshot(store Store) (snapshot, error) {
	var snap snapshot
	plans, err := store.ListPlans()
	if err != nil {
		return snap, fmt.Errorf("list plans: %w", err)
	}
	for _, p := range plans {
		row := sessionRow{Plan: p}
		if blocked, err := store.BlockedCount(p.SessionID); err == nil {
			row.Blocked = blocked
		}
		if totals, err := store.SessionCost(p.SessionID); err == nil {
			row.Cost = totals.Cost
		}
		snap.Sessions = append(snap.Sessions, row)
	}
	if recs, err := store.FindContinuations(""); err == nil {
		snap.Continuations = recs
	}
	if entries, err := store.ListHistory(50); err == nil {
		snap.History = entries
	}
	return snap, nil
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Back):
			if a.detail != nil {
				a.detail = nil
				a.syncContent()
			}
			return a, nil
		case key.Matches(msg, a.keys.SwitchPanel):
			a.activePanel = (a.activePanel + 1) % 3
			a.detail = nil
			a.selected = 0
			a.syncContent()
			return a, nil
		case key.Matches(msg, a.keys.Refresh):
			return a, a.refresh()
		case key.Matches(msg, a.keys.Detail):
			if a.activePanel == PanelSessions && a.detail == nil && a.selected < len(a.snap.Sessions) {
				a.detail = a.snap.Sessions[a.selected].Plan
				a.syncContent()
			}
			return a, nil
		case key.Matches(msg, a.keys.Up):
			if a.detail == nil && a.selected > 0 {
				a.selected--
				a.syncContent()
				return a, nil
			}
		case key.Matches(msg, a.keys.Down):
			if a.detail == nil && a.selected < a.rowCount()-1 {
				a.selected++
				a.syncContent()
				return a, nil
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case snapshotMsg:
		if msg.err != nil {
			a.lastError = msg.err.Error()
			return a, nil
		}
		a.lastError = ""
		a.snap = msg.snap
		if a.selected >= a.rowCount() {
			a.selected = 0
		}
		a.detail = nil
		a.syncContent()
		return a, nil
	}

	var cmd tea.Cmd
	a.listView, cmd = a.listView.Update(msg)
	return a, cmd
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := a.width * 25 / 100
	if sidebarWidth < 22 {
		sidebarWidth = 22
	}
	if sidebarWidth > 40 {
		sidebarWidth = 40
	}
	if a.width < 80 {
		sidebarWidth = 0
	}

	mainWidth := a.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth-- // border
	}

	statusHeight := 1
	tabHeight := 1
	panelHeight := a.height - statusHeight - tabHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	tabs := a.renderTabs()
	panel := lipgloss.NewStyle().Width(mainWidth).Height(panelHeight).Render(a.listView.View())
	statusBar := a.renderStatusBar(a.width)

	main := lipgloss.JoinVertical(lipgloss.Left, tabs, panel)
	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

// --- 内部方法 / Internal methods ---

func (a *App) rowCount() int {
	switch a.activePanel {
	case PanelSessions:
		return len(a.snap.Sessions)
	case PanelContinuations:
		return len(a.snap.Continuations)
	default:
		return len(a.snap.History)
	}
}

func (a *App) relayout() {
	mainWidth := a.width
	panelHeight := a.height - 2
	if panelHeight < 3 {
		panelHeight = 3
	}
	a.listView = viewport.New(mainWidth, panelHeight)
	a.syncContent()
}

func (a *App) syncContent() {
	var content string
	switch {
	case a.detail != nil:
		content = RenderMarkdown(PlanMarkdown(a.detail), a.listView.Width)
	case a.activePanel == PanelSessions:
		content = a.renderSessions()
	case a.activePanel == PanelContinuations:
		content = a.renderContinuations()
	default:
		content = a.renderHistory()
	}
	a.listView.SetContent(content)
	a.listView.GotoTop()
}

// --- 渲染方法 / Render methods ---

func (a App) renderTabs() string {
	tabs := []struct {
		id   PanelID
		name string
	}{
		{PanelSessions, "Sessions"},
		{PanelContinuations, "Continuations"},
		{PanelHistory, "History"},
	}

	var parts []string
	for _, tab := range tabs {
		style := a.theme.InactiveTabStyle
		if tab.id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(tab.name))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a App) renderSessions() string {
	if len(a.snap.Sessions) == 0 {
		return a.theme.MutedStyle.Render("  No tracked sessions")
	}
	var lines []string
	for i, row := range a.snap.Sessions {
		p := row.Plan
		done, total := p.CompletedCount(), len(p.Items)
		bar := renderProgressBar(percentOf(done, total), 16)
		line := fmt.Sprintf(" %-16s %-28s %s %d/%d", short(p.SessionID, 16), short(p.Name, 28), bar, done, total)
		if row.Blocked > 0 {
			line += a.theme.DangerStyle.Render(fmt.Sprintf("  blocked ×%d", row.Blocked))
		}
		if row.Cost > 0 {
			line += a.theme.MutedStyle.Render(fmt.Sprintf("  $%.4f", row.Cost))
		}
		if i == a.selected {
			line = a.theme.SelectedStyle.Render("▸") + line
		} else {
			line = " " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a App) renderContinuations() string {
	if len(a.snap.Continuations) == 0 {
		return a.theme.MutedStyle.Render("  No saved continuations")
	}
	var lines []string
	for i, rec := range a.snap.Continuations {
		line := fmt.Sprintf(" %-16s %-28s %d pending  %s",
			short(rec.SessionID, 16), short(rec.PlanName, 28), rec.PendingCount(), rec.SavedAt)
		if i == a.selected && a.activePanel == PanelContinuations {
			line = a.theme.SelectedStyle.Render("▸") + line
		} else {
			line = " " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a App) renderHistory() string {
	if len(a.snap.History) == 0 {
		return a.theme.MutedStyle.Render("  No session history")
	}
	var lines []string
	for _, e := range a.snap.History {
		status := a.theme.SuccessStyle.Render("done")
		if e.ItemsCompleted < e.ItemsTotal {
			status = a.theme.WarningStyle.Render("partial")
		}
		lines = append(lines, fmt.Sprintf("  %-16s %-28s %d/%d %s  %s",
			short(e.SessionID, 16), short(e.PlanName, 28), e.ItemsCompleted, e.ItemsTotal, status, e.EndedAt))
	}
	return strings.Join(lines, "\n")
}

func (a App) renderSidebar(width, height int) string {
	var parts []string

	parts = append(parts, a.theme.TitleStyle.Render(" plangate"))
	parts = append(parts, "")

	done, total := 0, 0
	blocked := 0
	cost := 0.0
	for _, row := range a.snap.Sessions {
		done += row.Plan.CompletedCount()
		total += len(row.Plan.Items)
		blocked += row.Blocked
		cost += row.Cost
	}

	parts = append(parts, a.theme.TitleStyle.Render(" Progress"))
	parts = append(parts, "  "+renderProgressBar(percentOf(done, total), width-4))
	parts = append(parts, fmt.Sprintf("  %d / %d tasks done", done, total))
	parts = append(parts, "")

	parts = append(parts, a.theme.TitleStyle.Render(" Sessions"))
	parts = append(parts, fmt.Sprintf("  active: %d", len(a.snap.Sessions)))
	parts = append(parts, fmt.Sprintf("  continuations: %d", len(a.snap.Continuations)))
	if blocked > 0 {
		parts = append(parts, a.theme.DangerStyle.Render(fmt.Sprintf("  stops blocked: %d", blocked)))
	}
	parts = append(parts, "")

	if cost > 0 {
		parts = append(parts, a.theme.TitleStyle.Render(" Cost"))
		parts = append(parts, fmt.Sprintf("  $%.4f total", cost))
		parts = append(parts, "")
	}

	content := strings.Join(parts, "\n")
	return a.theme.SidebarStyle.Width(width).Height(height).Render(content)
}

func (a App) renderStatusBar(width int) string {
	left := " tab: panel · ↑/↓: select · enter: plan · r: refresh · q: quit"
	right := ""
	if a.lastError != "" {
		right = a.theme.DangerStyle.Render(a.lastError) + "  "
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(width).Render(bar)
}

func renderProgressBar(percent float64, width int) string {
	if width < 4 {
		width = 4
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percentOf(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func short(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

// Run 启动仪表盘
// Run starts the dashboard program.
func Run(store Store) error {
	app := NewApp(store)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}
