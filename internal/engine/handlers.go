package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"plangate/internal/gate"
	"plangate/internal/hook"
	"plangate/internal/lexical"
	"plangate/internal/plan"
	"plangate/internal/storage"
	"plangate/internal/verify"
)

// HandlePrompt 处理用户提交提示词：计划命令与上下文注入
// HandlePrompt intercepts the plan commands and injects plan context.
// After a blocked stop or on a resumed plan the full context goes in;
// otherwise a pending plan gets a one-line reminder.
func (e *Engine) HandlePrompt(ctx context.Context, ev hook.Event) hook.Response {
	prompt := strings.TrimSpace(ev.Prompt)

	if resp, handled := e.handlePlanCommand(ev.SessionID, prompt); handled {
		return resp
	}
	// other slash/at commands pass through untouched
	if strings.HasPrefix(prompt, "/") || strings.HasPrefix(prompt, "@") {
		return hook.Allow("")
	}

	p, err := e.loadPlan(ev.SessionID)
	if err != nil {
		e.log.Error("load plan for prompt", err)
		return hook.Allow("")
	}
	if p == nil || len(p.Items) == 0 || len(p.Pending()) == 0 {
		return hook.Allow("")
	}

	blocked, err := e.store.BlockedCount(ev.SessionID)
	if err != nil {
		e.log.Error("load blocked count", err)
	}
	if blocked > 0 || p.Source == "continuation" {
		return hook.Allow(plan.FullContext(p))
	}
	return hook.Allow(plan.BriefReminder(p))
}

func (e *Engine) handlePlanCommand(sessionID, prompt string) (hook.Response, bool) {
	fields := strings.Fields(prompt)
	if len(fields) == 0 {
		return hook.Response{}, false
	}

	switch strings.ToLower(fields[0]) {
	case "/plan", "/newplan":
		name := strings.TrimSpace(strings.TrimPrefix(prompt, fields[0]))
		if name == "" {
			name = "Session plan"
		}
		p := plan.New(sessionID, name)
		if err := e.store.SavePlan(p); err != nil {
			e.log.Error("save new plan", err)
			return hook.Allow("Plan could not be created; see the engine log."), true
		}
		// a fresh plan starts a fresh corrective loop
		if err := e.store.ResetBlocked(sessionID); err != nil {
			e.log.Error("reset blocked count", err)
		}
		return hook.Allow(fmt.Sprintf("Plan %q created. Add tasks with a plans/*.md checklist or the plan console.", name)), true

	case "/clearplan":
		if err := e.store.DeletePlan(sessionID); err != nil {
			e.log.Error("clear plan", err)
		}
		if err := e.store.ResetBlocked(sessionID); err != nil {
			e.log.Error("reset blocked count", err)
		}
		return hook.Allow("Plan cleared."), true

	case "/showplan":
		p, err := e.loadPlan(sessionID)
		if err != nil {
			e.log.Error("load plan", err)
		}
		if p == nil || len(p.Items) == 0 {
			return hook.Allow("No plan for this session."), true
		}
		return hook.Allow(plan.Summary(p)), true
	}
	return hook.Response{}, false
}

// todoPayload is the todowrite tool input shape.
type todoPayload struct {
	Todos []struct {
		Content    string `json:"content"`
		Status     string `json:"status"`
		ActiveForm string `json:"activeForm"`
	} `json:"todos"`
}

// fileToolInput 写文件类工具的入参 / input shape of file-writing tools
type fileToolInput struct {
	FilePath string `json:"file_path"`
	Path     string `json:"path"`
	Content  string `json:"content"`
}

func (in fileToolInput) path() string {
	if in.FilePath != "" {
		return in.FilePath
	}
	return in.Path
}

// HandlePostTool 工具执行后：todo 同步、计划文件跟踪、费用累计
// HandlePostTool reconciles todowrite payloads against the plan, tracks
// plan-file writes, and accrues token usage. A malformed payload changes no
// state and stays permissive; the only blocking outcome is a session cost
// past the configured limit.
func (e *Engine) HandlePostTool(ctx context.Context, ev hook.Event) hook.Response {
	var messages []string

	switch strings.ToLower(strings.TrimSpace(ev.ToolName)) {
	case "todowrite":
		if msg := e.reconcileTodos(ev); msg != "" {
			messages = append(messages, msg)
		}
	case "write", "edit", "patch", "write_file", "create_file":
		if msg := e.trackPlanFile(ev); msg != "" {
			messages = append(messages, msg)
		}
	}

	if ev.Usage != nil {
		status, err := e.costs.Accrue(ev.SessionID, ev.Usage.Model, ev.Usage.InputTokens, ev.Usage.OutputTokens)
		if err != nil {
			e.log.Error("accrue cost", err)
		} else {
			if msg := status.Message(); msg != "" {
				messages = append(messages, msg)
			}
			// 超出预算直接停止会话 / past the budget the session halts here
			if status.OverLimit {
				return hook.Block(strings.Join(messages, "\n"))
			}
		}
	}

	return hook.Allow(strings.Join(messages, "\n"))
}

func (e *Engine) reconcileTodos(ev hook.Event) string {
	var payload todoPayload
	if err := json.Unmarshal(ev.ToolInput, &payload); err != nil {
		e.log.Error("parse todowrite payload", err)
		return ""
	}
	if len(payload.Todos) == 0 {
		return ""
	}

	p, err := e.loadPlan(ev.SessionID)
	if err != nil {
		e.log.Error("load plan for todo sync", err)
		return ""
	}
	if p == nil {
		return ""
	}

	report := plan.Report{}
	for _, todo := range payload.Todos {
		report.Entries = append(report.Entries, plan.ReportEntry{
			Text:      todo.Content,
			Completed: strings.EqualFold(todo.Status, "completed"),
		})
	}

	result, err := plan.Reconcile(report, p, e.cfg.Match.Threshold)
	if err != nil {
		e.log.Error("reconcile todos", err)
		return ""
	}
	if !result.Changed() {
		return ""
	}
	if err := e.store.SavePlan(p); err != nil {
		e.log.Error("save reconciled plan", err)
		return ""
	}
	return fmt.Sprintf("Plan sync: %d/%d tasks complete.", p.CompletedCount(), len(p.Items))
}

func (e *Engine) trackPlanFile(ev hook.Event) string {
	var in fileToolInput
	if err := json.Unmarshal(ev.ToolInput, &in); err != nil {
		e.log.Error("parse file tool input", err)
		return ""
	}
	path := in.path()
	if !plan.IsPlanFile(path) {
		return ""
	}

	content := in.Content
	if content == "" {
		// edits do not carry the full document; read it back
		data, err := os.ReadFile(path)
		if err != nil {
			e.log.Error("read plan file", err)
			return ""
		}
		content = string(data)
	}

	fresh, err := plan.ParseFile(ev.SessionID, path, content)
	if err != nil {
		e.log.Error("parse plan file", err)
		return ""
	}
	if fresh == nil || len(fresh.Items) == 0 {
		return ""
	}

	previous, err := e.loadPlan(ev.SessionID)
	if err != nil {
		e.log.Error("load previous plan", err)
	}
	plan.CarryStatuses(fresh, previous)

	if err := e.store.SavePlan(fresh); err != nil {
		e.log.Error("save tracked plan", err)
		return ""
	}
	// installing a plan re-initializes it; the stop counter starts over
	if err := e.store.ResetBlocked(ev.SessionID); err != nil {
		e.log.Error("reset blocked count", err)
	}
	return fmt.Sprintf("Plan %q tracked from %s (%d tasks).", fresh.Name, path, len(fresh.Items))
}

// HandlePreTool 文件编辑前的任务感知提醒
// HandlePreTool reminds the agent of the current task when the file being
// edited shares no keywords with it. Always allows.
func (e *Engine) HandlePreTool(ctx context.Context, ev hook.Event) hook.Response {
	switch strings.ToLower(strings.TrimSpace(ev.ToolName)) {
	case "write", "edit", "patch", "write_file", "create_file":
	default:
		return hook.Allow("")
	}

	var in fileToolInput
	if err := json.Unmarshal(ev.ToolInput, &in); err != nil {
		return hook.Allow("")
	}
	path := in.path()
	if path == "" || plan.IsPlanFile(path) {
		return hook.Allow("")
	}

	p, err := e.loadPlan(ev.SessionID)
	if err != nil || p == nil {
		return hook.Allow("")
	}
	pending := p.Pending()
	if len(pending) == 0 {
		return hook.Allow("")
	}

	current := pending[0]
	pathSet := lexical.Normalize(strings.NewReplacer("/", " ", ".", " ", "_", " ", "-", " ").Replace(path))
	if lexical.Score(pathSet, current.KeywordSet()) > 0 {
		return hook.Allow("")
	}
	return hook.Allow(fmt.Sprintf("Current task: %s. This edit does not appear related; stay on task or update the plan.", current.Text))
}

// HandleStop 终止判定：计划闸门、续作快照、复核、通知
// HandleStop runs the stop gate. Blocked attempts return the continuation
// instruction; allows snapshot pending work, trigger verification and
// validation, and notify.
func (e *Engine) HandleStop(ctx context.Context, ev hook.Event) hook.Response {
	p, err := e.loadPlan(ev.SessionID)
	if err != nil {
		// 读失败时按闸门的失败关闭规则处理 / fail closed on a broken read
		e.log.Error("load plan for stop", err)
		return hook.Block("Plan state could not be read; the stop is blocked. Check the plangate database.")
	}

	trigger := ev.Prompt
	if tail := transcriptTail(ev.TranscriptPath); tail != "" {
		trigger += "\n" + tail
	}

	decision, err := e.gate.Evaluate(ev.SessionID, p, trigger)
	if err != nil {
		e.log.Error("gate evaluate", err)
	}

	if decision.Kind == gate.Blocked {
		e.notify(ctx, ev.SessionID, p, "blocked", "")
		return hook.Block(decision.Message())
	}

	// any allow with pending work leaves a resumable snapshot
	if len(decision.Remaining) > 0 {
		if err := e.continuations.Snapshot(p); err != nil {
			e.log.Error("save continuation", err)
		}
	}

	msg := decision.Message()
	outcome := decision.Kind.String()

	if decision.Kind == gate.AllowedClean && p != nil && len(p.Items) > 0 && !decision.Override {
		if blockMsg := e.verifyCompleted(ctx, p); blockMsg != "" {
			e.notify(ctx, ev.SessionID, p, "blocked", blockMsg)
			return hook.Block(blockMsg)
		}
		if err := e.validator.Run(ctx, e.cfg.Validation.Commands); err != nil {
			e.log.Error("validation trigger", err)
		}
		if _, err := e.archiver.Archive(p, outcome); err != nil {
			e.log.Error("archive plan", err)
		}
	}

	e.notify(ctx, ev.SessionID, p, outcome, msg)
	return hook.Allow(msg)
}

// verifyCompleted 复核不通过时追加补救任务并给出拦截信息
// verifyCompleted returns a non-empty block message when the advisory
// verifier rejects the completed work. Verifier errors never block.
func (e *Engine) verifyCompleted(ctx context.Context, p *plan.Plan) string {
	if !e.verifier.Enabled() {
		return ""
	}
	res, err := e.verifier.Verify(ctx, p)
	if err != nil {
		e.log.Error("verify completed work", err)
		return ""
	}
	if res.Passed {
		return ""
	}

	added := verify.AppendRemediation(p, res)
	if added > 0 {
		if err := e.store.SavePlan(p); err != nil {
			e.log.Error("save remediation items", err)
		}
	}

	var b strings.Builder
	b.WriteString("Verification found problems with the completed work.\n")
	for _, issue := range res.Issues {
		fmt.Fprintf(&b, "  - %s\n", issue)
	}
	if added > 0 {
		fmt.Fprintf(&b, "%d remediation task(s) were added to the plan. Address them before stopping.", added)
	} else {
		b.WriteString("Review the completed tasks before stopping.")
	}
	return b.String()
}

// HandleSessionEnd 会话结束后的归档与清理
// HandleSessionEnd archives the plan, records history, removes live state,
// prunes old archives, and sweeps stale continuations.
func (e *Engine) HandleSessionEnd(ctx context.Context, ev hook.Event) hook.Response {
	p, err := e.store.LoadPlan(ev.SessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Error("load plan for session end", err)
	}

	if p != nil && len(p.Items) > 0 {
		archivePath, err := e.archiver.Archive(p, "session_end")
		if err != nil {
			e.log.Error("archive plan", err)
		}
		entry := storage.HistoryEntry{
			SessionID:      p.SessionID,
			PlanName:       p.Name,
			ItemsTotal:     len(p.Items),
			ItemsCompleted: p.CompletedCount(),
			ArchivePath:    archivePath,
			StartedAt:      p.CreatedAt,
		}
		if err := e.store.AppendHistory(entry); err != nil {
			e.log.Error("append history", err)
		}
	}

	if p != nil {
		if err := e.store.DeletePlan(ev.SessionID); err != nil {
			e.log.Error("delete plan", err)
		}
	}
	if err := e.store.ResetBlocked(ev.SessionID); err != nil {
		e.log.Error("reset blocked count", err)
	}

	if _, err := e.archiver.Prune(); err != nil {
		e.log.Error("prune archives", err)
	}
	if _, err := e.continuations.Sweep(timeNow()); err != nil {
		e.log.Error("sweep continuations", err)
	}
	return hook.Allow("")
}

func (e *Engine) notify(ctx context.Context, sessionID string, p *plan.Plan, outcome, msg string) {
	ev := notifyEvent(sessionID, p, outcome, msg)
	for _, err := range e.notifier.Send(ctx, ev) {
		e.log.Error("notify", err)
	}
}
