// Package engine 把各生命周期事件映射到计划同步与终止判定
// Package engine composes the plan store, matcher, stop gate, and
// collaborators into one handler per lifecycle event.
package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"plangate/internal/archive"
	"plangate/internal/config"
	"plangate/internal/continuation"
	"plangate/internal/cost"
	"plangate/internal/debuglog"
	"plangate/internal/gate"
	"plangate/internal/notify"
	"plangate/internal/plan"
	"plangate/internal/storage"
	"plangate/internal/verify"
)

// ValidationRunner 在干净放行后执行配置的校验命令
// ValidationRunner runs the configured validation commands after a clean
// allow. Execution is behind this interface; the engine only triggers it.
type ValidationRunner interface {
	Run(ctx context.Context, commands []string) error
}

// NopValidator ignores the trigger.
type NopValidator struct{}

func (NopValidator) Run(context.Context, []string) error { return nil }

// Engine handles hook events against durable per-session state.
type Engine struct {
	store         storage.Store
	cfg           config.Config
	gate          *gate.Gate
	continuations *continuation.Manager
	costs         *cost.Tracker
	notifier      *notify.Notifier
	verifier      *verify.Client
	archiver      *archive.Archiver
	validator     ValidationRunner
	log           *debuglog.Logger
}

// New wires an engine from configuration. Notification channels are only
// attached when configured; the verifier stays inert unless enabled.
func New(store storage.Store, cfg config.Config) *Engine {
	notifyTimeout := time.Duration(cfg.Notify.TimeoutMS) * time.Millisecond
	var channels []notify.Channel
	if cfg.Notify.TCPAddr != "" {
		channels = append(channels, &notify.TCPChannel{Addr: cfg.Notify.TCPAddr, Timeout: notifyTimeout})
	}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, &notify.WebhookChannel{URL: cfg.Notify.WebhookURL})
	}
	if cfg.Notify.File != "" {
		channels = append(channels, &notify.FileChannel{Path: cfg.Notify.File})
	}

	return &Engine{
		store:         store,
		cfg:           cfg,
		gate:          gate.New(store, cfg.Gate.MaxStopAttempts, cfg.Gate.OverridePhrases),
		continuations: continuation.NewManager(store, time.Duration(cfg.Retention.ContinuationDays)*24*time.Hour),
		costs:         cost.NewTracker(store, cfg.Cost.LimitUSD, cfg.Cost.WarnFraction),
		notifier:      notify.New(notifyTimeout, channels...),
		verifier: verify.NewClient(verify.Config{
			Enabled:             cfg.Verify.Enabled,
			BaseURL:             cfg.Verify.BaseURL,
			APIKey:              cfg.Verify.APIKey,
			Model:               cfg.Verify.Model,
			TimeoutMS:           cfg.Verify.TimeoutMS,
			ConfidenceThreshold: cfg.Verify.ConfidenceThreshold,
		}),
		archiver:  archive.New(cfg.Storage.ArchiveDir(), cfg.Retention.ArchiveKeep),
		validator: NopValidator{},
		log:       debuglog.New(cfg.Storage.LogDir(), "engine"),
	}
}

// SetValidator swaps in a real validation runner.
func (e *Engine) SetValidator(v ValidationRunner) {
	if v != nil {
		e.validator = v
	}
}

// Continuations exposes the continuation manager for the resume command.
func (e *Engine) Continuations() *continuation.Manager { return e.continuations }

// Costs exposes the cost tracker for the dashboard and sessions views.
func (e *Engine) Costs() *cost.Tracker { return e.costs }

// loadPlan 优先取会话自己的计划，缺失时回退到活跃计划指针
// loadPlan prefers the session's own plan and falls back to the active-plan
// pointer, which bridges hook invocations that arrive under a fresh session
// id. Returns nil without error when no plan exists anywhere.
func (e *Engine) loadPlan(sessionID string) (*plan.Plan, error) {
	p, err := e.store.LoadPlan(sessionID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	ref, err := e.store.ActivePlan()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if ref.SessionID == "" || ref.SessionID == sessionID {
		return nil, nil
	}
	p, err = e.store.LoadPlan(ref.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func timeNow() time.Time { return time.Now().UTC() }

func notifyEvent(sessionID string, p *plan.Plan, outcome, msg string) notify.Event {
	ev := notify.Event{SessionID: sessionID, Outcome: outcome, Message: msg}
	if p != nil {
		ev.PlanName = p.Name
		ev.Total = len(p.Items)
		ev.Completed = p.CompletedCount()
	}
	return ev
}

// transcriptTail reads the last chunk of the transcript so override phrases
// typed near the end of a session are seen at stop time.
func transcriptTail(path string) string {
	if path == "" {
		return ""
	}
	const tailBytes = 4096
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - tailBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return ""
	}
	return string(buf[:n])
}
