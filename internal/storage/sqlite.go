package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plangate/internal/plan"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode. The busy timeout
// plus transactional read-modify-write keeps same-session invocations
// serialized; a crash mid-transaction leaves the previous committed state.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes the SQLite database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		session_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL DEFAULT 'command',
		plan_file  TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plan_items (
		session_id   TEXT NOT NULL REFERENCES plans(session_id) ON DELETE CASCADE,
		id           INTEGER NOT NULL,
		text         TEXT NOT NULL,
		keywords     TEXT NOT NULL DEFAULT '[]',
		status       TEXT NOT NULL DEFAULT 'pending',
		completed_at TEXT NOT NULL DEFAULT '',
		PRIMARY KEY(session_id, id)
	);

	CREATE TABLE IF NOT EXISTS stop_attempts (
		session_id    TEXT PRIMARY KEY,
		blocked_count INTEGER NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS continuations (
		session_id TEXT PRIMARY KEY,
		plan_name  TEXT NOT NULL DEFAULT '',
		items      TEXT NOT NULL DEFAULT '[]',
		saved_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_costs (
		session_id    TEXT PRIMARY KEY,
		cost          REAL NOT NULL DEFAULT 0,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		tool_calls    INTEGER NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_history (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id      TEXT NOT NULL,
		plan_name       TEXT NOT NULL DEFAULT '',
		items_total     INTEGER NOT NULL DEFAULT 0,
		items_completed INTEGER NOT NULL DEFAULT 0,
		archive_path    TEXT NOT NULL DEFAULT '',
		started_at      TEXT NOT NULL DEFAULT '',
		ended_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS active_plan (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		session_id TEXT NOT NULL,
		plan_name  TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plan_items_session ON plan_items(session_id);
	CREATE INDEX IF NOT EXISTS idx_continuations_saved ON continuations(saved_at);
	CREATE INDEX IF NOT EXISTS idx_history_ended ON session_history(ended_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Plan Operations ---

func (s *SQLiteStore) SavePlan(p *plan.Plan) error {
	if p == nil || strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("plan session id is empty")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO plans (session_id, name, source, plan_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name=excluded.name, source=excluded.source, plan_file=excluded.plan_file,
			updated_at=excluded.updated_at`,
		p.SessionID, p.Name, p.Source, p.PlanFile, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM plan_items WHERE session_id=?", p.SessionID); err != nil {
		return fmt.Errorf("delete old items: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO plan_items (session_id, id, text, keywords, status, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range p.Items {
		keywords := "[]"
		if len(it.Keywords) > 0 {
			if data, marshalErr := json.Marshal(it.Keywords); marshalErr == nil {
				keywords = string(data)
			}
		}
		if _, err := stmt.Exec(p.SessionID, it.ID, it.Text, keywords, it.Status, it.CompletedAt); err != nil {
			return fmt.Errorf("insert item %d: %w", it.ID, err)
		}
	}

	// 同步活跃计划指针 / Keep the active-plan pointer on the latest mutation
	if _, err := tx.Exec(`
		INSERT INTO active_plan (id, session_id, plan_name, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, plan_name=excluded.plan_name,
			updated_at=excluded.updated_at`,
		p.SessionID, p.Name, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update active plan: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadPlan(sessionID string) (*plan.Plan, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	row := s.db.QueryRow(`
		SELECT session_id, name, source, plan_file, created_at, updated_at
		FROM plans WHERE session_id=?`, sessionID)

	var p plan.Plan
	err := row.Scan(&p.SessionID, &p.Name, &p.Source, &p.PlanFile, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("plan for %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}

	items, err := s.loadItems(sessionID)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return &p, nil
}

func (s *SQLiteStore) loadItems(sessionID string) ([]plan.Item, error) {
	rows, err := s.db.Query(`
		SELECT id, text, keywords, status, completed_at
		FROM plan_items WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []plan.Item
	for rows.Next() {
		var it plan.Item
		var keywords string
		if err := rows.Scan(&it.ID, &it.Text, &keywords, &it.Status, &it.CompletedAt); err != nil {
			continue
		}
		if keywords != "" && keywords != "[]" {
			var toks []string
			if err := json.Unmarshal([]byte(keywords), &toks); err == nil {
				it.Keywords = toks
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeletePlan(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	if _, err := s.db.Exec("DELETE FROM plans WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	// 清理指向该会话的活跃指针 / Drop the pointer when it references this session
	if _, err := s.db.Exec("DELETE FROM active_plan WHERE id=1 AND session_id=?", sessionID); err != nil {
		return fmt.Errorf("clear active plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPlans() ([]*plan.Plan, error) {
	rows, err := s.db.Query(`
		SELECT session_id, name, source, plan_file, created_at, updated_at
		FROM plans ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*plan.Plan
	for rows.Next() {
		var p plan.Plan
		if err := rows.Scan(&p.SessionID, &p.Name, &p.Source, &p.PlanFile, &p.CreatedAt, &p.UpdatedAt); err != nil {
			continue
		}
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range plans {
		items, err := s.loadItems(p.SessionID)
		if err != nil {
			return nil, err
		}
		p.Items = items
	}
	return plans, nil
}

// --- Blocked-Attempt Counter ---

func (s *SQLiteStore) BlockedCount(sessionID string) (int, error) {
	row := s.db.QueryRow("SELECT blocked_count FROM stop_attempts WHERE session_id=?", sessionID)
	var count int
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("load blocked count: %w", err)
	}
	return count, nil
}

// IncrementBlocked 原子加一并返回新值
// IncrementBlocked atomically bumps the counter and returns the new value.
func (s *SQLiteStore) IncrementBlocked(sessionID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is empty")
	}
	if _, err := s.db.Exec(`
		INSERT INTO stop_attempts (session_id, blocked_count, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			blocked_count=blocked_count+1, updated_at=excluded.updated_at`,
		sessionID, nowUTC(),
	); err != nil {
		return 0, fmt.Errorf("increment blocked count: %w", err)
	}
	return s.BlockedCount(sessionID)
}

func (s *SQLiteStore) ResetBlocked(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM stop_attempts WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("reset blocked count: %w", err)
	}
	return nil
}

// --- Continuations ---

func (s *SQLiteStore) SaveContinuation(rec Continuation) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("continuation session id is empty")
	}
	if strings.TrimSpace(rec.SavedAt) == "" {
		rec.SavedAt = nowUTC()
	}
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("marshal continuation items: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO continuations (session_id, plan_name, items, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			plan_name=excluded.plan_name, items=excluded.items, saved_at=excluded.saved_at`,
		rec.SessionID, rec.PlanName, string(items), rec.SavedAt,
	); err != nil {
		return fmt.Errorf("save continuation: %w", err)
	}
	return nil
}

// FindContinuations 按会话 ID 前缀查找，最近保存的在前
// FindContinuations matches a session-id prefix, most recently saved first.
// An empty prefix lists everything.
func (s *SQLiteStore) FindContinuations(prefix string) ([]Continuation, error) {
	pattern := escapeLike(strings.TrimSpace(prefix)) + "%"
	rows, err := s.db.Query(`
		SELECT session_id, plan_name, items, saved_at
		FROM continuations WHERE session_id LIKE ? ESCAPE '\'
		ORDER BY saved_at DESC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("find continuations: %w", err)
	}
	defer rows.Close()

	var recs []Continuation
	for rows.Next() {
		var rec Continuation
		var items string
		if err := rows.Scan(&rec.SessionID, &rec.PlanName, &items, &rec.SavedAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(items), &rec.Items); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) DeleteContinuation(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM continuations WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete continuation: %w", err)
	}
	return nil
}

// SweepContinuations 删除早于给定时间的快照，返回删除数量
// SweepContinuations removes snapshots saved before the cutoff and returns
// how many were removed.
func (s *SQLiteStore) SweepContinuations(olderThan time.Time) (int, error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)
	res, err := s.db.Exec("DELETE FROM continuations WHERE saved_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep continuations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// --- Cost Ledger ---

func (s *SQLiteStore) AddCost(sessionID string, delta CostDelta) (CostTotals, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CostTotals{}, fmt.Errorf("session id is empty")
	}
	if _, err := s.db.Exec(`
		INSERT INTO session_costs (session_id, cost, input_tokens, output_tokens, tool_calls, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			cost=cost+excluded.cost,
			input_tokens=input_tokens+excluded.input_tokens,
			output_tokens=output_tokens+excluded.output_tokens,
			tool_calls=tool_calls+1,
			updated_at=excluded.updated_at`,
		sessionID, delta.Cost, delta.InputTokens, delta.OutputTokens, nowUTC(),
	); err != nil {
		return CostTotals{}, fmt.Errorf("add cost: %w", err)
	}
	return s.SessionCost(sessionID)
}

func (s *SQLiteStore) SessionCost(sessionID string) (CostTotals, error) {
	row := s.db.QueryRow(`
		SELECT session_id, cost, input_tokens, output_tokens, tool_calls, updated_at
		FROM session_costs WHERE session_id=?`, sessionID)
	var t CostTotals
	err := row.Scan(&t.SessionID, &t.Cost, &t.InputTokens, &t.OutputTokens, &t.ToolCalls, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return CostTotals{SessionID: sessionID}, nil
		}
		return CostTotals{}, fmt.Errorf("load session cost: %w", err)
	}
	return t, nil
}

// --- Session History ---

const historyCap = 100

func (s *SQLiteStore) AppendHistory(entry HistoryEntry) error {
	if strings.TrimSpace(entry.EndedAt) == "" {
		entry.EndedAt = nowUTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO session_history (session_id, plan_name, items_total, items_completed, archive_path, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.PlanName, entry.ItemsTotal, entry.ItemsCompleted,
		entry.ArchivePath, entry.StartedAt, entry.EndedAt,
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	// 只保留最近 100 条 / Keep only the most recent 100 entries
	if _, err := tx.Exec(`
		DELETE FROM session_history WHERE id NOT IN (
			SELECT id FROM session_history ORDER BY id DESC LIMIT ?
		)`, historyCap,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListHistory(limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	rows, err := s.db.Query(`
		SELECT session_id, plan_name, items_total, items_completed, archive_path, started_at, ended_at
		FROM session_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.SessionID, &e.PlanName, &e.ItemsTotal, &e.ItemsCompleted,
			&e.ArchivePath, &e.StartedAt, &e.EndedAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Active Plan Pointer ---

func (s *SQLiteStore) ActivePlan() (ActivePlanRef, error) {
	row := s.db.QueryRow("SELECT session_id, plan_name, updated_at FROM active_plan WHERE id=1")
	var ref ActivePlanRef
	err := row.Scan(&ref.SessionID, &ref.PlanName, &ref.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ActivePlanRef{}, fmt.Errorf("active plan: %w", ErrNotFound)
		}
		return ActivePlanRef{}, fmt.Errorf("load active plan: %w", err)
	}
	return ref, nil
}

func (s *SQLiteStore) SetActivePlan(ref ActivePlanRef) error {
	if strings.TrimSpace(ref.UpdatedAt) == "" {
		ref.UpdatedAt = nowUTC()
	}
	if _, err := s.db.Exec(`
		INSERT INTO active_plan (id, session_id, plan_name, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, plan_name=excluded.plan_name,
			updated_at=excluded.updated_at`,
		ref.SessionID, ref.PlanName, ref.UpdatedAt,
	); err != nil {
		return fmt.Errorf("set active plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearActivePlan() error {
	if _, err := s.db.Exec("DELETE FROM active_plan WHERE id=1"); err != nil {
		return fmt.Errorf("clear active plan: %w", err)
	}
	return nil
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
