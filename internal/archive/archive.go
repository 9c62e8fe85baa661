// Package archive 会话结束时将计划落盘为 JSON 归档
// Package archive writes finished plans to JSON files and prunes old ones.
// Files are written to a temp path and renamed into place so a crash never
// leaves a truncated archive.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"plangate/internal/plan"
)

// DefaultKeep 归档保留数量 / how many archive files to keep
const DefaultKeep = 50

// Record is the archived snapshot of a finished plan.
type Record struct {
	SessionID      string      `json:"session_id"`
	PlanName       string      `json:"plan_name"`
	Outcome        string      `json:"outcome"`
	ItemsTotal     int         `json:"items_total"`
	ItemsCompleted int         `json:"items_completed"`
	Items          []plan.Item `json:"items"`
	CreatedAt      string      `json:"created_at"`
	ArchivedAt     string      `json:"archived_at"`
}

// Archiver writes and prunes plan archives in one directory.
type Archiver struct {
	dir  string
	keep int
}

// New creates an archiver. Non-positive keep falls back to the default.
func New(dir string, keep int) *Archiver {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Archiver{dir: dir, keep: keep}
}

// Archive 写入 plan_<时间戳>_<安全名>.json 并返回路径
// Archive writes plan_<ts>_<safe-name>.json and returns the file path.
// A nil or empty plan archives nothing and returns "".
func (a *Archiver) Archive(p *plan.Plan, outcome string) (string, error) {
	if p == nil || len(p.Items) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	now := time.Now().UTC()
	rec := Record{
		SessionID:      p.SessionID,
		PlanName:       p.Name,
		Outcome:        outcome,
		ItemsTotal:     len(p.Items),
		ItemsCompleted: p.CompletedCount(),
		Items:          p.Items,
		CreatedAt:      p.CreatedAt,
		ArchivedAt:     now.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	name := fmt.Sprintf("plan_%s_%s.json", now.Format("20060102_150405"), safeName(p.Name))
	path := filepath.Join(a.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	return path, nil
}

// Prune 删除最旧的归档直到数量不超过上限，返回删除数量
// Prune removes the oldest archives beyond the keep limit. The timestamp in
// the filename makes lexical order chronological.
func (a *Archiver) Prune() (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read archive dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "plan_") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) <= a.keep {
		return 0, nil
	}
	sort.Strings(names)

	removed := 0
	for _, name := range names[:len(names)-a.keep] {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// List returns archive file paths, newest first.
func (a *Archiver) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "plan_") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(a.dir, name)
	}
	return paths, nil
}

// Load reads one archive file back.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read archive: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parse archive %s: %w", path, err)
	}
	return rec, nil
}

// safeName 文件名安全化：小写，非字母数字折叠为连字符
// safeName folds a plan name into a filesystem-safe slug.
func safeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unnamed"
	}
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "unnamed"
	}
	if len(out) > 48 {
		out = out[:48]
	}
	return out
}
