// Package debuglog 每个组件一个追加式日志文件，写入失败静默忽略
// Package debuglog gives each component an append-only JSONL file. Every
// write is best-effort: hook invocations must never fail because a log
// could not be written.
package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultMaxBytes = 20 << 20 // 20 MB, then the file is rotated aside

// Logger writes one JSON object per line to a component log file.
type Logger struct {
	path     string
	maxBytes int64
}

// New creates a logger writing to <dir>/<component>.log. An empty dir
// returns a no-op logger.
func New(dir, component string) *Logger {
	if dir == "" || component == "" {
		return &Logger{}
	}
	return &Logger{
		path:     filepath.Join(dir, component+".log"),
		maxBytes: defaultMaxBytes,
	}
}

// Printf appends a formatted message.
func (l *Logger) Printf(format string, args ...any) {
	l.write(map[string]any{"message": fmt.Sprintf(format, args...)})
}

// Error appends a message with its error, skipping nil errors.
func (l *Logger) Error(message string, err error) {
	if err == nil {
		return
	}
	l.write(map[string]any{"message": message, "error": err.Error()})
}

// With appends a message plus structured fields.
func (l *Logger) With(message string, fields map[string]any) {
	entry := map[string]any{"message": message}
	for k, v := range fields {
		entry[k] = v
	}
	l.write(entry)
}

func (l *Logger) write(entry map[string]any) {
	if l == nil || l.path == "" {
		return
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339)

	l.rotate()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	if data, err := json.Marshal(entry); err == nil {
		_, _ = f.Write(append(data, '\n'))
	}
	_ = f.Close()
}

// rotate 超过上限时把当前文件挪到 .old / move an oversized file aside
func (l *Logger) rotate() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() < l.maxBytes {
		return
	}
	_ = os.Rename(l.path, l.path+".old")
}
