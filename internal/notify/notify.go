// Package notify 在会话终止判定后发送尽力而为的通知
// Package notify delivers best-effort notifications after a stop decision.
// Channel failures are reported to the caller for logging only and never
// change a decision.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Event is the payload every channel receives, one JSON object per event.
type Event struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"` // allowed, allowed_forced, blocked
	PlanName  string `json:"plan_name,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
	At        string `json:"at"`
}

// Channel delivers one event somewhere.
type Channel interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// TCPChannel writes the event as one JSON line to a listening socket.
type TCPChannel struct {
	Addr    string
	Timeout time.Duration
}

func (c *TCPChannel) Name() string { return "tcp" }

func (c *TCPChannel) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if c.Timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to %s: %w", c.Addr, err)
	}
	return nil
}

// WebhookChannel posts the event as JSON to an HTTP endpoint.
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", c.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", c.URL, resp.StatusCode)
	}
	return nil
}

// FileChannel appends the event as one JSON line to a local file.
type FileChannel struct {
	Path string
}

func (c *FileChannel) Name() string { return "file" }

func (c *FileChannel) Notify(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if dir := filepath.Dir(c.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create notify dir: %w", err)
		}
	}
	f, err := os.OpenFile(c.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", c.Path, err)
	}
	return nil
}

// Notifier fans an event out to every configured channel.
type Notifier struct {
	channels []Channel
	timeout  time.Duration
}

// New builds a notifier. A zero timeout defaults to two seconds; the same
// deadline bounds each channel.
func New(timeout time.Duration, channels ...Channel) *Notifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Notifier{channels: channels, timeout: timeout}
}

// Send 向所有通道发送事件，收集错误供调用方记录日志
// Send delivers the event to every channel and returns per-channel errors
// for logging. It never aborts early; one failing channel does not stop
// the others.
func (n *Notifier) Send(ctx context.Context, ev Event) []error {
	if ev.At == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	var errs []error
	for _, ch := range n.channels {
		cctx, cancel := context.WithTimeout(ctx, n.timeout)
		if err := ch.Notify(cctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
		cancel()
	}
	return errs
}
