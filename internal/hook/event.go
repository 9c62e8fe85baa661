// Package hook defines the JSON contract between the agent runtime and the
// plangate engine: one Event in on stdin, one Response out on stdout.
package hook

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event 每次生命周期事件通过 stdin 传入的载荷
// Event is the payload delivered on stdin for each lifecycle event.
type Event struct {
	SessionID      string          `json:"session_id"`
	Prompt         string          `json:"prompt,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
}

// Usage 单次工具调用/回合的 token 用量
// Usage reports token counts for a single tool call or turn.
type Usage struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Response 写回 stdout 的钩子响应
// Response is the hook response written to stdout.
type Response struct {
	Continue      bool   `json:"continue"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

// ReadEvent decodes a single event from r. The session id is normalized;
// a missing id falls back to "default" the way the original hooks did.
func ReadEvent(r io.Reader) (Event, error) {
	var ev Event
	dec := json.NewDecoder(r)
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("decode hook event: %w", err)
	}
	ev.SessionID = strings.TrimSpace(ev.SessionID)
	if ev.SessionID == "" {
		ev.SessionID = "default"
	}
	return ev, nil
}

// Allow 允许继续（可附带提示信息）
// Allow builds a permissive response with an optional message.
func Allow(msg string) Response {
	return Response{Continue: true, SystemMessage: msg}
}

// Block 阻断本次停止并返回纠正指令
// Block builds a blocking response carrying the corrective instruction.
func Block(msg string) Response {
	return Response{Continue: false, SystemMessage: msg}
}

// Write encodes the response as a single JSON line on w.
func (r Response) Write(w io.Writer) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal hook response: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write hook response: %w", err)
	}
	return nil
}
