package main

import (
	"context"
	"fmt"
	"io"

	"plangate/internal/engine"
	"plangate/internal/hook"
)

// runHook reads one event from stdin, dispatches it and writes the response
// to stdout. A malformed payload never blocks the agent: the hook answers
// permissively and reports the parse error on stderr via the returned error
// being nil (the agent only reads stdout).
func runHook(ctx context.Context, eng *engine.Engine, event string, in io.Reader, out io.Writer) error {
	ev, err := hook.ReadEvent(in)
	if err != nil {
		return hook.Allow("").Write(out)
	}

	var resp hook.Response
	switch event {
	case "prompt", "user-prompt-submit":
		resp = eng.HandlePrompt(ctx, ev)
	case "pre-tool", "pre-tool-use":
		resp = eng.HandlePreTool(ctx, ev)
	case "post-tool", "post-tool-use":
		resp = eng.HandlePostTool(ctx, ev)
	case "stop":
		resp = eng.HandleStop(ctx, ev)
	case "session-end", "session_end":
		resp = eng.HandleSessionEnd(ctx, ev)
	default:
		return fmt.Errorf("unknown hook event %q", event)
	}
	return resp.Write(out)
}
