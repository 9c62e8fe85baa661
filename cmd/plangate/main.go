package main

import (
	"context"
	"fmt"
	"os"

	"plangate/internal/config"
	"plangate/internal/engine"
	"plangate/internal/storage"
	"plangate/internal/tui"
)

const usageText = `plangate - plan synchronization and stop gating for coding agents

usage:
  plangate hook <event>     handle one lifecycle event (JSON on stdin)
                            events: prompt | pre-tool | post-tool | stop | session-end
  plangate plan             interactive plan console for the active session
  plangate sessions         list tracked sessions with progress and cost
  plangate resume <prefix>  restore a saved continuation into a new session
  plangate history          show recently ended sessions
  plangate dashboard        full-screen session dashboard
  plangate sweep            remove expired continuations and prune archives

flags:
  -config <path>            config JSON/JSONC (default: ~/.plangate/config.json)
`

func main() {
	args := os.Args[1:]
	configPath := ""
	// -config 可出现在子命令前 / -config may precede the subcommand
	if len(args) >= 2 && (args[0] == "-config" || args[0] == "--config") {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "init state dir failed: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	eng := engine.New(store, cfg)
	ctx := context.Background()

	switch cmd := args[0]; cmd {
	case "hook":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "hook: missing event name")
			os.Exit(2)
		}
		err = runHook(ctx, eng, args[1], os.Stdin, os.Stdout)
	case "plan":
		err = runPlanConsole(cfg, store)
	case "sessions":
		err = runSessions(store, os.Stdout)
	case "resume":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "resume: missing session prefix")
			os.Exit(2)
		}
		err = runResume(eng, store, args[1], os.Stdout)
	case "history":
		err = runHistory(store, os.Stdout)
	case "dashboard":
		err = tui.Run(store)
	case "sweep":
		err = runSweep(cfg, eng, os.Stdout)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", args[0], err)
		os.Exit(1)
	}
}
