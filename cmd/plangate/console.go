package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"plangate/internal/config"
	"plangate/internal/plan"
	"plangate/internal/storage"

	"github.com/chzyer/readline"
)

var consoleCommands = []string{
	"list               show the current plan",
	"add <task>         append a task",
	"done <id>          mark a task complete",
	"name <title>       rename the plan",
	"new [title]        start a fresh plan for this session",
	"session <id>       switch to another session",
	"clear              delete the plan and reset the stop counter",
	"help               show this list",
	"quit               exit the console",
}

func printConsoleCommands(out io.Writer) {
	if out == nil {
		return
	}
	fmt.Fprintln(out, "commands:")
	for _, cmd := range consoleCommands {
		fmt.Fprintf(out, "  %s\n", cmd)
	}
}

// consoleSession picks the session the console edits: the owner of the
// active plan when one exists, otherwise "default".
func consoleSession(store storage.Store) string {
	ref, err := store.ActivePlan()
	if err == nil && ref.SessionID != "" {
		return ref.SessionID
	}
	return "default"
}

func runPlanConsole(cfg config.Config, store storage.Store) error {
	input, inputErr := newLineInput(filepath.Join(cfg.Storage.BaseDir, "plan.history"))
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer input.Close()

	sessionID := consoleSession(store)
	fmt.Printf("plangate console, session: %s\n", sessionID)
	printConsoleCommands(os.Stdout)

	for {
		line, err := input.ReadLine("plan> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(os.Stdout)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(os.Stderr, "\nexit")
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		cmd, rest := splitCommand(line)
		if cmd == "" {
			continue
		}

		switch cmd {
		case "quit", "exit", "q":
			return nil
		case "help":
			printConsoleCommands(os.Stdout)
		case "session":
			if rest == "" {
				fmt.Println("usage: session <id>")
				continue
			}
			sessionID = rest
			fmt.Printf("session: %s\n", sessionID)
		case "list":
			p, err := store.LoadPlan(sessionID)
			if errors.Is(err, storage.ErrNotFound) {
				fmt.Println("no plan for this session")
				continue
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "load plan failed: %v\n", err)
				continue
			}
			fmt.Println(plan.Summary(p))
		case "new":
			name := rest
			if name == "" {
				name = "Session plan"
			}
			if err := store.SavePlan(plan.New(sessionID, name)); err != nil {
				fmt.Fprintf(os.Stderr, "save plan failed: %v\n", err)
				continue
			}
			fmt.Printf("started plan %q\n", name)
		case "add":
			if rest == "" {
				fmt.Println("usage: add <task>")
				continue
			}
			if err := consoleAdd(store, sessionID, rest); err != nil {
				fmt.Fprintf(os.Stderr, "add failed: %v\n", err)
			}
		case "done":
			id, convErr := strconv.Atoi(rest)
			if convErr != nil {
				fmt.Println("usage: done <id>")
				continue
			}
			if err := consoleDone(store, sessionID, id); err != nil {
				fmt.Fprintf(os.Stderr, "done failed: %v\n", err)
			}
		case "name":
			if rest == "" {
				fmt.Println("usage: name <title>")
				continue
			}
			if err := consoleRename(store, sessionID, rest); err != nil {
				fmt.Fprintf(os.Stderr, "rename failed: %v\n", err)
			}
		case "clear":
			if err := store.DeletePlan(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
				continue
			}
			if err := store.ResetBlocked(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "reset counter failed: %v\n", err)
			}
			fmt.Println("plan cleared")
		default:
			fmt.Printf("unknown command %q, try help\n", cmd)
		}
	}
}

func splitCommand(line string) (cmd, rest string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	parts := strings.SplitN(line, " ", 2)
	cmd = strings.ToLower(parts[0])
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return cmd, rest
}

func consoleAdd(store storage.Store, sessionID, text string) error {
	p, err := store.LoadPlan(sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		p = plan.New(sessionID, "Session plan")
	} else if err != nil {
		return err
	}
	item, err := p.Append(text)
	if err != nil {
		return err
	}
	if err := store.SavePlan(p); err != nil {
		return err
	}
	fmt.Printf("added #%d: %s\n", item.ID, item.Text)
	return nil
}

func consoleDone(store storage.Store, sessionID string, id int) error {
	p, err := store.LoadPlan(sessionID)
	if err != nil {
		return err
	}
	if !p.Complete(id) {
		return fmt.Errorf("no open task #%d", id)
	}
	if err := store.SavePlan(p); err != nil {
		return err
	}
	fmt.Printf("completed #%d (%d/%d done)\n", id, p.CompletedCount(), len(p.Items))
	return nil
}

func consoleRename(store storage.Store, sessionID, name string) error {
	p, err := store.LoadPlan(sessionID)
	if err != nil {
		return err
	}
	p.Name = name
	p.Touch()
	if err := store.SavePlan(p); err != nil {
		return err
	}
	fmt.Printf("plan renamed to %q\n", name)
	return nil
}
