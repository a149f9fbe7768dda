package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/piskevalee-cpu/MARK/kleos"
	"github.com/piskevalee-cpu/MARK/memory"
)

const helpText = `Commands:
  /help                     show this help
  /quit                     exit
  /reset                    clear the conversation history
  /stats                    show token usage
  /model <name>             switch model
  /memory list              list remembered facts
  /memory search <text>     search facts
  /memory correct <id> <text>  replace a fact with a correction
  /memory forget <id>       delete a fact
  /memory clear             delete all facts
  /kleos <goal>             refine and execute a goal interactively

Say "remember that ..." to store a fact directly.`

// dispatch handles a slash command line. It returns quit=true for /quit.
func (a *App) dispatch(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/quit", "/exit":
		fmt.Fprintln(a.out, "bye")
		return true, nil

	case "/help":
		fmt.Fprintln(a.out, helpText)
		return false, nil

	case "/reset":
		a.msgs = nil
		fmt.Fprintln(a.out, "conversation reset")
		return false, nil

	case "/stats":
		return false, a.showStats(ctx)

	case "/model":
		if len(args) == 0 {
			fmt.Fprintf(a.out, "current model: %s (%s)\n", a.gateway.Model(), a.gateway.Name())
			return false, nil
		}
		return false, a.switchModel(args[0])

	case "/memory":
		return false, a.memoryCommand(ctx, args)

	case "/kleos":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /kleos <goal>")
		}
		return false, a.runKleos(ctx, strings.Join(args, " "))
	}

	return false, fmt.Errorf("unknown command %s (try /help)", cmd)
}

func (a *App) switchModel(model string) error {
	if a.factory == nil {
		return fmt.Errorf("model switching not available")
	}
	gateway, err := a.factory(a.gateway.Name(), model)
	if err != nil {
		return fmt.Errorf("switch model: %w", err)
	}
	a.gateway = gateway
	fmt.Fprintf(a.out, "switched to %s\n", model)
	return nil
}

func (a *App) showStats(ctx context.Context) error {
	fmt.Fprintf(a.out, "session: %d in / %d out tokens\n",
		a.sessionUsage.InputTokens, a.sessionUsage.OutputTokens)

	if a.history == nil {
		return nil
	}
	stats, err := a.history.UsageStats(ctx)
	if err != nil {
		return err
	}
	for _, st := range stats {
		fmt.Fprintf(a.out, "%s/%s: %d requests, %d in / %d out tokens\n",
			st.Provider, st.Model, st.Requests, st.InputTokens, st.OutputTokens)
	}
	return nil
}

func (a *App) memoryCommand(ctx context.Context, args []string) error {
	if a.memory == nil {
		return fmt.Errorf("memory is disabled")
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: /memory list|search|correct|forget|clear")
	}

	switch args[0] {
	case "list":
		facts, err := a.memory.ListAll(ctx)
		if err != nil {
			return err
		}
		if len(facts) == 0 {
			fmt.Fprintln(a.out, "nothing remembered yet")
			return nil
		}
		for _, f := range facts {
			fmt.Fprintf(a.out, "[%d] %s\n", f.ID, f.Text)
		}
		return nil

	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: /memory search <text>")
		}
		facts, err := a.memory.SearchText(ctx, strings.Join(args[1:], " "), 20)
		if err != nil {
			return err
		}
		if len(facts) == 0 {
			fmt.Fprintln(a.out, "no matching facts")
			return nil
		}
		for _, f := range facts {
			fmt.Fprintf(a.out, "[%d] %s\n", f.ID, f.Text)
		}
		return nil

	case "correct":
		if len(args) < 3 {
			return fmt.Errorf("usage: /memory correct <id> <text>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad fact id %q", args[1])
		}
		fact, err := a.memory.SupersedeFact(ctx, id, strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "corrected [%d] -> [%d] %s\n", id, fact.ID, fact.Text)
		return nil

	case "forget", "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: /memory forget <id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad fact id %q", args[1])
		}
		if err := a.memory.Forget(ctx, id); err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				return fmt.Errorf("no fact with id %d", id)
			}
			return err
		}
		fmt.Fprintf(a.out, "forgot [%d]\n", id)
		return nil

	case "clear":
		if err := a.memory.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "all facts forgotten")
		return nil
	}

	return fmt.Errorf("unknown memory command %q", args[0])
}

// runKleos drives a pipeline session interactively: questions, answers,
// approval loop, execution.
func (a *App) runKleos(ctx context.Context, goal string) error {
	if a.pipeline == nil {
		return fmt.Errorf("kleos is not configured")
	}

	s, err := a.pipeline.Start(ctx, goal)
	if err != nil {
		return err
	}

	if s.Phase == kleos.PhaseAwaitingClarification {
		fmt.Fprintln(a.out, "A few questions first (empty answer to skip):")
		answers := make([]string, len(s.Questions))
		for i, q := range s.Questions {
			fmt.Fprintf(a.out, "%d. %s\n> ", i+1, q)
			line, ok := a.readLine()
			if !ok {
				a.pipeline.Cancel(s)
				return nil
			}
			answers[i] = line
		}
		if err := a.pipeline.Answer(ctx, s, answers); err != nil {
			return err
		}
	}

	for s.Phase == kleos.PhaseAwaitingApproval {
		fmt.Fprintf(a.out, "\nProposed prompt:\n%s\n\nRun it? [y = run, n = cancel, anything else = feedback]\n> ", s.RefinedPrompt)
		line, ok := a.readLine()
		if !ok {
			a.pipeline.Cancel(s)
			return nil
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			result, err := a.pipeline.Approve(ctx, s)
			if err != nil {
				if errors.Is(err, kleos.ErrExecutionFailed) {
					return fmt.Errorf("execution failed, try again later")
				}
				return err
			}
			fmt.Fprintln(a.out, result)
			return nil

		case "n", "no", "cancel":
			a.pipeline.Cancel(s)
			fmt.Fprintln(a.out, "cancelled")
			return nil

		default:
			if err := a.pipeline.Reject(ctx, s, line); err != nil {
				if errors.Is(err, kleos.ErrRefinementExhausted) {
					fmt.Fprintln(a.out, "too many revisions; giving up on this goal")
					return nil
				}
				return err
			}
		}
	}

	return nil
}
