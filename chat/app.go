// Package chat is MARK's interactive surface: the read-eval loop, the
// slash commands and the interactive Kleos driver. It reads from any
// io.Reader and writes to any io.Writer, so the whole surface is
// testable without a terminal.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/kleos"
	"github.com/piskevalee-cpu/MARK/memory"
	"github.com/piskevalee-cpu/MARK/memory/store/sqlite"
	"github.com/piskevalee-cpu/MARK/provider"
)

// GatewayFactory builds a gateway for a provider/model pair; used by the
// /model command to switch backends at runtime.
type GatewayFactory func(providerName, model string) (provider.Gateway, error)

// App is the conversation loop.
type App struct {
	cfg      *config.Config
	gateway  provider.Gateway
	memory   *memory.Service
	pipeline *kleos.Pipeline
	history  *sqlite.Store
	factory  GatewayFactory

	in  *bufio.Scanner
	out io.Writer

	msgs         []core.Message
	sessionUsage core.TokenUsage
}

// Option configures the app.
type Option func(*App)

// WithMemory enables the memory subsystem.
func WithMemory(svc *memory.Service) Option {
	return func(a *App) { a.memory = svc }
}

// WithPipeline enables the /kleos command.
func WithPipeline(p *kleos.Pipeline) Option {
	return func(a *App) { a.pipeline = p }
}

// WithHistory enables conversation and usage persistence.
func WithHistory(store *sqlite.Store) Option {
	return func(a *App) { a.history = store }
}

// WithGatewayFactory enables runtime model switching via /model.
func WithGatewayFactory(f GatewayFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithIO replaces stdin/stdout, mainly for tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = bufio.NewScanner(in)
		a.out = out
	}
}

// New creates the app over a config and gateway.
func New(cfg *config.Config, gateway provider.Gateway, opts ...Option) *App {
	a := &App{
		cfg:     cfg,
		gateway: gateway,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run drives the loop until /quit or end of input.
func (a *App) Run(ctx context.Context) error {
	a.reloadContext(ctx)

	fmt.Fprintf(a.out, "MARK ready (%s / %s). Type /help for commands.\n",
		a.gateway.Name(), a.gateway.Model())

	for {
		fmt.Fprint(a.out, "\n> ")
		line, ok := a.readLine()
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.dispatch(ctx, line)
			if err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		a.exchange(ctx, line)
	}
}

// exchange runs one plain message through memory and the gateway.
func (a *App) exchange(ctx context.Context, line string) {
	// Explicit remember commands are handled locally, no model call.
	if a.memory != nil && memory.IsRememberCommand(line) {
		fact, err := a.memory.ConsiderForMemory(ctx, line)
		if err != nil {
			fmt.Fprintf(a.out, "could not remember that: %v\n", err)
			return
		}
		if fact != nil {
			fmt.Fprintf(a.out, "Remembered: %s\n", fact.Text)
		}
		return
	}

	var facts []*memory.Fact
	if a.memory != nil {
		// Quietly pick up self-disclosures, then retrieve context.
		if fact, err := a.memory.ConsiderForMemory(ctx, line); err == nil && fact != nil {
			fmt.Fprintf(a.out, "(noted: %s)\n", fact.Text)
		}
		retrieved, err := a.memory.Retrieve(ctx, line, a.cfg.Memory.TopK)
		if err != nil {
			log.Printf("[CHAT] Memory retrieval failed: %v", err)
		} else {
			facts = retrieved
		}
	}

	req := &provider.Request{
		System:    buildSystem(a.cfg, facts),
		Prompt:    line,
		History:   a.msgs,
		MaxTokens: a.cfg.MaxTokens,
	}

	resp, err := a.complete(ctx, req)
	if err != nil {
		var ge *provider.GatewayError
		if errors.As(err, &ge) {
			fmt.Fprintf(a.out, "%s is unavailable: %v\n", ge.Provider, ge.Err)
		} else {
			fmt.Fprintf(a.out, "error: %v\n", err)
		}
		return
	}

	a.msgs = append(a.msgs, core.UserMessage(line), core.AssistantMessage(resp.Text))
	a.trimHistory()
	a.sessionUsage.Add(resp.Usage)

	if a.cfg.ShowUsage {
		fmt.Fprintf(a.out, "[%d in / %d out tokens]\n",
			resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	a.record(ctx, line, resp)
}

// complete calls the gateway, streaming when supported and enabled.
func (a *App) complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if streamer, ok := a.gateway.(provider.Streamer); ok && a.cfg.Stream {
		resp, err := streamer.StreamComplete(ctx, req, func(chunk string) {
			fmt.Fprint(a.out, chunk)
		})
		if err == nil {
			fmt.Fprintln(a.out)
		}
		return resp, err
	}

	resp, err := a.gateway.Complete(ctx, req)
	if err == nil {
		fmt.Fprintln(a.out, resp.Text)
	}
	return resp, err
}

// record persists the exchange and its usage when history is enabled.
func (a *App) record(ctx context.Context, userMsg string, resp *provider.Response) {
	if a.history == nil {
		return
	}
	if a.cfg.SaveHistory {
		if err := a.history.SaveConversation(ctx, a.gateway.Name(), a.gateway.Model(), userMsg, resp.Text); err != nil {
			log.Printf("[CHAT] Failed to save conversation: %v", err)
		}
	}
	if err := a.history.RecordUsage(ctx, a.gateway.Name(), a.gateway.Model(), resp.Usage); err != nil {
		log.Printf("[CHAT] Failed to record usage: %v", err)
	}
}

// reloadContext seeds the in-memory history from the latest saved
// exchanges so a restarted session keeps its thread.
func (a *App) reloadContext(ctx context.Context) {
	if a.history == nil || !a.cfg.SaveHistory || a.cfg.MaxHistory <= 0 {
		return
	}
	convs, err := a.history.RecentConversations(ctx, a.cfg.MaxHistory/2)
	if err != nil {
		log.Printf("[CHAT] Failed to reload conversation history: %v", err)
		return
	}
	for _, c := range convs {
		a.msgs = append(a.msgs, core.UserMessage(c.UserMessage), core.AssistantMessage(c.AssistantMessage))
	}
	if len(convs) > 0 {
		fmt.Fprintf(a.out, "(restored %d earlier exchanges)\n", len(convs))
	}
}

func (a *App) trimHistory() {
	max := a.cfg.MaxHistory
	if max <= 0 || len(a.msgs) <= max {
		return
	}
	a.msgs = a.msgs[len(a.msgs)-max:]
}

func (a *App) readLine() (string, bool) {
	if !a.in.Scan() {
		return "", false
	}
	return a.in.Text(), true
}
