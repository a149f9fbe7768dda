package chat

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/kleos"
	"github.com/piskevalee-cpu/MARK/memory"
	"github.com/piskevalee-cpu/MARK/memory/embedder/mock"
	"github.com/piskevalee-cpu/MARK/memory/index"
	"github.com/piskevalee-cpu/MARK/memory/store/sqlite"
	"github.com/piskevalee-cpu/MARK/provider"
)

// scriptedGateway returns canned responses in order and records requests.
type scriptedGateway struct {
	responses []string
	err       error
	requests  []*provider.Request
}

func (g *scriptedGateway) Name() string  { return "scripted" }
func (g *scriptedGateway) Model() string { return "test-model" }

func (g *scriptedGateway) Complete(_ context.Context, req *provider.Request) (*provider.Response, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: g.err}
	}
	text := "ok"
	if len(g.responses) > 0 {
		text = g.responses[0]
		g.responses = g.responses[1:]
	}
	return &provider.Response{
		Text:  text,
		Usage: core.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Stream = false
	cfg.SaveHistory = false
	return cfg
}

func newTestApp(t *testing.T, gateway provider.Gateway, input string, opts ...Option) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	opts = append(opts, WithIO(strings.NewReader(input), out))
	return New(testConfig(), gateway, opts...), out
}

func newTestMemory(t *testing.T) *memory.Service {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "mark.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	emb := mock.New()
	svc, err := memory.NewService(store, index.NewLinear(emb.Dimensions()), emb, memory.DefaultServiceConfig)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestRunQuits(t *testing.T) {
	gw := &scriptedGateway{}
	app, out := newTestApp(t, gw, "/quit\n")

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gw.requests) != 0 {
		t.Errorf("expected no gateway calls, got %d", len(gw.requests))
	}
	if !strings.Contains(out.String(), "bye") {
		t.Errorf("missing farewell in output: %q", out.String())
	}
}

func TestRunEndsOnEOF(t *testing.T) {
	app, _ := newTestApp(t, &scriptedGateway{}, "")
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestExchange(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"hello there"}}
	app, out := newTestApp(t, gw, "hi\n/quit\n")

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.requests) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(gw.requests))
	}
	if gw.requests[0].Prompt != "hi" {
		t.Errorf("prompt = %q, want %q", gw.requests[0].Prompt, "hi")
	}
	if !strings.Contains(out.String(), "hello there") {
		t.Errorf("response missing from output: %q", out.String())
	}
	if app.sessionUsage.InputTokens != 10 || app.sessionUsage.OutputTokens != 5 {
		t.Errorf("session usage = %+v", app.sessionUsage)
	}
}

func TestExchangeCarriesHistory(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"one", "two"}}
	app, _ := newTestApp(t, gw, "first\nsecond\n/quit\n")

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.requests) != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", len(gw.requests))
	}
	h := gw.requests[1].History
	if len(h) != 2 {
		t.Fatalf("second request history has %d messages, want 2", len(h))
	}
	if h[0].Content != "first" || h[1].Content != "one" {
		t.Errorf("history = %+v", h)
	}
}

func TestResetClearsHistory(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"one", "two"}}
	app, _ := newTestApp(t, gw, "first\n/reset\nsecond\n/quit\n")

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gw.requests) != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", len(gw.requests))
	}
	if len(gw.requests[1].History) != 0 {
		t.Errorf("history survived /reset: %+v", gw.requests[1].History)
	}
}

func TestGatewayErrorIsFriendly(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("connection refused")}
	app, out := newTestApp(t, gw, "hi\n/quit\n")

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "scripted is unavailable") {
		t.Errorf("expected friendly gateway error, got: %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	app, out := newTestApp(t, &scriptedGateway{}, "/bogus\n/quit\n")
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "unknown command /bogus") {
		t.Errorf("missing unknown-command error: %q", out.String())
	}
}

func TestRememberCommandSkipsGateway(t *testing.T) {
	gw := &scriptedGateway{}
	app, out := newTestApp(t, gw, "remember that I like Python\n/quit\n",
		WithMemory(newTestMemory(t)))

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gw.requests) != 0 {
		t.Errorf("remember command reached the gateway: %d calls", len(gw.requests))
	}
	if !strings.Contains(out.String(), "Remembered: The user likes Python") {
		t.Errorf("missing confirmation: %q", out.String())
	}
}

func TestMemoryCommands(t *testing.T) {
	input := strings.Join([]string{
		"remember that I like Python",
		"remember that I live in Rome",
		"/memory list",
		"/memory search rome",
		"/memory forget 1",
		"/memory list",
		"/memory clear",
		"/memory list",
		"/quit",
	}, "\n") + "\n"

	app, out := newTestApp(t, &scriptedGateway{}, input, WithMemory(newTestMemory(t)))
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"[1] The user likes Python",
		"[2] The user lives in Rome",
		"forgot [1]",
		"all facts forgotten",
		"nothing remembered yet",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestMemoryCorrect(t *testing.T) {
	input := strings.Join([]string{
		"remember that I like Python",
		"/memory correct 1 The user likes Go",
		"/memory list",
		"/quit",
	}, "\n") + "\n"

	app, out := newTestApp(t, &scriptedGateway{}, input, WithMemory(newTestMemory(t)))
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "corrected [1] -> [2]") {
		t.Errorf("missing correction confirmation:\n%s", got)
	}
	if !strings.Contains(got, "[2] The user likes Go") {
		t.Errorf("replacement missing from list:\n%s", got)
	}
	if strings.Contains(got, "[1] The user likes Python\n") &&
		strings.Index(got, "[1] The user likes Python") > strings.Index(got, "corrected") {
		t.Errorf("superseded fact still listed:\n%s", got)
	}
}

func TestKleosInteractive(t *testing.T) {
	gw := &scriptedGateway{responses: []string{
		"1. Which language?\n2. Which framework?", // analyst
		"Write a REST API in Go using chi.",       // refiner
		"Here is the API code.",                   // thinker
	}}
	input := strings.Join([]string{
		"/kleos build me an API",
		"Go",  // answer 1
		"chi", // answer 2
		"y",   // approve
		"/quit",
	}, "\n") + "\n"

	app, out := newTestApp(t, gw, input, WithPipeline(kleos.New(gw)))
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Which language?") {
		t.Errorf("questions not shown:\n%s", got)
	}
	if !strings.Contains(got, "Write a REST API in Go using chi.") {
		t.Errorf("refined prompt not shown:\n%s", got)
	}
	if !strings.Contains(got, "Here is the API code.") {
		t.Errorf("result not shown:\n%s", got)
	}
	if len(gw.requests) != 3 {
		t.Errorf("expected 3 gateway calls, got %d", len(gw.requests))
	}
}

func TestKleosCancel(t *testing.T) {
	gw := &scriptedGateway{responses: []string{
		"NO QUESTIONS",
		"Refined prompt.",
	}}
	input := "/kleos do the thing\nn\n/quit\n"

	app, out := newTestApp(t, gw, input, WithPipeline(kleos.New(gw)))
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "cancelled") {
		t.Errorf("missing cancel confirmation:\n%s", out.String())
	}
	if len(gw.requests) != 2 {
		t.Errorf("expected 2 gateway calls, got %d", len(gw.requests))
	}
}

func TestStatsWithHistory(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "mark.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	gw := &scriptedGateway{responses: []string{"hello"}}
	app, out := newTestApp(t, gw, "hi\n/stats\n/quit\n", WithHistory(store))

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "session: 10 in / 5 out tokens") {
		t.Errorf("missing session usage:\n%s", got)
	}
	if !strings.Contains(got, "scripted/test-model: 1 requests, 10 in / 5 out tokens") {
		t.Errorf("missing persisted usage:\n%s", got)
	}
}

func TestModelSwitch(t *testing.T) {
	second := &scriptedGateway{responses: []string{"from the new model"}}
	factory := func(providerName, model string) (provider.Gateway, error) {
		if model != "other-model" {
			return nil, errors.New("unexpected model")
		}
		return second, nil
	}

	first := &scriptedGateway{}
	app, out := newTestApp(t, first, "/model other-model\nhi\n/quit\n",
		WithGatewayFactory(factory))

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "switched to other-model") {
		t.Errorf("missing switch confirmation:\n%s", out.String())
	}
	if len(first.requests) != 0 || len(second.requests) != 1 {
		t.Errorf("calls went to the wrong gateway: first=%d second=%d",
			len(first.requests), len(second.requests))
	}
}
