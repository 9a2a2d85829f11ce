package fleetvoice

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/llm"
	"github.com/harunnryd/fleetvoice/pkg/metrics"
	"github.com/harunnryd/fleetvoice/pkg/providers/mock"
	"github.com/harunnryd/fleetvoice/pkg/transports/browser"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Voice.DebounceMS = 20
	cfg.Privacy.RedactPII = false
	return cfg
}

// lateHandler lets a test server exist before the engine it forwards to.
type lateHandler struct {
	mu sync.Mutex
	h  http.Handler
}

func (l *lateHandler) set(h http.Handler) {
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
}

func (l *lateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	h := l.h
	l.mu.Unlock()
	if h == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) browser.Outbound {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var out browser.Outbound
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if out.Type == typ {
			return out
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineBrowserSessionEndToEnd(t *testing.T) {
	backend := &lateHandler{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Backend.BaseURL = srv.URL

	model := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "Left front tire is at 62 PSI."})
	reg := DefaultProviders()
	reg.RegisterLLM("mock", func(Config) (llm.Adapter, error) { return model, nil })
	mem := metrics.NewMemoryObserver()

	e, err := NewEngine(EngineOptions{
		Config:       cfg,
		Providers:    reg,
		Logger:       quietLogger(),
		Observer:     mem,
		BannerOutput: io.Discard,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	backend.set(e.Handler())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = e.Stop()
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.Addr()+cfg.Server.WSPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "browser attached", e.Transport().Connected)

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(map[string]any{"type": "page_context", "data": map[string]any{"page": "vehicle", "vehicle_id": "TRK-12"}})
	send(map[string]any{"type": "control", "action": "start"})
	if out := readUntil(t, conn, browser.TypeCapture); out.Action != "start" || !out.Continuous {
		t.Fatalf("unexpected capture request %+v", out)
	}
	send(map[string]any{"type": "transcript", "transcript": "hey auto what is the tire pressure", "capturing": true})

	spoken := readUntil(t, conn, browser.TypeSpeak)
	if spoken.Text != "Left front tire is at 62 PSI." {
		t.Fatalf("unexpected speech %q", spoken.Text)
	}
	waitFor(t, "query settled", func() bool { return !e.Controller().Status().Thinking })

	req := model.LastRequest()
	last := req.Messages[len(req.Messages)-1]
	if last.Content != "what is the tire pressure" {
		t.Fatalf("unexpected prompt %q", last.Content)
	}
	foundContext := false
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "TRK-12") {
			foundContext = true
		}
	}
	if !foundContext {
		t.Fatalf("page context not forwarded: %+v", req.Messages)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	stopped = true
	if mem.Count(metrics.EventQuerySent) != 1 || mem.Count(metrics.EventAnswerReceived) != 1 {
		t.Fatalf("expected one query round-trip, got sent=%d answered=%d",
			mem.Count(metrics.EventQuerySent), mem.Count(metrics.EventAnswerReceived))
	}
	if stats := e.Stats(); stats.Answered != 1 {
		t.Fatalf("expected latency observer to see the answer, got %+v", stats)
	}
	if err := e.Health(); err == nil {
		t.Fatalf("expected draining engine to report unhealthy")
	}
}

func TestEngineMockCaptureAutoStart(t *testing.T) {
	backend := &lateHandler{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Backend.BaseURL = srv.URL
	cfg.Capture.Provider = "mock"
	cfg.Voice.AutoStart = true
	cfg.Chat.Settings = map[string]any{"response_text": "Two vehicles need service."}

	e, err := NewEngine(EngineOptions{Config: cfg, Logger: quietLogger(), BannerOutput: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	backend.set(e.Handler())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	src, ok := e.Capture().(*mock.CaptureSource)
	if !ok {
		t.Fatalf("expected mock capture, got %T", e.Capture())
	}
	waitFor(t, "listening", func() bool { return e.Controller().Status().Listening })
	src.Say("computer which vehicles need service")
	waitFor(t, "query finished", func() bool { return src.Resets() >= 1 && !e.Controller().Status().Thinking })
	if src.Transcript() != "" {
		t.Fatalf("expected transcript cleared, got %q", src.Transcript())
	}
}

func TestEngineHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	e, err := NewEngine(EngineOptions{Config: cfg, Logger: quietLogger(), BannerOutput: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.State != "idle" || body.BrowserConnected {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestEngineChatDisabledLeavesRouteUnmounted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chat.Enabled = false
	e, err := NewEngine(EngineOptions{Config: cfg, Logger: quietLogger(), BannerOutput: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"prompt":"hi"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNewEngineRejectsBadProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Provider = "carrier-pigeon"
	if _, err := NewEngine(EngineOptions{Config: cfg, Logger: quietLogger(), BannerOutput: io.Discard}); err == nil {
		t.Fatalf("expected unknown capture provider to fail")
	}

	cfg = testConfig(t)
	cfg.Notify.Provider = "twilio"
	cfg.Notify.Settings = map[string]any{"account_sid": "AC1"}
	_, err := NewEngine(EngineOptions{Config: cfg, Logger: quietLogger(), BannerOutput: io.Discard})
	if errorsx.Reason(err) != errorsx.ReasonConfigInvalid {
		t.Fatalf("expected config_invalid, got %v", err)
	}
}

func TestEngineDeepgramCaptureUsesBrowserAudio(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Provider = "deepgram"
	cfg.Capture.Settings = map[string]any{"api_key": "dg-key", "encoding": "linear16"}
	e, err := NewEngine(EngineOptions{Config: cfg, Logger: quietLogger(), BannerOutput: io.Discard})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Stop()
	if _, ok := e.Capture().(*audioCapture); !ok {
		t.Fatalf("expected audio capture, got %T", e.Capture())
	}
	if !e.ProviderRegistry().NeedsAudio("Deepgram") {
		t.Fatalf("deepgram should be registered as an audio capture provider")
	}
}
