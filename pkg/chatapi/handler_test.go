package chatapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/dispatch"
	"github.com/harunnryd/fleetvoice/pkg/llm"
	"github.com/harunnryd/fleetvoice/pkg/providers/mock"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
)

func TestHandlerAnswersThroughDispatchClient(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "62 PSI"})
	mux := http.NewServeMux()
	mux.Handle(dispatch.DefaultPath, NewHandler(adapter, Config{}, nil))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := dispatch.NewClient(dispatch.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	answer, err := client.Ask(context.Background(), "what is the tire pressure", map[string]any{"vehicle": "V-3"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "62 PSI" {
		t.Fatalf("unexpected answer %q", answer)
	}
	msgs := adapter.LastRequest().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected system, context and user messages, got %+v", msgs)
	}
	if msgs[1].Content != `Current page context: {"vehicle":"V-3"}` {
		t.Fatalf("unexpected context message %q", msgs[1].Content)
	}
	if msgs[2].Role != "user" || msgs[2].Content != "what is the tire pressure" {
		t.Fatalf("unexpected user message %+v", msgs[2])
	}
}

func TestHandlerOmitsNullContext(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{})
	h := NewHandler(adapter, Config{SystemPrompt: "be brief"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"prompt":"range","context_data":null}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	msgs := adapter.LastRequest().Messages
	if len(msgs) != 2 || msgs[0].Content != "be brief" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := NewHandler(mock.NewLLMAdapter(mock.LLMConfig{}), Config{}, nil)
	cases := []struct {
		method string
		body   string
		status int
	}{
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "{", http.StatusBadRequest},
		{http.MethodPost, `{"prompt":"  "}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(tc.method, "/api/chat", strings.NewReader(tc.body)))
		if w.Code != tc.status {
			t.Fatalf("%s %q: expected %d, got %d", tc.method, tc.body, tc.status, w.Code)
		}
	}
}

func TestHandlerMapsFailures(t *testing.T) {
	noSleep := llm.RetryConfig{Sleep: func(time.Duration) {}}
	cases := []struct {
		err    error
		status int
	}{
		{resilience.RateLimitError{Provider: "mock"}, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		h := NewHandler(mock.NewLLMAdapter(mock.LLMConfig{Err: tc.err}), Config{Retry: noSleep}, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"prompt":"x"}`)))
		if w.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
	}
}
