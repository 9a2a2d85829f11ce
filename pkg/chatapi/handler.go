package chatapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/llm"
	"github.com/harunnryd/fleetvoice/pkg/redact"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
)

const DefaultSystemPrompt = "You are Auto, the voice assistant of a vehicle fleet dashboard. " +
	"Answer in one or two short spoken sentences. Use the page context when it is relevant."

const maxBodyBytes = 1 << 20

type Config struct {
	SystemPrompt string
	Timeout      time.Duration
	Retry        llm.RetryConfig
}

type chatRequest struct {
	Prompt      string          `json:"prompt"`
	ContextData json.RawMessage `json:"context_data"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the reasoning backend endpoint: it turns a spoken question
// and the page context into one LLM completion.
type Handler struct {
	adapter llm.Adapter
	cfg     Config
	log     *slog.Logger
}

func NewHandler(adapter llm.Adapter, cfg Config, log *slog.Logger) *Handler {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{adapter: adapter, cfg: cfg, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	requestID := r.Header.Get("X-Request-ID")
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()
	start := time.Now()
	input := h.buildRequest(prompt, req.ContextData)
	resp, err := llm.Retry(ctx, h.cfg.Retry, func(ctx context.Context) (llm.Response, error) {
		return h.adapter.Generate(ctx, input)
	})
	if err != nil {
		status := http.StatusBadGateway
		if resilience.IsRateLimit(err) {
			status = http.StatusTooManyRequests
		}
		h.log.Warn("chat_generate_failed",
			"request_id", requestID,
			"provider", h.adapter.Name(),
			"error", err.Error(),
			"reason_code", errorsx.Reason(errorsx.Wrap(err, errorsx.ReasonLLMGenerate)),
		)
		writeJSON(w, status, errorResponse{Error: "reasoning backend unavailable"})
		return
	}
	h.log.Info("chat_answered",
		"request_id", requestID,
		"provider", h.adapter.Name(),
		"prompt", redact.Text(prompt),
		"latency_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	writeJSON(w, http.StatusOK, chatResponse{Answer: resp.Text})
}

func (h *Handler) buildRequest(prompt string, contextData json.RawMessage) llm.Request {
	messages := []llm.Message{{Role: "system", Content: h.cfg.SystemPrompt}}
	if ctxText := renderContext(contextData); ctxText != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Current page context: " + ctxText})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	return llm.Request{Messages: messages, Temperature: 0.3, MaxTokens: 200}
}

// renderContext returns compact JSON for the page context, or "" for null.
func renderContext(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
