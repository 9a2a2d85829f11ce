package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/metrics"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
)

const (
	DefaultPath    = "/api/chat"
	DefaultTimeout = 30 * time.Second

	// RequestIDHeader carries the per-query id to the backend.
	RequestIDHeader = "X-Request-ID"
)

// Request is the body posted to the reasoning backend.
type Request struct {
	Prompt      string `json:"prompt"`
	ContextData any    `json:"context_data"`
}

// Response is the success body of the reasoning backend.
type Response struct {
	Answer *string `json:"answer"`
}

type Config struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
	Observer   metrics.Observer
	Logger     *slog.Logger
}

// Client sends completed questions to the reasoning backend. Every call is a
// single attempt; failures are returned, never retried.
type Client struct {
	url     string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	log     *slog.Logger

	mu   sync.Mutex
	open bool
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid, "dispatch: base url is required")
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	obs := cfg.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:     base + path,
		http:    httpClient,
		breaker: cfg.Breaker,
		obs:     obs,
		log:     log,
	}, nil
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Ask posts the question with the page context and returns the answer.
func (c *Client) Ask(ctx context.Context, question string, pageContext any) (string, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		c.setOpen(true)
		c.record(metrics.EventBreakerDenied)
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: "backend", Message: "backend degraded"}, errorsx.ReasonDispatchCircuitOpen)
	}
	c.setOpen(false)

	answer, err := c.do(ctx, question, pageContext)
	if err != nil {
		if resilience.IsRateLimit(err) {
			c.record(metrics.EventRateLimit)
		}
		if c.breaker != nil && c.breaker.OnError(err) {
			c.setOpen(true)
		}
		return "", err
	}
	if c.breaker != nil {
		c.breaker.OnSuccess()
	}
	return answer, nil
}

func (c *Client) do(ctx context.Context, question string, pageContext any) (string, error) {
	body, err := json.Marshal(Request{Prompt: question, ContextData: pageContext})
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("encode request: %w", err), errorsx.ReasonDispatchDecode)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDispatchTransport)
	}
	requestID := requestIDFrom(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDispatchTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: "backend", Message: strings.TrimSpace(string(raw))}, errorsx.ReasonDispatchRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Debug("dispatch_bad_status", "status", resp.StatusCode, "request_id", requestID, "body", strings.TrimSpace(string(raw)))
		return "", errorsx.New(errorsx.ReasonDispatchStatus, "backend returned status %d", resp.StatusCode)
	}
	var payload Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("decode response: %w", err), errorsx.ReasonDispatchDecode)
	}
	if payload.Answer == nil {
		return "", errorsx.New(errorsx.ReasonDispatchDecode, "response has no answer")
	}
	return *payload.Answer, nil
}

func (c *Client) record(name string) {
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"component": "dispatch",
			"url":       c.url,
		},
	})
}

func (c *Client) setOpen(open bool) {
	c.mu.Lock()
	changed := c.open != open
	c.open = open
	c.mu.Unlock()
	if changed && open {
		c.record(metrics.EventBreakerOpen)
		c.log.Warn("dispatch_breaker_open", "url", c.url)
	}
}

type requestIDKey struct{}

// WithRequestID attaches the id sent as X-Request-ID by Ask.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
