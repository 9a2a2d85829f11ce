package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/metrics"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
)

// CircuitBreakerAdapter stops calling the inner adapter for a cooldown once
// it keeps answering with rate limits. Denied and rate-limited calls return
// errors carrying ReasonLLMRateLimit.
type CircuitBreakerAdapter struct {
	inner   Adapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	now     func() time.Time

	mu   sync.Mutex
	open bool
}

func NewCircuitBreakerAdapter(inner Adapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker, now: time.Now}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

// SetObserver enables breaker events.
func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = obs }

// Open reports whether the last call found the breaker open.
func (a *CircuitBreakerAdapter) Open() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	if !a.breaker.Allow() {
		a.setOpen(true)
		a.record(metrics.EventBreakerDenied)
		return Response{}, errorsx.Wrap(resilience.RateLimitError{Provider: a.Name(), Message: "cooling down"}, errorsx.ReasonLLMRateLimit)
	}
	a.setOpen(false)
	resp, err := a.inner.Generate(ctx, req)
	if err == nil {
		a.breaker.OnSuccess()
		return resp, nil
	}
	if a.breaker.OnError(err) {
		a.setOpen(true)
	}
	if resilience.IsRateLimit(err) {
		a.record(metrics.EventRateLimit)
		return Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
	}
	return Response{}, err
}

func (a *CircuitBreakerAdapter) record(name string) {
	if a.obs == nil {
		return
	}
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: a.now(),
		Tags: map[string]string{
			"provider":  a.inner.Name(),
			"component": "chat",
		},
	})
}

func (a *CircuitBreakerAdapter) setOpen(open bool) {
	a.mu.Lock()
	changed := a.open != open
	a.open = open
	a.mu.Unlock()
	if changed && open {
		a.record(metrics.EventBreakerOpen)
	}
}
