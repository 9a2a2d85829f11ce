package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/metrics"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
)

type scriptedAdapter struct {
	errs  []error
	calls int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return Response{}, err
		}
	}
	return Response{Text: "ok"}, nil
}

func TestRetryServerErrors(t *testing.T) {
	a := &scriptedAdapter{errs: []error{StatusError{Provider: "x", Code: 502}, nil}}
	resp, err := Retry(context.Background(), RetryConfig{Sleep: func(time.Duration) {}}, func(ctx context.Context) (Response, error) {
		return a.Generate(ctx, Request{})
	})
	if err != nil || resp.Text != "ok" {
		t.Fatalf("expected success after retry, got %v %v", resp, err)
	}
	if a.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", a.calls)
	}
}

func TestRetrySkipsClientErrorsAndRateLimits(t *testing.T) {
	for _, e := range []error{
		StatusError{Provider: "x", Code: 400},
		resilience.RateLimitError{Provider: "x"},
		context.Canceled,
	} {
		a := &scriptedAdapter{errs: []error{e, nil}}
		_, err := Retry(context.Background(), RetryConfig{Sleep: func(time.Duration) {}}, func(ctx context.Context) (Response, error) {
			return a.Generate(ctx, Request{})
		})
		if err == nil || a.calls != 1 {
			t.Fatalf("%v: expected single failed call, got %d calls err=%v", e, a.calls, err)
		}
		if !errors.Is(err, e) && !resilience.IsRateLimit(err) {
			t.Fatalf("expected wrapped cause, got %v", err)
		}
	}
}

func TestCircuitBreakerAdapterDeniesWhenOpen(t *testing.T) {
	rl := resilience.RateLimitError{Provider: "scripted"}
	a := &scriptedAdapter{errs: []error{rl, rl}}
	obs := metrics.NewMemoryObserver()
	cb := NewCircuitBreakerAdapter(a, resilience.NewCircuitBreaker(2, time.Minute))
	cb.SetObserver(obs)

	for i := 0; i < 2; i++ {
		if _, err := cb.Generate(context.Background(), Request{}); !resilience.IsRateLimit(err) {
			t.Fatalf("expected rate limit, got %v", err)
		}
	}
	_, err := cb.Generate(context.Background(), Request{})
	if !resilience.IsRateLimit(err) || errorsx.Reason(err) != errorsx.ReasonLLMRateLimit {
		t.Fatalf("expected denial, got %v", err)
	}
	if !cb.Open() {
		t.Fatalf("expected breaker to report open")
	}
	if a.calls != 2 {
		t.Fatalf("open breaker should not call inner adapter, calls=%d", a.calls)
	}
	if obs.Count(metrics.EventBreakerOpen) != 1 || obs.Count(metrics.EventBreakerDenied) != 1 {
		t.Fatalf("unexpected events %+v", obs.Events())
	}
}
