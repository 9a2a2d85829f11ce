package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/metrics"
)

func TestLoggerObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLoggerObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventQuerySent, Time: time.Now(), Tags: map[string]string{"query_id": "q1"}})
	if buf.Len() != 0 {
		t.Fatalf("expected debug event to be filtered, got %q", buf.String())
	}

	obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventBreakerOpen,
		Time:   time.Now(),
		Tags:   map[string]string{"provider": "openai"},
		Fields: map[string]any{"reason_code": "dispatch_circuit_open"},
	})
	out := buf.String()
	for _, want := range []string{"level=WARN", "msg=" + metrics.EventBreakerOpen, "provider=openai", "reason_code=dispatch_circuit_open"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
