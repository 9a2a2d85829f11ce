package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/metrics"
)

// QueryStats summarizes backend round-trips seen so far.
type QueryStats struct {
	Sent      int
	Answered  int
	Failed    int
	LastRTT   time.Duration
	MaxRTT    time.Duration
	TotalRTT  time.Duration
	InFlight  int
	LastQuery string
}

// LatencyObserver pairs voice_query_sent with its answer or failure by query_id
// and logs the round-trip time.
type LatencyObserver struct {
	mu      sync.Mutex
	pending map[string]time.Time
	stats   QueryStats
	log     *slog.Logger
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		pending: make(map[string]time.Time),
		log:     log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	queryID := ""
	if ev.Tags != nil {
		queryID = ev.Tags["query_id"]
	}
	if queryID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventQuerySent:
		o.pending[queryID] = ev.Time
		o.stats.Sent++
		o.stats.LastQuery = queryID
	case metrics.EventAnswerReceived, metrics.EventQueryFailed:
		sent, ok := o.pending[queryID]
		if !ok {
			return
		}
		delete(o.pending, queryID)
		rtt := ev.Time.Sub(sent)
		if ev.Name == metrics.EventAnswerReceived {
			o.stats.Answered++
		} else {
			o.stats.Failed++
		}
		o.stats.LastRTT = rtt
		o.stats.TotalRTT += rtt
		if rtt > o.stats.MaxRTT {
			o.stats.MaxRTT = rtt
		}
		o.log.Info("query_latency",
			"query_id", queryID,
			"outcome", ev.Name,
			"rtt_ms", rtt.Milliseconds(),
		)
	}
	o.stats.InFlight = len(o.pending)
}

// Stats returns a snapshot of the collected round-trip statistics.
func (o *LatencyObserver) Stats() QueryStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}
