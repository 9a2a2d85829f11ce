package metrics

import "time"

// Event names emitted by the voice controller and its collaborators.
const (
	EventStateChange        = "voice_state_change"
	EventCommandMatched     = "voice_command_matched"
	EventWakeMatched        = "voice_wake_matched"
	EventTranscriptIdle     = "voice_transcript_idle_reset"
	EventQuerySent          = "voice_query_sent"
	EventAnswerReceived     = "voice_answer_received"
	EventQueryFailed        = "voice_query_failed"
	EventQuerySkipped       = "voice_query_skipped"
	EventCaptureLost        = "voice_capture_lost"
	EventCaptureUnavailable = "voice_capture_unavailable"

	EventRateLimit     = "dispatch_rate_limit"
	EventBreakerOpen   = "dispatch_breaker_open"
	EventBreakerDenied = "dispatch_breaker_denied"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
