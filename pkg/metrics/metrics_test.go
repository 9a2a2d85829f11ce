package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 8)
	for i := 0; i < 5; i++ {
		async.RecordEvent(MetricsEvent{Name: EventQuerySent, Time: time.Now()})
	}
	async.Close()
	if got := mem.Count(EventQuerySent); got != 5 {
		t.Fatalf("expected 5 events delivered, got %d", got)
	}
	async.RecordEvent(MetricsEvent{Name: EventQuerySent})
	if got := mem.Count(EventQuerySent); got != 5 {
		t.Fatalf("expected events after close to be ignored, got %d", got)
	}
}

func TestMemoryObserverLast(t *testing.T) {
	mem := NewMemoryObserver()
	mem.RecordEvent(MetricsEvent{Name: EventStateChange, Tags: map[string]string{"to": "LISTENING"}})
	mem.RecordEvent(MetricsEvent{Name: EventStateChange, Tags: map[string]string{"to": "THINKING"}})
	ev, ok := mem.Last(EventStateChange)
	if !ok || ev.Tags["to"] != "THINKING" {
		t.Fatalf("expected last state THINKING, got %+v", ev)
	}
	if _, ok := mem.Last(EventQueryFailed); ok {
		t.Fatalf("expected no failure event")
	}
}

func TestJSONLFileObserver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "voice.jsonl")
	obs, err := OpenJSONLFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	obs.RecordEvent(MetricsEvent{
		Name:   EventAnswerReceived,
		Time:   time.Now(),
		Value:  120,
		Tags:   map[string]string{"query_id": "q-1"},
		Fields: map[string]any{"answer_chars": 6},
	})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("expected one line")
	}
	var rec map[string]any
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatalf("line is not json: %v", err)
	}
	if rec["name"] != EventAnswerReceived || rec["query_id"] != "q-1" {
		t.Fatalf("unexpected record %v", rec)
	}
}
