package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/voice"
)

func message(t *testing.T, raw string) *msginterfaces.MessageResponse {
	t.Helper()
	var mr msginterfaces.MessageResponse
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return &mr
}

func drain(s *CaptureSource) []voice.Update {
	var out []voice.Update
	for {
		select {
		case u := <-s.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestCallbackAccumulatesSegments(t *testing.T) {
	s := New(Config{})
	s.capturing = true
	s.continuous = true
	cb := &callback{parent: s}

	steps := []string{
		`{"channel":{"alternatives":[{"transcript":"hey"}]}}`,
		`{"channel":{"alternatives":[{"transcript":"hey auto"}]},"is_final":true}`,
		`{"channel":{"alternatives":[{"transcript":"what is"}]}}`,
		`{"channel":{"alternatives":[{"transcript":"what is the range"}]},"is_final":true,"speech_final":true}`,
	}
	for _, raw := range steps {
		if err := cb.Message(message(t, raw)); err != nil {
			t.Fatalf("message: %v", err)
		}
	}
	updates := drain(s)
	want := []string{"hey", "hey auto", "hey auto what is", "hey auto what is the range"}
	if len(updates) != len(want) {
		t.Fatalf("expected %d updates, got %+v", len(want), updates)
	}
	for i, u := range updates {
		if u.Transcript != want[i] || !u.Capturing {
			t.Fatalf("update %d: got %+v want %q", i, u, want[i])
		}
	}
}

func TestResetStartsNewTranscript(t *testing.T) {
	s := New(Config{})
	s.capturing = true
	s.continuous = true
	cb := &callback{parent: s}

	_ = cb.Message(message(t, `{"channel":{"alternatives":[{"transcript":"clear transcript"}]},"is_final":true}`))
	epoch := s.Reset()
	_ = cb.Message(message(t, `{"channel":{"alternatives":[{"transcript":"go to bookings"}]},"is_final":true}`))

	updates := drain(s)
	if updates[0].Epoch != 0 {
		t.Fatalf("expected first update before reset, got %+v", updates[0])
	}
	last := updates[len(updates)-1]
	if last.Transcript != "go to bookings" || last.Epoch != epoch || epoch != 1 {
		t.Fatalf("expected fresh transcript stamped with epoch %d, got %+v", epoch, last)
	}
}

func TestStartWhileStartingIsNoop(t *testing.T) {
	s := New(Config{APIKey: "dg-test"})
	s.starting = true
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dgClient != nil || s.cancel != nil || !s.starting {
		t.Fatalf("second start opened a connection")
	}
}

func TestCaptureLossSurvivesFullQueue(t *testing.T) {
	s := New(Config{})
	s.capturing = true
	s.continuous = true
	for i := 0; i < cap(s.updates)+4; i++ {
		s.applyResult(fmt.Sprintf("word %d", i), false, false)
	}
	s.setCapturing(false)

	updates := drain(s)
	if len(updates) != cap(s.updates) {
		t.Fatalf("expected a full queue, got %d", len(updates))
	}
	if last := updates[len(updates)-1]; last.Capturing {
		t.Fatalf("capture loss was dropped: %+v", last)
	}
}

func TestNonContinuousStopsOnSpeechFinal(t *testing.T) {
	s := New(Config{})
	s.capturing = true
	if !s.applyResult("hello", true, true) {
		t.Fatalf("expected non-continuous session to stop on speech final")
	}
	s.continuous = true
	if s.applyResult("again", true, true) {
		t.Fatalf("continuous session must keep capturing")
	}
}

func TestWriteBeforeStart(t *testing.T) {
	s := New(Config{})
	if _, err := s.Write([]byte{1, 2}); errorsx.Reason(err) != errorsx.ReasonCaptureStream {
		t.Fatalf("expected capture stream error, got %v", err)
	}
}
