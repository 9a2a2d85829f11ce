package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/harunnryd/fleetvoice/pkg/voice"
)

type CaptureConfig struct {
	// Unsupported makes Start fail with voice.ErrCaptureUnavailable.
	Unsupported bool
	Buffer      int
}

// CaptureSource is a scripted capture source. Say appends words to the
// transcript as a recognizer would.
type CaptureSource struct {
	cfg        CaptureConfig
	mu         sync.Mutex
	transcript string
	capturing  bool
	continuous bool
	starts     int
	resets     int
	updates    chan voice.Update
}

func NewCaptureSource(cfg CaptureConfig) *CaptureSource {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &CaptureSource{cfg: cfg, updates: make(chan voice.Update, cfg.Buffer)}
}

func (s *CaptureSource) Name() string { return "mock_capture" }

func (s *CaptureSource) Start(ctx context.Context, continuous bool) error {
	if s.cfg.Unsupported {
		return voice.ErrCaptureUnavailable
	}
	s.mu.Lock()
	s.starts++
	s.capturing = true
	s.continuous = continuous
	u := voice.Update{Transcript: s.transcript, Capturing: true, Epoch: uint64(s.resets)}
	s.mu.Unlock()
	s.emit(u, true)
	return nil
}

func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	s.capturing = false
	u := voice.Update{Transcript: s.transcript, Capturing: false, Epoch: uint64(s.resets)}
	s.mu.Unlock()
	s.emit(u, true)
	return nil
}

// Reset empties the transcript. The epoch is the number of resets so far.
func (s *CaptureSource) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = ""
	s.resets++
	return uint64(s.resets)
}

// Say appends text to the transcript and emits an update. It is ignored while
// capture is stopped.
func (s *CaptureSource) Say(text string) {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return
	}
	text = strings.TrimSpace(text)
	if s.transcript == "" {
		s.transcript = text
	} else if text != "" {
		s.transcript += " " + text
	}
	u := voice.Update{Transcript: s.transcript, Capturing: true, Epoch: uint64(s.resets)}
	s.mu.Unlock()
	s.emit(u, false)
}

// Revoke simulates the host taking the microphone away.
func (s *CaptureSource) Revoke() {
	_ = s.Stop()
}

func (s *CaptureSource) Updates() <-chan voice.Update { return s.updates }

func (s *CaptureSource) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *CaptureSource) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *CaptureSource) Continuous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuous
}

func (s *CaptureSource) emit(u voice.Update, stateChange bool) {
	voice.Deliver(s.updates, u, stateChange)
}

var _ voice.CaptureSource = (*CaptureSource)(nil)
