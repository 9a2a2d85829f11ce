package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/logging"
	"github.com/harunnryd/fleetvoice/pkg/voice"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type DeepgramParams struct {
	UtteranceEndMS int
}

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
	Params     DeepgramParams
}

// CaptureSource turns audio written to it into a growing transcript using
// Deepgram live transcription. Final segments accumulate; the latest interim
// segment is appended until it is finalized.
type CaptureSource struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	dgClient   *client.WSCallback
	pipeWriter *io.PipeWriter
	cancel     context.CancelFunc
	capturing  bool
	starting   bool
	continuous bool
	epoch      uint64
	finals     []string
	interim    string
	metaLogged bool

	updates chan voice.Update
}

func New(cfg Config) *CaptureSource {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &CaptureSource{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(slog.Default(), "deepgram_capture"),
		updates: make(chan voice.Update, 64),
	}
}

func (s *CaptureSource) Name() string { return "deepgram" }

func (s *CaptureSource) Updates() <-chan voice.Update { return s.updates }

func (s *CaptureSource) Start(ctx context.Context, continuous bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// starting holds off a concurrent Start until this one has either
	// connected or failed.
	s.mu.Lock()
	if s.capturing || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	pipeReader, pipeWriter := io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		InterimResults: s.cfg.Interim,
		SmartFormat:    true,
	}
	if s.cfg.Params.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.Params.UtteranceEndMS)
		transcriptOptions.VadEvents = true
	}

	dgClient, err := client.NewWSUsingCallback(streamCtx, s.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: s})
	if err != nil {
		cancel()
		s.abortStart()
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonCaptureStart)
	}
	if connected := dgClient.Connect(); !connected {
		cancel()
		s.abortStart()
		s.logger.Error("deepgram_connect_failed")
		return errorsx.New(errorsx.ReasonCaptureStart, "deepgram connection failed")
	}
	s.logger.Info("deepgram_connected", slog.String("model", s.cfg.Model), slog.Bool("continuous", continuous))

	go func() {
		if err := dgClient.Stream(pipeReader); err != nil && streamCtx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.setCapturing(false)
		}
	}()

	s.mu.Lock()
	s.dgClient = dgClient
	s.pipeWriter = pipeWriter
	s.cancel = cancel
	s.continuous = continuous
	s.starting = false
	s.mu.Unlock()
	s.setCapturing(true)
	return nil
}

func (s *CaptureSource) abortStart() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	pw := s.pipeWriter
	dg := s.dgClient
	s.cancel = nil
	s.pipeWriter = nil
	s.dgClient = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pw != nil {
		_ = pw.Close()
	}
	if dg != nil {
		dg.Stop()
	}
	s.setCapturing(false)
	return nil
}

// Reset drops accumulated segments. The next result starts a new transcript
// stamped with the returned epoch.
func (s *CaptureSource) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = nil
	s.interim = ""
	s.epoch++
	return s.epoch
}

// Write forwards raw audio to Deepgram.
func (s *CaptureSource) Write(p []byte) (int, error) {
	s.mu.Lock()
	pw := s.pipeWriter
	s.mu.Unlock()
	if pw == nil {
		return 0, errorsx.New(errorsx.ReasonCaptureStream, "deepgram capture not started")
	}
	n, err := pw.Write(p)
	if err != nil {
		s.logger.Warn("deepgram_audio_write_failed", slog.String("error", err.Error()))
		return n, errorsx.Wrap(err, errorsx.ReasonCaptureStream)
	}
	return n, nil
}

func (s *CaptureSource) setCapturing(capturing bool) {
	s.mu.Lock()
	changed := s.capturing != capturing
	s.capturing = capturing
	u := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.emit(u, true)
	}
}

// applyResult folds one transcription result into the transcript. It reports
// whether a non-continuous session should stop.
func (s *CaptureSource) applyResult(text string, final, speechFinal bool) bool {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	if final {
		if text != "" {
			s.finals = append(s.finals, text)
		}
		s.interim = ""
	} else {
		s.interim = text
	}
	u := s.snapshotLocked()
	stop := speechFinal && !s.continuous && s.capturing
	s.mu.Unlock()
	s.emit(u, false)
	return stop
}

func (s *CaptureSource) snapshotLocked() voice.Update {
	parts := append([]string(nil), s.finals...)
	if s.interim != "" {
		parts = append(parts, s.interim)
	}
	return voice.Update{Transcript: strings.Join(parts, " "), Capturing: s.capturing, Epoch: s.epoch}
}

func (s *CaptureSource) emit(u voice.Update, stateChange bool) {
	if !voice.Deliver(s.updates, u, stateChange) {
		s.logger.Warn("deepgram_updates_full", slog.Bool("capturing", u.Capturing))
	}
}

type callback struct {
	parent *CaptureSource
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" && !mr.IsFinal {
		return nil
	}
	c.parent.logger.Debug("transcript_received",
		slog.Bool("is_final", mr.IsFinal),
		slog.Bool("speech_final", mr.SpeechFinal))
	if c.parent.applyResult(transcript, mr.IsFinal || mr.SpeechFinal, mr.SpeechFinal) {
		go func() { _ = c.parent.Stop() }()
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	first := !c.parent.metaLogged
	c.parent.metaLogged = true
	c.parent.mu.Unlock()
	if first {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event", slog.Int("utterance_end_ms", c.parent.cfg.Params.UtteranceEndMS))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	c.parent.setCapturing(false)
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var (
	_ voice.CaptureSource = (*CaptureSource)(nil)
	_ io.Writer           = (*CaptureSource)(nil)
)
