package browser

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/logging"
	"github.com/harunnryd/fleetvoice/pkg/turn"
	"github.com/harunnryd/fleetvoice/pkg/voice"
)

const (
	// ModeSpeech asks the browser to recognize speech itself and send transcripts.
	ModeSpeech = "speech"
	// ModeAudio asks the browser to stream raw microphone audio as binary frames.
	ModeAudio = "audio"
)

type Config struct {
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Mode selects where speech is recognized: ModeSpeech or ModeAudio.
	Mode string `mapstructure:"mode"`
}

func (c Config) withDefaults() Config {
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/voice/ws"
	}
	if c.Mode == "" {
		c.Mode = ModeSpeech
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Handler receives session commands from the browser. *voice.Controller
// satisfies it.
type Handler interface {
	Start(ctx context.Context) error
	Stop() error
	SetPageContext(data any)
}

// Transport is the websocket link to the dashboard page. It serves one
// browser client at a time; a new connection replaces the previous one.
//
// In speech mode the page runs the recognizer and Transport is the capture
// source. It is also the speech, navigation and notice sink in both modes.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger
	updates  chan voice.Update

	mu          sync.Mutex
	sess        *session
	handler     Handler
	audio       io.Writer
	epoch       uint64
	transcript  string
	capturing   bool
	unsupported bool

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log:     logging.NewComponentLogger(slog.Default(), "browser_transport"),
		updates: make(chan voice.Update, 64),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "browser" }

func (t *Transport) Path() string { return t.cfg.WebsocketPath }

// SetHandler wires control and page-context messages.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// SetAudioSink receives binary audio frames from the browser.
func (t *Transport) SetAudioSink(w io.Writer) {
	t.mu.Lock()
	t.audio = w
	t.mu.Unlock()
}

// Connected reports whether a browser client is attached.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil
}

func (t *Transport) Start(ctx context.Context, continuous bool) error {
	return t.RequestCapture(true, continuous)
}

func (t *Transport) Stop() error {
	return t.RequestCapture(false, false)
}

// RequestCapture asks the browser to start or stop the microphone.
func (t *Transport) RequestCapture(start, continuous bool) error {
	t.mu.Lock()
	sess := t.sess
	unsupported := t.unsupported
	t.mu.Unlock()
	if start && unsupported && t.cfg.Mode == ModeSpeech {
		return voice.ErrCaptureUnavailable
	}
	if sess == nil {
		if !start {
			return nil
		}
		return errorsx.New(errorsx.ReasonCaptureStart, "no browser client connected")
	}
	action := "stop"
	if start {
		action = "start"
	}
	return sess.enqueue(Outbound{Type: TypeCapture, Action: action, Continuous: continuous, Mode: t.cfg.Mode})
}

// Reset empties the transcript and tells the browser to do the same.
// Transcripts the page sent before it saw the reset are ignored.
func (t *Transport) Reset() uint64 {
	t.mu.Lock()
	t.epoch++
	t.transcript = ""
	epoch := t.epoch
	sess := t.sess
	t.mu.Unlock()
	if sess != nil {
		_ = sess.enqueue(Outbound{Type: TypeResetTranscript, Epoch: epoch})
	}
	return epoch
}

func (t *Transport) Updates() <-chan voice.Update { return t.updates }

func (t *Transport) Speak(text string) {
	t.send(Outbound{Type: TypeSpeak, Text: text})
}

func (t *Transport) Navigate(route string) {
	t.send(Outbound{Type: TypeNavigate, Route: route})
}

func (t *Transport) Notify(n voice.Notice) {
	t.send(Outbound{Type: TypeNotice, Level: string(n.Level), Message: n.Message})
}

// OnStateChange mirrors session state to the page.
func (t *Transport) OnStateChange(ev turn.StateChange) {
	t.send(Outbound{Type: TypeState, State: ev.ToState.String(), Reason: ev.Reason})
}

// Close drops the current client and rejects new ones.
func (t *Transport) Close() error {
	t.draining.Store(true)
	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()
	if sess != nil {
		return sess.close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := t.attach(conn)
	defer t.detach(sess)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind == websocket.BinaryMessage {
			t.handleAudio(msg)
			continue
		}
		var in Inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			t.log.Debug("browser_message_invalid", "session_id", sess.id, "error", err.Error())
			continue
		}
		t.handleInbound(r.Context(), sess, in)
	}
}

func (t *Transport) handleInbound(ctx context.Context, sess *session, in Inbound) {
	switch in.Type {
	case TypeTranscript:
		t.mu.Lock()
		if in.Epoch < t.epoch {
			t.mu.Unlock()
			return
		}
		if t.cfg.Mode == ModeAudio {
			t.mu.Unlock()
			return
		}
		stateChange := t.capturing != in.Capturing
		t.transcript = in.Transcript
		t.capturing = in.Capturing
		u := voice.Update{Transcript: t.transcript, Capturing: t.capturing, Epoch: t.epoch}
		t.mu.Unlock()
		t.emit(u, stateChange)
	case TypePageContext:
		h := t.currentHandler()
		if h == nil {
			return
		}
		var data any
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &data); err != nil {
				t.log.Debug("browser_page_context_invalid", "session_id", sess.id, "error", err.Error())
				return
			}
		}
		h.SetPageContext(data)
	case TypeControl:
		h := t.currentHandler()
		if h == nil {
			return
		}
		var err error
		switch in.Action {
		case "start":
			err = h.Start(ctx)
		case "stop":
			err = h.Stop()
		default:
			return
		}
		if err != nil {
			t.log.Warn("browser_control_failed", "action", in.Action, "error", err.Error(), "reason_code", errorsx.Reason(err))
		}
	case TypeCaptureUnsupported:
		t.mu.Lock()
		t.unsupported = true
		t.mu.Unlock()
		t.log.Warn("browser_capture_unsupported", "session_id", sess.id)
	}
}

func (t *Transport) handleAudio(payload []byte) {
	t.mu.Lock()
	w := t.audio
	t.mu.Unlock()
	if w == nil {
		return
	}
	if _, err := w.Write(payload); err != nil {
		t.log.Debug("browser_audio_dropped", "error", err.Error())
	}
}

func (t *Transport) currentHandler() Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *Transport) attach(conn *websocket.Conn) *session {
	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	t.mu.Lock()
	old := t.sess
	t.sess = sess
	t.unsupported = false
	t.mu.Unlock()
	if old != nil {
		_ = old.close()
	}
	go sess.loop()
	t.log.Info("browser_connected", "session_id", sess.id)
	return sess
}

func (t *Transport) detach(sess *session) {
	t.mu.Lock()
	current := t.sess == sess
	var u voice.Update
	lost := false
	if current {
		t.sess = nil
		if t.capturing {
			t.capturing = false
			lost = true
			u = voice.Update{Transcript: t.transcript, Capturing: false, Epoch: t.epoch}
		}
	}
	t.mu.Unlock()
	_ = sess.close()
	if lost && t.cfg.Mode == ModeSpeech {
		t.emit(u, true)
	}
	t.log.Info("browser_disconnected", "session_id", sess.id)
}

func (t *Transport) send(msg Outbound) {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		t.log.Debug("browser_send_dropped", "type", msg.Type, "reason_code", errorsx.ReasonTransportSend)
		return
	}
	if err := sess.enqueue(msg); err != nil {
		t.log.Warn("browser_send_failed", "type", msg.Type, "error", err.Error(), "reason_code", errorsx.ReasonTransportSend)
	}
}

func (t *Transport) emit(u voice.Update, stateChange bool) {
	if !voice.Deliver(t.updates, u, stateChange) {
		t.log.Warn("browser_updates_full", "capturing", u.Capturing)
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type session struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.Mutex
	closed atomic.Bool
}

func (s *session) enqueue(msg Outbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errorsx.New(errorsx.ReasonTransportSend, "browser session closed")
	}
	select {
	case s.sendCh <- b:
		return nil
	default:
		return errorsx.New(errorsx.ReasonTransportSend, "browser send queue full")
	}
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *session) close() error {
	s.mu.Lock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	s.mu.Unlock()
	return s.conn.Close()
}

var (
	_ voice.CaptureSource = (*Transport)(nil)
	_ voice.SpeechSink    = (*Transport)(nil)
	_ voice.Navigator     = (*Transport)(nil)
	_ voice.Notifier      = (*Transport)(nil)
	_ turn.StateListener  = (*Transport)(nil)
)
