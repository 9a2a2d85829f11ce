package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/fleetvoice/pkg/command"
	"github.com/harunnryd/fleetvoice/pkg/dispatch"
	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/metrics"
	"github.com/harunnryd/fleetvoice/pkg/redact"
	"github.com/harunnryd/fleetvoice/pkg/schedule"
	"github.com/harunnryd/fleetvoice/pkg/turn"
)

const (
	DefaultDebounce          = 2200 * time.Millisecond
	DefaultIdle              = 5000 * time.Millisecond
	DefaultFallbackUtterance = "Error connecting to server."

	noticeAnswered    = "AI Response received"
	noticeFailed      = "Failed to connect to AI Core."
	noticeUnsupported = "Speech recognition is not supported in this browser."
)

type Config struct {
	Commands          []command.Command
	Debounce          time.Duration
	Idle              time.Duration
	FallbackUtterance string
	Continuous        bool
}

// Deps are the collaborators of a Controller. Capture and Dispatcher are
// required; the remaining sinks default to no-ops. Sinks are called while the
// controller holds its lock and must not call back into it.
type Deps struct {
	Capture    CaptureSource
	Dispatcher Dispatcher
	Speech     SpeechSink
	Navigator  Navigator
	Notifier   Notifier
	Clock      schedule.Clock
	Observer   metrics.Observer
	Logger     *slog.Logger
}

// Status is a snapshot of the session.
type Status struct {
	State         turn.State
	Listening     bool
	Thinking      bool
	Transcript    string
	DebounceArmed bool
	IdleArmed     bool
}

// Controller runs the voice session: it matches commands on every transcript
// change, debounces wake-phrase questions, clears idle transcripts and sends
// one question at a time to the backend.
//
// All handlers run under one mutex, so transcript updates, timer expiries and
// dispatch completions are applied one at a time.
type Controller struct {
	cfg     Config
	matcher *command.Matcher
	deps    Deps
	log     *slog.Logger
	obs     metrics.Observer
	fsm     *turn.Machine

	debounce *schedule.Task
	idle     *schedule.Task

	mu           sync.Mutex
	transcript   string
	epoch        uint64
	listening    bool
	thinking     bool
	pageContext  any
	closed       bool
	warnedUnsupp bool
	cancelQuery  context.CancelFunc
	baseCtx      context.Context
	cancelBase   context.CancelFunc
	inflight     sync.WaitGroup
}

func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Capture == nil {
		return nil, errors.New("voice: capture source is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("voice: dispatcher is required")
	}
	if cfg.Commands == nil {
		cfg.Commands = command.DefaultCommands()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	if strings.TrimSpace(cfg.FallbackUtterance) == "" {
		cfg.FallbackUtterance = DefaultFallbackUtterance
	}
	matcher, err := command.NewMatcher(cfg.Commands)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if deps.Speech == nil {
		deps.Speech = nopSpeech{}
	}
	if deps.Navigator == nil {
		deps.Navigator = nopNavigator{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock()
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		matcher:    matcher,
		deps:       deps,
		log:        deps.Logger,
		obs:        deps.Observer,
		fsm:        turn.NewMachine(),
		debounce:   schedule.NewTask("debounce", deps.Clock, cfg.Debounce),
		idle:       schedule.NewTask("idle", deps.Clock, cfg.Idle),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	c.fsm.SetClock(deps.Clock.Now)
	c.fsm.AddListener(turn.ListenerFunc(c.recordStateChange))
	return c, nil
}

// AddStateListener registers a listener for session state changes.
func (c *Controller) AddStateListener(l turn.StateListener) {
	c.fsm.AddListener(l)
}

// Start begins continuous capture. When the host cannot capture speech it
// warns once and returns ErrCaptureUnavailable; the controller stays usable.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	err := c.deps.Capture.Start(ctx, c.cfg.Continuous)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err != nil {
		if errors.Is(err, ErrCaptureUnavailable) || errorsx.HasReason(err, errorsx.ReasonCaptureUnavailable) {
			c.warnUnavailableLocked()
			return err
		}
		c.log.Warn("voice_capture_start_failed", "error", err, "reason_code", errorsx.Reason(err))
		return errorsx.Wrap(err, errorsx.ReasonCaptureStart)
	}
	c.setListeningLocked(true, "capture started")
	return nil
}

// Stop ends capture and cancels both timers. A query in flight still
// completes; the session then settles in IDLE.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	err := c.deps.Capture.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.setListeningLocked(false, "capture stopped")
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCaptureStream)
	}
	return nil
}

// SetPageContext replaces the context sent with the next query.
func (c *Controller) SetPageContext(data any) {
	c.mu.Lock()
	c.pageContext = data
	c.mu.Unlock()
}

// HandleUpdate applies one capture update. Unchanged transcripts are ignored,
// and so are transcripts produced before the last reset: the capture state of
// such an update still applies.
func (c *Controller) HandleUpdate(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if u.Capturing != c.listening {
		if !u.Capturing {
			c.record(metrics.EventCaptureLost, nil)
			c.log.Info("voice_capture_lost")
		}
		c.setListeningLocked(u.Capturing, "capture state echoed")
	}
	if u.Epoch < c.epoch {
		c.log.Debug("voice_update_stale", "epoch", u.Epoch, "current", c.epoch)
		return
	}
	if u.Transcript == c.transcript {
		return
	}
	c.transcript = u.Transcript
	if !c.listening {
		return
	}
	c.onTranscriptChangedLocked()
}

// Run consumes capture updates until ctx is done, the source closes its
// channel or the controller is closed.
func (c *Controller) Run(ctx context.Context) error {
	updates := c.deps.Capture.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.baseCtx.Done():
			return ErrClosed
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			c.HandleUpdate(u)
		}
	}
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:         c.fsm.State(),
		Listening:     c.listening,
		Thinking:      c.thinking,
		Transcript:    c.transcript,
		DebounceArmed: c.debounce.Armed(),
		IdleArmed:     c.idle.Armed(),
	}
}

// Close cancels both timers and any query in flight, then waits for the
// dispatch goroutine to exit. Completion effects of a canceled query are
// dropped. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelTimersLocked()
	if c.cancelQuery != nil {
		c.cancelQuery()
	}
	c.cancelBase()
	listening := c.listening
	c.mu.Unlock()

	var err error
	if listening {
		err = c.deps.Capture.Stop()
	}
	c.inflight.Wait()
	return err
}

func (c *Controller) onTranscriptChangedLocked() {
	if strings.TrimSpace(c.transcript) == "" {
		c.cancelTimersLocked()
		return
	}
	match, ok := c.matcher.Match(c.transcript)
	if ok && match.Kind == command.KindLiteral {
		c.runLiteralLocked(match)
		return
	}
	if c.thinking {
		c.cancelTimersLocked()
		return
	}
	if ok {
		c.debounce.Arm(c.onDebounce)
		c.record(metrics.EventWakeMatched, map[string]string{"phrase": match.Phrase})
	} else {
		c.debounce.Cancel()
	}
	c.idle.Arm(c.onIdle)
}

func (c *Controller) runLiteralLocked(match command.Match) {
	cmd := match.Command
	c.log.Info("voice_command_matched", "command", cmd.Name, "phrase", match.Phrase)
	c.record(metrics.EventCommandMatched, map[string]string{"command": cmd.Name, "phrase": match.Phrase})
	if cmd.Route != "" {
		c.deps.Navigator.Navigate(cmd.Route)
	}
	if cmd.Say != "" {
		c.deps.Speech.Speak(cmd.Say)
	}
	if cmd.Notice != "" {
		c.deps.Notifier.Notify(Notice{Level: ParseLevel(cmd.NoticeLevel), Message: cmd.Notice})
	}
	c.resetTranscriptLocked()
}

func (c *Controller) onDebounce(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.debounce.Claim(gen) || c.thinking {
		return
	}
	match, ok := c.matcher.Match(c.transcript)
	if !ok || match.Kind != command.KindWake {
		return
	}
	if match.Question == "" {
		c.record(metrics.EventQuerySkipped, map[string]string{"phrase": match.Phrase})
		c.log.Debug("voice_query_skipped", "reason", "empty_question")
		return
	}
	c.startQueryLocked(match.Question)
}

func (c *Controller) onIdle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.idle.Claim(gen) || c.thinking {
		return
	}
	c.log.Debug("voice_transcript_idle_reset", "transcript", redact.Text(c.transcript))
	c.record(metrics.EventTranscriptIdle, nil)
	c.resetTranscriptLocked()
}

func (c *Controller) startQueryLocked(question string) {
	c.thinking = true
	c.resetTranscriptLocked()
	c.transitionLocked(turn.StateThinking, "query sent")

	queryID := uuid.NewString()
	ctx, cancel := context.WithCancel(dispatch.WithRequestID(c.baseCtx, queryID))
	c.cancelQuery = cancel
	pageContext := c.pageContext

	c.log.Info("voice_query_sent", "query_id", queryID, "question", redact.Text(question))
	c.record(metrics.EventQuerySent, map[string]string{"query_id": queryID})
	c.deps.Notifier.Notify(Notice{Level: LevelInfo, Message: fmt.Sprintf("Transmitting to AI: %q", question)})

	c.inflight.Add(1)
	go c.runQuery(ctx, queryID, question, pageContext)
}

func (c *Controller) runQuery(ctx context.Context, queryID, question string, pageContext any) {
	defer c.inflight.Done()
	var (
		answer string
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
		c.finishQuery(queryID, answer, err)
	}()
	answer, err = c.deps.Dispatcher.Ask(ctx, question, pageContext)
}

func (c *Controller) finishQuery(queryID, answer string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelQuery != nil {
		c.cancelQuery()
		c.cancelQuery = nil
	}
	defer func() {
		c.thinking = false
	}()
	if c.closed {
		return
	}
	defer c.settleAfterQueryLocked()

	if err != nil {
		c.log.Warn("voice_query_failed", "query_id", queryID, "error", err, "reason_code", errorsx.Reason(err))
		c.record(metrics.EventQueryFailed, map[string]string{"query_id": queryID, "reason_code": string(errorsx.Reason(err))})
		c.speakLocked(c.cfg.FallbackUtterance)
		c.deps.Notifier.Notify(Notice{Level: LevelError, Message: noticeFailed})
		return
	}
	c.log.Info("voice_answer_received", "query_id", queryID, "answer", redact.Text(answer))
	c.record(metrics.EventAnswerReceived, map[string]string{"query_id": queryID})
	c.speakLocked(answer)
	c.deps.Notifier.Notify(Notice{Level: LevelSuccess, Message: noticeAnswered})
}

func (c *Controller) speakLocked(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.transitionLocked(turn.StateSpeaking, "speaking reply")
	c.deps.Speech.Speak(text)
}

// settleAfterQueryLocked leaves THINKING or SPEAKING for the resting state.
// Speech heard while the query was in flight is matched again, so a wake
// question asked during THINKING arms the debounce now.
func (c *Controller) settleAfterQueryLocked() {
	c.thinking = false
	c.transitionLocked(turn.Target(c.listening), "query finished")
	if c.listening && strings.TrimSpace(c.transcript) != "" {
		c.onTranscriptChangedLocked()
	}
}

func (c *Controller) setListeningLocked(listening bool, reason string) {
	c.listening = listening
	if !listening {
		c.cancelTimersLocked()
	}
	if err := c.fsm.Settle(listening, reason); err != nil {
		c.log.Error("voice_state_transition_failed", "error", err)
	}
}

func (c *Controller) resetTranscriptLocked() {
	c.transcript = ""
	c.cancelTimersLocked()
	c.epoch = c.deps.Capture.Reset()
}

func (c *Controller) cancelTimersLocked() {
	c.debounce.Cancel()
	c.idle.Cancel()
}

func (c *Controller) warnUnavailableLocked() {
	if c.warnedUnsupp {
		return
	}
	c.warnedUnsupp = true
	c.log.Warn("voice_capture_unavailable", "reason_code", errorsx.ReasonCaptureUnavailable)
	c.record(metrics.EventCaptureUnavailable, nil)
	c.deps.Notifier.Notify(Notice{Level: LevelWarning, Message: noticeUnsupported})
}

func (c *Controller) transitionLocked(to turn.State, reason string) {
	if c.fsm.State() == to {
		return
	}
	if err := c.fsm.Transition(to, reason); err != nil {
		c.log.Error("voice_state_transition_failed", "error", err)
	}
}

func (c *Controller) recordStateChange(ev turn.StateChange) {
	c.record(metrics.EventStateChange, map[string]string{
		"from":   ev.FromState.String(),
		"to":     ev.ToState.String(),
		"reason": ev.Reason,
	})
}

func (c *Controller) record(name string, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["component"] = "voice"
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: c.deps.Clock.Now(),
		Tags: tags,
	})
}
