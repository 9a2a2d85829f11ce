package fleetvoice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/chatapi"
	"github.com/harunnryd/fleetvoice/pkg/configutil"
	"github.com/harunnryd/fleetvoice/pkg/dispatch"
	"github.com/harunnryd/fleetvoice/pkg/errorsx"
	"github.com/harunnryd/fleetvoice/pkg/llm"
	"github.com/harunnryd/fleetvoice/pkg/logging"
	"github.com/harunnryd/fleetvoice/pkg/metrics"
	"github.com/harunnryd/fleetvoice/pkg/notify"
	"github.com/harunnryd/fleetvoice/pkg/observers"
	"github.com/harunnryd/fleetvoice/pkg/redact"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
	"github.com/harunnryd/fleetvoice/pkg/runner"
	"github.com/harunnryd/fleetvoice/pkg/schedule"
	"github.com/harunnryd/fleetvoice/pkg/transports/browser"
	"github.com/harunnryd/fleetvoice/pkg/voice"
)

const HealthPath = "/health"

type Engine struct {
	cfg        Config
	log        *slog.Logger
	providers  *ProviderRegistry
	transport  *browser.Transport
	capture    voice.CaptureSource
	controller *voice.Controller
	dispatcher *dispatch.Client
	breaker    *resilience.CircuitBreaker
	latency    *observers.LatencyObserver
	asyncObs   *metrics.AsyncObserver
	events     *metrics.JSONLObserver
	mux        *http.ServeMux
	server     *http.Server
	runner     *runner.LifecycleRunner

	mu       sync.Mutex
	addr     string
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	draining bool
	wg       sync.WaitGroup
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Logger replaces the process logger built from Config.
	Logger *slog.Logger
	// Clock drives the voice timers; the wall clock when nil.
	Clock schedule.Clock
	// Observer receives every metrics event in addition to the built-in ones.
	Observer metrics.Observer
	// BannerOutput receives the startup banner. Stdout when nil; use
	// io.Discard to silence it.
	BannerOutput io.Writer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	log.Info("fleetvoice_init",
		"environment", cfg.Environment,
		"capture_provider", cfg.Capture.Provider,
		"notify_provider", cfg.Notify.Provider,
		"chat_enabled", cfg.Chat.Enabled,
		"redact_pii", redact.Enabled(),
		"chat_provider", cfg.Chat.Provider,
		"backend", cfg.Backend.BaseURL,
	)

	latencyObs := observers.NewLatencyObserver(logging.NewComponentLogger(log, "latency"))
	logObs := observers.NewLoggerObserver(logging.NewComponentLogger(log, "metrics"))
	obsList := []metrics.Observer{latencyObs, logObs}
	var events *metrics.JSONLObserver
	if path := strings.TrimSpace(cfg.Observability.EventsPath); path != "" {
		jl, err := metrics.OpenJSONLFile(path)
		if err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
		}
		events = jl
		obsList = append(obsList, jl)
	}
	if opts.Observer != nil {
		obsList = append(obsList, opts.Observer)
	}
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		providers: providers,
		latency:   latencyObs,
		asyncObs:  asyncObs,
		events:    events,
		mux:       http.NewServeMux(),
	}
	if err := e.build(opts); err != nil {
		asyncObs.Close()
		if events != nil {
			_ = events.Close()
		}
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(opts EngineOptions) error {
	cfg := e.cfg
	mode := browser.ModeSpeech
	if e.providers.NeedsAudio(cfg.Capture.Provider) {
		mode = browser.ModeAudio
	}
	e.transport = browser.New(browser.Config{
		WebsocketPath:  cfg.Server.WSPath,
		AllowAnyOrigin: len(cfg.Server.AllowedOrigins) == 0,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Mode:           mode,
	})

	capture, err := e.providers.BuildCapture(cfg.Capture.Provider, cfg, e.transport)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	e.capture = capture

	extra, err := e.providers.BuildNotifier(cfg.Notify.Provider, cfg, logging.NewComponentLogger(e.log, "notify"))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	notifier := notify.NewMulti(e.transport, extra)

	e.breaker = resilience.NewCircuitBreaker(cfg.Backend.CircuitThreshold, configutil.Millis(cfg.Backend.CircuitCooldownMS, 30*time.Second))
	e.dispatcher, err = dispatch.NewClient(dispatch.Config{
		BaseURL:  cfg.Backend.BaseURL,
		Path:     cfg.Backend.Path,
		Timeout:  configutil.Millis(cfg.Backend.TimeoutMS, dispatch.DefaultTimeout),
		Breaker:  e.breaker,
		Observer: e.asyncObs,
		Logger:   logging.NewComponentLogger(e.log, "dispatch"),
	})
	if err != nil {
		return err
	}

	e.controller, err = voice.NewController(voice.Config{
		Commands:          cfg.CommandSet(),
		Debounce:          configutil.Millis(cfg.Voice.DebounceMS, voice.DefaultDebounce),
		Idle:              configutil.Millis(cfg.Voice.IdleMS, voice.DefaultIdle),
		FallbackUtterance: cfg.Voice.FallbackUtterance,
		Continuous:        cfg.Voice.Continuous,
	}, voice.Deps{
		Capture:    capture,
		Dispatcher: e.dispatcher,
		Speech:     e.transport,
		Navigator:  e.transport,
		Notifier:   notifier,
		Clock:      opts.Clock,
		Observer:   e.asyncObs,
		Logger:     logging.NewComponentLogger(e.log, "voice"),
	})
	if err != nil {
		return err
	}
	e.controller.AddStateListener(e.transport)
	e.transport.SetHandler(e.controller)

	e.mux.Handle(e.transport.Path(), e.transport)
	e.mux.HandleFunc(HealthPath, e.serveHealth)
	if cfg.Chat.Enabled {
		adapter, err := e.providers.BuildLLM(cfg.Chat.Provider, cfg)
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
		}
		if cb, ok := adapter.(*llm.CircuitBreakerAdapter); ok {
			cb.SetObserver(e.asyncObs)
		}
		path := cfg.Backend.Path
		if path == "" {
			path = dispatch.DefaultPath
		}
		e.mux.Handle(path, chatapi.NewHandler(adapter, chatapi.Config{
			SystemPrompt: cfg.Chat.SystemPrompt,
			Timeout:      configutil.Millis(cfg.Chat.TimeoutMS, 20*time.Second),
			Retry:        llm.RetryConfig{MaxAttempts: cfg.Chat.Retries + 1},
		}, logging.NewComponentLogger(e.log, "chat")))
	}

	banner := opts.BannerOutput
	if banner == nil {
		banner = os.Stdout
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), runner.Hooks{
		OnStart: func() {
			e.log.Info("engine_ready",
				"message", "FleetVoice Engine Ready",
				"addr", e.Addr(),
				"ws_path", e.transport.Path(),
				"capture_mode", mode,
			)
		},
		OnStop: func() {
			e.asyncObs.Close()
			if e.events != nil {
				_ = e.events.Close()
			}
			e.log.Info("shutdown", "goroutines", runtime.NumGoroutine(), "dropped_events", e.asyncObs.Dropped())
		},
	}, 15*time.Second)
	e.runner.SetBanner(banner, "FLEETVOICE")
	return nil
}

// Start listens on the configured address and begins consuming capture
// updates. It returns once the listener is bound.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	ln, err := net.Listen("tcp", e.cfg.Server.Addr)
	if err != nil {
		e.cancel()
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	e.mu.Lock()
	e.addr = ln.Addr().String()
	e.server = &http.Server{Handler: e.mux, ReadHeaderTimeout: 10 * time.Second}
	server := e.server
	e.mu.Unlock()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("http_server_failed", "error", err.Error())
		}
	}()
	go func() {
		defer e.wg.Done()
		if err := e.controller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, voice.ErrClosed) {
			e.log.Warn("voice_run_stopped", "error", err.Error())
		}
	}()

	if e.cfg.Voice.AutoStart {
		if err := e.controller.Start(runCtx); err != nil {
			e.log.Warn("voice_autostart_failed", "error", err.Error(), "reason_code", errorsx.Reason(err))
		}
	}

	go func() {
		_ = e.runner.Run(runCtx)
	}()
	return nil
}

// Stop drains the engine: the browser client is dropped, the controller is
// closed and the HTTP server shuts down.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) drain() error {
	e.mu.Lock()
	e.draining = true
	server := e.server
	e.mu.Unlock()

	_ = e.transport.Close()
	err := e.controller.Close()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := server.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	e.wg.Wait()
	return err
}

// Health reports whether the engine can serve voice sessions.
func (e *Engine) Health() error {
	e.mu.Lock()
	draining := e.draining
	e.mu.Unlock()
	if draining {
		return errors.New("engine draining")
	}
	if e.breaker.Open() {
		return errorsx.New(errorsx.ReasonDispatchCircuitOpen, "reasoning backend degraded")
	}
	return nil
}

type healthResponse struct {
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	State            string `json:"state"`
	Listening        bool   `json:"listening"`
	Thinking         bool   `json:"thinking"`
	BrowserConnected bool   `json:"browser_connected"`
	QueriesSent      int    `json:"queries_sent"`
	QueriesAnswered  int    `json:"queries_answered"`
	QueriesFailed    int    `json:"queries_failed"`
	LastRTTMS        int64  `json:"last_rtt_ms"`
}

func (e *Engine) serveHealth(w http.ResponseWriter, r *http.Request) {
	st := e.controller.Status()
	qs := e.latency.Stats()
	resp := healthResponse{
		Status:           "ok",
		State:            st.State.String(),
		Listening:        st.Listening,
		Thinking:         st.Thinking,
		BrowserConnected: e.transport.Connected(),
		QueriesSent:      qs.Sent,
		QueriesAnswered:  qs.Answered,
		QueriesFailed:    qs.Failed,
		LastRTTMS:        qs.LastRTT.Milliseconds(),
	}
	code := http.StatusOK
	if err := e.Health(); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Addr returns the bound listen address once Start has returned.
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

func (e *Engine) Handler() http.Handler { return e.mux }

func (e *Engine) Controller() *voice.Controller { return e.controller }

func (e *Engine) Transport() *browser.Transport { return e.transport }

func (e *Engine) Capture() voice.CaptureSource { return e.capture }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Stats() observers.QueryStats { return e.latency.Stats() }

func (e *Engine) Context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}
