package fleetvoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/fleetvoice/pkg/configutil"
	"github.com/harunnryd/fleetvoice/pkg/llm"
	"github.com/harunnryd/fleetvoice/pkg/notify"
	"github.com/harunnryd/fleetvoice/pkg/providers/deepgram"
	"github.com/harunnryd/fleetvoice/pkg/providers/mock"
	"github.com/harunnryd/fleetvoice/pkg/providers/openai"
	"github.com/harunnryd/fleetvoice/pkg/resilience"
	"github.com/harunnryd/fleetvoice/pkg/transports/browser"
	"github.com/harunnryd/fleetvoice/pkg/voice"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

type mockCaptureSettings struct {
	Unsupported bool `mapstructure:"unsupported"`
	Buffer      int  `mapstructure:"buffer"`
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type mockLLMSettings struct {
	ResponseText string `mapstructure:"response_text"`
}

// DefaultProviders returns a registry with the built-in providers:
// capture browser, deepgram and mock; llm openai and mock; notify log and
// twilio.
func DefaultProviders() *ProviderRegistry {
	reg := NewProviderRegistry()
	registerProviders(reg)
	return reg
}

func registerProviders(reg *ProviderRegistry) {
	reg.RegisterCapture("browser", func(cfg Config, tr *browser.Transport) (voice.CaptureSource, error) {
		if err := validateSettings("capture.settings", cfg.Capture.Settings, configutil.Schema{}); err != nil {
			return nil, err
		}
		return tr, nil
	})

	reg.RegisterAudioCapture("deepgram", func(cfg Config, tr *browser.Transport) (voice.CaptureSource, error) {
		if err := validateSettings("capture.settings", cfg.Capture.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "utterance_end_ms"},
		}); err != nil {
			return nil, err
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.Capture.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "capture.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Language == "" {
			settings.Language = "en-US"
		}
		if settings.Encoding != "" && !validDeepgramEncoding(settings.Encoding) {
			return nil, fmt.Errorf("capture.settings.encoding must be one of [linear16, opus], got %s", settings.Encoding)
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("capture.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		src := deepgram.New(deepgram.Config{
			APIKey:     settings.APIKey,
			Model:      settings.Model,
			Language:   settings.Language,
			SampleRate: settings.SampleRate,
			Encoding:   settings.Encoding,
			Interim:    configutil.BoolValue(settings.Interim, true),
			Params:     deepgram.DeepgramParams{UtteranceEndMS: utteranceEnd},
		})
		tr.SetAudioSink(src)
		return &audioCapture{source: src, page: tr}, nil
	})

	reg.RegisterCapture("mock", func(cfg Config, tr *browser.Transport) (voice.CaptureSource, error) {
		if err := validateSettings("capture.settings", cfg.Capture.Settings, configutil.Schema{
			Optional: []string{"unsupported", "buffer"},
		}); err != nil {
			return nil, err
		}
		var settings mockCaptureSettings
		if err := configutil.DecodeSettings(cfg.Capture.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewCaptureSource(mock.CaptureConfig{
			Unsupported: settings.Unsupported,
			Buffer:      settings.Buffer,
		}), nil
	})

	reg.RegisterLLM("openai", func(cfg Config) (llm.Adapter, error) {
		if err := validateSettings("chat.settings", cfg.Chat.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
		}); err != nil {
			return nil, err
		}
		var settings openAISettings
		if err := configutil.DecodeSettings(cfg.Chat.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "chat.settings.api_key"); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		if !configutil.BoolValue(settings.UseCircuitBreaker, true) {
			return adapter, nil
		}
		threshold := settings.CircuitThreshold
		if threshold == 0 {
			threshold = 3
		}
		cooldown := configutil.Millis(settings.CircuitCooldownMs, 30*time.Second)
		return llm.NewCircuitBreakerAdapter(adapter, resilience.NewCircuitBreaker(threshold, cooldown)), nil
	})

	reg.RegisterLLM("mock", func(cfg Config) (llm.Adapter, error) {
		if err := validateSettings("chat.settings", cfg.Chat.Settings, configutil.Schema{
			Optional: []string{"response_text"},
		}); err != nil {
			return nil, err
		}
		var settings mockLLMSettings
		if err := configutil.DecodeSettings(cfg.Chat.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{ResponseText: settings.ResponseText}), nil
	})

	reg.RegisterNotifier("log", func(cfg Config, log *slog.Logger) (voice.Notifier, error) {
		return notify.NewLogNotifier(log), nil
	})

	reg.RegisterNotifier("twilio", func(cfg Config, log *slog.Logger) (voice.Notifier, error) {
		if err := validateSettings("notify.settings", cfg.Notify.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token", "from", "to"},
			Optional: []string{"min_level", "prefix"},
		}); err != nil {
			return nil, err
		}
		var settings notify.TwilioConfig
		if err := configutil.DecodeSettings(cfg.Notify.Settings, &settings); err != nil {
			return nil, err
		}
		n, err := notify.NewTwilioNotifier(settings, log)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func validDeepgramEncoding(enc string) bool {
	switch enc {
	case "linear16", "opus":
		return true
	}
	return false
}

// audioCapture recognizes speech server side: the page streams microphone
// audio over the browser transport and source turns it into transcripts.
type audioCapture struct {
	source *deepgram.CaptureSource
	page   *browser.Transport
}

func (a *audioCapture) Start(ctx context.Context, continuous bool) error {
	if err := a.source.Start(ctx, continuous); err != nil {
		return err
	}
	if err := a.page.RequestCapture(true, continuous); err != nil {
		_ = a.source.Stop()
		return err
	}
	return nil
}

func (a *audioCapture) Stop() error {
	err := a.page.RequestCapture(false, false)
	if serr := a.source.Stop(); serr != nil {
		return serr
	}
	return err
}

func (a *audioCapture) Reset() uint64 { return a.source.Reset() }

func (a *audioCapture) Updates() <-chan voice.Update { return a.source.Updates() }

var _ voice.CaptureSource = (*audioCapture)(nil)
