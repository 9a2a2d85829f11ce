package fleetvoice

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/fleetvoice/pkg/llm"
	"github.com/harunnryd/fleetvoice/pkg/transports/browser"
	"github.com/harunnryd/fleetvoice/pkg/voice"
)

// CaptureFactory builds the capture source. The browser transport is always
// available; sources that need the page microphone stream from it.
type CaptureFactory func(cfg Config, tr *browser.Transport) (voice.CaptureSource, error)
type LLMFactory func(cfg Config) (llm.Adapter, error)
type NotifierFactory func(cfg Config, log *slog.Logger) (voice.Notifier, error)

type ProviderRegistry struct {
	capture  map[string]CaptureFactory
	llm      map[string]LLMFactory
	notifier map[string]NotifierFactory
	// audio lists capture providers that need raw audio from the page.
	audio map[string]bool
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		capture:  make(map[string]CaptureFactory),
		llm:      make(map[string]LLMFactory),
		notifier: make(map[string]NotifierFactory),
		audio:    make(map[string]bool),
	}
}

func (r *ProviderRegistry) RegisterCapture(name string, factory CaptureFactory) {
	r.capture[providerKey(name)] = factory
}

// RegisterAudioCapture registers a capture provider fed by browser audio
// frames instead of browser speech recognition.
func (r *ProviderRegistry) RegisterAudioCapture(name string, factory CaptureFactory) {
	r.capture[providerKey(name)] = factory
	r.audio[providerKey(name)] = true
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterNotifier(name string, factory NotifierFactory) {
	r.notifier[providerKey(name)] = factory
}

// NeedsAudio reports whether the capture provider consumes browser audio.
func (r *ProviderRegistry) NeedsAudio(provider string) bool {
	return r.audio[providerKey(provider)]
}

func (r *ProviderRegistry) BuildCapture(provider string, cfg Config, tr *browser.Transport) (voice.CaptureSource, error) {
	fn := r.capture[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("capture provider not registered: %s", provider)
	}
	return fn(cfg, tr)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Adapter, error) {
	fn := r.llm[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildNotifier(provider string, cfg Config, log *slog.Logger) (voice.Notifier, error) {
	fn := r.notifier[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("notify provider not registered: %s", provider)
	}
	return fn(cfg, log)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
