package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/harunnryd/fleetvoice/pkg/llm"
)

type LLMAdapter struct {
	cfg LLMConfig

	mu   sync.Mutex
	last llm.Request
}

type LLMConfig struct {
	// ResponseText is returned verbatim. When empty, the reply echoes the last
	// user message.
	ResponseText string
	Err          error
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Request) (llm.Response, error) {
	a.mu.Lock()
	a.last = input
	a.mu.Unlock()
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	if a.cfg.ResponseText != "" {
		return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
	}
	question := ""
	for i := len(input.Messages) - 1; i >= 0; i-- {
		if input.Messages[i].Role == "user" {
			question = input.Messages[i].Content
			break
		}
	}
	text := fmt.Sprintf("I received your query about %s. All fleet systems are currently optimal.", question)
	return llm.Response{Text: text, FinishReason: "stop"}, nil
}

// LastRequest returns the most recent request passed to Generate.
func (a *LLMAdapter) LastRequest() llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

var _ llm.Adapter = (*LLMAdapter)(nil)
