// Package provider gives the orchestrator a uniform interface over the
// language-model, web-search, and vision backends, with ordered fallback.
package provider

import (
	"context"
	"fmt"
)

// Provider name constants.
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
	ProviderMock   = "mock"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior conversation turn passed to a provider.
type Message struct {
	Role    Role
	Content string
}

// ImagePayload is a decoded data-URI image attachment.
type ImagePayload struct {
	MIME   string
	Base64 string
}

// ReplyRequest holds everything a provider needs to produce a companion reply.
type ReplyRequest struct {
	System      string    // persona + composed context
	History     []Message // bounded, strictly alternating
	UserMessage string
	Image       *ImagePayload
	MaxTokens   int
	Temperature float64
}

// LLM is the narrow interface every chat backend implements.
type LLM interface {
	// Name returns the provider's short identifier for logs and config.
	Name() string

	// GenerateReply produces a single reply. An empty reply is treated as a
	// failure by the gateway.
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

// Embedder generates embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Keys holds the per-provider API keys used by the factory.
type Keys struct {
	Groq      string
	Gemini    string
	Anthropic string
}

// New constructs the LLM adapter for the named provider.
func New(name string, keys Keys) (LLM, error) {
	switch name {
	case ProviderGroq:
		return NewGroq(keys.Groq), nil
	case ProviderGemini:
		return NewGemini(keys.Gemini), nil
	case ProviderClaude:
		return NewClaude(keys.Anthropic), nil
	case ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("provider: unknown provider %q; valid providers: groq, gemini, claude, mock", name)
	}
}
