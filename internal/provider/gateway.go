package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HistoryWindow is the maximum number of prior turns sent to a provider.
const HistoryWindow = 8

// Gateway walks an ordered provider chain and wraps the search, vision, and
// embedding capabilities. GenerateReply never fails: the chain always ends
// in the mock provider.
type Gateway struct {
	chain    []LLM
	search   *Tavily
	vision   *Vision
	embedder Embedder
	timeout  time.Duration
	log      *logrus.Logger
}

// GatewayOption configures the Gateway.
type GatewayOption func(*Gateway)

// WithSearch attaches a web-search client.
func WithSearch(t *Tavily) GatewayOption {
	return func(g *Gateway) { g.search = t }
}

// WithVision attaches an image-understanding client.
func WithVision(v *Vision) GatewayOption {
	return func(g *Gateway) { g.vision = v }
}

// WithEmbedder attaches an embedding backend.
func WithEmbedder(e Embedder) GatewayOption {
	return func(g *Gateway) { g.embedder = e }
}

// WithTimeout sets the per-provider call timeout.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// NewGateway builds a Gateway over the given chain. The mock provider is
// appended automatically unless already last.
func NewGateway(chain []LLM, log *logrus.Logger, opts ...GatewayOption) *Gateway {
	if len(chain) == 0 || chain[len(chain)-1].Name() != ProviderMock {
		chain = append(chain, NewMock())
	}
	g := &Gateway{
		chain:   chain,
		timeout: 20 * time.Second,
		log:     log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateReply tries each provider in order with the same composed context.
// Failures (error, timeout, empty text) are logged and the next provider is
// tried; the terminal mock provider guarantees a reply.
func (g *Gateway) GenerateReply(ctx context.Context, req ReplyRequest) string {
	req.History = NormalizeHistory(req.History, HistoryWindow)

	for _, llm := range g.chain {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := llm.GenerateReply(callCtx, req)
		cancel()

		if err != nil {
			g.log.WithFields(logrus.Fields{"provider": llm.Name(), "error": err}).
				Warn("provider failed, falling through")
			continue
		}
		if strings.TrimSpace(text) == "" {
			g.log.WithField("provider", llm.Name()).Warn("provider returned empty reply, falling through")
			continue
		}
		return text
	}

	// Unreachable when the chain ends in mock, but never surface an error.
	return FallbackPool[0]
}

// NormalizeHistory bounds history to the most recent max turns and collapses
// consecutive same-role entries (keeping the newest of each run) so the
// transcript strictly alternates. A trailing user turn is dropped so the new
// user message can be appended without breaking alternation.
func NormalizeHistory(history []Message, max int) []Message {
	var out []Message
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			out[len(out)-1] = m
			continue
		}
		out = append(out, m)
	}
	if len(out) > 0 && out[len(out)-1].Role == RoleUser {
		out = out[:len(out)-1]
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	// Windowing may leave an assistant-first transcript; some providers
	// require the first turn to be from the user.
	if len(out) > 0 && out[0].Role == RoleAssistant {
		out = out[1:]
	}
	return out
}

// factExtractionPrompt asks for a JSON array of concise fact strings.
const factExtractionPrompt = `Analyze the following conversation between a user and an AI friend.
Extract key "Core Memories" about the user. These should be facts, preferences, life events, or emotional milestones.
Focus on things that make a friendship deep (e.g., jobs, pets, family names, fears, dreams, favorite places).

Return ONLY a JSON array of strings, where each string is a concise fact.
Example: ["The user has a dog named Bruno", "The user is studying for their final exams", "The user loves black coffee"]
If nothing significant is found, return [].

CONVERSATION:
%s`

// SummarizeFacts asks the chain's first working provider for structured fact
// extraction over the transcript. Malformed or non-array output degrades to
// "no facts" rather than an error; only transport failures are returned.
func (g *Gateway) SummarizeFacts(ctx context.Context, transcript []Message) ([]string, error) {
	if len(transcript) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for _, m := range transcript {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	text, err := g.Complete(ctx, fmt.Sprintf(factExtractionPrompt, sb.String()), 512, 0.1)
	if err != nil {
		return nil, fmt.Errorf("gateway: fact extraction: %w", err)
	}
	return ParseFactArray(text), nil
}

// Complete runs a single-shot prompt through the chain, skipping the mock
// provider: analysis tasks need real model output or nothing. Returns the
// last transport error if every real provider fails.
func (g *Gateway) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	req := ReplyRequest{
		UserMessage: prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var lastErr error
	for _, llm := range g.chain {
		if llm.Name() == ProviderMock {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := llm.GenerateReply(callCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		return text, nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("gateway: no completion providers configured")
}

// ParseFactArray recovers a JSON string array from model output. Lenient:
// strips fences and surrounding prose by slicing from the first '[' to the
// last ']'. Non-string elements are skipped; anything unparseable yields nil.
func ParseFactArray(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &elems); err != nil {
		return nil
	}

	var out []string
	for _, e := range elems {
		var s string
		if err := json.Unmarshal(e, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Search proxies the web-search capability. Any failure (no client, API
// error, empty results) returns an error the caller must treat as "no
// external data", never as a failed exchange.
func (g *Gateway) Search(ctx context.Context, query string) (string, error) {
	if g.search == nil {
		return "", fmt.Errorf("gateway: search not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.search.Search(callCtx, query)
}

// DescribeImage extracts and validates the data-URI payload and asks the
// vision backend for a description. Unlike GenerateReply, this is allowed to
// fail visibly: it serves a diagnostic path, not the main chat flow.
func (g *Gateway) DescribeImage(ctx context.Context, dataURI string) (string, error) {
	if g.vision == nil {
		return "", fmt.Errorf("gateway: vision not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.vision.Describe(callCtx, dataURI)
}

// Embed delegates to the embedding backend ((nil, nil) when unconfigured).
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.embedder == nil {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.embedder.Embed(callCtx, texts)
}
