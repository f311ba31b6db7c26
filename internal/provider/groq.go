package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// groqProvider implements LLM for Groq's OpenAI-compatible chat API.
type groqProvider struct {
	client *openai.Client
	model  string
}

// NewGroq creates a Groq adapter. If apiKey is empty, GROQ_API_KEY is used.
func NewGroq(apiKey string) LLM {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &groqProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  "llama-3.3-70b-versatile",
	}
}

func (g *groqProvider) Name() string { return ProviderGroq }

func (g *groqProvider) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.85
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	if req.Image != nil {
		// Groq's llama models are text-only here; describe the attachment
		// inline so the model can at least acknowledge it.
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserMessage + "\n\n[The user attached a photo.]",
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserMessage,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("groq: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
