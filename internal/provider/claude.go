package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// claudeProvider implements LLM for Anthropic Claude.
type claudeProvider struct {
	client *anthropic.Client
	model  string
}

// NewClaude creates a Claude adapter. If apiKey is empty, ANTHROPIC_API_KEY is used.
func NewClaude(apiKey string) LLM {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &claudeProvider{
		client: anthropic.NewClient(apiKey),
		model:  "claude-3-5-haiku-latest",
	}
}

func (c *claudeProvider) Name() string { return ProviderClaude }

// claudeMessages converts a reply request into the Anthropic message list.
// An attached image becomes a base64 source block on the final user turn.
func claudeMessages(req ReplyRequest) []anthropic.Message {
	messages := make([]anthropic.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}

	userContent := []anthropic.MessageContent{anthropic.NewTextMessageContent(req.UserMessage)}
	if req.Image != nil {
		userContent = append(userContent, anthropic.NewImageMessageContent(
			anthropic.MessageContentImageSource{
				Type:      "base64",
				MediaType: req.Image.MIME,
				Data:      req.Image.Base64,
			},
		))
	}
	return append(messages, anthropic.Message{
		Role:    anthropic.RoleUser,
		Content: userContent,
	})
}

func (c *claudeProvider) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  claudeMessages(req),
		MaxTokens: maxTokens,
		System:    req.System,
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("claude: empty content")
	}
	return strings.TrimSpace(resp.Content[0].GetText()), nil
}
