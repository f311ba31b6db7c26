package chat

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nirahq/nira/internal/memory"
	"github.com/nirahq/nira/internal/store"
)

// personaPrompt is the companion's fixed voice. Everything else in the
// system prompt is assembled around it per exchange.
const personaPrompt = `You are NIRA, an emotionally intelligent AI companion and close friend.
Be warm, natural, and conversational. Keep responses short (2-4 sentences max) and voice-friendly.
Speak like a real friend — honest, caring, sometimes playful. Never sound like a chatbot.
Reference what the user shares. Ask thoughtful follow-ups. Never mention you are an AI model.`

// DefaultPromptTokenBudget bounds the composed system prompt.
const DefaultPromptTokenBudget = 6000

// PromptInputs carries everything that can appear in the system prompt.
type PromptInputs struct {
	Name          string
	Facts         []store.Fact
	Summary       string
	Stats         memory.FriendshipStats
	GlobalPrompt  string
	SearchResults string
}

// tokenCounter counts prompt tokens, falling back to a character estimate
// when the encoding is unavailable (e.g. no cached BPE data).
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &tokenCounter{}
	}
	return &tokenCounter{enc: enc}
}

func (c *tokenCounter) count(s string) int {
	if c.enc == nil {
		return len(s) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// ComposeSystemPrompt assembles the full system prompt: the persona first,
// then the context sections in fixed priority order. Empty sections are
// omitted; a section that would blow the token budget is dropped whole
// rather than truncated mid-sentence.
func ComposeSystemPrompt(in PromptInputs, budget int) string {
	if budget <= 0 {
		budget = DefaultPromptTokenBudget
	}
	counter := newTokenCounter()

	var sections []string
	if in.Name != "" {
		sections = append(sections, fmt.Sprintf("The user's name is %s.", in.Name))
	}
	if len(in.Facts) > 0 {
		var sb strings.Builder
		sb.WriteString("Core Memories about your friend:")
		for _, f := range in.Facts {
			sb.WriteString("\n- ")
			sb.WriteString(f.Summary)
		}
		sections = append(sections, sb.String())
	}
	if s := strings.TrimSpace(in.Summary); s != "" {
		sections = append(sections, "What you remember about your friend's life so far:\n"+s)
	}
	if in.Stats.Interactions > 0 || in.Stats.Days > 1 {
		sections = append(sections, fmt.Sprintf(
			"You have been friends for %d days and have had %d interactions.",
			in.Stats.Days, in.Stats.Interactions))
	}
	if g := strings.TrimSpace(in.GlobalPrompt); g != "" {
		sections = append(sections, g)
	}
	if r := strings.TrimSpace(in.SearchResults); r != "" {
		sections = append(sections, "LIVE SEARCH RESULTS (weave these naturally into your reply):\n"+r)
	}

	prompt := personaPrompt
	used := counter.count(prompt)
	var kept []string
	for _, s := range sections {
		cost := counter.count(s)
		if used+cost > budget {
			continue
		}
		kept = append(kept, s)
		used += cost
	}

	if len(kept) == 0 {
		return prompt
	}
	return prompt + "\n\n--- FRIENDSHIP CONTEXT ---\n" + strings.Join(kept, "\n\n")
}

// greetingPrompt asks for an unprompted check-in message.
const greetingPrompt = `Based on everything you know about your friend, write ONE short,
warm greeting to start a conversation with them right now. Reference something specific
you remember if you can. Keep it to 1-2 sentences, voice-friendly, no preamble.`

// ComposeGreetingPrompt builds the one-shot prompt for a proactive greeting.
func ComposeGreetingPrompt(in PromptInputs) string {
	system := ComposeSystemPrompt(in, DefaultPromptTokenBudget)
	return system + "\n\n" + greetingPrompt
}
