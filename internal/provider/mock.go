package provider

import (
	"context"
	"math/rand"
)

// FallbackPool is the fixed set of persona-consistent filler replies used
// when every real provider has failed. Exported so tests and callers can
// assert membership.
var FallbackPool = []string{
	"Hey! I'm here with you. What's on your mind?",
	"I hear you. Tell me more about that.",
	"That's interesting — what made you feel that way?",
}

// mockProvider always succeeds with a reply drawn from FallbackPool.
// It terminates every fallback chain.
type mockProvider struct{}

// NewMock creates the terminal mock provider.
func NewMock() LLM {
	return mockProvider{}
}

func (mockProvider) Name() string { return ProviderMock }

func (mockProvider) GenerateReply(_ context.Context, _ ReplyRequest) (string, error) {
	return FallbackPool[rand.Intn(len(FallbackPool))], nil
}
