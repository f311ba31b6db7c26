// Package memory runs the background maintenance passes that turn raw
// conversation turns into long-term memory: fact extraction, the rolling
// summary, and the emotional-state snapshot.
package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nirahq/nira/internal/provider"
	"github.com/nirahq/nira/internal/store"
)

// extractionWindow is how many recent turns feed one fact-extraction pass.
const extractionWindow = 10

// summaryWindow is how many recent turns feed one summarization pass.
const summaryWindow = 20

// minTurnsForExtraction and minTurnsForSummary guard against running the
// analysis passes on near-empty transcripts.
const (
	minTurnsForExtraction = 2
	minTurnsForSummary    = 5
)

// Maintainer owns the asynchronous memory passes. Every method degrades
// gracefully: a failed pass is logged and dropped, never surfaced to the
// user-facing exchange that triggered it.
type Maintainer struct {
	store *store.Store
	gw    *provider.Gateway
	log   *logrus.Logger
}

// NewMaintainer wires the maintenance passes to the store and gateway.
func NewMaintainer(st *store.Store, gw *provider.Gateway, log *logrus.Logger) *Maintainer {
	return &Maintainer{store: st, gw: gw, log: log}
}

// ExtractFacts runs structured fact extraction over the user's recent turns
// and appends each extracted fact, with a best-effort vector embedding for
// later semantic lookup. Facts are append-only; repeats across overlapping
// windows are acceptable.
func (m *Maintainer) ExtractFacts(ctx context.Context, userID string) {
	turns, err := m.store.RecentTurns(userID, extractionWindow)
	if err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("fact extraction: load turns")
		return
	}
	if len(turns) < minTurnsForExtraction {
		return
	}

	facts, err := m.gw.SummarizeFacts(ctx, turnsToMessages(turns))
	if err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("fact extraction failed")
		return
	}
	if len(facts) == 0 {
		return
	}

	embeddings, err := m.gw.Embed(ctx, facts)
	if err != nil {
		m.log.WithError(err).WithField("user", userID).Debug("fact embedding failed")
		embeddings = nil
	}

	for i, f := range facts {
		id, err := m.store.InsertFact(userID, f, "fact")
		if err != nil {
			m.log.WithError(err).WithField("user", userID).Warn("fact insert failed")
			continue
		}
		if embeddings != nil && i < len(embeddings) {
			if err := m.store.UpsertFactEmbedding(id, embeddings[i]); err != nil {
				m.log.WithError(err).WithField("fact", id).Debug("fact embedding store failed")
			}
		}
	}
	m.log.WithFields(logrus.Fields{"user": userID, "facts": len(facts)}).Info("extracted core memories")
}

// summaryPrompt folds the previous summary and the fresh transcript into a
// single replacement summary.
const summaryPrompt = `You maintain the long-term memory of an AI companion.
Merge the EXISTING SUMMARY with the NEW CONVERSATION into one updated summary
of the user's life, personality, and your relationship with them.
Keep it under 100 words. Return ONLY the summary text.

EXISTING SUMMARY:
%s

NEW CONVERSATION:
%s`

// SummarizeHistory refreshes the user's rolling summary from their recent
// turns, merging in the previous summary so older context survives pruning.
func (m *Maintainer) SummarizeHistory(ctx context.Context, userID string) {
	turns, err := m.store.RecentTurns(userID, summaryWindow)
	if err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("summarize: load turns")
		return
	}
	if len(turns) < minTurnsForSummary {
		return
	}

	prev, err := m.store.GetSummary(userID)
	if err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("summarize: load previous")
		return
	}
	if prev == "" {
		prev = "(none yet)"
	}

	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}

	text, err := m.gw.Complete(ctx, fmt.Sprintf(summaryPrompt, prev, sb.String()), 256, 0.3)
	if err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("summarize failed")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := m.store.SetSummary(userID, text); err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("summarize: store failed")
	}
}

// UpdateEmotionalState derives a cheap mood snapshot from the latest user
// message. Deliberately heuristic: it runs on every exchange and must never
// cost a model call.
func (m *Maintainer) UpdateEmotionalState(userID, message string) {
	mood, energy := ClassifyMood(message)
	if err := m.store.SetEmotionalState(userID, mood, energy); err != nil {
		m.log.WithError(err).WithField("user", userID).Warn("emotional state update failed")
	}
}

// ClassifyMood maps a message to a (mood, energy) pair. Long messages are
// read as reflective regardless of content; the stress keyword only matters
// for short ones.
func ClassifyMood(message string) (mood, energy string) {
	switch {
	case len(message) > 50:
		return "reflective", "high"
	case strings.Contains(strings.ToLower(message), "stress"):
		return "stressed", "high"
	default:
		return "engaged", "high"
	}
}

// FriendshipStats summarises the length and depth of the relationship for
// prompt composition.
type FriendshipStats struct {
	Days         int
	Interactions int
}

// ComputeFriendshipStats derives the stats from a profile snapshot. A
// profile without a creation time (or one created moments ago) counts as
// day one.
func ComputeFriendshipStats(p store.Profile, now time.Time) FriendshipStats {
	days := 1
	if !p.CreatedAt.IsZero() && now.After(p.CreatedAt) {
		days = int(math.Ceil(now.Sub(p.CreatedAt).Hours() / 24))
		if days < 1 {
			days = 1
		}
	}
	return FriendshipStats{Days: days, Interactions: p.TotalInteractions}
}

func turnsToMessages(turns []store.Turn) []provider.Message {
	out := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, provider.Message{
			Role:    provider.Role(t.Role),
			Content: t.Content,
		})
	}
	return out
}
