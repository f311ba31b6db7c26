// Package chat orchestrates one conversational exchange end to end:
// admission checks, memory recall, prompt composition, the provider call,
// persistence, and the follow-up maintenance jobs.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nirahq/nira/internal/jobs"
	"github.com/nirahq/nira/internal/memory"
	"github.com/nirahq/nira/internal/policy"
	"github.com/nirahq/nira/internal/provider"
	"github.com/nirahq/nira/internal/store"
)

// Recall limits for one exchange.
const (
	factRecallLimit = 10
	turnRecallLimit = 15
)

// Maintenance pass cadence.
const (
	factExtractionEvery  = 5
	minSignificantLength = 40
	summarizeEvery       = 10
)

// ErrMaintenance is returned while the service is administratively paused.
var ErrMaintenance = errors.New("chat: service is in maintenance mode")

// TrialEndedError rejects an exchange from a trial user who has exhausted
// the free allowance. It carries the user-facing upgrade copy.
type TrialEndedError struct {
	Message string
	Link    string
}

func (e *TrialEndedError) Error() string { return "chat: trial ended" }

// NewTrialEndedError builds the error with the fixed upgrade copy.
func NewTrialEndedError() *TrialEndedError {
	return &TrialEndedError{
		Message: policy.TrialEndedMessage,
		Link:    policy.UpgradeLink,
	}
}

// Orchestrator runs the chat pipeline.
type Orchestrator struct {
	store       *store.Store
	gw          *provider.Gateway
	maintainer  *memory.Maintainer
	jobs        *jobs.Runner
	log         *logrus.Logger
	tokenBudget int

	// now is swappable for tests.
	now func() time.Time
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(st *store.Store, gw *provider.Gateway, m *memory.Maintainer, runner *jobs.Runner, log *logrus.Logger, tokenBudget int) *Orchestrator {
	if tokenBudget <= 0 {
		tokenBudget = DefaultPromptTokenBudget
	}
	return &Orchestrator{
		store:       st,
		gw:          gw,
		maintainer:  m,
		jobs:        runner,
		log:         log,
		tokenBudget: tokenBudget,
		now:         time.Now,
	}
}

// recall is everything fetched up front for one exchange.
type recall struct {
	settings  store.Settings
	profile   store.Profile
	emotional store.EmotionalState
	facts     []store.Fact
	turns     []store.Turn
	summary   string
}

// fetchRecall loads the per-exchange context concurrently. Read paths that
// can only enrich the prompt (facts, turns, summary, emotional state) keep
// their errors local; only settings and profile failures abort.
func (o *Orchestrator) fetchRecall(userID string) (recall, error) {
	var r recall
	var settingsErr, profileErr error
	var wg sync.WaitGroup

	wg.Add(6)
	go func() { defer wg.Done(); r.settings, settingsErr = o.store.GetSettings() }()
	go func() { defer wg.Done(); r.profile, _, profileErr = o.store.GetProfile(userID) }()
	go func() {
		defer wg.Done()
		var err error
		if r.emotional, err = o.store.GetEmotionalState(userID); err != nil {
			o.log.WithError(err).WithField("user", userID).Debug("emotional state recall failed")
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if r.facts, err = o.store.RecentFacts(userID, factRecallLimit); err != nil {
			o.log.WithError(err).WithField("user", userID).Debug("fact recall failed")
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if r.turns, err = o.store.RecentTurns(userID, turnRecallLimit); err != nil {
			o.log.WithError(err).WithField("user", userID).Debug("turn recall failed")
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if r.summary, err = o.store.GetSummary(userID); err != nil {
			o.log.WithError(err).WithField("user", userID).Debug("summary recall failed")
		}
	}()
	wg.Wait()

	if settingsErr != nil {
		return r, settingsErr
	}
	if profileErr != nil {
		return r, profileErr
	}
	return r, nil
}

// HandleMessage runs one full exchange and returns the companion's reply.
// Returns ErrMaintenance or *TrialEndedError when admission fails.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, message, imageDataURI string) (string, error) {
	r, err := o.fetchRecall(userID)
	if err != nil {
		return "", err
	}

	if r.settings.MaintenanceMode {
		return "", ErrMaintenance
	}

	// Onboarding runs before the trial gate: a brand-new user always gets
	// the greeting exchange, and onboarding turns are free.
	if ob := policy.RunOnboarding(r.profile.SetupStep, r.profile.Name, message); ob.Handled {
		if ob.CapturedName != "" || ob.NextStep == store.StepComplete {
			err = o.store.SaveOnboardingName(userID, ob.CapturedName)
		} else {
			err = o.store.SetSetupStep(userID, ob.NextStep)
		}
		if err != nil {
			return "", err
		}
		return ob.Reply, nil
	} else if r.profile.SetupStep != store.StepComplete {
		// Name arrived out of band (identity endpoint). Mark setup done so
		// proactive greetings work.
		if err := o.store.SetSetupStep(userID, store.StepComplete); err != nil {
			return "", err
		}
		r.profile.SetupStep = store.StepComplete
	}

	if policy.TrialExceeded(r.profile, r.settings) {
		return "", NewTrialEndedError()
	}

	// Attach the image if it parses; a malformed payload downgrades the
	// exchange to text-only instead of failing it.
	var image *provider.ImagePayload
	if imageDataURI != "" {
		if img, err := provider.ParseDataURI(imageDataURI); err == nil {
			image = &img
		} else {
			o.log.WithError(err).WithField("user", userID).Warn("dropping malformed image payload")
			imageDataURI = ""
		}
	}

	// Live search only for text messages that look like they need it.
	// Search failures degrade to "no external data".
	var searchResults string
	if image == nil && provider.ShouldSearch(message) {
		if res, err := o.gw.Search(ctx, message); err == nil {
			searchResults = res
		} else {
			o.log.WithError(err).Debug("live search unavailable")
		}
	}

	system := ComposeSystemPrompt(PromptInputs{
		Name:          r.profile.Name,
		Facts:         r.facts,
		Summary:       r.summary,
		Stats:         memory.ComputeFriendshipStats(r.profile, o.now()),
		GlobalPrompt:  r.settings.GlobalPrompt,
		SearchResults: searchResults,
	}, o.tokenBudget)

	reply := o.gw.GenerateReply(ctx, provider.ReplyRequest{
		System:      system,
		History:     turnsToMessages(r.turns),
		UserMessage: message,
		Image:       image,
	})

	delta := policy.ComputeUsageDelta(r.profile.LastActive, o.now())
	if err := o.store.AppendExchange(userID, message, imageDataURI, reply, delta); err != nil {
		return "", err
	}

	o.scheduleMaintenance(userID, message, reply, r)
	return reply, nil
}

// scheduleMaintenance queues the post-exchange memory passes.
func (o *Orchestrator) scheduleMaintenance(userID, message, reply string, r recall) {
	o.jobs.Go("emotional-state", func(ctx context.Context) {
		o.maintainer.UpdateEmotionalState(userID, message)
	})

	if len(r.turns)%factExtractionEvery == 0 || len(message) > minSignificantLength {
		o.jobs.Go("fact-extraction", func(ctx context.Context) {
			o.maintainer.ExtractFacts(ctx, userID)
		})
	}

	if (r.profile.TotalInteractions+1)%summarizeEvery == 0 {
		o.jobs.Go("summarize", func(ctx context.Context) {
			o.maintainer.SummarizeHistory(ctx, userID)
		})
	}
}

// HandleProactiveGreeting produces an unprompted check-in for a fully
// onboarded user. Users mid-onboarding get an empty greeting: the client
// must not interrupt the name exchange.
func (o *Orchestrator) HandleProactiveGreeting(ctx context.Context, userID string) (string, error) {
	profile, _, err := o.store.GetProfile(userID)
	if err != nil {
		return "", err
	}
	if profile.SetupStep != store.StepComplete || profile.Name == "" {
		return "", nil
	}

	facts, err := o.store.RecentFacts(userID, factRecallLimit)
	if err != nil {
		o.log.WithError(err).WithField("user", userID).Debug("fact recall failed")
	}

	prompt := ComposeGreetingPrompt(PromptInputs{
		Name:  profile.Name,
		Facts: facts,
		Stats: memory.ComputeFriendshipStats(profile, o.now()),
	})

	greeting, err := o.gw.Complete(ctx, prompt, 150, 0.85)
	if err != nil {
		return "", err
	}
	return greeting, nil
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
