package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/nirahq/nira/internal/db"
	"github.com/nirahq/nira/internal/jobs"
	"github.com/nirahq/nira/internal/memory"
	"github.com/nirahq/nira/internal/policy"
	"github.com/nirahq/nira/internal/provider"
	"github.com/nirahq/nira/internal/store"
)

type scriptedLLM struct {
	reply string
}

func (s scriptedLLM) Name() string { return "scripted" }

func (s scriptedLLM) GenerateReply(_ context.Context, _ provider.ReplyRequest) (string, error) {
	return s.reply, nil
}

// recordingLLM captures the first request carrying a system prompt. Later
// maintenance completions reuse the same provider with a bare prompt and
// must not overwrite the chat-path capture.
type recordingLLM struct {
	reply   string
	chatReq provider.ReplyRequest
}

func (r *recordingLLM) Name() string { return "recording" }

func (r *recordingLLM) GenerateReply(_ context.Context, req provider.ReplyRequest) (string, error) {
	if req.System != "" && r.chatReq.System == "" {
		r.chatReq = req
	}
	return r.reply, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestOrchestrator(t *testing.T, llm provider.LLM) (*Orchestrator, *store.Store) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	st := store.New(database)
	log := quietLogger()
	gw := provider.NewGateway([]provider.LLM{llm}, log)
	maintainer := memory.NewMaintainer(st, gw, log)
	runner := jobs.NewRunner(log)
	runner.Synchronous = true

	return NewOrchestrator(st, gw, maintainer, runner, log, 0), st
}

// completeOnboarding walks a user through the two onboarding exchanges.
func completeOnboarding(t *testing.T, o *Orchestrator, userID, name string) {
	t.Helper()
	ctx := context.Background()
	if _, err := o.HandleMessage(ctx, userID, "hello", ""); err != nil {
		t.Fatalf("onboarding step 1: %v", err)
	}
	if _, err := o.HandleMessage(ctx, userID, name, ""); err != nil {
		t.Fatalf("onboarding step 2: %v", err)
	}
}

func TestHandleMessage_OnboardingFlow(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "kya baat hai!"})
	ctx := context.Background()

	// First contact: the fixed greeting, no model call, nothing billed.
	reply, err := o.HandleMessage(ctx, "u1", "hey there", "")
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if reply != policy.OnboardingPrompt {
		t.Fatalf("got %q, want the onboarding prompt", reply)
	}

	profile, _, err := st.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if profile.SetupStep != store.StepAwaitingName {
		t.Fatalf("setup step: got %q, want AWAITING_NAME", profile.SetupStep)
	}
	if profile.UsageMinutes != 0 {
		t.Errorf("onboarding exchange billed %v minutes, want 0", profile.UsageMinutes)
	}

	// Second message is the name.
	reply, err = o.HandleMessage(ctx, "u1", "  Aarav  ", "")
	if err != nil {
		t.Fatalf("name message: %v", err)
	}
	if !strings.Contains(reply, `"Aarav"`) {
		t.Fatalf("confirmation %q does not quote the captured name", reply)
	}

	profile, _, _ = st.GetProfile("u1")
	if profile.SetupStep != store.StepComplete || profile.Name != "Aarav" {
		t.Fatalf("profile after onboarding: %+v", profile)
	}

	// Third message flows through the model.
	reply, err = o.HandleMessage(ctx, "u1", "aaj ka din accha tha", "")
	if err != nil {
		t.Fatalf("normal message: %v", err)
	}
	if reply != "kya baat hai!" {
		t.Fatalf("got %q, want the model reply", reply)
	}
}

func TestHandleMessage_ExistingNameSkipsOnboarding(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "accha sawaal!"})
	ctx := context.Background()

	// Name arrives through the identity endpoint before the first chat.
	name := "Aarav"
	if err := st.UpdateIdentity("u1", store.IdentityUpdate{Name: &name}); err != nil {
		t.Fatal(err)
	}

	reply, err := o.HandleMessage(ctx, "u1", "what's the weather like?", "")
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if reply == policy.OnboardingPrompt {
		t.Fatal("user with a known name was onboarded")
	}
	if reply != "accha sawaal!" {
		t.Fatalf("got %q, want the model reply", reply)
	}

	profile, _, err := st.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Name != "Aarav" {
		t.Fatalf("name clobbered: got %q, want Aarav", profile.Name)
	}
	if profile.SetupStep != store.StepComplete {
		t.Fatalf("setup step: got %q, want COMPLETE", profile.SetupStep)
	}

	// The next message must also flow straight to the model.
	reply, err = o.HandleMessage(ctx, "u1", "aur tum batao", "")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "accha sawaal!" {
		t.Fatalf("second message: got %q, want the model reply", reply)
	}
}

func TestHandleMessage_TrialGate(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "hi!"})
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	// Burn through the allowance.
	if err := st.AppendExchange("u1", "x", "", "y", 5.0); err != nil {
		t.Fatal(err)
	}

	_, err := o.HandleMessage(ctx, "u1", "ek aur baat", "")
	var trialErr *TrialEndedError
	if !errors.As(err, &trialErr) {
		t.Fatalf("got error %v, want TrialEndedError", err)
	}
	if trialErr.Message != policy.TrialEndedMessage {
		t.Errorf("message: got %q", trialErr.Message)
	}
	if trialErr.Link != policy.UpgradeLink {
		t.Errorf("link: got %q", trialErr.Link)
	}
}

func TestHandleMessage_ProUserBypassesTrial(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "hamesha tumhare saath!"})
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	if err := st.AppendExchange("u1", "x", "", "y", 500.0); err != nil {
		t.Fatal(err)
	}
	if err := st.SetPro("u1", true); err != nil {
		t.Fatal(err)
	}

	reply, err := o.HandleMessage(ctx, "u1", "main wapas aa gaya", "")
	if err != nil {
		t.Fatalf("pro user blocked: %v", err)
	}
	if reply != "hamesha tumhare saath!" {
		t.Fatalf("got %q", reply)
	}
}

func TestHandleMessage_MaintenanceMode(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "hi"})
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	settings, _ := st.GetSettings()
	settings.MaintenanceMode = true
	if err := st.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}

	if _, err := o.HandleMessage(ctx, "u1", "koi hai?", ""); err != ErrMaintenance {
		t.Fatalf("got %v, want ErrMaintenance", err)
	}
}

func TestHandleMessage_FirstExchangeBillsFlatRate(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "hello dost"})
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	if _, err := o.HandleMessage(ctx, "u1", "pehli asli baat", ""); err != nil {
		t.Fatal(err)
	}

	profile, _, _ := st.GetProfile("u1")
	// Onboarding was free; the first real exchange charges the flat
	// new-session rate.
	if profile.UsageMinutes < 0.49 || profile.UsageMinutes > 0.51 {
		t.Fatalf("usage: got %v, want 0.5", profile.UsageMinutes)
	}
}

func TestHandleMessage_PersistsExchange(t *testing.T) {
	o, st := newTestOrchestrator(t, scriptedLLM{reply: "sun ke accha laga"})
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	if _, err := o.HandleMessage(ctx, "u1", "promotion mil gayi!", ""); err != nil {
		t.Fatal(err)
	}

	turns, err := st.RecentTurns("u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Role != store.RoleUser || turns[0].Content != "promotion mil gayi!" {
		t.Errorf("user turn: %+v", turns[0])
	}
	if turns[1].Role != store.RoleAssistant || turns[1].Content != "sun ke accha laga" {
		t.Errorf("assistant turn: %+v", turns[1])
	}
}

func TestHandleMessage_LongMessageTriggersFactExtraction(t *testing.T) {
	llm := scriptedLLM{reply: `["got promoted to team lead at work"]`}
	o, st := newTestOrchestrator(t, llm)
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	long := "guess what, I finally got promoted to team lead today after two years!"
	if _, err := o.HandleMessage(ctx, "u1", long, ""); err != nil {
		t.Fatal(err)
	}

	facts, err := st.RecentFacts("u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) == 0 {
		t.Fatal("long message did not trigger fact extraction")
	}
}

func TestHandleMessage_PromptCarriesMemory(t *testing.T) {
	llm := &recordingLLM{reply: "yaad hai mujhe!"}
	o, st := newTestOrchestrator(t, llm)
	ctx := context.Background()
	completeOnboarding(t, o, "u1", "Aarav")

	if _, err := st.InsertFact("u1", "has a dog named Bruno", "fact"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetSummary("u1", "Aarav recently moved to Pune for work."); err != nil {
		t.Fatal(err)
	}

	if _, err := o.HandleMessage(ctx, "u1", "kaisa hai Bruno?", ""); err != nil {
		t.Fatal(err)
	}

	sys := llm.chatReq.System
	if !strings.Contains(sys, "Aarav") {
		t.Error("system prompt missing the user's name")
	}
	if !strings.Contains(sys, "has a dog named Bruno") {
		t.Error("system prompt missing the core memory")
	}
	if !strings.Contains(sys, "moved to Pune") {
		t.Error("system prompt missing the rolling summary")
	}
}

func TestHandleProactiveGreeting(t *testing.T) {
	o, _ := newTestOrchestrator(t, scriptedLLM{reply: "Hey Aarav! Bruno kaisa hai aaj?"})
	ctx := context.Background()

	t.Run("empty before onboarding", func(t *testing.T) {
		greeting, err := o.HandleProactiveGreeting(ctx, "new-user")
		if err != nil {
			t.Fatal(err)
		}
		if greeting != "" {
			t.Fatalf("got %q, want empty greeting for new user", greeting)
		}
	})

	t.Run("greets onboarded user", func(t *testing.T) {
		completeOnboarding(t, o, "u1", "Aarav")
		greeting, err := o.HandleProactiveGreeting(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if greeting == "" {
			t.Fatal("got empty greeting for onboarded user")
		}
	})
}

func TestComposeSystemPrompt_SectionOrderAndOmission(t *testing.T) {
	full := ComposeSystemPrompt(PromptInputs{
		Name:         "Aarav",
		Facts:        []store.Fact{{Summary: "loves black coffee"}},
		Summary:      "Settling into a new city.",
		Stats:        memory.FriendshipStats{Days: 12, Interactions: 80},
		GlobalPrompt: "Festival season is on.",
	}, 0)

	for _, want := range []string{"NIRA", "Aarav", "loves black coffee", "Settling into", "12 days", "Festival season"} {
		if !strings.Contains(full, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	nameIdx := strings.Index(full, "Aarav")
	factIdx := strings.Index(full, "loves black coffee")
	statsIdx := strings.Index(full, "12 days")
	if !(nameIdx < factIdx && factIdx < statsIdx) {
		t.Error("context sections out of order")
	}

	empty := ComposeSystemPrompt(PromptInputs{}, 0)
	if strings.Contains(empty, "FRIENDSHIP CONTEXT") {
		t.Error("empty inputs should compose the bare persona")
	}
}

func TestComposeSystemPrompt_BudgetDropsSections(t *testing.T) {
	var facts []store.Fact
	for i := 0; i < 50; i++ {
		facts = append(facts, store.Fact{Summary: strings.Repeat("a very long memory ", 30)})
	}
	prompt := ComposeSystemPrompt(PromptInputs{
		Name:  "Aarav",
		Facts: facts,
	}, 200)

	if !strings.Contains(prompt, "NIRA") {
		t.Error("persona must survive any budget")
	}
	if strings.Contains(prompt, "a very long memory") {
		t.Error("oversized section not dropped under tight budget")
	}
	if !strings.Contains(prompt, "Aarav") {
		t.Error("small section should still fit the budget")
	}
}
