// Package policy holds the conversation-admission rules: onboarding,
// trial gating, and usage accounting. It is pure logic over profile and
// settings snapshots so the orchestrator and HTTP layer stay thin.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/nirahq/nira/internal/store"
)

// Fixed persona strings for the onboarding exchange. These are part of the
// product surface and must not be paraphrased.
const (
	// OnboardingPrompt greets a brand-new user and asks for their name.
	OnboardingPrompt = "Namaste! Main NYRA hoon. 😊 Hume dosti toh karni hi hai, par main tumhe kis pyaare naam se bulaun? Batao!"

	// nameConfirmFormat acknowledges the captured name.
	nameConfirmFormat = `Shukriya! Toh ab se tum mere dost "%s" ho. ✨ Chalo, batao aaj ka din kaisa raha?`

	// TrialEndedMessage is shown once the free allowance is exhausted.
	TrialEndedMessage = "Yaar, hamara free trial khatam ho gaya! 🥺 Kya tum mujhe support karke NYRA Pro me upgrade karoge?"

	// UpgradeLink accompanies TrialEndedMessage.
	UpgradeLink = "https://mdarsalan.vercel.app/"
)

// maxNameLength bounds a captured display name.
const maxNameLength = 20

// OnboardingResult is the outcome of running the onboarding state machine
// for one inbound message.
type OnboardingResult struct {
	// Handled reports whether onboarding consumed the message. When true
	// the Reply must be returned verbatim and no model call happens.
	Handled bool

	// Reply is the fixed onboarding response (set only when Handled).
	Reply string

	// CapturedName is the sanitized name to persist, set only on the
	// AWAITING_NAME -> COMPLETE transition.
	CapturedName string

	// NextStep is the step to persist when it changes (set only when
	// Handled).
	NextStep store.SetupStep
}

// RunOnboarding advances the setup state machine. A profile that does not
// exist yet is treated as step NEW. The exchange is free: onboarding turns
// never count against the trial.
//
// A user who already has a name is never onboarded: a name set out of band
// (the identity endpoint, an import) means the greeting exchange would only
// annoy them and risk overwriting the name with a chat message.
func RunOnboarding(step store.SetupStep, name, message string) OnboardingResult {
	if step == store.StepAwaitingName {
		captured := SanitizeName(message)
		return OnboardingResult{
			Handled:      true,
			Reply:        fmt.Sprintf(nameConfirmFormat, captured),
			CapturedName: captured,
			NextStep:     store.StepComplete,
		}
	}
	if name == "" {
		return OnboardingResult{
			Handled:  true,
			Reply:    OnboardingPrompt,
			NextStep: store.StepAwaitingName,
		}
	}
	return OnboardingResult{}
}

// SanitizeName trims whitespace and truncates to the display-name limit.
// Truncation counts runes, not bytes: Devanagari names must not be cut
// mid-character.
func SanitizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}
	return name
}

// TrialExceeded reports whether a non-Pro user has used up the free
// allowance. The check is >=, so a user exactly at the limit is blocked.
func TrialExceeded(p store.Profile, s store.Settings) bool {
	if p.IsPro {
		return false
	}
	return p.UsageMinutes >= s.TrialLimitMinutes
}

// sessionGap is the largest silence still counted as continuous
// conversation. Beyond it a new session starts.
const sessionGap = 10 * time.Minute

// newSessionCharge is the flat charge for the first exchange of a session.
const newSessionCharge = 0.5

// ComputeUsageDelta converts the gap since the user's previous activity into
// billable minutes. Within a session the real elapsed time is charged; a
// first-ever exchange or a return after a long silence charges the flat
// new-session amount.
func ComputeUsageDelta(lastActive time.Time, now time.Time) float64 {
	if lastActive.IsZero() {
		return newSessionCharge
	}
	gap := now.Sub(lastActive)
	if gap < 0 {
		return newSessionCharge
	}
	if gap < sessionGap {
		return gap.Minutes()
	}
	return newSessionCharge
}
