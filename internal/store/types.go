// Package store persists per-user companion state in SQLite.
package store

import "time"

// SetupStep tracks the name-onboarding flow for a user.
type SetupStep string

const (
	StepNew          SetupStep = "NEW"
	StepAwaitingName SetupStep = "AWAITING_NAME"
	StepComplete     SetupStep = "COMPLETE"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Profile is the per-user identity and usage record.
type Profile struct {
	UserID            string    `json:"userId"`
	Name              string    `json:"name"`
	ContactChannel    string    `json:"contactChannel"`
	IsPro             bool      `json:"isPro"`
	UsageMinutes      float64   `json:"usageMinutes"`
	TotalInteractions int       `json:"totalInteractions"`
	SetupStep         SetupStep `json:"setupStep"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActive        time.Time `json:"lastActive"`
}

// Turn is a single conversation message. Append-only, never mutated.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Fact is one extracted long-term statement about the user.
type Fact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Summary   string    `json:"summary"`
	FactType  string    `json:"type"`
	CreatedAt time.Time `json:"timestamp"`
}

// EmotionalState is the single current mood snapshot for a user.
type EmotionalState struct {
	Mood        string    `json:"mood"`
	Energy      string    `json:"energy"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Settings is the process-wide configuration document.
type Settings struct {
	TrialLimitMinutes float64 `json:"trialLimitMinutes"`
	MaintenanceMode   bool    `json:"maintenanceMode"`
	GlobalPrompt      string  `json:"globalPrompt"`
}

// DefaultSettings returns the values used when no settings row exists.
func DefaultSettings() Settings {
	return Settings{TrialLimitMinutes: 5, MaintenanceMode: false, GlobalPrompt: ""}
}

// IdentityUpdate is a partial profile merge. Nil fields are left untouched.
type IdentityUpdate struct {
	Name           *string `json:"name"`
	ContactChannel *string `json:"contactChannel"`
}
