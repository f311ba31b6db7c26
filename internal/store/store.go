package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nirahq/nira/internal/db"
)

// Store provides read/write access to the NIRA SQLite database.
//
// Counters are updated with SQL increments, so concurrent exchanges for the
// same user are commutative. Turn ordering under true concurrency is
// best-effort by server timestamp (rowid as tiebreaker), not a serialization.
type Store struct {
	db *db.DB
}

// New creates a Store backed by the given DB.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Conn exposes the underlying *sql.DB for low-level queries.
func (s *Store) Conn() *sql.DB {
	return s.db.Conn()
}

// ---- Profiles ----

// GetProfile returns the profile for userID. The bool reports whether the
// profile exists; a missing profile returns zero values and no error.
func (s *Store) GetProfile(userID string) (Profile, bool, error) {
	p := Profile{UserID: userID, SetupStep: StepNew}
	var createdAt, lastActive sql.NullString
	err := s.db.Conn().QueryRow(`
		SELECT name, contact_channel, is_pro, usage_minutes, total_interactions, setup_step, created_at, last_active
		FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.Name, &p.ContactChannel, &p.IsPro, &p.UsageMinutes, &p.TotalInteractions, &p.SetupStep, &createdAt, &lastActive)
	if err == sql.ErrNoRows {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("store: get profile: %w", err)
	}
	if createdAt.Valid {
		p.CreatedAt = parseTime(createdAt.String)
	}
	if lastActive.Valid {
		p.LastActive = parseTime(lastActive.String)
	}
	return p, true, nil
}

// SetSetupStep persists the onboarding step, creating the profile if needed.
func (s *Store) SetSetupStep(userID string, step SetupStep) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO profiles (user_id, setup_step) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET setup_step = excluded.setup_step`,
		userID, string(step),
	)
	if err != nil {
		return fmt.Errorf("store: set setup step: %w", err)
	}
	return nil
}

// SaveOnboardingName stores the captured name and marks onboarding complete.
func (s *Store) SaveOnboardingName(userID, name string) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO profiles (user_id, name, setup_step) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		    name       = excluded.name,
		    setup_step = excluded.setup_step`,
		userID, name, string(StepComplete),
	)
	if err != nil {
		return fmt.Errorf("store: save onboarding name: %w", err)
	}
	return nil
}

// UpdateIdentity merges non-nil fields into the profile.
func (s *Store) UpdateIdentity(userID string, upd IdentityUpdate) error {
	if _, err := s.db.Conn().Exec(
		`INSERT INTO profiles (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, userID,
	); err != nil {
		return fmt.Errorf("store: ensure profile: %w", err)
	}
	if upd.Name != nil {
		if _, err := s.db.Conn().Exec(`UPDATE profiles SET name = ? WHERE user_id = ?`, *upd.Name, userID); err != nil {
			return fmt.Errorf("store: update name: %w", err)
		}
	}
	if upd.ContactChannel != nil {
		if _, err := s.db.Conn().Exec(`UPDATE profiles SET contact_channel = ? WHERE user_id = ?`, *upd.ContactChannel, userID); err != nil {
			return fmt.Errorf("store: update contact channel: %w", err)
		}
	}
	return nil
}

// SetPro toggles the paid flag. Administrative path only: the chat pipeline
// never writes is_pro after the first exchange.
func (s *Store) SetPro(userID string, isPro bool) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO profiles (user_id, is_pro) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET is_pro = excluded.is_pro`,
		userID, isPro,
	)
	if err != nil {
		return fmt.Errorf("store: set pro: %w", err)
	}
	return nil
}

// ListUserIDs returns every known user id (maintenance sweeps).
func (s *Store) ListUserIDs() ([]string, error) {
	rows, err := s.db.Conn().Query(`SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list user ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- Exchange persistence ----

// AppendExchange persists one completed exchange atomically: the user turn,
// the assistant turn, and the profile update (interaction count +1, usage
// minutes +usageDelta, last_active now, created_at and the default trial flag
// on first-ever write). Either all land or none do.
func (s *Store) AppendExchange(userID, userMsg, image, assistantMsg string, usageDelta float64) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("store: begin exchange: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var img any
	if image != "" {
		img = image
	}
	if _, err := tx.Exec(`
		INSERT INTO turns (user_id, role, content, image) VALUES (?, ?, ?, ?)`,
		userID, string(RoleUser), userMsg, img,
	); err != nil {
		return fmt.Errorf("store: insert user turn: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO turns (user_id, role, content) VALUES (?, ?, ?)`,
		userID, string(RoleAssistant), assistantMsg,
	); err != nil {
		return fmt.Errorf("store: insert assistant turn: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO profiles (user_id, usage_minutes, total_interactions, created_at, last_active)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
		    usage_minutes      = profiles.usage_minutes + excluded.usage_minutes,
		    total_interactions = profiles.total_interactions + 1,
		    last_active        = CURRENT_TIMESTAMP,
		    created_at         = COALESCE(profiles.created_at, CURRENT_TIMESTAMP)`,
		userID, usageDelta,
	); err != nil {
		return fmt.Errorf("store: update profile counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit exchange: %w", err)
	}
	return nil
}

// RecentTurns returns the most recent n turns, oldest first.
func (s *Store) RecentTurns(userID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Conn().Query(`
		SELECT id, role, content, COALESCE(image, ''), created_at
		FROM turns WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &t.Image, &createdAt); err != nil {
			return nil, err
		}
		t.UserID = userID
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneTurnsKeepLatest deletes all but the latest keep turns for a user.
// Returns the number of deleted rows.
func (s *Store) PruneTurnsKeepLatest(userID string, keep int) (int, error) {
	res, err := s.db.Conn().Exec(`
		DELETE FROM turns WHERE user_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE user_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, userID, userID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune turns: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- Facts ----

// InsertFact appends a long-term fact and returns its generated ID.
// Facts are never deduplicated; overlapping extraction windows may repeat.
func (s *Store) InsertFact(userID, summary, factType string) (string, error) {
	if factType == "" {
		factType = "fact"
	}
	var id string
	err := s.db.Conn().QueryRow(`
		INSERT INTO facts (user_id, summary, fact_type) VALUES (?, ?, ?)
		RETURNING id`,
		userID, summary, factType,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: insert fact: %w", err)
	}
	return id, nil
}

// RecentFacts returns the most recent n facts, newest first.
func (s *Store) RecentFacts(userID string, n int) ([]Fact, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Conn().Query(`
		SELECT id, summary, fact_type, created_at
		FROM facts WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows, userID)
}

// GetFactByID returns a single fact scoped to the given user.
func (s *Store) GetFactByID(userID, id string) (Fact, error) {
	var f Fact
	var createdAt string
	err := s.db.Conn().QueryRow(`
		SELECT id, summary, fact_type, created_at FROM facts WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&f.ID, &f.Summary, &f.FactType, &createdAt)
	if err == sql.ErrNoRows {
		return f, fmt.Errorf("store: fact %q not found", id)
	}
	if err != nil {
		return f, err
	}
	f.UserID = userID
	f.CreatedAt = parseTime(createdAt)
	return f, nil
}

// ---- Emotional state ----

// SetEmotionalState overwrites the current mood snapshot.
func (s *Store) SetEmotionalState(userID, mood, energy string) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO emotional_state (user_id, mood, energy, last_updated)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
		    mood = excluded.mood,
		    energy = excluded.energy,
		    last_updated = CURRENT_TIMESTAMP`,
		userID, mood, energy,
	)
	if err != nil {
		return fmt.Errorf("store: set emotional state: %w", err)
	}
	return nil
}

// GetEmotionalState returns the current snapshot, or zero values if absent.
func (s *Store) GetEmotionalState(userID string) (EmotionalState, error) {
	var e EmotionalState
	var lastUpdated string
	err := s.db.Conn().QueryRow(`
		SELECT mood, energy, last_updated FROM emotional_state WHERE user_id = ?`, userID,
	).Scan(&e.Mood, &e.Energy, &lastUpdated)
	if err == sql.ErrNoRows {
		return e, nil
	}
	if err != nil {
		return e, fmt.Errorf("store: get emotional state: %w", err)
	}
	e.LastUpdated = parseTime(lastUpdated)
	return e, nil
}

// ---- Rolling summary ----

// GetSummary returns the rolling mid-term summary ("" if none yet).
func (s *Store) GetSummary(userID string) (string, error) {
	var summary string
	err := s.db.Conn().QueryRow(`SELECT summary FROM summaries WHERE user_id = ?`, userID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get summary: %w", err)
	}
	return summary, nil
}

// SetSummary overwrites the rolling summary.
func (s *Store) SetSummary(userID, summary string) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO summaries (user_id, summary, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
		    summary = excluded.summary,
		    updated_at = CURRENT_TIMESTAMP`,
		userID, summary,
	)
	if err != nil {
		return fmt.Errorf("store: set summary: %w", err)
	}
	return nil
}

// ---- Global settings ----

// GetSettings returns the shared settings document, with defaults when the
// row has not been initialised yet.
func (s *Store) GetSettings() (Settings, error) {
	out := DefaultSettings()
	err := s.db.Conn().QueryRow(`
		SELECT trial_limit_minutes, maintenance_mode, global_prompt FROM settings WHERE id = 1`,
	).Scan(&out.TrialLimitMinutes, &out.MaintenanceMode, &out.GlobalPrompt)
	if err == sql.ErrNoRows {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("store: get settings: %w", err)
	}
	return out, nil
}

// SaveSettings overwrites the shared settings document.
func (s *Store) SaveSettings(set Settings) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO settings (id, trial_limit_minutes, maintenance_mode, global_prompt, updated_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
		    trial_limit_minutes = excluded.trial_limit_minutes,
		    maintenance_mode    = excluded.maintenance_mode,
		    global_prompt       = excluded.global_prompt,
		    updated_at          = CURRENT_TIMESTAMP`,
		set.TrialLimitMinutes, set.MaintenanceMode, set.GlobalPrompt,
	)
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

// InitSettings writes the default settings row if none exists yet.
func (s *Store) InitSettings(globalPrompt string) (bool, error) {
	res, err := s.db.Conn().Exec(`
		INSERT INTO settings (id, trial_limit_minutes, maintenance_mode, global_prompt)
		VALUES (1, 5, 0, ?)
		ON CONFLICT(id) DO NOTHING`, globalPrompt,
	)
	if err != nil {
		return false, fmt.Errorf("store: init settings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ---- Helpers ----

// parseTime tries multiple SQLite timestamp layouts.
// go-sqlite3 may return RFC3339 or the plain "2006-01-02 15:04:05" format
// depending on the connection string and platform.
func parseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func scanFacts(rows *sql.Rows, userID string) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var f Fact
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Summary, &f.FactType, &createdAt); err != nil {
			return nil, err
		}
		f.UserID = userID
		f.CreatedAt = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}
