package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nirahq/nira/internal/chat"
	"github.com/nirahq/nira/internal/memory"
	"github.com/nirahq/nira/internal/store"
)

// memoryViewTurns bounds the conversation window in the memory-read view.
const memoryViewTurns = 20

// memoryViewFacts bounds the long-term facts in the memory-read view.
const memoryViewFacts = 20

// semanticSearchK bounds semantic memory search results.
const semanticSearchK = 10

type chatRequest struct {
	Message string `json:"message"`
	Image   string `json:"image"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	reply, err := s.orch.HandleMessage(c.Request.Context(), c.GetString(ctxUserID), req.Message, req.Image)
	if err != nil {
		var trial *chat.TrialEndedError
		switch {
		case errors.As(err, &trial):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "TRIAL_ENDED",
				"message": trial.Message,
				"link":    trial.Link,
			})
		case errors.Is(err, chat.ErrMaintenance):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "MAINTENANCE"})
		default:
			s.log.WithError(err).WithField("request_id", c.GetString(ctxRequestID)).Error("chat exchange failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": reply})
}

func (s *Server) handleProactive(c *gin.Context) {
	greeting, err := s.orch.HandleProactiveGreeting(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		s.log.WithError(err).Error("proactive greeting failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": greeting})
}

type profileView struct {
	Name              string  `json:"name"`
	ContactChannel    string  `json:"contactChannel"`
	IsPro             bool    `json:"isPro"`
	UsageMinutes      float64 `json:"usageMinutes"`
	TotalInteractions int     `json:"totalInteractions"`
	SetupStep         string  `json:"setupStep"`
}

type emotionalView struct {
	Mood        string `json:"mood"`
	Energy      string `json:"energy"`
	LastUpdated string `json:"lastUpdated,omitempty"`
}

type turnView struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Image     string `json:"image,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type statsView struct {
	Days         int `json:"days"`
	Interactions int `json:"interactions"`
}

func (s *Server) handleMemoryRead(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	profile, _, err := s.store.GetProfile(userID)
	if err != nil {
		s.log.WithError(err).Error("memory read: profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	emotional, err := s.store.GetEmotionalState(userID)
	if err != nil {
		s.log.WithError(err).Debug("memory read: emotional state")
	}

	facts := s.recallFacts(c, userID)
	longTerm := make([]string, 0, len(facts))
	for _, f := range facts {
		longTerm = append(longTerm, f.Summary)
	}

	turns, err := s.store.RecentTurns(userID, memoryViewTurns)
	if err != nil {
		s.log.WithError(err).Debug("memory read: turns")
	}
	conversations := make([]turnView, 0, len(turns))
	for _, t := range turns {
		conversations = append(conversations, turnView{
			Role:      string(t.Role),
			Content:   t.Content,
			Image:     t.Image,
			Timestamp: formatTime(t.CreatedAt),
		})
	}

	stats := memory.ComputeFriendshipStats(profile, time.Now())

	c.JSON(http.StatusOK, gin.H{
		"profile": profileView{
			Name:              profile.Name,
			ContactChannel:    profile.ContactChannel,
			IsPro:             profile.IsPro,
			UsageMinutes:      profile.UsageMinutes,
			TotalInteractions: profile.TotalInteractions,
			SetupStep:         string(profile.SetupStep),
		},
		"emotionalState": emotionalView{
			Mood:        emotional.Mood,
			Energy:      emotional.Energy,
			LastUpdated: formatTime(emotional.LastUpdated),
		},
		"longTerm":      longTerm,
		"conversations": conversations,
		"stats":         statsView{Days: stats.Days, Interactions: stats.Interactions},
	})
}

// recallFacts picks between recency and semantic search based on ?q=.
// Semantic search quietly falls back to recency when embeddings are
// unavailable.
func (s *Server) recallFacts(c *gin.Context, userID string) []store.Fact {
	if q := c.Query("q"); q != "" {
		vecs, err := s.gw.Embed(c.Request.Context(), []string{q})
		if err == nil && len(vecs) == 1 {
			if facts, err := s.store.SearchFacts(userID, vecs[0], semanticSearchK); err == nil && len(facts) > 0 {
				return facts
			}
		}
	}
	facts, err := s.store.RecentFacts(userID, memoryViewFacts)
	if err != nil {
		s.log.WithError(err).Debug("memory read: facts")
	}
	return facts
}

type identityRequest struct {
	Name           *string `json:"name"`
	ContactChannel *string `json:"contactChannel"`
}

func (s *Server) handleIdentityUpdate(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	err := s.store.UpdateIdentity(c.GetString(ctxUserID), store.IdentityUpdate{
		Name:           req.Name,
		ContactChannel: req.ContactChannel,
	})
	if err != nil {
		s.log.WithError(err).Error("identity update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type ttsRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
	Speaker      string `json:"speaker"`
}

func (s *Server) handleTTS(c *gin.Context) {
	var req ttsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text is required"})
		return
	}

	audios, err := s.tts.Synthesize(c.Request.Context(), req.Text, req.LanguageCode, req.Speaker)
	if err != nil {
		s.log.WithError(err).Error("tts synthesis failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate speech"})
		return
	}

	// audio carries the first segment for single-shot players; audios has
	// every segment in playback order.
	c.JSON(http.StatusOK, gin.H{"audio": audios[0], "audios": audios})
}

func (s *Server) handleTTSStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "TTS Service is Active",
		"mode":       "Sarvam AI (bulbul:v2)",
		"configured": s.tts.Configured(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Conn().Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type settingsPayload struct {
	TrialLimitMinutes *float64 `json:"trialLimitMinutes"`
	MaintenanceMode   *bool    `json:"maintenanceMode"`
	GlobalPrompt      *string  `json:"globalPrompt"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.store.GetSettings()
	if err != nil {
		s.log.WithError(err).Error("get settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trialLimitMinutes": settings.TrialLimitMinutes,
		"maintenanceMode":   settings.MaintenanceMode,
		"globalPrompt":      settings.GlobalPrompt,
	})
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req settingsPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	settings, err := s.store.GetSettings()
	if err != nil {
		s.log.WithError(err).Error("load settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	if req.TrialLimitMinutes != nil {
		settings.TrialLimitMinutes = *req.TrialLimitMinutes
	}
	if req.MaintenanceMode != nil {
		settings.MaintenanceMode = *req.MaintenanceMode
	}
	if req.GlobalPrompt != nil {
		settings.GlobalPrompt = *req.GlobalPrompt
	}

	if err := s.store.SaveSettings(settings); err != nil {
		s.log.WithError(err).Error("save settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trialLimitMinutes": settings.TrialLimitMinutes,
		"maintenanceMode":   settings.MaintenanceMode,
		"globalPrompt":      settings.GlobalPrompt,
	})
}

type proRequest struct {
	IsPro bool `json:"isPro"`
}

func (s *Server) handleSetPro(c *gin.Context) {
	var req proRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := s.store.SetPro(c.Param("id"), req.IsPro); err != nil {
		s.log.WithError(err).Error("set pro failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
