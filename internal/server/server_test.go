package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/nirahq/nira/internal/chat"
	"github.com/nirahq/nira/internal/config"
	"github.com/nirahq/nira/internal/db"
	"github.com/nirahq/nira/internal/jobs"
	"github.com/nirahq/nira/internal/memory"
	"github.com/nirahq/nira/internal/policy"
	"github.com/nirahq/nira/internal/provider"
	"github.com/nirahq/nira/internal/store"
	"github.com/nirahq/nira/internal/tts"
)

const adminToken = "admin-secret"

type scriptedLLM struct {
	reply string
}

func (s scriptedLLM) Name() string { return "scripted" }

func (s scriptedLLM) GenerateReply(_ context.Context, _ provider.ReplyRequest) (string, error) {
	return s.reply, nil
}

func newTestServer(t *testing.T, reply string) (*Server, *store.Store) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st := store.New(database)
	gw := provider.NewGateway([]provider.LLM{scriptedLLM{reply: reply}}, log)
	maintainer := memory.NewMaintainer(st, gw, log)
	runner := jobs.NewRunner(log)
	runner.Synchronous = true
	orch := chat.NewOrchestrator(st, gw, maintainer, runner, log, 0)

	cfg := config.Default()
	cfg.Auth.AdminToken = adminToken
	srv := New(orch, st, gw, tts.NewClient(""), func() config.Config { return cfg }, log)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// onboard walks a user through the two fixed onboarding exchanges.
func onboard(t *testing.T, srv *Server, userID, name string) {
	t.Helper()
	for _, msg := range []string{"hello", name} {
		w := doJSON(t, srv, http.MethodPost, "/api/chat", userID, map[string]string{"message": msg})
		if w.Code != http.StatusOK {
			t.Fatalf("onboarding message %q: status %d: %s", msg, w.Code, w.Body.String())
		}
	}
}

func TestChat_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, "hi")
	w := doJSON(t, srv, http.MethodPost, "/api/chat", "", map[string]string{"message": "hello"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", w.Code)
	}
}

func TestChat_RequiresMessage(t *testing.T) {
	srv, _ := newTestServer(t, "hi")
	w := doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestChat_OnboardingThenReply(t *testing.T) {
	srv, _ := newTestServer(t, "kya haal hai!")

	w := doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{"message": "hey"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["response"]; got != policy.OnboardingPrompt {
		t.Fatalf("first response: got %v, want onboarding prompt", got)
	}

	doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{"message": "Aarav"})

	w = doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{"message": "sab badhiya"})
	if got := decodeBody(t, w)["response"]; got != "kya haal hai!" {
		t.Fatalf("model response: got %v", got)
	}
}

func TestChat_TrialEndedShape(t *testing.T) {
	srv, st := newTestServer(t, "hi")
	onboard(t, srv, "u1", "Aarav")

	if err := st.AppendExchange("u1", "x", "", "y", 10.0); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{"message": "aur batao"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "TRIAL_ENDED" {
		t.Errorf("error: got %v", body["error"])
	}
	if body["message"] != policy.TrialEndedMessage {
		t.Errorf("message: got %v", body["message"])
	}
	if body["link"] != policy.UpgradeLink {
		t.Errorf("link: got %v", body["link"])
	}
}

func TestChat_MaintenanceMode(t *testing.T) {
	srv, st := newTestServer(t, "hi")
	onboard(t, srv, "u1", "Aarav")

	settings, _ := st.GetSettings()
	settings.MaintenanceMode = true
	if err := st.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{"message": "hello?"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", w.Code)
	}
}

func TestProactive_EmptyForNewUser(t *testing.T) {
	srv, _ := newTestServer(t, "Hey Aarav!")
	w := doJSON(t, srv, http.MethodGet, "/api/chat/proactive", "brand-new", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeBody(t, w)["response"]; got != "" {
		t.Fatalf("greeting for new user: got %v, want empty", got)
	}
}

func TestMemoryRead_Shape(t *testing.T) {
	srv, st := newTestServer(t, "accha!")
	onboard(t, srv, "u1", "Aarav")

	if _, err := st.InsertFact("u1", "loves filter coffee", "fact"); err != nil {
		t.Fatal(err)
	}
	doJSON(t, srv, http.MethodPost, "/api/chat", "u1", map[string]string{"message": "office se nikla"})

	w := doJSON(t, srv, http.MethodGet, "/api/memory", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)

	profile, ok := body["profile"].(map[string]any)
	if !ok || profile["name"] != "Aarav" {
		t.Errorf("profile: got %v", body["profile"])
	}
	longTerm, ok := body["longTerm"].([]any)
	if !ok || len(longTerm) == 0 {
		t.Errorf("longTerm: got %v", body["longTerm"])
	}
	conversations, ok := body["conversations"].([]any)
	if !ok || len(conversations) != 2 {
		t.Errorf("conversations: got %v", body["conversations"])
	}
	if _, ok := body["stats"].(map[string]any); !ok {
		t.Errorf("stats: got %v", body["stats"])
	}
}

func TestIdentityUpdate(t *testing.T) {
	srv, st := newTestServer(t, "hi")
	onboard(t, srv, "u1", "Aarav")

	w := doJSON(t, srv, http.MethodPost, "/api/memory/identity", "u1",
		map[string]string{"name": "Aarav S", "contactChannel": "tg:12345"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["success"]; got != true {
		t.Fatalf("success: got %v", got)
	}

	profile, _, err := st.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Name != "Aarav S" || profile.ContactChannel != "tg:12345" {
		t.Fatalf("profile after update: %+v", profile)
	}
}

func TestTTS_RequiresText(t *testing.T) {
	srv, _ := newTestServer(t, "hi")
	w := doJSON(t, srv, http.MethodPost, "/api/tts", "u1", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestTTSStatus(t *testing.T) {
	srv, _ := newTestServer(t, "hi")
	w := doJSON(t, srv, http.MethodGet, "/api/tts/status", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["configured"] != false {
		t.Errorf("configured: got %v, want false without a key", body["configured"])
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "hi")
	w := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, "hi")

	w := doJSON(t, srv, http.MethodGet, "/api/admin/settings", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d, want 401", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/admin/settings", "wrong-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d, want 401", w.Code)
	}
}

func TestAdmin_SettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "hi")

	w := doJSON(t, srv, http.MethodGet, "/api/admin/settings", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["trialLimitMinutes"]; got != 5.0 {
		t.Errorf("default trial limit: got %v, want 5", got)
	}

	w = doJSON(t, srv, http.MethodPut, "/api/admin/settings", adminToken,
		map[string]any{"trialLimitMinutes": 15.0, "maintenanceMode": true})
	if w.Code != http.StatusOK {
		t.Fatalf("put: status %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["trialLimitMinutes"] != 15.0 || body["maintenanceMode"] != true {
		t.Errorf("updated settings: got %v", body)
	}
}

func TestAdmin_SetPro(t *testing.T) {
	srv, st := newTestServer(t, "hi")
	onboard(t, srv, "u1", "Aarav")

	w := doJSON(t, srv, http.MethodPost, "/api/admin/users/u1/pro", adminToken,
		map[string]bool{"isPro": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}

	profile, _, err := st.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if !profile.IsPro {
		t.Fatal("user not marked pro")
	}
}

func TestAuth_ServiceKey(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	st := store.New(database)
	gw := provider.NewGateway([]provider.LLM{scriptedLLM{reply: "hi"}}, log)
	runner := jobs.NewRunner(log)
	runner.Synchronous = true
	orch := chat.NewOrchestrator(st, gw, memory.NewMaintainer(st, gw, log), runner, log, 0)

	cfg := config.Default()
	cfg.Auth.Token = "service-key"
	srv := New(orch, st, gw, tts.NewClient(""), func() config.Config { return cfg }, log)

	req := httptest.NewRequest(http.MethodGet, "/api/memory", nil)
	req.Header.Set("Authorization", "Bearer u1")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing service key: got %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/memory", nil)
	req.Header.Set("Authorization", "Bearer u1")
	req.Header.Set("X-Service-Key", "service-key")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with service key: got %d, want 200", w.Code)
	}
}
