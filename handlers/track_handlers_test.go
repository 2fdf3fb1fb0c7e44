package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"pagelens/api/models"
	"pagelens/api/store"
)

type memorySessions map[string]*models.Session

// UpsertSession merges like the SQL upsert: first landing page, referrer and
// UTM values stick, later identifiers and device fields overwrite.
func (m memorySessions) UpsertSession(_ context.Context, s *models.Session) (*models.Session, error) {
	prev, ok := m[s.SessionID]
	if !ok {
		cp := *s
		m[s.SessionID] = &cp
		return &cp, nil
	}
	if prev.AnalysisID != s.AnalysisID {
		return nil, fmt.Errorf("session %s belongs to another analysis: %w", s.SessionID, store.ErrConflict)
	}
	keep := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	replace := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	keep(&prev.LandingPage, s.LandingPage)
	keep(&prev.Referrer, s.Referrer)
	keep(&prev.UTMSource, s.UTMSource)
	keep(&prev.UTMMedium, s.UTMMedium)
	keep(&prev.UTMCampaign, s.UTMCampaign)
	keep(&prev.UTMTerm, s.UTMTerm)
	keep(&prev.UTMContent, s.UTMContent)
	replace(&prev.Fingerprint, s.Fingerprint)
	replace(&prev.UserAgent, s.UserAgent)
	replace(&prev.IPAddress, s.IPAddress)
	if s.Email != nil {
		prev.Email = s.Email
	}
	if s.UserID != nil {
		prev.UserID = s.UserID
	}
	if s.OrderID != nil {
		prev.OrderID = s.OrderID
	}
	cp := *prev
	return &cp, nil
}

func (m memorySessions) GetSession(_ context.Context, analysisID int64, sessionID string) (*models.Session, error) {
	s, ok := m[sessionID]
	if !ok || s.AnalysisID != analysisID {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return s, nil
}

func (m memorySessions) SetSessionEmail(_ context.Context, analysisID int64, sessionID, email string) error {
	s, ok := m[sessionID]
	if !ok || s.AnalysisID != analysisID {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	s.Email = &email
	return nil
}

type recordedEvents struct{ events []models.TrackingEvent }

func (r *recordedEvents) InsertEvents(_ context.Context, events []models.TrackingEvent) error {
	r.events = append(r.events, events...)
	return nil
}

type trackFixture struct {
	router   *gin.Engine
	sessions memorySessions
	events   *recordedEvents
}

func newTrackFixture() *trackFixture {
	analyses := newMemoryAnalyses()
	analyses.CreateAnalysis(context.Background(), &models.Analysis{URLs: []string{"https://example.com"}})
	analyses.CreateAnalysis(context.Background(), &models.Analysis{URLs: []string{"https://other.example"}})

	f := &trackFixture{router: gin.New(), sessions: memorySessions{}, events: &recordedEvents{}}
	Routes{Track: NewTrackHandlers(f.sessions, f.events, analyses, "https://api.example.com")}.Register(f.router)
	return f
}

func (f *trackFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTrackSession_Upsert(t *testing.T) {
	f := newTrackFixture()
	w := f.do(http.MethodPost, "/api/track/1/session",
		`{"session_id":"s1","fingerprint":"abc","landing_page":"https://example.com/?utm_source=ads","referrer":"https://google.com","utm_source":"ads"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	w = f.do(http.MethodPost, "/api/track/1/session",
		`{"session_id":"s1","landing_page":"https://example.com/pricing","utm_source":"newsletter","utm_campaign":"spring","email":" Jane@Example.com ","order_id":"ord-9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second call: status %d: %s", w.Code, w.Body)
	}

	if len(f.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(f.sessions))
	}
	s := f.sessions["s1"]
	if s.AnalysisID != 1 || s.Fingerprint != "abc" || s.UserAgent != "test-agent" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.LandingPage != "https://example.com/?utm_source=ads" || s.Referrer != "https://google.com" || s.UTMSource != "ads" {
		t.Errorf("first-touch fields were overwritten: %+v", s)
	}
	if s.UTMCampaign != "spring" {
		t.Errorf("utm_campaign not filled in: %q", s.UTMCampaign)
	}
	if s.Email == nil || *s.Email != "jane@example.com" {
		t.Errorf("email not normalized: %v", s.Email)
	}
	if s.OrderID == nil || *s.OrderID != "ord-9" {
		t.Errorf("order id not recorded: %v", s.OrderID)
	}

	if w := f.do(http.MethodPost, "/api/track/2/session", `{"session_id":"s1"}`); w.Code != http.StatusConflict {
		t.Fatalf("same id under another analysis: status %d, want 409", w.Code)
	}
	if f.sessions["s1"].AnalysisID != 1 {
		t.Fatal("conflicting call must not move the session")
	}
}

func TestTrackSession_UnknownAnalysis(t *testing.T) {
	f := newTrackFixture()
	if w := f.do(http.MethodPost, "/api/track/99/session", `{"session_id":"s1"}`); w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestTrackEvent(t *testing.T) {
	f := newTrackFixture()
	f.do(http.MethodPost, "/api/track/1/session", `{"session_id":"s1"}`)
	w := f.do(http.MethodPost, "/api/track/1/event", `{"session_id":"s1","event_type":"click","page_url":"https://example.com","metadata":{"text":"Buy"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(f.events.events))
	}
	ev := f.events.events[0]
	if ev.EventID == "" || ev.EventType != models.EventClick || string(ev.Metadata) != `{"text":"Buy"}` {
		t.Fatalf("unexpected event %+v", ev)
	}

	w = f.do(http.MethodPost, "/api/track/1/event", `{"session_id":"s1","event_type":"email_capture","email":"Buyer@Example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("email capture status %d", w.Code)
	}
	if got := f.sessions["s1"].Email; got == nil || *got != "buyer@example.com" {
		t.Fatalf("captured email = %v", got)
	}
	if string(f.events.events[1].Metadata) != "{}" {
		t.Fatalf("missing metadata should default to {}, got %s", f.events.events[1].Metadata)
	}
}

func TestTrackEvent_BeforeSession(t *testing.T) {
	f := newTrackFixture()
	w := f.do(http.MethodPost, "/api/track/1/event", `{"session_id":"early","event_type":"pageview","page_url":"https://example.com/"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("event ahead of its session: status %d, want 200", w.Code)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("pageview dropped: %d events stored", len(f.events.events))
	}
	if s := f.sessions["early"]; s == nil || s.AnalysisID != 1 || s.LandingPage != "https://example.com/" {
		t.Fatalf("bare session not registered: %+v", s)
	}

	w = f.do(http.MethodPost, "/api/track/1/session", `{"session_id":"early","fingerprint":"fp","utm_source":"ads"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("late session call: status %d", w.Code)
	}
	if s := f.sessions["early"]; s.Fingerprint != "fp" || s.UTMSource != "ads" || len(f.sessions) != 1 {
		t.Fatalf("late session call did not fill the bare session: %+v", s)
	}

	if w := f.do(http.MethodPost, "/api/track/99/event", `{"session_id":"x","event_type":"pageview"}`); w.Code != http.StatusNotFound {
		t.Fatalf("event for unknown analysis: status %d, want 404", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/track/2/event", `{"session_id":"early","event_type":"pageview"}`); w.Code != http.StatusConflict {
		t.Fatalf("event with a session of another analysis: status %d, want 409", w.Code)
	}
	if len(f.events.events) != 1 {
		t.Fatal("rejected events must not be stored")
	}
}

func TestTrackEvent_RejectsLargeMetadata(t *testing.T) {
	f := newTrackFixture()
	f.do(http.MethodPost, "/api/track/1/session", `{"session_id":"s1"}`)
	big, _ := json.Marshal(map[string]string{"blob": strings.Repeat("x", 5000)})
	body := fmt.Sprintf(`{"session_id":"s1","event_type":"click","metadata":%s}`, big)
	if w := f.do(http.MethodPost, "/api/track/1/event", body); w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if len(f.events.events) != 0 {
		t.Fatal("oversized event must not be stored")
	}
}

func TestTrackScript(t *testing.T) {
	f := newTrackFixture()
	w := f.do(http.MethodGet, "/api/track/1/script.js", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "javascript") || !strings.Contains(w.Body.String(), "https://api.example.com") {
		t.Fatalf("script not bound: %s", w.Header().Get("Content-Type"))
	}
}
