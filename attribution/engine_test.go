package attribution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pagelens/api/models"
)

type memorySessions struct {
	sessions []models.Session
	err      error
}

func (m *memorySessions) FindSessions(_ context.Context, analysisID int64, q models.SessionLookup) ([]models.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Session
	for _, s := range m.sessions {
		if s.AnalysisID != analysisID {
			continue
		}
		if !q.CreatedAfter.IsZero() && s.CreatedAt.Before(q.CreatedAfter) {
			continue
		}
		if !q.CreatedBefore.IsZero() && s.CreatedAt.After(q.CreatedBefore) {
			continue
		}
		var ok bool
		switch {
		case q.OrderID != "":
			ok = s.OrderID != nil && *s.OrderID == q.OrderID
		case q.SessionID != "":
			ok = s.SessionID == q.SessionID
		case q.Email != "":
			ok = s.Email != nil && strings.EqualFold(*s.Email, q.Email)
		case q.UserID != "":
			ok = s.UserID != nil && *s.UserID == q.UserID
		case q.Fingerprint != "":
			ok = s.Fingerprint == q.Fingerprint
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type memoryConversions struct {
	byID map[string]models.Conversion
}

func (m *memoryConversions) UpsertConversion(_ context.Context, c *models.Conversion) (bool, error) {
	if m.byID == nil {
		m.byID = map[string]models.Conversion{}
	}
	_, exists := m.byID[c.ConversionID]
	m.byID[c.ConversionID] = *c
	return !exists, nil
}

func ptr(s string) *string { return &s }

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOrderIDWinsOverEmail(t *testing.T) {
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "s-email", AnalysisID: 1, Email: ptr("buyer@example.com"), CreatedAt: base.Add(time.Hour)},
		{SessionID: "s-order", AnalysisID: 1, OrderID: ptr("ord-9"), CreatedAt: base},
	}}
	e := NewEngine(sessions, &memoryConversions{}, 0)

	match, err := e.Attribute(context.Background(), models.Conversion{
		AnalysisID: 1, Email: "BUYER@example.com", OrderID: "ord-9",
	})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.Method != models.MethodOrderID || match.Confidence != 100 || match.SessionID != "s-order" {
		t.Fatalf("got %+v, want order_id/100/s-order", match)
	}
}

func TestSessionIDWinsOverEmail(t *testing.T) {
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "s-email", AnalysisID: 1, Email: ptr("buyer@example.com"), CreatedAt: base.Add(time.Hour)},
		{SessionID: "s-visit", AnalysisID: 1, CreatedAt: base},
	}}
	e := NewEngine(sessions, &memoryConversions{}, 0)

	match, err := e.Attribute(context.Background(), models.Conversion{
		AnalysisID: 1, Email: "buyer@example.com", SessionID: "s-visit",
	})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.Method != models.MethodSessionFingerprint || match.Confidence != 90 || match.SessionID != "s-visit" {
		t.Fatalf("got %+v, want session_fingerprint/90/s-visit", match)
	}

	// An unknown session id falls through to the email tier.
	match, err = e.Attribute(context.Background(), models.Conversion{
		AnalysisID: 1, Email: "buyer@example.com", SessionID: "gone",
	})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.Method != models.MethodEmail || match.SessionID != "s-email" {
		t.Fatalf("got %+v, want email/s-email", match)
	}
}

func TestEmailMatchIsCaseInsensitive(t *testing.T) {
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "s1", AnalysisID: 1, Email: ptr("buyer@example.com"), CreatedAt: base},
	}}
	e := NewEngine(sessions, &memoryConversions{}, 0)

	match, err := e.Attribute(context.Background(), models.Conversion{AnalysisID: 1, Email: "Buyer@Example.COM"})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.Method != models.MethodEmail || match.Confidence != 95 {
		t.Fatalf("got %+v, want email/95", match)
	}
}

func TestTiesPickMostRecentSession(t *testing.T) {
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "old", AnalysisID: 1, UserID: ptr("u1"), CreatedAt: base},
		{SessionID: "new", AnalysisID: 1, UserID: ptr("u1"), CreatedAt: base.Add(2 * time.Hour)},
		{SessionID: "mid", AnalysisID: 1, UserID: ptr("u1"), CreatedAt: base.Add(time.Hour)},
	}}
	e := NewEngine(sessions, &memoryConversions{}, 0)

	match, err := e.Attribute(context.Background(), models.Conversion{AnalysisID: 1, UserID: "u1"})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.SessionID != "new" || match.Method != models.MethodUserID || match.Confidence != 85 {
		t.Fatalf("got %+v, want user_id match on newest session", match)
	}
}

func TestOnlySessionsOfSameAnalysisAreCandidates(t *testing.T) {
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "other", AnalysisID: 2, Email: ptr("buyer@example.com"), CreatedAt: base},
	}}
	e := NewEngine(sessions, &memoryConversions{}, 0)

	match, err := e.Attribute(context.Background(), models.Conversion{AnalysisID: 1, Email: "buyer@example.com"})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.Method != models.MethodNone || match.Confidence != 0 || match.SessionID != "" {
		t.Fatalf("got %+v, want none", match)
	}
}

func TestProbabilisticConfidenceDecays(t *testing.T) {
	window := 7 * 24 * time.Hour
	tests := []struct {
		name string
		age  time.Duration
		want int
	}{
		{"fresh", 0, 70},
		{"half window", window / 2, 60},
		{"end of window", window, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := base.Add(30 * 24 * time.Hour)
			sessions := &memorySessions{sessions: []models.Session{
				{SessionID: "fp", AnalysisID: 1, Fingerprint: "abc", CreatedAt: at.Add(-tt.age)},
			}}
			m := &ProbabilisticMatcher{Finder: sessions, Window: window}
			match, err := m.Attempt(context.Background(), models.Conversion{AnalysisID: 1, Fingerprint: "abc", CreatedAt: at})
			if err != nil {
				t.Fatalf("Attempt: %v", err)
			}
			if match == nil {
				t.Fatal("expected a match")
			}
			if match.Confidence != tt.want || match.Method != models.MethodProbabilistic {
				t.Fatalf("got %+v, want probabilistic/%d", match, tt.want)
			}
		})
	}
}

func TestProbabilisticIgnoresSessionsOutsideWindow(t *testing.T) {
	at := base.Add(30 * 24 * time.Hour)
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "stale", AnalysisID: 1, Fingerprint: "abc", CreatedAt: at.Add(-8 * 24 * time.Hour)},
	}}
	e := NewEngine(sessions, &memoryConversions{}, 7*24*time.Hour)

	match, err := e.Attribute(context.Background(), models.Conversion{AnalysisID: 1, Fingerprint: "abc", CreatedAt: at})
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if match.Method != models.MethodNone {
		t.Fatalf("got %+v, want none", match)
	}
}

func TestRecordIsIdempotentOnConversionID(t *testing.T) {
	sessions := &memorySessions{sessions: []models.Session{
		{SessionID: "s1", AnalysisID: 1, OrderID: ptr("ord-1"), CreatedAt: base},
	}}
	store := &memoryConversions{}
	e := NewEngine(sessions, store, 0)

	first := &models.Conversion{ConversionID: "c-1", AnalysisID: 1, OrderID: "ord-1", Revenue: 49}
	created, err := e.Record(context.Background(), first)
	if err != nil || !created {
		t.Fatalf("first Record: created=%v err=%v", created, err)
	}

	again := &models.Conversion{ConversionID: "c-1", AnalysisID: 1, OrderID: "ord-1", Revenue: 59}
	created, err = e.Record(context.Background(), again)
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if created {
		t.Fatal("re-delivery must update, not create")
	}
	if len(store.byID) != 1 {
		t.Fatalf("stored %d conversions, want 1", len(store.byID))
	}
	got := store.byID["c-1"]
	if got.Revenue != 59 || got.MatchedSessionID == nil || *got.MatchedSessionID != "s1" || got.Currency != "USD" {
		t.Fatalf("unexpected stored conversion %+v", got)
	}
}

func TestLookupErrorsPropagate(t *testing.T) {
	boom := errors.New("db down")
	e := NewEngine(&memorySessions{err: boom}, &memoryConversions{}, 0)
	_, err := e.Attribute(context.Background(), models.Conversion{AnalysisID: 1, OrderID: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped db error", err)
	}
}

func TestStats(t *testing.T) {
	stats := Stats([]models.Conversion{
		{AttributionMethod: models.MethodOrderID, Confidence: 100, Revenue: 10},
		{AttributionMethod: models.MethodProbabilistic, Confidence: 55, Revenue: 20.5},
		{AttributionMethod: models.MethodNone, Revenue: 5},
	})

	if stats.TotalConversions != 3 || stats.AttributedConversions != 2 {
		t.Fatalf("counts: %+v", stats)
	}
	if stats.AttributionRate != 66.7 {
		t.Errorf("rate = %v, want 66.7", stats.AttributionRate)
	}
	if stats.AverageConfidence != 77.5 {
		t.Errorf("average confidence = %v, want 77.5", stats.AverageConfidence)
	}
	if stats.TotalRevenue != 35.5 {
		t.Errorf("revenue = %v, want 35.5", stats.TotalRevenue)
	}
	for _, m := range models.AttributionMethods {
		if _, ok := stats.ByMethod[m]; !ok {
			t.Errorf("method %q missing from breakdown", m)
		}
	}
	if stats.ByMethod[models.MethodEmail] != 0 || stats.ByMethod[models.MethodNone] != 1 {
		t.Errorf("unexpected breakdown %v", stats.ByMethod)
	}
}

func TestStatsEmpty(t *testing.T) {
	stats := Stats(nil)
	if stats.AttributionRate != 0 || stats.AverageConfidence != 0 || len(stats.ByMethod) != len(models.AttributionMethods) {
		t.Fatalf("unexpected empty stats %+v", stats)
	}
}
