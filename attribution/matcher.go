// Package attribution links incoming conversions to tracked visitor sessions.
package attribution

import (
	"context"
	"math"
	"time"

	"pagelens/api/models"
)

// SessionFinder looks up the sessions of one analysis by a single key.
type SessionFinder interface {
	FindSessions(ctx context.Context, analysisID int64, q models.SessionLookup) ([]models.Session, error)
}

// Match is the outcome of a successful matcher.
type Match struct {
	SessionID  string
	Method     string
	Confidence int
}

// Matcher is one attribution strategy. Attempt returns nil, nil when the
// strategy does not apply or finds nothing.
type Matcher interface {
	Attempt(ctx context.Context, c models.Conversion) (*Match, error)
}

// exactMatcher matches on a single session key with a fixed confidence.
type exactMatcher struct {
	finder     SessionFinder
	method     string
	confidence int
	lookup     func(c models.Conversion) (models.SessionLookup, bool)
}

func (m *exactMatcher) Attempt(ctx context.Context, c models.Conversion) (*Match, error) {
	q, ok := m.lookup(c)
	if !ok {
		return nil, nil
	}
	sessions, err := m.finder.FindSessions(ctx, c.AnalysisID, q)
	if err != nil {
		return nil, err
	}
	s := mostRecent(sessions)
	if s == nil {
		return nil, nil
	}
	return &Match{SessionID: s.SessionID, Method: m.method, Confidence: m.confidence}, nil
}

func OrderIDMatcher(f SessionFinder) Matcher {
	return &exactMatcher{finder: f, method: models.MethodOrderID, confidence: 100,
		lookup: func(c models.Conversion) (models.SessionLookup, bool) {
			return models.SessionLookup{OrderID: c.OrderID}, c.OrderID != ""
		}}
}

func SessionIDMatcher(f SessionFinder) Matcher {
	return &exactMatcher{finder: f, method: models.MethodSessionFingerprint, confidence: 90,
		lookup: func(c models.Conversion) (models.SessionLookup, bool) {
			return models.SessionLookup{SessionID: c.SessionID}, c.SessionID != ""
		}}
}

func EmailMatcher(f SessionFinder) Matcher {
	return &exactMatcher{finder: f, method: models.MethodEmail, confidence: 95,
		lookup: func(c models.Conversion) (models.SessionLookup, bool) {
			return models.SessionLookup{Email: c.Email}, c.Email != ""
		}}
}

func UserIDMatcher(f SessionFinder) Matcher {
	return &exactMatcher{finder: f, method: models.MethodUserID, confidence: 85,
		lookup: func(c models.Conversion) (models.SessionLookup, bool) {
			return models.SessionLookup{UserID: c.UserID}, c.UserID != ""
		}}
}

// ProbabilisticMatcher matches a device fingerprint seen within Window
// before the conversion. Confidence decays from 70 to 50 over the window.
type ProbabilisticMatcher struct {
	Finder SessionFinder
	Window time.Duration
	Now    func() time.Time
}

func (m *ProbabilisticMatcher) Attempt(ctx context.Context, c models.Conversion) (*Match, error) {
	if c.Fingerprint == "" || m.Window <= 0 {
		return nil, nil
	}
	at := c.CreatedAt
	if at.IsZero() {
		at = m.now()
	}
	sessions, err := m.Finder.FindSessions(ctx, c.AnalysisID, models.SessionLookup{
		Fingerprint:   c.Fingerprint,
		CreatedAfter:  at.Add(-m.Window),
		CreatedBefore: at,
	})
	if err != nil {
		return nil, err
	}
	s := mostRecent(sessions)
	if s == nil {
		return nil, nil
	}
	return &Match{
		SessionID:  s.SessionID,
		Method:     models.MethodProbabilistic,
		Confidence: decayConfidence(at.Sub(s.CreatedAt), m.Window),
	}, nil
}

func (m *ProbabilisticMatcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func decayConfidence(age, window time.Duration) int {
	if age < 0 {
		age = 0
	}
	conf := 70 - int(math.Round(20*float64(age)/float64(window)))
	return max(50, min(70, conf))
}

// mostRecent breaks ties between candidate sessions by creation time.
func mostRecent(sessions []models.Session) *models.Session {
	var best *models.Session
	for i := range sessions {
		if best == nil || sessions[i].CreatedAt.After(best.CreatedAt) {
			best = &sessions[i]
		}
	}
	return best
}
