package attribution

import (
	"context"
	"fmt"
	"math"
	"time"

	"pagelens/api/models"
)

// DefaultWindow bounds how far back a fingerprint-only match may reach.
const DefaultWindow = 7 * 24 * time.Hour

// ConversionWriter persists attributed conversions idempotently on
// conversion_id.
type ConversionWriter interface {
	UpsertConversion(ctx context.Context, c *models.Conversion) (bool, error)
}

// Engine runs the matchers in priority order; the first match wins.
type Engine struct {
	matchers []Matcher
	writer   ConversionWriter
}

// NewEngine wires the default strategy order: order id, session id, email,
// user id, then fingerprint within window.
func NewEngine(sessions SessionFinder, writer ConversionWriter, window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{
		matchers: []Matcher{
			OrderIDMatcher(sessions),
			SessionIDMatcher(sessions),
			EmailMatcher(sessions),
			UserIDMatcher(sessions),
			&ProbabilisticMatcher{Finder: sessions, Window: window},
		},
		writer: writer,
	}
}

// NewEngineWithMatchers is used when the strategy list must be customized.
func NewEngineWithMatchers(writer ConversionWriter, matchers ...Matcher) *Engine {
	return &Engine{matchers: matchers, writer: writer}
}

// Attribute finds the best match for c. A conversion nothing matches gets
// method none with confidence 0.
func (e *Engine) Attribute(ctx context.Context, c models.Conversion) (Match, error) {
	for _, m := range e.matchers {
		match, err := m.Attempt(ctx, c)
		if err != nil {
			return Match{}, fmt.Errorf("attribution lookup: %w", err)
		}
		if match != nil {
			return *match, nil
		}
	}
	return Match{Method: models.MethodNone}, nil
}

// Record attributes c, stores it and reports whether it was new.
func (e *Engine) Record(ctx context.Context, c *models.Conversion) (bool, error) {
	match, err := e.Attribute(ctx, *c)
	if err != nil {
		return false, err
	}
	c.AttributionMethod = match.Method
	c.Confidence = match.Confidence
	c.MatchedSessionID = nil
	if match.SessionID != "" {
		id := match.SessionID
		c.MatchedSessionID = &id
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	created, err := e.writer.UpsertConversion(ctx, c)
	if err != nil {
		return false, err
	}
	return created, nil
}

// Stats summarizes conversions of one analysis.
func Stats(conversions []models.Conversion) models.ConversionStats {
	stats := models.ConversionStats{ByMethod: make(map[string]int, len(models.AttributionMethods))}
	for _, m := range models.AttributionMethods {
		stats.ByMethod[m] = 0
	}

	confidenceSum := 0
	for _, c := range conversions {
		stats.TotalConversions++
		stats.TotalRevenue += c.Revenue
		method := c.AttributionMethod
		if method == "" {
			method = models.MethodNone
		}
		stats.ByMethod[method]++
		if method != models.MethodNone {
			stats.AttributedConversions++
			confidenceSum += c.Confidence
		}
	}

	if stats.TotalConversions > 0 {
		stats.AttributionRate = round1(100 * float64(stats.AttributedConversions) / float64(stats.TotalConversions))
	}
	if stats.AttributedConversions > 0 {
		stats.AverageConfidence = round1(float64(confidenceSum) / float64(stats.AttributedConversions))
	}
	stats.TotalRevenue = math.Round(stats.TotalRevenue*100) / 100
	return stats
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
