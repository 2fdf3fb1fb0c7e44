package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pagelens/api/models"
)

// SessionStore persists visitor sessions and conversions in Postgres.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `session_id, analysis_id, fingerprint, landing_page, referrer, utm_source,
	utm_medium, utm_campaign, utm_term, utm_content, email, user_id, order_id, user_agent,
	ip_address, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	s := &models.Session{}
	var email, userID, orderID sql.NullString
	err := row.Scan(
		&s.SessionID,
		&s.AnalysisID,
		&s.Fingerprint,
		&s.LandingPage,
		&s.Referrer,
		&s.UTMSource,
		&s.UTMMedium,
		&s.UTMCampaign,
		&s.UTMTerm,
		&s.UTMContent,
		&email,
		&userID,
		&orderID,
		&s.UserAgent,
		&s.IPAddress,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Email = stringPtr(email)
	s.UserID = stringPtr(userID)
	s.OrderID = stringPtr(orderID)
	return s, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// UpsertSession creates the session or fills in the fields the new call
// carries. A session id already owned by another analysis is ErrConflict.
func (s *SessionStore) UpsertSession(ctx context.Context, in *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (session_id, analysis_id, fingerprint, landing_page, referrer,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			email, user_id, order_id, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, lower($11), $12, $13, $14, $15)
		ON CONFLICT (session_id) DO UPDATE SET
			fingerprint  = COALESCE(NULLIF(EXCLUDED.fingerprint, ''), sessions.fingerprint),
			landing_page = COALESCE(NULLIF(sessions.landing_page, ''), EXCLUDED.landing_page),
			referrer     = COALESCE(NULLIF(sessions.referrer, ''), EXCLUDED.referrer),
			utm_source   = COALESCE(NULLIF(sessions.utm_source, ''), EXCLUDED.utm_source),
			utm_medium   = COALESCE(NULLIF(sessions.utm_medium, ''), EXCLUDED.utm_medium),
			utm_campaign = COALESCE(NULLIF(sessions.utm_campaign, ''), EXCLUDED.utm_campaign),
			utm_term     = COALESCE(NULLIF(sessions.utm_term, ''), EXCLUDED.utm_term),
			utm_content  = COALESCE(NULLIF(sessions.utm_content, ''), EXCLUDED.utm_content),
			email        = COALESCE(EXCLUDED.email, sessions.email),
			user_id      = COALESCE(EXCLUDED.user_id, sessions.user_id),
			order_id     = COALESCE(EXCLUDED.order_id, sessions.order_id),
			user_agent   = COALESCE(NULLIF(EXCLUDED.user_agent, ''), sessions.user_agent),
			ip_address   = COALESCE(NULLIF(EXCLUDED.ip_address, ''), sessions.ip_address),
			updated_at   = now()
		WHERE sessions.analysis_id = EXCLUDED.analysis_id
		RETURNING ` + sessionColumns

	out, err := scanSession(s.db.QueryRowContext(ctx, query,
		in.SessionID, in.AnalysisID, in.Fingerprint, in.LandingPage, in.Referrer,
		in.UTMSource, in.UTMMedium, in.UTMCampaign, in.UTMTerm, in.UTMContent,
		nullString(deref(in.Email)), nullString(deref(in.UserID)), nullString(deref(in.OrderID)),
		in.UserAgent, in.IPAddress,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s belongs to another analysis: %w", in.SessionID, ErrConflict)
		}
		return nil, fmt.Errorf("failed to upsert session %s: %w", in.SessionID, err)
	}
	return out, nil
}

// GetSession returns the session if it belongs to analysisID.
func (s *SessionStore) GetSession(ctx context.Context, analysisID int64, sessionID string) (*models.Session, error) {
	out, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1 AND analysis_id = $2`,
		sessionID, analysisID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return out, nil
}

// SetSessionEmail records a captured email on an existing session.
func (s *SessionStore) SetSessionEmail(ctx context.Context, analysisID int64, sessionID, email string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET email = lower($3), updated_at = now()
		WHERE session_id = $1 AND analysis_id = $2`, sessionID, analysisID, email)
	if err != nil {
		return fmt.Errorf("failed to set email on session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// FindSessions returns the sessions of analysisID matching the single key set
// in q, most recent first.
func (s *SessionStore) FindSessions(ctx context.Context, analysisID int64, q models.SessionLookup) ([]models.Session, error) {
	where := []string{"analysis_id = $1"}
	args := []any{analysisID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	switch {
	case q.OrderID != "":
		add("order_id = $%d", q.OrderID)
	case q.SessionID != "":
		add("session_id = $%d", q.SessionID)
	case q.Email != "":
		add("lower(email) = lower($%d)", q.Email)
	case q.UserID != "":
		add("user_id = $%d", q.UserID)
	case q.Fingerprint != "":
		add("fingerprint = $%d", q.Fingerprint)
	default:
		return nil, nil
	}
	if !q.CreatedAfter.IsZero() {
		add("created_at >= $%d", q.CreatedAfter)
	}
	if !q.CreatedBefore.IsZero() {
		add("created_at <= $%d", q.CreatedBefore)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC LIMIT 50`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// UpsertConversion stores the conversion keyed by its external id. It reports
// whether a new row was created; re-deliveries update the existing row.
func (s *SessionStore) UpsertConversion(ctx context.Context, c *models.Conversion) (bool, error) {
	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversions (conversion_id, analysis_id, email, order_id, revenue, currency,
			customer_name, product_name, webhook_source, attribution_method, confidence, matched_session_id)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conversion_id) DO UPDATE SET
			email = EXCLUDED.email,
			order_id = EXCLUDED.order_id,
			revenue = EXCLUDED.revenue,
			currency = EXCLUDED.currency,
			customer_name = EXCLUDED.customer_name,
			product_name = EXCLUDED.product_name,
			webhook_source = EXCLUDED.webhook_source,
			attribution_method = EXCLUDED.attribution_method,
			confidence = EXCLUDED.confidence,
			matched_session_id = EXCLUDED.matched_session_id,
			updated_at = now()
		WHERE conversions.analysis_id = EXCLUDED.analysis_id
		RETURNING (xmax = 0), created_at, updated_at`,
		c.ConversionID, c.AnalysisID, c.Email, c.OrderID, c.Revenue, c.Currency,
		c.CustomerName, c.ProductName, c.WebhookSource, c.AttributionMethod, c.Confidence, c.MatchedSessionID,
	).Scan(&inserted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("conversion %s belongs to another analysis: %w", c.ConversionID, ErrConflict)
		}
		return false, fmt.Errorf("failed to upsert conversion %s: %w", c.ConversionID, err)
	}
	return inserted, nil
}

func (s *SessionStore) ListConversions(ctx context.Context, analysisID int64) ([]models.Conversion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversion_id, analysis_id, email, order_id, revenue, currency, customer_name,
			product_name, webhook_source, attribution_method, confidence, matched_session_id,
			created_at, updated_at
		FROM conversions WHERE analysis_id = $1 ORDER BY created_at`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var out []models.Conversion
	for rows.Next() {
		var (
			c       models.Conversion
			matched sql.NullString
		)
		if err := rows.Scan(&c.ConversionID, &c.AnalysisID, &c.Email, &c.OrderID, &c.Revenue, &c.Currency,
			&c.CustomerName, &c.ProductName, &c.WebhookSource, &c.AttributionMethod, &c.Confidence,
			&matched, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		c.MatchedSessionID = stringPtr(matched)
		out = append(out, c)
	}
	return out, rows.Err()
}
