package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
)

// schemaVersion is the version the migrations below bring the database to.
const schemaVersion = 3

var migrations = map[int]string{
	1: `
CREATE TABLE users (
	id                     BIGSERIAL PRIMARY KEY,
	email                  TEXT        NOT NULL,
	hashed_password        BYTEA,
	name                   TEXT        NOT NULL DEFAULT '',
	role                   TEXT        NOT NULL DEFAULT 'user',
	auth_provider          TEXT        NOT NULL DEFAULT 'local',
	plan                   TEXT        NOT NULL DEFAULT 'free',
	subscription_status    TEXT        NOT NULL DEFAULT 'active',
	portal_update_url      TEXT        NOT NULL DEFAULT '',
	thrivecart_customer_id TEXT        NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX idx_users_email ON users (lower(email));

CREATE TABLE magic_links (
	token_hash TEXT PRIMARY KEY,
	email      TEXT        NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE email_templates (
	id         BIGSERIAL PRIMARY KEY,
	slug       TEXT        NOT NULL UNIQUE,
	subject    TEXT        NOT NULL,
	body_html  TEXT        NOT NULL DEFAULT '',
	body_text  TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	2: `
CREATE TABLE analyses (
	id                 BIGSERIAL PRIMARY KEY,
	user_id            BIGINT REFERENCES users (id) ON DELETE CASCADE,
	parent_analysis_id BIGINT REFERENCES analyses (id) ON DELETE SET NULL,
	urls               TEXT[]      NOT NULL,
	name               TEXT        NOT NULL DEFAULT '',
	status             TEXT        NOT NULL DEFAULT 'running',
	error_message      TEXT        NOT NULL DEFAULT '',
	overall_score      INTEGER     NOT NULL DEFAULT 0,
	scores             JSONB       NOT NULL DEFAULT '{}',
	summary            TEXT        NOT NULL DEFAULT '',
	industry           TEXT        NOT NULL DEFAULT '',
	email              TEXT        NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);
CREATE INDEX idx_analyses_user ON analyses (user_id, created_at DESC);
CREATE INDEX idx_analyses_parent ON analyses (parent_analysis_id);

CREATE TABLE page_analyses (
	analysis_id      BIGINT  NOT NULL REFERENCES analyses (id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	url              TEXT    NOT NULL,
	title            TEXT    NOT NULL DEFAULT '',
	page_type        TEXT    NOT NULL DEFAULT '',
	scores           JSONB   NOT NULL DEFAULT '{}',
	feedback         TEXT    NOT NULL DEFAULT '',
	recommendations  JSONB,
	screenshot_url   TEXT,
	scrape_error     TEXT,
	screenshot_error TEXT,
	PRIMARY KEY (analysis_id, position)
);

CREATE TABLE recommendation_completions (
	analysis_id       BIGINT      NOT NULL REFERENCES analyses (id) ON DELETE CASCADE,
	recommendation_id TEXT        NOT NULL,
	user_id           BIGINT      NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	completed         BOOLEAN     NOT NULL DEFAULT false,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (analysis_id, recommendation_id, user_id)
);`,
	3: `
CREATE TABLE sessions (
	session_id   TEXT PRIMARY KEY,
	analysis_id  BIGINT      NOT NULL REFERENCES analyses (id) ON DELETE CASCADE,
	fingerprint  TEXT        NOT NULL DEFAULT '',
	landing_page TEXT        NOT NULL DEFAULT '',
	referrer     TEXT        NOT NULL DEFAULT '',
	utm_source   TEXT        NOT NULL DEFAULT '',
	utm_medium   TEXT        NOT NULL DEFAULT '',
	utm_campaign TEXT        NOT NULL DEFAULT '',
	utm_term     TEXT        NOT NULL DEFAULT '',
	utm_content  TEXT        NOT NULL DEFAULT '',
	email        TEXT,
	user_id      TEXT,
	order_id     TEXT,
	user_agent   TEXT        NOT NULL DEFAULT '',
	ip_address   TEXT        NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX idx_sessions_email ON sessions (analysis_id, lower(email)) WHERE email IS NOT NULL;
CREATE INDEX idx_sessions_order ON sessions (analysis_id, order_id) WHERE order_id IS NOT NULL;
CREATE INDEX idx_sessions_user ON sessions (analysis_id, user_id) WHERE user_id IS NOT NULL;
CREATE INDEX idx_sessions_fingerprint ON sessions (analysis_id, fingerprint, created_at DESC);

CREATE TABLE conversions (
	conversion_id      TEXT PRIMARY KEY,
	analysis_id        BIGINT           NOT NULL REFERENCES analyses (id) ON DELETE CASCADE,
	email              TEXT             NOT NULL DEFAULT '',
	order_id           TEXT             NOT NULL DEFAULT '',
	revenue            DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency           TEXT             NOT NULL DEFAULT 'USD',
	customer_name      TEXT             NOT NULL DEFAULT '',
	product_name       TEXT             NOT NULL DEFAULT '',
	webhook_source     TEXT             NOT NULL DEFAULT '',
	attribution_method TEXT             NOT NULL DEFAULT 'none',
	confidence         INTEGER          NOT NULL DEFAULT 0,
	matched_session_id TEXT REFERENCES sessions (session_id) ON DELETE SET NULL,
	created_at         TIMESTAMPTZ      NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ      NOT NULL DEFAULT now()
);
CREATE INDEX idx_conversions_analysis ON conversions (analysis_id);`,
}

// Migrate applies every pending migration, each in its own transaction, and
// records the reached version in schema_state.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create schema_state: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return fmt.Errorf("missing migration for version %d", v)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_state (key, value, updated_at) VALUES ('schema_version', $1, now())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			strconv.Itoa(v),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", v, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
		log.Printf("Applied database migration %d", v)
	}

	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM schema_state WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}
