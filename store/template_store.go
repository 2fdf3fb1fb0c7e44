package store

import (
	"context"
	"database/sql"
	"fmt"

	"pagelens/api/models"
)

type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const templateColumns = `id, slug, subject, body_html, body_text, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*models.EmailTemplate, error) {
	t := &models.EmailTemplate{}
	err := row.Scan(&t.ID, &t.Slug, &t.Subject, &t.BodyHTML, &t.BodyText, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *TemplateStore) ListTemplates(ctx context.Context) ([]models.EmailTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM email_templates ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list email templates: %w", err)
	}
	defer rows.Close()

	var out []models.EmailTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *TemplateStore) GetTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("email template %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return t, nil
}

// GetTemplateBySlug is used by the mailer to look up overrides.
func (s *TemplateStore) GetTemplateBySlug(ctx context.Context, slug string) (*models.EmailTemplate, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE slug = $1`, slug))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("email template %q: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) CreateTemplate(ctx context.Context, t *models.EmailTemplate) (*models.EmailTemplate, error) {
	out, err := scanTemplate(s.db.QueryRowContext(ctx, `
		INSERT INTO email_templates (slug, subject, body_html, body_text)
		VALUES ($1, $2, $3, $4)
		RETURNING `+templateColumns, t.Slug, t.Subject, t.BodyHTML, t.BodyText))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email template %q: %w", t.Slug, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create email template: %w", err)
	}
	return out, nil
}

func (s *TemplateStore) UpdateTemplate(ctx context.Context, t *models.EmailTemplate) (*models.EmailTemplate, error) {
	out, err := scanTemplate(s.db.QueryRowContext(ctx, `
		UPDATE email_templates
		SET slug = $2, subject = $3, body_html = $4, body_text = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+templateColumns, t.ID, t.Slug, t.Subject, t.BodyHTML, t.BodyText))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("email template %d: %w", t.ID, ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email template %q: %w", t.Slug, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to update email template: %w", err)
	}
	return out, nil
}

func (s *TemplateStore) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete email template %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("email template %d: %w", id, ErrNotFound)
	}
	return nil
}
