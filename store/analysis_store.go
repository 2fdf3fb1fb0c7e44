package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/lib/pq"

	"pagelens/api/models"
)

type AnalysisStore struct {
	db *sql.DB
}

func NewAnalysisStore(db *sql.DB) *AnalysisStore {
	return &AnalysisStore{db: db}
}

const analysisColumns = `id, user_id, parent_analysis_id, urls, name, status, error_message,
	overall_score, scores, summary, industry, email, created_at, completed_at`

func scanAnalysis(row interface{ Scan(...any) error }) (*models.Analysis, error) {
	a := &models.Analysis{}
	var (
		userID, parentID sql.NullInt64
		scores           []byte
		completedAt      sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&userID,
		&parentID,
		pq.Array(&a.URLs),
		&a.Name,
		&a.Status,
		&a.ErrorMessage,
		&a.OverallScore,
		&scores,
		&a.Summary,
		&a.Industry,
		&a.Email,
		&a.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		a.UserID = &userID.Int64
	}
	if parentID.Valid {
		a.ParentAnalysisID = &parentID.Int64
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &a.Scores); err != nil {
			return nil, fmt.Errorf("decode scores of analysis %d: %w", a.ID, err)
		}
	}
	return a, nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// CreateAnalysis inserts a running analysis and fills in its id, creation
// time and default name.
func (s *AnalysisStore) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO analyses (user_id, parent_analysis_id, urls, name, status, industry, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		nullInt64(a.UserID), nullInt64(a.ParentAnalysisID), pq.Array(a.URLs), a.Name,
		models.AnalysisRunning, a.Industry, a.Email,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	if a.Name == "" {
		a.Name = models.DefaultAnalysisName(a.ID)
		if _, err := tx.ExecContext(ctx, `UPDATE analyses SET name = $2 WHERE id = $1`, a.ID, a.Name); err != nil {
			return fmt.Errorf("failed to set default name: %w", err)
		}
	}
	a.Status = models.AnalysisRunning

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

// CompleteAnalysis stores the scores, summary and pages of a finished run.
func (s *AnalysisStore) CompleteAnalysis(ctx context.Context, a *models.Analysis) error {
	scores, err := json.Marshal(a.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		UPDATE analyses
		SET status = $2, error_message = '', overall_score = $3, scores = $4, summary = $5, completed_at = now()
		WHERE id = $1
		RETURNING completed_at`,
		a.ID, models.AnalysisCompleted, a.OverallScore, scores, a.Summary,
	).Scan(&a.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("analysis %d: %w", a.ID, ErrNotFound)
		}
		return fmt.Errorf("failed to update analysis %d: %w", a.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO page_analyses (analysis_id, position, url, title, page_type, scores, feedback,
			recommendations, screenshot_url, scrape_error, screenshot_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range a.Pages {
		pageScores, err := json.Marshal(p.Scores)
		if err != nil {
			return fmt.Errorf("encode page scores: %w", err)
		}
		var recs any
		if p.Recommendations != nil {
			b, err := json.Marshal(p.Recommendations)
			if err != nil {
				return fmt.Errorf("encode recommendations: %w", err)
			}
			recs = b
		}
		if _, err := stmt.ExecContext(ctx, a.ID, p.Position, p.URL, p.Title, p.PageType, pageScores,
			p.Feedback, recs, p.ScreenshotURL, p.ScrapeError, p.ScreenshotError); err != nil {
			return fmt.Errorf("failed to insert page %d of analysis %d: %w", p.Position, a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis %d: %w", a.ID, err)
	}
	a.Status = models.AnalysisCompleted
	log.Printf("Analysis %d stored with %d pages, overall score %d", a.ID, len(a.Pages), a.OverallScore)
	return nil
}

// FailAnalysis marks the analysis failed with a user-facing message.
func (s *AnalysisStore) FailAnalysis(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE analyses SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1`, id, models.AnalysisFailed, message)
	if err != nil {
		return fmt.Errorf("failed to mark analysis %d failed: %w", id, err)
	}
	return nil
}

// GetAnalysis loads an analysis with its pages.
func (s *AnalysisStore) GetAnalysis(ctx context.Context, id int64) (*models.Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("analysis %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, url, title, page_type, scores, feedback, recommendations,
			screenshot_url, scrape_error, screenshot_error
		FROM page_analyses WHERE analysis_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages of analysis %d: %w", id, err)
	}
	defer rows.Close()

	a.Pages = []models.PageAnalysis{}
	for rows.Next() {
		var (
			p               models.PageAnalysis
			scores, recs    []byte
			shot, scrapeErr sql.NullString
			shotErr         sql.NullString
		)
		if err := rows.Scan(&p.Position, &p.URL, &p.Title, &p.PageType, &scores, &p.Feedback, &recs,
			&shot, &scrapeErr, &shotErr); err != nil {
			return nil, fmt.Errorf("failed to scan page of analysis %d: %w", id, err)
		}
		if err := json.Unmarshal(scores, &p.Scores); err != nil {
			return nil, fmt.Errorf("decode page scores: %w", err)
		}
		if len(recs) > 0 {
			p.Recommendations = &models.Recommendations{}
			if err := json.Unmarshal(recs, p.Recommendations); err != nil {
				return nil, fmt.Errorf("decode recommendations: %w", err)
			}
		}
		p.ScreenshotURL = stringPtr(shot)
		p.ScrapeError = stringPtr(scrapeErr)
		p.ScreenshotError = stringPtr(shotErr)
		a.Pages = append(a.Pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pages: %w", err)
	}
	return a, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func (s *AnalysisStore) queryAnalyses(ctx context.Context, query string, args ...any) ([]models.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListByUser returns a page of the user's analyses (without pages), newest first.
func (s *AnalysisStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Analysis, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM analyses WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	list, err := s.queryAnalyses(ctx, `SELECT `+analysisColumns+` FROM analyses
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list analyses of user %d: %w", userID, err)
	}
	return list, total, nil
}

// ListChildren returns the analyses re-run from parentID, oldest first.
func (s *AnalysisStore) ListChildren(ctx context.Context, parentID int64) ([]models.Analysis, error) {
	list, err := s.queryAnalyses(ctx, `SELECT `+analysisColumns+` FROM analyses
		WHERE parent_analysis_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of analysis %d: %w", parentID, err)
	}
	return list, nil
}

func (s *AnalysisStore) Rename(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE analyses SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("failed to rename analysis %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("analysis %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *AnalysisStore) DeleteAnalysis(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("analysis %d: %w", id, ErrNotFound)
	}
	log.Printf("Analysis deleted from DB: ID=%d", id)
	return nil
}

func (s *AnalysisStore) ListCompletions(ctx context.Context, analysisID, userID int64) ([]models.RecommendationCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT analysis_id, recommendation_id, user_id, completed, updated_at
		FROM recommendation_completions
		WHERE analysis_id = $1 AND user_id = $2
		ORDER BY recommendation_id`, analysisID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	out := []models.RecommendationCompletion{}
	for rows.Next() {
		var c models.RecommendationCompletion
		if err := rows.Scan(&c.AnalysisID, &c.RecommendationID, &c.UserID, &c.Completed, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *AnalysisStore) SetCompletion(ctx context.Context, c *models.RecommendationCompletion) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO recommendation_completions (analysis_id, recommendation_id, user_id, completed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (analysis_id, recommendation_id, user_id)
		DO UPDATE SET completed = EXCLUDED.completed, updated_at = EXCLUDED.updated_at
		RETURNING updated_at`,
		c.AnalysisID, c.RecommendationID, c.UserID, c.Completed).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set completion %s: %w", c.RecommendationID, err)
	}
	return nil
}
