package store

import (
	"context"
	"database/sql"
	"fmt"

	"pagelens/api/models"
)

type AdminStore struct {
	db *sql.DB
}

func NewAdminStore(db *sql.DB) *AdminStore {
	return &AdminStore{db: db}
}

// Stats aggregates the dashboard counters in a handful of queries.
func (s *AdminStore) Stats(ctx context.Context) (*models.AdminStats, error) {
	stats := &models.AdminStats{UsersByStatus: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT subscription_status, count(*) FROM users GROUP BY subscription_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user count: %w", err)
		}
		stats.UsersByStatus[status] = n
		stats.TotalUsers += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE created_at >= now() - interval '7 days'),
			COALESCE(avg(overall_score) FILTER (WHERE status = 'completed'), 0)
		FROM analyses`).Scan(&stats.TotalAnalyses, &stats.FailedAnalyses, &stats.AnalysesLast7Days, &stats.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("failed to count analyses: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT count(*), COALESCE(sum(revenue), 0) FROM conversions`).
		Scan(&stats.TotalConversions, &stats.TotalRevenue)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversions: %w", err)
	}
	return stats, nil
}
