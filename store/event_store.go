package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"pagelens/api/database"
	"pagelens/api/models"
	"pagelens/api/utils"
)

// EventStore keeps the append-only tracking events in ClickHouse.
type EventStore struct {
	DB *database.ClickHouseClient
}

func NewEventStore(chClient *database.ClickHouseClient) *EventStore {
	return &EventStore{DB: chClient}
}

func (s *EventStore) InsertEvents(ctx context.Context, events []models.TrackingEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO tracking_events (
			event_id, analysis_id, session_id, event_type, page_url, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		metadata := string(event.Metadata)
		if metadata == "" {
			metadata = "{}"
		}
		if err := batch.Append(
			event.EventID,
			event.AnalysisID,
			event.SessionID,
			event.EventType,
			event.PageURL,
			metadata,
			event.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// GetEventCountsOverTime buckets the events of one analysis by interval
// (Minute, Hour, Day, Week or Month).
func (s *EventStore) GetEventCountsOverTime(ctx context.Context, analysisID int64, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []any{analysisID, start, end}
	selectCols := fmt.Sprintf("toStartOf%s(created_at) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE analysis_id = ? AND created_at >= ? AND created_at <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tracking_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []models.EventCountByTime
	for rows.Next() {
		var (
			bucket    time.Time
			count     uint64
			eventType string
			current   models.EventCountByTime
		)
		if isFilteringByType {
			if err := rows.Scan(&bucket, &count, &eventType); err != nil {
				log.Printf("ERROR: scanning event count row: %v", err)
				continue
			}
			current.EventType = &eventType
		} else if err := rows.Scan(&bucket, &count); err != nil {
			log.Printf("ERROR: scanning event count row: %v", err)
			continue
		}
		current.Time = bucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

// GetTopPages returns the most viewed page URLs of an analysis.
func (s *EventStore) GetTopPages(ctx context.Context, analysisID int64, start, end time.Time, limit uint64) ([]models.TopPageResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT page_url, count() AS view_count
		FROM tracking_events
		WHERE analysis_id = ? AND event_type = ? AND created_at >= ? AND created_at <= ?
		GROUP BY page_url
		ORDER BY view_count DESC
		LIMIT ?
	`, analysisID, models.EventPageView, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.TopPageResult
	for rows.Next() {
		var r models.TopPageResult
		if err := rows.Scan(&r.PageURL, &r.Count); err != nil {
			log.Printf("ERROR: scanning top page row: %v", err)
			continue
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}
	return results, nil
}

// DeleteAnalysisEvents drops every event of an analysis. ClickHouse applies
// the mutation asynchronously.
func (s *EventStore) DeleteAnalysisEvents(ctx context.Context, analysisID int64) error {
	if err := s.DB.Conn.Exec(ctx, `ALTER TABLE tracking_events DELETE WHERE analysis_id = ?`, analysisID); err != nil {
		return fmt.Errorf("failed to delete events of analysis %d: %w", analysisID, err)
	}
	return nil
}
