package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
)

// DeviationRepository persists deviation records emitted by the detection
// engine.
type DeviationRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Save inserts one deviation record.
func (r *DeviationRepository) Save(ctx context.Context, rec *deviation.Record) error {
	detailsJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshaling deviation details: %w", err)
	}

	query := `
		INSERT INTO process_deviations (
			id, engagement_id, deviation_type, severity, severity_score,
			process_element_id, affected_element, telemetry_ref,
			description, details, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.EngagementID, string(rec.Type), string(rec.Severity), rec.SeverityScore,
		nullable(rec.ProcessElementID), rec.AffectedElement, nullable(rec.TelemetryRef),
		rec.Description, detailsJSON, rec.DetectedAt,
	)
	if err != nil {
		r.logger.Error("failed to save deviation",
			zap.String("deviation_id", rec.ID.String()),
			zap.Error(err))
		return fmt.Errorf("saving deviation: %w", err)
	}
	return nil
}

// SaveBatch inserts all records from one detection pass.
func (r *DeviationRepository) SaveBatch(ctx context.Context, records []deviation.Record) error {
	for i := range records {
		if err := r.Save(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetByID fetches one deviation record.
func (r *DeviationRepository) GetByID(ctx context.Context, id string) (*deviation.Record, error) {
	query := `
		SELECT id, engagement_id, deviation_type, severity, severity_score,
			process_element_id, affected_element, telemetry_ref,
			description, details, detected_at
		FROM process_deviations
		WHERE id = $1
	`
	rec, err := scanDeviation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("deviation")
		}
		return nil, fmt.Errorf("fetching deviation: %w", err)
	}
	return rec, nil
}

// ListByEngagement returns recent deviations for an engagement, newest
// first, at or above the given minimum severity score.
func (r *DeviationRepository) ListByEngagement(ctx context.Context, engagementID string, minScore float64, since time.Time, limit int) ([]deviation.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, engagement_id, deviation_type, severity, severity_score,
			process_element_id, affected_element, telemetry_ref,
			description, details, detected_at
		FROM process_deviations
		WHERE engagement_id = $1 AND severity_score >= $2 AND detected_at >= $3
		ORDER BY detected_at DESC
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, engagementID, minScore, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing deviations: %w", err)
	}
	defer rows.Close()

	var records []deviation.Record
	for rows.Next() {
		rec, err := scanDeviation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deviation row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviation(row rowScanner) (*deviation.Record, error) {
	var (
		rec          deviation.Record
		devType      string
		severity     string
		elementID    *string
		telemetryRef *string
		detailsJSON  []byte
	)

	err := row.Scan(&rec.ID, &rec.EngagementID, &devType, &severity, &rec.SeverityScore,
		&elementID, &rec.AffectedElement, &telemetryRef,
		&rec.Description, &detailsJSON, &rec.DetectedAt)
	if err != nil {
		return nil, err
	}

	rec.Type = deviation.Type(devType)
	rec.Severity = deviation.Severity(severity)
	if elementID != nil {
		rec.ProcessElementID = *elementID
	}
	if telemetryRef != nil {
		rec.TelemetryRef = *telemetryRef
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
			return nil, fmt.Errorf("decoding deviation details: %w", err)
		}
	}
	return &rec, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
