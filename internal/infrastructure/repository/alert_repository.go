package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
)

// AlertRepository persists alerts and their acknowledgement state.
type AlertRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Save upserts an alert keyed by id. Deduplicated alerts are saved again
// with their updated occurrence count and last-occurred timestamp.
func (r *AlertRepository) Save(ctx context.Context, a *alert.Alert) error {
	sourceJSON, err := json.Marshal(a.SourceIDs)
	if err != nil {
		return fmt.Errorf("marshaling alert source ids: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, alert_type, engagement_id, severity, title, description,
			source_ids, process_element, rule_id, matched_count, rule_window,
			rule_description, acknowledged, acknowledge_note,
			occurrence_count, dedup_key, created_at, last_occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			source_ids = EXCLUDED.source_ids,
			acknowledged = EXCLUDED.acknowledged,
			acknowledge_note = EXCLUDED.acknowledge_note,
			occurrence_count = EXCLUDED.occurrence_count,
			last_occurred_at = EXCLUDED.last_occurred_at
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID, a.AlertType, a.EngagementID, string(a.Severity), a.Title, a.Description,
		sourceJSON, nullable(a.ProcessElement), nullable(a.RuleID), a.MatchedCount, nullable(a.Window),
		nullable(a.RuleDescription), a.Acknowledged, nullable(a.AcknowledgeNote),
		a.OccurrenceCount, a.DedupKey, a.CreatedAt, a.LastOccurredAt,
	)
	if err != nil {
		r.logger.Error("failed to save alert",
			zap.String("alert_id", a.ID.String()),
			zap.String("dedup_key", a.DedupKey),
			zap.Error(err))
		return fmt.Errorf("saving alert: %w", err)
	}
	return nil
}

// GetByID fetches one alert.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alert.Alert, error) {
	query := selectAlertColumns + ` WHERE id = $1`
	a, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrAlertNotFound
		}
		return nil, fmt.Errorf("fetching alert: %w", err)
	}
	return a, nil
}

// Acknowledge marks an alert acknowledged with an optional analyst note.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, note string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = TRUE, acknowledge_note = $2 WHERE id = $1`,
		id, note)
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrAlertNotFound
	}
	return nil
}

// ListFilter narrows alert queries. Zero values mean "no constraint".
type ListFilter struct {
	EngagementID string
	Severity     deviation.Severity
	AlertType    string
	Acknowledged *bool
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// List returns alerts matching the filter, newest first.
func (r *AlertRepository) List(ctx context.Context, f ListFilter) ([]alert.Alert, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	query := selectAlertColumns + ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EngagementID != "" {
		query += ` AND engagement_id = ` + arg(f.EngagementID)
	}
	if f.Severity != "" {
		query += ` AND severity = ` + arg(string(f.Severity))
	}
	if f.AlertType != "" {
		query += ` AND alert_type = ` + arg(f.AlertType)
	}
	if f.Acknowledged != nil {
		query += ` AND acknowledged = ` + arg(*f.Acknowledged)
	}
	if f.From != nil {
		query += ` AND created_at >= ` + arg(*f.From)
	}
	if f.To != nil {
		query += ` AND created_at <= ` + arg(*f.To)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// CountByEngagement returns per-severity alert counts since a cutoff,
// feeding the cached engagement summary.
func (r *AlertRepository) CountByEngagement(ctx context.Context, engagementID string, since time.Time) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE engagement_id = $1 AND created_at >= $2
		GROUP BY severity
	`, engagementID, since)
	if err != nil {
		return nil, fmt.Errorf("counting alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scanning alert count: %w", err)
		}
		counts[sev] = n
	}
	return counts, rows.Err()
}

const selectAlertColumns = `
	SELECT id, alert_type, engagement_id, severity, title, description,
		source_ids, process_element, rule_id, matched_count, rule_window,
		rule_description, acknowledged, acknowledge_note,
		occurrence_count, dedup_key, created_at, last_occurred_at
	FROM alerts`

func scanAlert(row rowScanner) (*alert.Alert, error) {
	var (
		a          alert.Alert
		severity   string
		sourceJSON []byte
		element    *string
		ruleID     *string
		window     *string
		ruleDesc   *string
		ackNote    *string
	)

	err := row.Scan(&a.ID, &a.AlertType, &a.EngagementID, &severity, &a.Title, &a.Description,
		&sourceJSON, &element, &ruleID, &a.MatchedCount, &window,
		&ruleDesc, &a.Acknowledged, &ackNote,
		&a.OccurrenceCount, &a.DedupKey, &a.CreatedAt, &a.LastOccurredAt)
	if err != nil {
		return nil, err
	}

	a.Severity = deviation.Severity(severity)
	if len(sourceJSON) > 0 {
		if err := json.Unmarshal(sourceJSON, &a.SourceIDs); err != nil {
			return nil, fmt.Errorf("decoding alert source ids: %w", err)
		}
	}
	if element != nil {
		a.ProcessElement = *element
	}
	if ruleID != nil {
		a.RuleID = *ruleID
	}
	if window != nil {
		a.Window = *window
	}
	if ruleDesc != nil {
		a.RuleDescription = *ruleDesc
	}
	if ackNote != nil {
		a.AcknowledgeNote = *ackNote
	}
	return &a, nil
}
