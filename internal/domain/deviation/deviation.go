package deviation

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a detected deviation.
//
// This is the unified deviation taxonomy: the category vocabulary used by the
// facet comparators (sequence, frequency, control bypass) and the type
// vocabulary used by the deviation engine share this one enum.
type Type string

const (
	TypeSkippedActivity         Type = "skipped_activity"
	TypeTimingAnomaly           Type = "timing_anomaly"
	TypeUndocumentedActivity    Type = "undocumented_activity"
	TypeRoleReassignment        Type = "role_reassignment"
	TypeMissingExpectedActivity Type = "missing_expected_activity"
	TypeSequenceChange          Type = "sequence_change"
	TypeFrequencyChange         Type = "frequency_change"
	TypeControlBypass           Type = "control_bypass"
)

// Severity buckets a severity score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severity score thresholds. Each bucket is inclusive at its lower bound.
const (
	ScoreCritical = 0.90
	ScoreHigh     = 0.70
	ScoreMedium   = 0.40
	ScoreLow      = 0.20
)

// ClassifySeverity buckets a score into a severity. Pure function of the
// score and the fixed thresholds.
func ClassifySeverity(score float64) Severity {
	switch {
	case score >= ScoreCritical:
		return SeverityCritical
	case score >= ScoreHigh:
		return SeverityHigh
	case score >= ScoreMedium:
		return SeverityMedium
	case score >= ScoreLow:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Record is a detected discrepancy between live telemetry and the baseline.
// The severity field is always the deterministic bucket of SeverityScore.
type Record struct {
	ID               uuid.UUID      `json:"id"`
	Type             Type           `json:"deviation_type"`
	Severity         Severity       `json:"severity"`
	SeverityScore    float64        `json:"severity_score"`
	ProcessElementID string         `json:"process_element_id,omitempty"`
	AffectedElement  string         `json:"affected_element"`
	EngagementID     string         `json:"engagement_id"`
	TelemetryRef     string         `json:"telemetry_ref,omitempty"`
	Description      string         `json:"description"`
	Details          map[string]any `json:"details,omitempty"`
	DetectedAt       time.Time      `json:"detected_at"`
}

// NewRecord creates a deviation record with a generated id, classifying the
// severity from the score.
func NewRecord(devType Type, score float64, engagementID, affectedElement, description string) Record {
	return Record{
		ID:              uuid.New(),
		Type:            devType,
		Severity:        ClassifySeverity(score),
		SeverityScore:   score,
		AffectedElement: affectedElement,
		EngagementID:    engagementID,
		Description:     description,
		DetectedAt:      time.Now().UTC(),
	}
}

// TelemetryEvent is a canonical activity observation from an ingestion
// source. Produced externally; read-only to this core.
type TelemetryEvent struct {
	ID            string     `json:"id"`
	ActivityName  string     `json:"activity_name"`
	EngagementID  string     `json:"engagement_id"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
	Role          string     `json:"role,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}
