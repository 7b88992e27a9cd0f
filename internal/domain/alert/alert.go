package alert

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// Alert event types.
const (
	TypeProcessDeviation      = "PROCESS_DEVIATION"
	TypeEvidenceQualityDrop   = "EVIDENCE_QUALITY_DROP"
	TypeEvidenceContradiction = "EVIDENCE_CONTRADICTION"
	TypeSLABreach             = "SLA_BREACH"
)

// severityRank orders severities for threshold comparison.
var severityRank = map[deviation.Severity]int{
	deviation.SeverityCritical: 4,
	deviation.SeverityHigh:     3,
	deviation.SeverityMedium:   2,
	deviation.SeverityLow:      1,
	deviation.SeverityInfo:     0,
}

// Rank returns the numeric rank of a severity. Unknown severities rank lowest.
func Rank(s deviation.Severity) int {
	return severityRank[deviation.Severity(strings.ToLower(string(s)))]
}

// MeetsThreshold reports whether a severity meets or exceeds a threshold.
func MeetsThreshold(s, threshold deviation.Severity) bool {
	return Rank(s) >= Rank(threshold)
}

// Event is an incoming observation that may trigger an alert.
type Event struct {
	EventType      string             `json:"event_type"`
	EngagementID   string             `json:"engagement_id"`
	Severity       deviation.Severity `json:"severity"`
	SourceID       string             `json:"source_id,omitempty"`
	ProcessElement string             `json:"process_element,omitempty"`
	Description    string             `json:"description,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Alert is a generated alert with deduplication tracking.
type Alert struct {
	ID              uuid.UUID          `json:"id"`
	AlertType       string             `json:"alert_type"`
	EngagementID    string             `json:"engagement_id"`
	Severity        deviation.Severity `json:"severity"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	SourceIDs       []string           `json:"source_ids"`
	ProcessElement  string             `json:"process_element,omitempty"`
	RuleID          string             `json:"rule_id,omitempty"`
	MatchedCount    int                `json:"matched_count,omitempty"`
	Window          string             `json:"window,omitempty"`
	RuleDescription string             `json:"rule_description,omitempty"`
	Acknowledged    bool               `json:"acknowledged"`
	AcknowledgeNote string             `json:"acknowledge_note,omitempty"`
	OccurrenceCount int                `json:"occurrence_count"`
	DedupKey        string             `json:"dedup_key"`
	CreatedAt       time.Time          `json:"created_at"`
	LastOccurredAt  time.Time          `json:"last_occurred_at"`
}

// New creates an alert with a generated id and a single occurrence.
func New(alertType, engagementID string, severity deviation.Severity, title string) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:              uuid.New(),
		AlertType:       alertType,
		EngagementID:    engagementID,
		Severity:        severity,
		Title:           title,
		OccurrenceCount: 1,
		CreatedAt:       now,
		LastOccurredAt:  now,
	}
}

// DedupKeyFor computes the deterministic deduplication key identifying "the
// same incident" across repeated emissions. The engagement id is always part
// of the key so unrelated engagements can never collide.
func DedupKeyFor(engagementID, alertType, processElement, ruleID string) string {
	parts := []string{engagementID, alertType}
	if processElement != "" {
		parts = append(parts, processElement)
	}
	if ruleID != "" {
		parts = append(parts, ruleID)
	}
	return strings.Join(parts, ":")
}
