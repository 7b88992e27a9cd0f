package alert

import (
	"fmt"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// Rule is an engagement-scoped threshold condition over a time window.
// Rules are immutable configuration; the evaluator never mutates them.
type Rule struct {
	ID               string             `json:"id"`
	EngagementID     string             `json:"engagement_id"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	EventType        string             `json:"event_type,omitempty"`
	ConditionField   string             `json:"condition_field,omitempty"`
	ConditionValue   string             `json:"condition_value,omitempty"`
	ThresholdCount   int                `json:"threshold_count"`
	WindowMinutes    int                `json:"window_minutes"`
	SeverityOverride deviation.Severity `json:"severity_override,omitempty"`
	Enabled          bool               `json:"enabled"`
}

// Matches reports whether an event satisfies this rule's type and
// condition filter. Disabled rules match nothing.
func (r *Rule) Matches(e Event) bool {
	if !r.Enabled {
		return false
	}
	if e.EngagementID != r.EngagementID {
		return false
	}
	if r.EventType != "" && e.EventType != r.EventType {
		return false
	}
	if r.ConditionField != "" && r.ConditionValue != "" {
		v, ok := e.Metadata[r.ConditionField]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != r.ConditionValue {
			return false
		}
	}
	return true
}
