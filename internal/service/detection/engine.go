package detection

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/procsight/baseline-monitor/internal/domain/baseline"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// Engine detects process deviations against a POV baseline.
//
// Each deviation carries a severity score:
//
//	severity = element_importance_score * magnitude_coefficient
//
// The engine assumes well-typed input: malformed events (missing activity
// names, non-finite durations) are rejected by the caller's validation, and
// missing optional baseline facts skip the relevant check rather than fail
// the detection pass.
type Engine struct {
	baseline     *baseline.PovBaseline
	coefficients map[deviation.Type]float64
	logger       *slog.Logger
}

// NewEngine creates a deviation engine for one baseline. A nil coefficient
// map uses the defaults; a nil logger uses the process default.
func NewEngine(b *baseline.PovBaseline, coefficients map[deviation.Type]float64, logger *slog.Logger) *Engine {
	if coefficients == nil {
		coefficients = DefaultCoefficients()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		baseline:     b,
		coefficients: coefficients,
		logger:       logger,
	}
}

// Baseline returns the POV baseline this engine compares against.
func (e *Engine) Baseline() *baseline.PovBaseline {
	return e.baseline
}

func (e *Engine) coefficient(t deviation.Type) float64 {
	if c, ok := e.coefficients[t]; ok {
		return c
	}
	return FallbackCoefficient
}

// Severity computes the severity score and classification for a deviation of
// the given type on an element of the given importance.
func (e *Engine) Severity(importance float64, t deviation.Type) (float64, deviation.Severity) {
	score := math.Min(importance*e.coefficient(t), 1.0)
	return score, deviation.ClassifySeverity(score)
}

// DetectSkippedActivities reports baseline activities absent from the
// observed sequence, with severity driven by each element's importance.
func (e *Engine) DetectSkippedActivities(observedSequence []string) []deviation.Record {
	observed := make(map[string]bool, len(observedSequence))
	for _, name := range observedSequence {
		observed[name] = true
	}

	var records []deviation.Record
	for _, name := range e.baseline.ExpectedSequence() {
		if observed[name] {
			continue
		}

		importance := UndocumentedImportance
		var elementID string
		if element, ok := e.baseline.Element(name); ok {
			importance = element.ImportanceScore
			elementID = element.ID
		}
		score, _ := e.Severity(importance, deviation.TypeSkippedActivity)

		rec := deviation.NewRecord(
			deviation.TypeSkippedActivity,
			score,
			e.baseline.EngagementID,
			name,
			fmt.Sprintf("Activity '%s' expected in POV but absent from telemetry", name),
		)
		rec.ProcessElementID = elementID
		rec.Details = map[string]any{"importance_score": importance}
		records = append(records, rec)
	}
	return records
}

// DetectTimingAnomalies reports events whose observed duration falls outside
// the element's expected range. The deviation magnitude is the fractional
// excess or deficit over the violated bound, capped at TimingMagnitudeCap.
func (e *Engine) DetectTimingAnomalies(events []deviation.TelemetryEvent) []deviation.Record {
	var records []deviation.Record
	for _, event := range events {
		element, ok := e.baseline.Element(event.ActivityName)
		if !ok || element.DurationRange == nil || event.DurationHours == nil {
			continue
		}

		duration := *event.DurationHours
		minHours := element.DurationRange.MinHours
		maxHours := element.DurationRange.MaxHours
		if duration >= minHours && duration <= maxHours {
			continue
		}

		var magnitude float64
		if duration > maxHours {
			if maxHours > 0 {
				magnitude = (duration - maxHours) / maxHours
			} else {
				magnitude = 1.0
			}
		} else {
			if minHours > 0 {
				magnitude = (minHours - duration) / minHours
			} else {
				magnitude = 1.0
			}
		}

		importance := element.ImportanceScore
		coefficient := e.coefficient(deviation.TypeTimingAnomaly)
		raw := importance * coefficient * math.Min(magnitude, TimingMagnitudeCap) / TimingMagnitudeCap
		score := math.Min(raw+importance*coefficient*TimingBaseSeverityFloor, 1.0)

		rec := deviation.NewRecord(
			deviation.TypeTimingAnomaly,
			score,
			event.EngagementID,
			event.ActivityName,
			fmt.Sprintf("Activity '%s' took %gh, baseline range is [%g, %g]h",
				event.ActivityName, duration, minHours, maxHours),
		)
		rec.ProcessElementID = element.ID
		rec.TelemetryRef = event.ID
		rec.Details = map[string]any{
			"observed_duration_hours": duration,
			"baseline_range":          []float64{minHours, maxHours},
			"deviation_magnitude":     math.Round(magnitude*10000) / 10000,
		}
		records = append(records, rec)
	}
	return records
}

// DetectUndocumentedActivities reports activity names never seen in the
// baseline, once per distinct name, at a fixed importance. Flagged records
// carry a requires_analyst_review detail.
func (e *Engine) DetectUndocumentedActivities(events []deviation.TelemetryEvent) []deviation.Record {
	seen := make(map[string]bool)

	var records []deviation.Record
	for _, event := range events {
		if _, known := e.baseline.Element(event.ActivityName); known {
			continue
		}
		if seen[event.ActivityName] {
			continue
		}
		seen[event.ActivityName] = true

		score, _ := e.Severity(UndocumentedImportance, deviation.TypeUndocumentedActivity)
		rec := deviation.NewRecord(
			deviation.TypeUndocumentedActivity,
			score,
			event.EngagementID,
			event.ActivityName,
			fmt.Sprintf("Activity '%s' found in telemetry but not in POV", event.ActivityName),
		)
		rec.TelemetryRef = event.ID
		rec.Details = map[string]any{"requires_analyst_review": true}
		records = append(records, rec)
	}
	return records
}

// DetectAll runs every detection handler over the events. When the observed
// sequence is nil it is derived from the events' activity names.
func (e *Engine) DetectAll(events []deviation.TelemetryEvent, observedSequence []string) []deviation.Record {
	if observedSequence == nil {
		observedSequence = make([]string, 0, len(events))
		for _, event := range events {
			observedSequence = append(observedSequence, event.ActivityName)
		}
	}

	var records []deviation.Record
	records = append(records, e.DetectSkippedActivities(observedSequence)...)
	records = append(records, e.DetectTimingAnomalies(events)...)
	records = append(records, e.DetectUndocumentedActivities(events)...)

	e.logger.Info("deviation detection complete",
		"engagement_id", e.baseline.EngagementID,
		"deviations", len(records))
	return records
}

// RecordsFromCandidates weights facet comparator candidates by element
// importance and converts them into scored deviation records. An element of
// neutral importance (0.5) keeps the candidate's raw magnitude as its score;
// more important elements scale it up, less important ones down. Candidates
// for elements unknown to the baseline use the neutral importance.
func (e *Engine) RecordsFromCandidates(candidates []Candidate) []deviation.Record {
	var records []deviation.Record
	for _, c := range candidates {
		importance := UndocumentedImportance
		var elementID string
		if c.AffectedElement != "" {
			if element, ok := e.baseline.Element(c.AffectedElement); ok {
				importance = element.ImportanceScore
				elementID = element.ID
			}
		}

		score := math.Min(c.Magnitude*(0.5+importance), 1.0)
		rec := deviation.NewRecord(c.Type, score, e.baseline.EngagementID, c.AffectedElement, c.Description)
		rec.ProcessElementID = elementID
		rec.Details = c.Details
		records = append(records, rec)
	}
	return records
}
