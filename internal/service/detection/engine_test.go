package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procsight/baseline-monitor/internal/domain/baseline"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

func testBaseline() *baseline.PovBaseline {
	return baseline.NewPovBaseline("eng-1", []baseline.PovElement{
		{ID: "el-a", Name: "A", ImportanceScore: 0.9},
		{ID: "el-b", Name: "B", ImportanceScore: 0.7,
			DurationRange: &baseline.DurationRange{MinHours: 2, MaxHours: 4}},
		{ID: "el-c", Name: "C", ImportanceScore: 0.5},
	})
}

func hours(h float64) *float64 { return &h }

func TestEngine_DetectSkippedActivities(t *testing.T) {
	engine := NewEngine(testBaseline(), nil, nil)

	t.Run("nothing observed skips everything", func(t *testing.T) {
		records := engine.DetectSkippedActivities(nil)
		require.Len(t, records, 3)
		for _, rec := range records {
			assert.Equal(t, deviation.TypeSkippedActivity, rec.Type)
			assert.Equal(t, "eng-1", rec.EngagementID)
		}
	})

	t.Run("full sequence observed", func(t *testing.T) {
		records := engine.DetectSkippedActivities([]string{"A", "B", "C"})
		assert.Empty(t, records)
	})

	t.Run("severity follows element importance", func(t *testing.T) {
		records := engine.DetectSkippedActivities([]string{"B", "C"})
		require.Len(t, records, 1)

		rec := records[0]
		assert.Equal(t, "A", rec.AffectedElement)
		assert.Equal(t, "el-a", rec.ProcessElementID)
		// importance 0.9 * skipped coefficient 1.0
		assert.InDelta(t, 0.9, rec.SeverityScore, 1e-9)
		assert.Equal(t, deviation.SeverityCritical, rec.Severity)
	})
}

func TestEngine_DetectTimingAnomalies(t *testing.T) {
	engine := NewEngine(testBaseline(), nil, nil)

	t.Run("within range is silent", func(t *testing.T) {
		records := engine.DetectTimingAnomalies([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(3)},
		})
		assert.Empty(t, records)
	})

	t.Run("range bounds are inclusive", func(t *testing.T) {
		records := engine.DetectTimingAnomalies([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(2)},
			{ID: "ev-2", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(4)},
		})
		assert.Empty(t, records)
	})

	t.Run("gross overrun caps the magnitude", func(t *testing.T) {
		// 24h against [2, 4]h: magnitude (24-4)/4 = 5.0, exactly at the cap.
		records := engine.DetectTimingAnomalies([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(24)},
		})
		require.Len(t, records, 1)

		rec := records[0]
		assert.Equal(t, deviation.TypeTimingAnomaly, rec.Type)
		assert.Equal(t, "ev-1", rec.TelemetryRef)
		assert.Equal(t, "el-b", rec.ProcessElementID)
		// 0.7 * 0.8 * 5/5 + 0.7 * 0.8 * 0.3 = 0.728
		assert.InDelta(t, 0.728, rec.SeverityScore, 1e-9)
		assert.Equal(t, deviation.SeverityHigh, rec.Severity)
		assert.Equal(t, 5.0, rec.Details["deviation_magnitude"])
	})

	t.Run("underrun uses the lower bound", func(t *testing.T) {
		records := engine.DetectTimingAnomalies([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(1)},
		})
		require.Len(t, records, 1)
		// magnitude (2-1)/2 = 0.5
		assert.Equal(t, 0.5, records[0].Details["deviation_magnitude"])
	})

	t.Run("events without duration or range are skipped", func(t *testing.T) {
		records := engine.DetectTimingAnomalies([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "B", EngagementID: "eng-1"},
			{ID: "ev-2", ActivityName: "A", EngagementID: "eng-1", DurationHours: hours(100)},
			{ID: "ev-3", ActivityName: "Unknown", EngagementID: "eng-1", DurationHours: hours(100)},
		})
		assert.Empty(t, records)
	})
}

func TestEngine_DetectUndocumentedActivities(t *testing.T) {
	engine := NewEngine(testBaseline(), nil, nil)

	records := engine.DetectUndocumentedActivities([]deviation.TelemetryEvent{
		{ID: "ev-1", ActivityName: "Shadow Step", EngagementID: "eng-1"},
		{ID: "ev-2", ActivityName: "Shadow Step", EngagementID: "eng-1"},
		{ID: "ev-3", ActivityName: "A", EngagementID: "eng-1"},
	})

	require.Len(t, records, 1, "one record per distinct undocumented name")
	rec := records[0]
	assert.Equal(t, deviation.TypeUndocumentedActivity, rec.Type)
	assert.Equal(t, "Shadow Step", rec.AffectedElement)
	assert.Equal(t, "ev-1", rec.TelemetryRef)
	assert.Equal(t, true, rec.Details["requires_analyst_review"])
	// fixed importance 0.5 * undocumented coefficient 0.7
	assert.InDelta(t, 0.35, rec.SeverityScore, 1e-9)
	assert.Equal(t, deviation.SeverityLow, rec.Severity)
}

func TestEngine_DetectAll(t *testing.T) {
	engine := NewEngine(testBaseline(), nil, nil)

	t.Run("empty telemetry reports every baseline activity skipped", func(t *testing.T) {
		records := engine.DetectAll(nil, nil)
		require.Len(t, records, 3)
		for _, rec := range records {
			assert.Equal(t, deviation.TypeSkippedActivity, rec.Type)
		}
	})

	t.Run("conforming telemetry is silent", func(t *testing.T) {
		records := engine.DetectAll([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "A", EngagementID: "eng-1"},
			{ID: "ev-2", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(3)},
			{ID: "ev-3", ActivityName: "C", EngagementID: "eng-1"},
		}, nil)
		assert.Empty(t, records)
	})

	t.Run("mixed deviations", func(t *testing.T) {
		records := engine.DetectAll([]deviation.TelemetryEvent{
			{ID: "ev-1", ActivityName: "A", EngagementID: "eng-1"},
			{ID: "ev-2", ActivityName: "B", EngagementID: "eng-1", DurationHours: hours(24)},
			{ID: "ev-3", ActivityName: "Shadow Step", EngagementID: "eng-1"},
		}, nil)

		byType := make(map[deviation.Type]int)
		for _, rec := range records {
			byType[rec.Type]++
		}
		assert.Equal(t, 1, byType[deviation.TypeSkippedActivity], "C was skipped")
		assert.Equal(t, 1, byType[deviation.TypeTimingAnomaly])
		assert.Equal(t, 1, byType[deviation.TypeUndocumentedActivity])
	})

	t.Run("explicit observed sequence overrides event derivation", func(t *testing.T) {
		records := engine.DetectAll(nil, []string{"A", "B", "C"})
		assert.Empty(t, records)
	})
}

func TestEngine_Severity(t *testing.T) {
	engine := NewEngine(testBaseline(), nil, nil)

	t.Run("score is capped at one", func(t *testing.T) {
		score, sev := engine.Severity(1.5, deviation.TypeSkippedActivity)
		assert.Equal(t, 1.0, score)
		assert.Equal(t, deviation.SeverityCritical, sev)
	})

	t.Run("unknown type uses the fallback coefficient", func(t *testing.T) {
		score, _ := engine.Severity(0.8, deviation.Type("weird"))
		assert.InDelta(t, 0.8*FallbackCoefficient, score, 1e-9)
	})
}

func TestEngine_RecordsFromCandidates(t *testing.T) {
	engine := NewEngine(testBaseline(), nil, nil)

	t.Run("neutral importance keeps the raw magnitude", func(t *testing.T) {
		records := engine.RecordsFromCandidates([]Candidate{
			{Type: deviation.TypeRoleReassignment, AffectedElement: "C", Magnitude: 0.6, Description: "reassigned"},
		})
		require.Len(t, records, 1)
		assert.InDelta(t, 0.6, records[0].SeverityScore, 1e-9)
		assert.Equal(t, "el-c", records[0].ProcessElementID)
	})

	t.Run("important elements scale up, capped at one", func(t *testing.T) {
		records := engine.RecordsFromCandidates([]Candidate{
			{Type: deviation.TypeControlBypass, AffectedElement: "A", Magnitude: 0.9},
		})
		require.Len(t, records, 1)
		// 0.9 * (0.5 + 0.9) = 1.26, capped
		assert.Equal(t, 1.0, records[0].SeverityScore)
		assert.Equal(t, deviation.SeverityCritical, records[0].Severity)
	})

	t.Run("unknown elements use neutral importance", func(t *testing.T) {
		records := engine.RecordsFromCandidates([]Candidate{
			{Type: deviation.TypeSequenceChange, AffectedElement: "Nope", Magnitude: 0.5},
		})
		require.Len(t, records, 1)
		assert.InDelta(t, 0.5, records[0].SeverityScore, 1e-9)
		assert.Empty(t, records[0].ProcessElementID)
	})
}
