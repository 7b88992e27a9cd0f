package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
)

func testChannels() []*alert.Channel {
	return []*alert.Channel{
		{ID: "ch-high", ChannelType: alert.ChannelWebhook, MinSeverity: deviation.SeverityHigh, Enabled: true},
		{ID: "ch-all", ChannelType: alert.ChannelSlack, MinSeverity: deviation.SeverityInfo, Enabled: true},
		{ID: "ch-off", ChannelType: alert.ChannelEmail, MinSeverity: deviation.SeverityInfo, Enabled: false},
	}
}

func deviationEvent(sourceID string, sev deviation.Severity, at time.Time) alert.Event {
	return alert.Event{
		EventType:      alert.TypeProcessDeviation,
		EngagementID:   "eng-1",
		Severity:       sev,
		SourceID:       sourceID,
		ProcessElement: "Approve",
		Description:    "approval skipped",
		Metadata:       map[string]any{"deviation_type": "skipped_activity"},
		Timestamp:      at,
	}
}

func TestEngine_ProcessEvent(t *testing.T) {
	engine := NewEngine(nil, testChannels(), time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	alerts := engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityHigh, now))
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "PROCESS_DEVIATION: Approve", a.Title)
	assert.Equal(t, deviation.SeverityHigh, a.Severity)
	assert.Equal(t, []string{"d-1"}, a.SourceIDs)

	log := engine.DispatchLog()
	require.Len(t, log, 2, "high severity reaches both enabled channels")
	channelIDs := []string{log[0].ChannelID, log[1].ChannelID}
	assert.ElementsMatch(t, []string{"ch-high", "ch-all"}, channelIDs)
}

func TestEngine_ChannelSeverityGating(t *testing.T) {
	engine := NewEngine(nil, testChannels(), time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityLow, now))

	log := engine.DispatchLog()
	require.Len(t, log, 1, "low severity only reaches the catch-all channel")
	assert.Equal(t, "ch-all", log[0].ChannelID)
	assert.Equal(t, alert.ChannelSlack, log[0].ChannelType)
}

func TestEngine_DeduplicationAcrossEvents(t *testing.T) {
	engine := NewEngine(nil, testChannels(), time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	first := engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityHigh, now))
	require.Len(t, first, 1)

	second := engine.ProcessEvent(context.Background(), deviationEvent("d-2", deviation.SeverityHigh, now.Add(5*time.Minute)))
	assert.Empty(t, second, "repeat within the window is suppressed")

	assert.Len(t, engine.DispatchLog(), 2, "suppressed repeats are not re-dispatched")

	result := engine.QueryAlerts(QueryFilter{EngagementID: "eng-1"}, 10, 0)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, 2, result.Alerts[0].OccurrenceCount)
	assert.Equal(t, []string{"d-1", "d-2"}, result.Alerts[0].SourceIDs)
}

func TestEngine_RuleAlertsShareTheDedup(t *testing.T) {
	rule := &alert.Rule{
		ID:             "rule-1",
		Name:           "skip burst",
		EngagementID:   "eng-1",
		EventType:      alert.TypeProcessDeviation,
		ThresholdCount: 2,
		WindowMinutes:  60,
		Enabled:        true,
	}
	engine := NewEngine([]*alert.Rule{rule}, testChannels(), time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityHigh, now))
	alerts := engine.ProcessEvent(context.Background(), deviationEvent("d-2", deviation.SeverityHigh, now.Add(time.Minute)))

	// The direct alert for d-2 deduplicates away; the rule alert survives.
	require.Len(t, alerts, 1)
	assert.Equal(t, "rule-1", alerts[0].RuleID)
	assert.Equal(t, 2, alerts[0].MatchedCount)
}

func TestEngine_AcknowledgeAlert(t *testing.T) {
	engine := NewEngine(nil, nil, time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	created := engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityHigh, now))
	require.Len(t, created, 1)

	a, err := engine.AcknowledgeAlert(created[0].ID.String(), "investigating")
	require.NoError(t, err)
	assert.True(t, a.Acknowledged)
	assert.Equal(t, "investigating", a.AcknowledgeNote)

	_, err = engine.AcknowledgeAlert("not-an-id", "whatever")
	assert.ErrorIs(t, err, errors.ErrAlertNotFound)
}

func TestEngine_ClearExpiredReopensIncidents(t *testing.T) {
	engine := NewEngine(nil, nil, time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityHigh, now))
	assert.Equal(t, 1, engine.ClearExpired(now.Add(2*time.Hour)))

	reopened := engine.ProcessEvent(context.Background(), deviationEvent("d-2", deviation.SeverityHigh, now.Add(2*time.Hour)))
	assert.Len(t, reopened, 1, "same incident alerts again after the sweep")
}

func TestEngine_QueryAlerts(t *testing.T) {
	engine := NewEngine(nil, nil, time.Hour, nil)
	base := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := deviationEvent("d", deviation.SeverityHigh, base.Add(time.Duration(i)*time.Minute))
		e.ProcessElement = string(rune('A' + i))
		engine.ProcessEvent(context.Background(), e)
	}

	t.Run("pagination", func(t *testing.T) {
		page := engine.QueryAlerts(QueryFilter{}, 2, 0)
		assert.Equal(t, 5, page.Total)
		assert.Len(t, page.Alerts, 2)
		assert.True(t, page.HasMore)

		last := engine.QueryAlerts(QueryFilter{}, 2, 4)
		assert.Len(t, last.Alerts, 1)
		assert.False(t, last.HasMore)
	})

	t.Run("default limit", func(t *testing.T) {
		page := engine.QueryAlerts(QueryFilter{}, 0, 0)
		assert.Equal(t, 20, page.Limit)
	})

	t.Run("severity filter", func(t *testing.T) {
		page := engine.QueryAlerts(QueryFilter{Severity: deviation.SeverityCritical}, 10, 0)
		assert.Zero(t, page.Total)
	})

	t.Run("time range filter", func(t *testing.T) {
		from := base.Add(3 * time.Minute)
		page := engine.QueryAlerts(QueryFilter{From: &from}, 10, 0)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("acknowledged filter", func(t *testing.T) {
		acked := true
		page := engine.QueryAlerts(QueryFilter{Acknowledged: &acked}, 10, 0)
		assert.Zero(t, page.Total)
	})
}

func TestEngine_DispatchFuncHook(t *testing.T) {
	engine := NewEngine(nil, testChannels(), time.Hour, nil)

	var seen []Dispatch
	engine.DispatchFunc = func(d Dispatch) { seen = append(seen, d) }

	engine.ProcessEvent(context.Background(), deviationEvent("d-1", deviation.SeverityCritical, time.Now().UTC()))
	require.Len(t, seen, 2)
	assert.Equal(t, deviation.SeverityCritical, seen[0].Severity)
}

func TestEngine_Summarize(t *testing.T) {
	engine := NewEngine(nil, testChannels(), time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	engine.ProcessEvent(ctx, deviationEvent("d-1", deviation.SeverityHigh, now))
	engine.ProcessEvent(ctx, deviationEvent("d-2", deviation.SeverityHigh, now.Add(2*time.Hour)))
	ev := deviationEvent("d-3", deviation.SeverityLow, now.Add(3*time.Hour))
	ev.ProcessElement = "Match"
	acked := engine.ProcessEvent(ctx, ev)
	require.Len(t, acked, 1)
	_, err := engine.AcknowledgeAlert(acked[0].ID.String(), "known gap")
	require.NoError(t, err)

	total, unacknowledged, bySeverity := engine.Summarize()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, unacknowledged)
	assert.Equal(t, 2, bySeverity[deviation.SeverityHigh])
	assert.Equal(t, 1, bySeverity[deviation.SeverityLow])
}

func TestEngine_OpenAlertCount(t *testing.T) {
	engine := NewEngine(nil, testChannels(), time.Hour, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	engine.ProcessEvent(ctx, deviationEvent("d-1", deviation.SeverityHigh, now))
	ev := deviationEvent("d-2", deviation.SeverityHigh, now.Add(time.Minute))
	ev.ProcessElement = "Match"
	engine.ProcessEvent(ctx, ev)
	assert.Equal(t, 2, engine.OpenAlertCount())

	// A duplicate collapses into an existing incident.
	engine.ProcessEvent(ctx, deviationEvent("d-3", deviation.SeverityHigh, now.Add(2*time.Minute)))
	assert.Equal(t, 2, engine.OpenAlertCount())

	engine.ClearExpired(now.Add(2 * time.Hour))
	assert.Equal(t, 0, engine.OpenAlertCount())
}
