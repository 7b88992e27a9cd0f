package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/domain/baseline"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
	"github.com/procsight/baseline-monitor/internal/infrastructure/cache"
	"github.com/procsight/baseline-monitor/internal/infrastructure/config"
	"github.com/procsight/baseline-monitor/internal/infrastructure/notify"
	"github.com/procsight/baseline-monitor/internal/metrics"
	"github.com/procsight/baseline-monitor/internal/service/scheduling"
)

func testConfig() *config.Config {
	return &config.Config{
		Monitoring: config.MonitoringConfig{
			DedupWindow:        time.Hour,
			ZScoreThreshold:    2.0,
			FrequencyThreshold: 0.5,
			EvaluationTick:     time.Minute,
			SweepInterval:      5 * time.Minute,
		},
	}
}

func newTestRunner(t *testing.T, summaries *cache.SummaryCache) *Runner {
	t.Helper()

	registry, err := metrics.NewRegistry("runner_test")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := notify.NewWebhookNotifier(time.Second, zap.NewNop())

	return NewRunner(testConfig(), logger, registry, notifier, nil, summaries)
}

func newRunnerCache(t *testing.T) *cache.SummaryCache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c, err := cache.NewSummaryCache(client, zap.NewNop())
	require.NoError(t, err)
	return c
}

func addTestJob(t *testing.T, r *Runner, engagementID string) *jobRuntime {
	t.Helper()

	job, err := scheduling.NewJob(engagementID, "structural watch", scheduling.SourceTaskMining, "* * * * *", nil)
	require.NoError(t, err)

	bl := baseline.NewPovBaseline(engagementID, []baseline.PovElement{
		{ID: "el-1", Name: "Receive Order", ImportanceScore: 0.8},
		{ID: "el-2", Name: "Approve Order", ImportanceScore: 0.9},
	})

	channels := []*alert.Channel{{
		ID:          "ch-ops",
		ChannelType: alert.ChannelSlack,
		MinSeverity: deviation.SeverityInfo,
		Enabled:     true,
	}}

	require.NoError(t, r.AddJob(job, bl, nil, channels))
	return r.runtimes[job.ID]
}

func writeModel(t *testing.T, path string, model baseline.ProcessModel) {
	t.Helper()
	data, err := json.Marshal(model)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoadProcessModel(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is not an error", func(t *testing.T) {
		_, ok, err := loadProcessModel(filepath.Join(dir, "absent.json"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed document", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, _, err := loadProcessModel(path)
		assert.Error(t, err)
	})

	t.Run("valid document", func(t *testing.T) {
		path := filepath.Join(dir, "model.json")
		writeModel(t, path, baseline.ProcessModel{
			Elements:    []baseline.ModelElement{{Name: "Receive Order", Type: "task"}},
			Connections: []baseline.ModelConnection{{Source: "Receive Order", Target: "Approve Order"}},
		})

		model, ok, err := loadProcessModel(path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, model.Elements, 1)
		assert.Len(t, model.Connections, 1)
	})
}

func TestRunner_ModelComparisonLoop(t *testing.T) {
	r := newTestRunner(t, nil)
	rt := addTestJob(t, r, "eng-acme")

	path := filepath.Join(t.TempDir(), "model.json")
	r.WatchModel("eng-acme", path)

	ctx := context.Background()

	// No model file yet; the tick skips the engagement quietly.
	r.compareModels(ctx)
	assert.Empty(t, rt.alerts.DispatchLog())

	reference := baseline.ProcessModel{
		Elements: []baseline.ModelElement{
			{Name: "Receive Order", Type: "task"},
			{Name: "Approve Order", Type: "task"},
		},
		Connections:   []baseline.ModelConnection{{Source: "Receive Order", Target: "Approve Order"}},
		ControlPoints: []string{"Approve Order"},
	}
	writeModel(t, path, reference)

	// First sighting only establishes the reference snapshot.
	r.compareModels(ctx)
	assert.Empty(t, rt.alerts.DispatchLog())
	require.NotNil(t, rt.lastSnapshot)

	// A repeat tick over the unchanged model stays silent.
	r.compareModels(ctx)
	assert.Empty(t, rt.alerts.DispatchLog())

	// Dropping the approval control point must raise alerts.
	writeModel(t, path, baseline.ProcessModel{
		Elements:    []baseline.ModelElement{{Name: "Receive Order", Type: "task"}},
		Connections: nil,
	})
	r.compareModels(ctx)
	dispatched := rt.alerts.DispatchLog()
	require.NotEmpty(t, dispatched)
	assert.Equal(t, "ch-ops", dispatched[0].ChannelID)
}

func TestRunner_CompareSnapshotReturnsNewDispatches(t *testing.T) {
	r := newTestRunner(t, nil)
	addTestJob(t, r, "eng-acme")

	ctx := context.Background()
	base := baseline.BuildSnapshot(baseline.ProcessModel{
		Elements:    []baseline.ModelElement{{Name: "Receive Order", Type: "task"}, {Name: "Approve Order", Type: "task"}},
		Connections: []baseline.ModelConnection{{Source: "Receive Order", Target: "Approve Order"}},
	})

	dispatches, err := r.CompareSnapshot(ctx, "eng-acme", base)
	require.NoError(t, err)
	assert.Empty(t, dispatches, "first snapshot establishes the reference")

	changed := baseline.BuildSnapshot(baseline.ProcessModel{
		Elements: []baseline.ModelElement{{Name: "Receive Order", Type: "task"}},
	})
	dispatches, err = r.CompareSnapshot(ctx, "eng-acme", changed)
	require.NoError(t, err)
	assert.NotEmpty(t, dispatches)

	// Identical hash short-circuits without re-running detection.
	dispatches, err = r.CompareSnapshot(ctx, "eng-acme", changed)
	require.NoError(t, err)
	assert.Empty(t, dispatches)
}

func TestRunner_CompareSnapshotUnknownEngagement(t *testing.T) {
	r := newTestRunner(t, nil)

	_, err := r.CompareSnapshot(context.Background(), "eng-ghost", baseline.Snapshot{})
	assert.ErrorIs(t, err, errors.ErrJobNotFound)
}

func TestRunner_SweepRefreshesSummaries(t *testing.T) {
	summaries := newRunnerCache(t)
	r := newTestRunner(t, summaries)
	rt := addTestJob(t, r, "eng-acme")

	ctx := context.Background()
	records := []deviation.Record{
		deviation.NewRecord(deviation.TypeSkippedActivity, 0.9, "eng-acme", "Approve Order", "approval skipped"),
		deviation.NewRecord(deviation.TypeTimingAnomaly, 0.3, "eng-acme", "Receive Order", "intake running slow"),
	}
	surviving := r.processDeviations(ctx, rt, records)
	assert.Equal(t, 2, surviving)

	r.sweepExpired(ctx, time.Now().UTC())

	summary, found, err := summaries.GetSummary(ctx, "eng-acme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "eng-acme", summary.EngagementID)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Unacknowledged)
	total := 0
	for _, n := range summary.BySeverity {
		total += n
	}
	assert.Equal(t, 2, total)
}

type fakeAlertStore struct {
	mu     sync.Mutex
	saved  []*alert.Alert
	counts map[string]int
}

func (f *fakeAlertStore) Save(_ context.Context, a *alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, a)
	return nil
}

func (f *fakeAlertStore) CountByEngagement(_ context.Context, _ string, _ time.Time) (map[string]int, error) {
	return f.counts, nil
}

type fakeDeviationStore struct {
	saved []*deviation.Record
}

func (f *fakeDeviationStore) Save(_ context.Context, rec *deviation.Record) error {
	f.saved = append(f.saved, rec)
	return nil
}

func TestRunner_PersistsSurvivingAlerts(t *testing.T) {
	r := newTestRunner(t, nil)
	alerts := &fakeAlertStore{}
	deviations := &fakeDeviationStore{}
	r.alertStore = alerts
	r.deviationStore = deviations
	rt := addTestJob(t, r, "eng-acme")

	ctx := context.Background()
	records := []deviation.Record{
		deviation.NewRecord(deviation.TypeSkippedActivity, 0.9, "eng-acme", "Approve Order", "approval skipped"),
		deviation.NewRecord(deviation.TypeTimingAnomaly, 0.3, "eng-acme", "Receive Order", "intake running slow"),
		// Same incident again; dedup collapses it, so no second alert row.
		deviation.NewRecord(deviation.TypeSkippedActivity, 0.9, "eng-acme", "Approve Order", "approval skipped"),
	}
	r.processDeviations(ctx, rt, records)

	assert.Len(t, deviations.saved, 3, "every deviation is persisted")
	require.Len(t, alerts.saved, 2, "only alerts surviving dedup are persisted")
	for _, a := range alerts.saved {
		assert.Equal(t, "eng-acme", a.EngagementID)
	}
}

func TestRunner_SummaryPrefersPersistedCounts(t *testing.T) {
	summaries := newRunnerCache(t)
	r := newTestRunner(t, summaries)
	r.alertStore = &fakeAlertStore{counts: map[string]int{"high": 4, "low": 1}}
	rt := addTestJob(t, r, "eng-acme")

	ctx := context.Background()
	r.processDeviations(ctx, rt, []deviation.Record{
		deviation.NewRecord(deviation.TypeSkippedActivity, 0.9, "eng-acme", "Approve Order", "approval skipped"),
	})
	r.sweepExpired(ctx, time.Now().UTC())

	summary, found, err := summaries.GetSummary(ctx, "eng-acme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, summary.Total, "persisted counts win over in-memory ones")
	assert.Equal(t, 4, summary.BySeverity[deviation.SeverityHigh])
	assert.Equal(t, 1, summary.BySeverity[deviation.SeverityLow])
	assert.Equal(t, 1, summary.Unacknowledged, "unacknowledged stays engine-derived")
}

func TestRunner_ProcessDeviationsCollapsesRepeats(t *testing.T) {
	r := newTestRunner(t, nil)
	rt := addTestJob(t, r, "eng-acme")

	ctx := context.Background()
	first := deviation.NewRecord(deviation.TypeSkippedActivity, 0.9, "eng-acme", "Approve Order", "approval skipped")
	repeat := deviation.NewRecord(deviation.TypeSkippedActivity, 0.9, "eng-acme", "Approve Order", "approval skipped")

	assert.Equal(t, 1, r.processDeviations(ctx, rt, []deviation.Record{first}))
	assert.Equal(t, 0, r.processDeviations(ctx, rt, []deviation.Record{repeat}))
	assert.Equal(t, 1, rt.alerts.OpenAlertCount())
}
