package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/domain/baseline"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
	"github.com/procsight/baseline-monitor/internal/infrastructure/cache"
	"github.com/procsight/baseline-monitor/internal/infrastructure/config"
	"github.com/procsight/baseline-monitor/internal/infrastructure/ingest"
	"github.com/procsight/baseline-monitor/internal/infrastructure/notify"
	"github.com/procsight/baseline-monitor/internal/infrastructure/repository"
	"github.com/procsight/baseline-monitor/internal/metrics"
	"github.com/procsight/baseline-monitor/internal/service/alerting"
	"github.com/procsight/baseline-monitor/internal/service/detection"
	"github.com/procsight/baseline-monitor/internal/service/scheduling"
)

// jobRuntime bundles everything one monitoring job needs at run time. Each
// engagement gets its own alert engine so rule buffers and dedup state never
// cross engagements.
type jobRuntime struct {
	job          *scheduling.Job
	source       ingest.Source
	detector     *detection.Engine
	alerts       *alerting.Engine
	lastSnapshot *baseline.Snapshot
}

// deviationStore and alertStore are the persistence surfaces the runner
// writes through. The repository adapters satisfy them; both are nil when no
// database is configured.
type deviationStore interface {
	Save(ctx context.Context, rec *deviation.Record) error
}

type alertStore interface {
	Save(ctx context.Context, a *alert.Alert) error
	CountByEngagement(ctx context.Context, engagementID string, since time.Time) (map[string]int, error)
}

// Runner drives the monitoring loop: every evaluation tick it runs the jobs
// whose cron schedule matches, feeds detected deviations through the alert
// pipeline, and periodically sweeps expired dedup state.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metrics.Registry
	notifier *notify.WebhookNotifier

	// Optional; nil when no database or redis is configured.
	deviationStore deviationStore
	alertStore     alertStore
	cache          *cache.SummaryCache

	mu       sync.Mutex
	runtimes map[uuid.UUID]*jobRuntime
	models   map[string]string
}

// NewRunner creates a runner without any jobs.
func NewRunner(cfg *config.Config, logger *slog.Logger, registry *metrics.Registry, notifier *notify.WebhookNotifier, store *repository.Store, summaries *cache.SummaryCache) *Runner {
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		notifier: notifier,
		cache:    summaries,
		runtimes: make(map[uuid.UUID]*jobRuntime),
		models:   make(map[string]string),
	}
	if store != nil {
		r.deviationStore = store.Deviations()
		r.alertStore = store.Alerts()
	}
	return r
}

// WatchModel registers a mined process-model document for an engagement.
// Each evaluation tick the runner rebuilds its snapshot and compares it
// against the previous one.
func (r *Runner) WatchModel(engagementID, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[engagementID] = path
}

// AddJob activates a job and wires its source, detection engine and alert
// engine. Rules and channels apply to this job's engagement only.
func (r *Runner) AddJob(job *scheduling.Job, bl *baseline.PovBaseline, rules []*alert.Rule, channels []*alert.Channel) error {
	if err := job.Activate(time.Now().UTC()); err != nil {
		return err
	}

	source, err := ingest.NewSource(job)
	if err != nil {
		return err
	}

	alerts := alerting.NewEngine(rules, channels, r.cfg.Monitoring.DedupWindow, r.logger)
	alerts.DispatchFunc = r.deliver(channels)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[job.ID] = &jobRuntime{
		job:      job,
		source:   source,
		detector: detection.NewEngine(bl, nil, r.logger),
		alerts:   alerts,
	}
	r.registry.SetActiveJobs(len(r.runtimes))

	r.logger.Info("monitoring job activated",
		"job_id", job.ID.String(),
		"engagement_id", job.EngagementID,
		"source_type", string(job.SourceType),
		"schedule", job.ScheduleCron)
	return nil
}

// deliver hands dispatch intents to the webhook notifier asynchronously so a
// slow endpoint never blocks the alert engine's lock.
func (r *Runner) deliver(channels []*alert.Channel) func(alerting.Dispatch) {
	byID := make(map[string]*alert.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	return func(d alerting.Dispatch) {
		ch, ok := byID[d.ChannelID]
		if !ok || ch.ChannelType != alert.ChannelWebhook {
			r.registry.RecordDispatch(context.Background(), d.ChannelType, false)
			return
		}

		endpoint, err := r.notifier.EndpointFromChannel(ch)
		if err != nil {
			r.logger.Error("skipping webhook dispatch", "channel_id", ch.ID, "error", err)
			r.registry.RecordDispatch(context.Background(), d.ChannelType, true)
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			err := r.notifier.Deliver(ctx, endpoint, d)
			r.registry.RecordDispatch(ctx, d.ChannelType, err != nil)
		}()
	}
}

// Run executes the evaluation loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	tick := r.cfg.Monitoring.EvaluationTick
	if tick <= 0 {
		tick = time.Minute
	}
	sweep := r.cfg.Monitoring.SweepInterval
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	sweeper := time.NewTicker(sweep)
	defer sweeper.Stop()

	r.logger.Info("monitoring loop started",
		"evaluation_tick", tick.String(),
		"sweep_interval", sweep.String())

	for {
		select {
		case <-ctx.Done():
			r.close()
			return ctx.Err()

		case now := <-ticker.C:
			r.evaluate(ctx, now.UTC())

		case now := <-sweeper.C:
			r.sweepExpired(ctx, now.UTC())
		}
	}
}

// evaluate runs every due job once.
func (r *Runner) evaluate(ctx context.Context, now time.Time) {
	r.mu.Lock()
	due := make([]*jobRuntime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		if rt.job.Due(now) {
			due = append(due, rt)
		}
	}
	r.mu.Unlock()

	for _, rt := range due {
		r.runJob(ctx, rt, now)
	}
	r.compareModels(ctx)
}

// compareModels reloads each watched process model and runs the snapshot
// comparison. A model the miner has not produced yet is skipped.
func (r *Runner) compareModels(ctx context.Context) {
	r.mu.Lock()
	watched := make(map[string]string, len(r.models))
	for eng, path := range r.models {
		watched[eng] = path
	}
	r.mu.Unlock()

	for eng, path := range watched {
		model, ok, err := loadProcessModel(path)
		if err != nil {
			r.logger.Error("loading process model failed", "engagement_id", eng, "path", path, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := r.CompareSnapshot(ctx, eng, baseline.BuildSnapshot(model)); err != nil {
			r.logger.Error("snapshot comparison failed", "engagement_id", eng, "error", err)
		}
	}
}

// runJob fetches the job's new telemetry, detects deviations and feeds them
// through the alert pipeline.
func (r *Runner) runJob(ctx context.Context, rt *jobRuntime, now time.Time) {
	start := time.Now()
	job := rt.job

	events, err := rt.source.Fetch(ctx)
	if err != nil {
		job.MarkError(now, err.Error())
		r.registry.RecordJobRun(ctx, string(job.SourceType), float64(time.Since(start).Milliseconds()), err)
		r.logger.Error("monitoring job failed",
			"job_id", job.ID.String(),
			"engagement_id", job.EngagementID,
			"error", err)
		return
	}
	r.registry.RecordEventsIngested(ctx, string(job.SourceType), len(events))

	records := rt.detector.DetectAll(events, nil)
	alertsCreated := r.processDeviations(ctx, rt, records)

	if len(records) > 0 && r.cache != nil {
		if err := r.cache.Invalidate(ctx, job.EngagementID); err != nil {
			r.logger.Warn("summary cache invalidation failed", "engagement_id", job.EngagementID, "error", err)
		}
	}

	job.MarkRun(now)
	r.registry.RecordJobRun(ctx, string(job.SourceType), float64(time.Since(start).Milliseconds()), nil)
	r.logger.Info("monitoring job completed",
		"job_id", job.ID.String(),
		"engagement_id", job.EngagementID,
		"events", len(events),
		"deviations", len(records),
		"alerts", alertsCreated)
}

// processDeviations records, persists and alerts on one batch of detected
// deviations. Alerts surviving deduplication are persisted through the same
// upsert the dedup collapse relies on. Returns the number of surviving
// alerts.
func (r *Runner) processDeviations(ctx context.Context, rt *jobRuntime, records []deviation.Record) int {
	surviving := 0
	for i := range records {
		rec := &records[i]
		r.registry.RecordDeviation(ctx, string(rec.Type), string(rec.Severity), rec.SeverityScore)

		if r.deviationStore != nil {
			if err := r.deviationStore.Save(ctx, rec); err != nil {
				r.logger.Error("persisting deviation failed", "deviation_id", rec.ID.String(), "error", err)
			}
		}

		alerts := rt.alerts.ProcessEvent(ctx, alert.Event{
			EventType:      alert.TypeProcessDeviation,
			EngagementID:   rec.EngagementID,
			Severity:       rec.Severity,
			SourceID:       rec.ID.String(),
			ProcessElement: rec.AffectedElement,
			Description:    rec.Description,
			Metadata: map[string]any{
				"deviation_type": string(rec.Type),
				"severity_score": rec.SeverityScore,
			},
			Timestamp: rec.DetectedAt,
		})

		directSurvived := false
		for _, a := range alerts {
			surviving++
			r.registry.RecordAlertCreated(ctx, a.AlertType)
			if a.RuleID != "" {
				r.registry.RecordRuleFiring(ctx, a.RuleID)
			} else {
				directSurvived = true
			}
			if r.alertStore != nil {
				if err := r.alertStore.Save(ctx, a); err != nil {
					r.logger.Error("persisting alert failed", "alert_id", a.ID.String(), "error", err)
				}
			}
		}
		// The direct alert is always built; its absence means the dedup
		// collapsed it into an open incident.
		if !directSurvived {
			r.registry.RecordAlertSuppressed(ctx, alert.TypeProcessDeviation)
		}
	}
	return surviving
}

// CompareSnapshot compares a freshly mined process model snapshot against
// the engagement's previous one and feeds structural deviations through the
// alert pipeline. The first snapshot for an engagement only establishes the
// reference. Unchanged process hashes short-circuit the comparison.
func (r *Runner) CompareSnapshot(ctx context.Context, engagementID string, current baseline.Snapshot) ([]alerting.Dispatch, error) {
	rt := r.runtimeForEngagement(engagementID)
	if rt == nil {
		return nil, errors.ErrJobNotFound
	}

	if r.cache != nil {
		if hash, err := r.cache.GetBaselineHash(ctx, engagementID); err == nil && hash != "" && hash == current.ProcessHash {
			r.logger.Debug("snapshot unchanged, skipping comparison", "engagement_id", engagementID)
			return nil, nil
		}
	}

	r.mu.Lock()
	previous := rt.lastSnapshot
	if previous != nil && previous.ProcessHash == current.ProcessHash {
		r.mu.Unlock()
		return nil, nil
	}
	rt.lastSnapshot = &current
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.SetBaselineHash(ctx, engagementID, current.ProcessHash); err != nil {
			r.logger.Warn("caching snapshot hash failed", "engagement_id", engagementID, "error", err)
		}
	}
	if previous == nil {
		r.logger.Info("reference snapshot established", "engagement_id", engagementID)
		return nil, nil
	}

	candidates := detection.DetectAllFacets(*previous, current, detection.CompareOptions{
		ZScoreThreshold:    r.cfg.Monitoring.ZScoreThreshold,
		FrequencyThreshold: r.cfg.Monitoring.FrequencyThreshold,
		MinMagnitude:       r.cfg.Monitoring.MinMagnitude,
	})
	records := rt.detector.RecordsFromCandidates(candidates)

	before := len(rt.alerts.DispatchLog())
	r.processDeviations(ctx, rt, records)
	return rt.alerts.DispatchLog()[before:], nil
}

func (r *Runner) runtimeForEngagement(engagementID string) *jobRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.runtimes {
		if rt.job.EngagementID == engagementID {
			return rt
		}
	}
	return nil
}

// sweepExpired drops dedup entries whose windows have lapsed, republishes
// the open-alert gauge and refreshes the cached engagement summaries.
func (r *Runner) sweepExpired(ctx context.Context, now time.Time) {
	r.mu.Lock()
	cleared, open := 0, 0
	for _, rt := range r.runtimes {
		cleared += rt.alerts.ClearExpired(now)
		open += rt.alerts.OpenAlertCount()
	}
	r.mu.Unlock()

	r.registry.SetOpenAlerts(open)
	if cleared > 0 {
		r.logger.Info("expired open alerts cleared", "count", cleared)
	}
	r.refreshSummaries(ctx, now)
}

// refreshSummaries recomputes the per-engagement alert rollup served from
// the summary cache. With a store configured, persisted counts from the last
// 24 hours win over in-memory ones so the rollup survives restarts.
func (r *Runner) refreshSummaries(ctx context.Context, now time.Time) {
	if r.cache == nil {
		return
	}

	r.mu.Lock()
	engines := make(map[string][]*alerting.Engine)
	for _, rt := range r.runtimes {
		engines[rt.job.EngagementID] = append(engines[rt.job.EngagementID], rt.alerts)
	}
	r.mu.Unlock()

	for eng, list := range engines {
		summary := &cache.AlertSummary{
			EngagementID: eng,
			BySeverity:   make(map[deviation.Severity]int),
			ComputedAt:   now,
		}
		for _, e := range list {
			total, unacknowledged, bySeverity := e.Summarize()
			summary.Total += total
			summary.Unacknowledged += unacknowledged
			for sev, n := range bySeverity {
				summary.BySeverity[sev] += n
			}
		}

		if r.alertStore != nil {
			counts, err := r.alertStore.CountByEngagement(ctx, eng, now.Add(-24*time.Hour))
			if err != nil {
				r.logger.Warn("alert count query failed", "engagement_id", eng, "error", err)
			} else {
				summary.Total = 0
				summary.BySeverity = make(map[deviation.Severity]int, len(counts))
				for sev, n := range counts {
					summary.BySeverity[deviation.Severity(sev)] = n
					summary.Total += n
				}
			}
		}

		if err := r.cache.SetSummary(ctx, summary); err != nil {
			r.logger.Warn("summary cache refresh failed", "engagement_id", eng, "error", err)
		}
	}
}

// close releases every job's telemetry source.
func (r *Runner) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.runtimes {
		if err := rt.source.Close(); err != nil {
			r.logger.Warn("closing telemetry source failed",
				"job_id", rt.job.ID.String(),
				"error", err)
		}
	}
}

// Status summarizes every job for logging and diagnostics.
func (r *Runner) Status() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		next := "none"
		if rt.job.NextRunAt != nil {
			next = rt.job.NextRunAt.Format(time.RFC3339)
		}
		out = append(out, fmt.Sprintf("%s [%s] status=%s next=%s",
			rt.job.Name, rt.job.EngagementID, rt.job.Status, next))
	}
	return out
}
