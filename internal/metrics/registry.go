// Package metrics holds the OpenTelemetry instruments for the monitoring
// pipeline.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Detection metrics
	DetectionDuration metric.Float64Histogram
	DeviationCounter  metric.Int64Counter
	SnapshotDrift     metric.Float64Histogram

	// Alerting metrics
	AlertCreatedCounter    metric.Int64Counter
	AlertSuppressedCounter metric.Int64Counter
	RuleFiringCounter      metric.Int64Counter
	DispatchCounter        metric.Int64Counter
	DispatchFailureCounter metric.Int64Counter
	OpenAlertsGauge        metric.Int64ObservableGauge

	// Scheduling metrics
	JobRunDuration  metric.Float64Histogram
	JobErrorCounter metric.Int64Counter
	ActiveJobsGauge metric.Int64ObservableGauge

	// Ingest metrics
	EventsIngestedCounter metric.Int64Counter

	// State for observable metrics
	mu         sync.RWMutex
	openAlerts int64
	activeJobs int64
}

// NewRegistry creates a metrics registry with all pipeline instruments.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initDetectionMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAlertingMetrics(); err != nil {
		return nil, err
	}
	if err := r.initSchedulingMetrics(); err != nil {
		return nil, err
	}
	if err := r.initIngestMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initDetectionMetrics() error {
	var err error

	r.DetectionDuration, err = r.meter.Float64Histogram(
		"bsm.detection.duration",
		metric.WithDescription("Duration of one baseline comparison pass in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.DeviationCounter, err = r.meter.Int64Counter(
		"bsm.detection.deviations_total",
		metric.WithDescription("Total deviations detected, by type and severity"),
	)
	if err != nil {
		return err
	}

	r.SnapshotDrift, err = r.meter.Float64Histogram(
		"bsm.detection.severity_score",
		metric.WithDescription("Distribution of deviation severity scores"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.4, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	return err
}

func (r *Registry) initAlertingMetrics() error {
	var err error

	r.AlertCreatedCounter, err = r.meter.Int64Counter(
		"bsm.alert.created_total",
		metric.WithDescription("Total alerts created"),
	)
	if err != nil {
		return err
	}

	r.AlertSuppressedCounter, err = r.meter.Int64Counter(
		"bsm.alert.suppressed_total",
		metric.WithDescription("Total alerts collapsed into an open alert by deduplication"),
	)
	if err != nil {
		return err
	}

	r.RuleFiringCounter, err = r.meter.Int64Counter(
		"bsm.alert.rule_firings_total",
		metric.WithDescription("Total windowed rule firings"),
	)
	if err != nil {
		return err
	}

	r.DispatchCounter, err = r.meter.Int64Counter(
		"bsm.alert.dispatches_total",
		metric.WithDescription("Total alert dispatches to notification channels"),
	)
	if err != nil {
		return err
	}

	r.DispatchFailureCounter, err = r.meter.Int64Counter(
		"bsm.alert.dispatch_failures_total",
		metric.WithDescription("Total failed channel deliveries"),
	)
	if err != nil {
		return err
	}

	r.OpenAlertsGauge, err = r.meter.Int64ObservableGauge(
		"bsm.alert.open_total",
		metric.WithDescription("Alerts currently open in the deduplication window"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.openAlerts)
			return nil
		}),
	)
	return err
}

func (r *Registry) initSchedulingMetrics() error {
	var err error

	r.JobRunDuration, err = r.meter.Float64Histogram(
		"bsm.job.run_duration",
		metric.WithDescription("Duration of one monitoring job run in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 5000, 30000),
	)
	if err != nil {
		return err
	}

	r.JobErrorCounter, err = r.meter.Int64Counter(
		"bsm.job.errors_total",
		metric.WithDescription("Total monitoring job run failures"),
	)
	if err != nil {
		return err
	}

	r.ActiveJobsGauge, err = r.meter.Int64ObservableGauge(
		"bsm.job.active_total",
		metric.WithDescription("Monitoring jobs in active status"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeJobs)
			return nil
		}),
	)
	return err
}

func (r *Registry) initIngestMetrics() error {
	var err error
	r.EventsIngestedCounter, err = r.meter.Int64Counter(
		"bsm.ingest.events_total",
		metric.WithDescription("Total telemetry events ingested, by source type"),
	)
	return err
}

// RecordDeviation records one detected deviation.
func (r *Registry) RecordDeviation(ctx context.Context, devType, severity string, score float64) {
	attrs := metric.WithAttributes(
		attribute.String("deviation_type", devType),
		attribute.String("severity", severity),
	)
	r.DeviationCounter.Add(ctx, 1, attrs)
	r.SnapshotDrift.Record(ctx, score, attrs)
}

// RecordAlertCreated records a newly opened alert.
func (r *Registry) RecordAlertCreated(ctx context.Context, alertType string) {
	r.AlertCreatedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("alert_type", alertType)))
}

// RecordAlertSuppressed records a deduplicated alert.
func (r *Registry) RecordAlertSuppressed(ctx context.Context, alertType string) {
	r.AlertSuppressedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("alert_type", alertType)))
}

// RecordRuleFiring records a windowed rule firing.
func (r *Registry) RecordRuleFiring(ctx context.Context, ruleID string) {
	r.RuleFiringCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
}

// RecordDispatch records one channel dispatch attempt.
func (r *Registry) RecordDispatch(ctx context.Context, channelType string, failed bool) {
	attrs := metric.WithAttributes(attribute.String("channel_type", channelType))
	r.DispatchCounter.Add(ctx, 1, attrs)
	if failed {
		r.DispatchFailureCounter.Add(ctx, 1, attrs)
	}
}

// RecordJobRun records one completed job run.
func (r *Registry) RecordJobRun(ctx context.Context, sourceType string, durationMs float64, err error) {
	attrs := metric.WithAttributes(attribute.String("source_type", sourceType))
	r.JobRunDuration.Record(ctx, durationMs, attrs)
	if err != nil {
		r.JobErrorCounter.Add(ctx, 1, attrs)
	}
}

// RecordEventsIngested records a fetched telemetry batch.
func (r *Registry) RecordEventsIngested(ctx context.Context, sourceType string, count int) {
	r.EventsIngestedCounter.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("source_type", sourceType)))
}

// SetOpenAlerts updates the open-alert gauge state.
func (r *Registry) SetOpenAlerts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openAlerts = int64(n)
}

// SetActiveJobs updates the active-job gauge state.
func (r *Registry) SetActiveJobs(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeJobs = int64(n)
}
