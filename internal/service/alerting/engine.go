package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
)

// Dispatch records the intent to deliver one alert to one channel. Actual
// delivery is performed by a downstream notifier consuming these records;
// the engine itself does no network I/O.
type Dispatch struct {
	ChannelID   string             `json:"channel_id"`
	ChannelType string             `json:"channel_type"`
	AlertID     string             `json:"alert_id"`
	Severity    deviation.Severity `json:"severity"`
	Timestamp   time.Time          `json:"timestamp"`
	Payload     alert.Alert        `json:"payload"`
}

// QueryFilter selects alerts in QueryAlerts. Nil pointer fields are ignored.
type QueryFilter struct {
	EngagementID string
	Severity     deviation.Severity
	AlertType    string
	Acknowledged *bool
	From         *time.Time
	To           *time.Time
}

// QueryResult is one page of alerts plus pagination state.
type QueryResult struct {
	Alerts  []alert.Alert `json:"alerts"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"has_more"`
}

// Engine orchestrates rule evaluation, deduplication and channel dispatch
// for one engagement. It exclusively owns its evaluator and deduplicator.
//
// All mutating operations are serialized behind a mutex: buffer pruning,
// threshold checks and dedup lookups are read-modify-write sequences that
// must not interleave. Queries take a read lock and return copies. Different
// engagements must use different Engine instances; they never share rule or
// dedup state.
type Engine struct {
	mu sync.RWMutex

	rules    []*alert.Rule
	channels []*alert.Channel

	alerts      []*alert.Alert
	dedup       *Deduplicator
	evaluator   *RuleEvaluator
	dispatchLog []Dispatch

	logger *slog.Logger
	tracer trace.Tracer

	// DispatchFunc, when set, is invoked for every recorded dispatch. Used
	// by the runner to hand intents to the notifier and metrics.
	DispatchFunc func(Dispatch)
}

// NewEngine creates an alert engine over the given rule and channel
// configuration. Rules and channels are referenced, not copied, for the
// engine's lifetime. A non-positive dedup window uses the default.
func NewEngine(rules []*alert.Rule, channels []*alert.Channel, dedupWindow time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:     rules,
		channels:  channels,
		dedup:     NewDeduplicator(dedupWindow),
		evaluator: NewRuleEvaluator(),
		logger:    logger,
		tracer:    otel.Tracer("alerting"),
	}
}

// ProcessEvent runs one event through the full pipeline: a direct alert is
// always built from the event, rule evaluation may synthesize further
// alerts, both pass through the same deduplicator, and every surviving
// alert is appended to the log and dispatched to accepting channels.
// Returns the alerts that survived deduplication.
func (e *Engine) ProcessEvent(ctx context.Context, event alert.Event) []*alert.Alert {
	_, span := e.tracer.Start(ctx, "alerting.process_event",
		trace.WithAttributes(
			attribute.String("event_type", event.EventType),
			attribute.String("engagement_id", event.EngagementID),
		))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	var newAlerts []*alert.Alert

	direct := e.directAlert(event)
	if surviving := e.dedup.CheckAndDeduplicate(direct, 0); surviving != nil {
		e.alerts = append(e.alerts, surviving)
		newAlerts = append(newAlerts, surviving)
		e.dispatch(surviving)
	}

	for _, ruleAlert := range e.evaluator.Evaluate(event, e.rules) {
		if surviving := e.dedup.CheckAndDeduplicate(ruleAlert, 0); surviving != nil {
			e.alerts = append(e.alerts, surviving)
			newAlerts = append(newAlerts, surviving)
			e.dispatch(surviving)
		}
	}

	span.SetAttributes(attribute.Int("alerts_created", len(newAlerts)))
	return newAlerts
}

func (e *Engine) directAlert(event alert.Event) *alert.Alert {
	subject := event.ProcessElement
	if subject == "" {
		subject = event.SourceID
	}

	a := alert.New(event.EventType, event.EngagementID, event.Severity,
		fmt.Sprintf("%s: %s", event.EventType, subject))
	a.Description = event.Description
	if event.SourceID != "" {
		a.SourceIDs = []string{event.SourceID}
	}
	a.ProcessElement = event.ProcessElement
	a.CreatedAt = event.Timestamp
	a.LastOccurredAt = event.Timestamp
	return a
}

// dispatch routes an alert to every accepting channel. Callers hold the
// write lock.
func (e *Engine) dispatch(a *alert.Alert) {
	for _, ch := range e.channels {
		if !ch.Accepts(a) {
			continue
		}

		d := Dispatch{
			ChannelID:   ch.ID,
			ChannelType: ch.ChannelType,
			AlertID:     a.ID.String(),
			Severity:    a.Severity,
			Timestamp:   a.CreatedAt,
			Payload:     *a,
		}
		e.dispatchLog = append(e.dispatchLog, d)
		if e.DispatchFunc != nil {
			e.DispatchFunc(d)
		}

		e.logger.Info("alert dispatched",
			"alert_id", a.ID.String(),
			"channel_type", ch.ChannelType,
			"channel_id", ch.ID,
			"severity", string(a.Severity))
	}
}

// AcknowledgeAlert marks an alert acknowledged and stores the analyst note.
func (e *Engine) AcknowledgeAlert(id string, note string) (*alert.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.alerts {
		if a.ID.String() == id {
			a.Acknowledged = true
			a.AcknowledgeNote = note
			return a, nil
		}
	}
	return nil, errors.ErrAlertNotFound
}

// OpenAlertCount returns the number of open deduplication incidents.
func (e *Engine) OpenAlertCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dedup.OpenCount()
}

// Summarize rolls the alert log up into totals by severity, feeding the
// cached engagement summary.
func (e *Engine) Summarize() (total, unacknowledged int, bySeverity map[deviation.Severity]int) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bySeverity = make(map[deviation.Severity]int)
	for _, a := range e.alerts {
		total++
		if !a.Acknowledged {
			unacknowledged++
		}
		bySeverity[a.Severity]++
	}
	return total, unacknowledged, bySeverity
}

// ClearExpired sweeps the deduplicator's open alerts.
func (e *Engine) ClearExpired(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dedup.ClearExpired(now)
}

// QueryAlerts filters and paginates the in-memory alert log, returning
// copies so readers never observe partial mutation. Limit defaults to 20.
func (e *Engine) QueryAlerts(filter QueryFilter, limit, offset int) QueryResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var filtered []*alert.Alert
	for _, a := range e.alerts {
		if filter.EngagementID != "" && a.EngagementID != filter.EngagementID {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.AlertType != "" && a.AlertType != filter.AlertType {
			continue
		}
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		if filter.From != nil && a.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && a.CreatedAt.After(*filter.To) {
			continue
		}
		filtered = append(filtered, a)
	}

	total := len(filtered)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]alert.Alert, 0, end-start)
	for _, a := range filtered[start:end] {
		page = append(page, *a)
	}

	return QueryResult{
		Alerts:  page,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// DispatchLog returns a copy of the notification dispatch log.
func (e *Engine) DispatchLog() []Dispatch {
	e.mu.RLock()
	defer e.mu.RUnlock()
	log := make([]Dispatch, len(e.dispatchLog))
	copy(log, e.dispatchLog)
	return log
}
