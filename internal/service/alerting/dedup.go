package alerting

import (
	"time"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
)

// DefaultDedupWindow collapses duplicate alerts arriving within this span.
const DefaultDedupWindow = 60 * time.Minute

// Deduplicator collapses alerts sharing a dedup key within a time window
// into a single open alert with an incrementing occurrence count. Not safe
// for concurrent use; the owning engine serializes access.
type Deduplicator struct {
	defaultWindow time.Duration
	openAlerts    map[string]*alert.Alert
}

// NewDeduplicator creates a deduplicator. A non-positive window uses the
// default.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduplicator{
		defaultWindow: window,
		openAlerts:    make(map[string]*alert.Alert),
	}
}

// CheckAndDeduplicate either suppresses the candidate into an existing open
// alert (returning nil) or registers it as the new open alert for its key
// and returns it. Suppression increments the open alert's occurrence count,
// extends its source ids, and refreshes its last-occurred time. A zero
// window uses the configured default.
func (d *Deduplicator) CheckAndDeduplicate(a *alert.Alert, window time.Duration) *alert.Alert {
	if a.DedupKey == "" {
		a.DedupKey = alert.DedupKeyFor(a.EngagementID, a.AlertType, a.ProcessElement, a.RuleID)
	}
	if window <= 0 {
		window = d.defaultWindow
	}

	if existing, ok := d.openAlerts[a.DedupKey]; ok {
		if a.CreatedAt.Sub(existing.CreatedAt) <= window {
			existing.OccurrenceCount++
			existing.LastOccurredAt = a.CreatedAt
			existing.SourceIDs = append(existing.SourceIDs, a.SourceIDs...)
			return nil
		}
	}

	d.openAlerts[a.DedupKey] = a
	return a
}

// OpenCount returns the number of currently open incidents.
func (d *Deduplicator) OpenCount() int {
	return len(d.openAlerts)
}

// OpenAlert returns the open alert for a dedup key, if any.
func (d *Deduplicator) OpenAlert(dedupKey string) (*alert.Alert, bool) {
	a, ok := d.openAlerts[dedupKey]
	return a, ok
}

// ClearExpired removes open alerts whose window has elapsed, letting the
// same key alert again as a fresh incident. Returns the number removed.
func (d *Deduplicator) ClearExpired(now time.Time) int {
	removed := 0
	for key, a := range d.openAlerts {
		if now.Sub(a.CreatedAt) > d.defaultWindow {
			delete(d.openAlerts, key)
			removed++
		}
	}
	return removed
}
