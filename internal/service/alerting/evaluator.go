package alerting

import (
	"fmt"
	"time"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
)

type bufferedEvent struct {
	ts    time.Time
	event alert.Event
}

// RuleEvaluator counts matching events per rule inside a sliding time
// window. Buffers are pruned lazily on each insert; no timer thread is
// needed. Not safe for concurrent use; the owning engine serializes access.
type RuleEvaluator struct {
	buffers map[string][]bufferedEvent
}

// NewRuleEvaluator creates an evaluator with empty buffers.
func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{
		buffers: make(map[string][]bufferedEvent),
	}
}

// Evaluate runs one event against all rules. For each matching rule the
// event is buffered, entries older than the rule's window are pruned, and an
// alert is synthesized when the buffer reaches the rule's threshold. The
// buffer is cleared after firing so the rule must re-accumulate before it
// can fire again.
func (re *RuleEvaluator) Evaluate(event alert.Event, rules []*alert.Rule) []*alert.Alert {
	var alerts []*alert.Alert

	for _, rule := range rules {
		if !rule.Matches(event) {
			continue
		}

		buffer := append(re.buffers[rule.ID], bufferedEvent{ts: event.Timestamp, event: event})

		cutoff := event.Timestamp.Add(-time.Duration(rule.WindowMinutes) * time.Minute)
		pruned := buffer[:0]
		for _, be := range buffer {
			if be.ts.After(cutoff) {
				pruned = append(pruned, be)
			}
		}
		re.buffers[rule.ID] = pruned

		if len(pruned) < rule.ThresholdCount {
			continue
		}

		severity := event.Severity
		if rule.SeverityOverride != "" {
			severity = rule.SeverityOverride
		}
		var sourceIDs []string
		for _, be := range pruned {
			if be.event.SourceID != "" {
				sourceIDs = append(sourceIDs, be.event.SourceID)
			}
		}

		a := alert.New(event.EventType, event.EngagementID, severity, fmt.Sprintf("Rule triggered: %s", rule.Name))
		a.Description = rule.Description
		a.SourceIDs = sourceIDs
		a.ProcessElement = event.ProcessElement
		a.RuleID = rule.ID
		a.MatchedCount = len(pruned)
		a.Window = fmt.Sprintf("%dm", rule.WindowMinutes)
		a.RuleDescription = rule.Description
		a.CreatedAt = event.Timestamp
		a.LastOccurredAt = event.Timestamp
		alerts = append(alerts, a)

		re.buffers[rule.ID] = nil
	}

	return alerts
}

// ClearRuleBuffer drops the buffered events for one rule.
func (re *RuleEvaluator) ClearRuleBuffer(ruleID string) {
	delete(re.buffers, ruleID)
}

// BufferLen returns the number of buffered events for a rule.
func (re *RuleEvaluator) BufferLen(ruleID string) int {
	return len(re.buffers[ruleID])
}
