package detection

import (
	"fmt"
	"math"

	"github.com/procsight/baseline-monitor/internal/domain/baseline"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// Candidate is a raw deviation emitted by a facet detector. The magnitude is
// in [0,1] and not yet importance-weighted; the deviation engine turns
// candidates into scored records.
type Candidate struct {
	Type            deviation.Type `json:"type"`
	Description     string         `json:"description"`
	AffectedElement string         `json:"affected_element,omitempty"`
	Magnitude       float64        `json:"magnitude"`
	Details         map[string]any `json:"details,omitempty"`
}

// DetectSequenceChanges compares the (source, target) connection pairs of two
// snapshots. Removed pairs weigh heavier than added ones.
func DetectSequenceChanges(basePairs, currentPairs []baseline.ConnectionPair) []Candidate {
	var candidates []Candidate

	currentSet := make(map[baseline.ConnectionPair]bool, len(currentPairs))
	for _, p := range currentPairs {
		currentSet[p] = true
	}
	baseSet := make(map[baseline.ConnectionPair]bool, len(basePairs))
	for _, p := range basePairs {
		baseSet[p] = true
	}

	for _, p := range basePairs {
		if !currentSet[p] {
			candidates = append(candidates, Candidate{
				Type:        deviation.TypeSequenceChange,
				Description: fmt.Sprintf("Flow '%s' -> '%s' removed from process", p.Source, p.Target),
				Magnitude:   RemovedFlowMagnitude,
				Details:     map[string]any{"source": p.Source, "target": p.Target, "change": "removed"},
			})
		}
	}
	for _, p := range currentPairs {
		if !baseSet[p] {
			candidates = append(candidates, Candidate{
				Type:        deviation.TypeSequenceChange,
				Description: fmt.Sprintf("New flow '%s' -> '%s' observed in process", p.Source, p.Target),
				Magnitude:   AddedFlowMagnitude,
				Details:     map[string]any{"source": p.Source, "target": p.Target, "change": "added"},
			})
		}
	}

	return candidates
}

// DetectTimingShifts flags activities whose current mean duration deviates
// from the baseline mean by at least threshold standard deviations. A zero
// baseline stddev is clamped to 1. Activities absent from the current stats
// are skipped.
func DetectTimingShifts(base, current map[string]baseline.TimingStats, threshold float64) []Candidate {
	if threshold <= 0 {
		threshold = DefaultZScoreThreshold
	}

	var candidates []Candidate
	for activity, baseStats := range base {
		currentStats, ok := current[activity]
		if !ok {
			continue
		}

		stddev := math.Max(baseStats.StdDev, 1)
		z := math.Abs(currentStats.Mean-baseStats.Mean) / stddev
		if z < threshold {
			continue
		}

		candidates = append(candidates, Candidate{
			Type:            deviation.TypeTimingAnomaly,
			AffectedElement: activity,
			Description: fmt.Sprintf("Activity '%s' mean duration shifted from %.1f to %.1f (z=%.1f)",
				activity, baseStats.Mean, currentStats.Mean, z),
			Magnitude: math.Min(z/ZScoreMagnitudeDivisor, 1.0),
			Details: map[string]any{
				"baseline_mean": baseStats.Mean,
				"current_mean":  currentStats.Mean,
				"z_score":       z,
			},
		})
	}
	return candidates
}

// DetectRoleChanges flags activities whose current performer differs from the
// baseline performer. Activities absent from either side are not role changes.
func DetectRoleChanges(base, current map[string]string) []Candidate {
	var candidates []Candidate
	for activity, baseRole := range base {
		currentRole, ok := current[activity]
		if !ok {
			continue
		}
		if currentRole == baseRole {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:            deviation.TypeRoleReassignment,
			AffectedElement: activity,
			Description: fmt.Sprintf("Activity '%s' reassigned from '%s' to '%s'",
				activity, baseRole, currentRole),
			Magnitude: 0.6,
			Details: map[string]any{
				"baseline_role": baseRole,
				"current_role":  currentRole,
			},
		})
	}
	return candidates
}

// DetectFrequencyChanges flags activities whose execution frequency changed
// by at least threshold relative to baseline. A zero baseline frequency is
// skipped (relative change undefined); activities missing from current count
// as zero.
func DetectFrequencyChanges(base, current map[string]float64, threshold float64) []Candidate {
	if threshold <= 0 {
		threshold = DefaultFrequencyThreshold
	}

	var candidates []Candidate
	for activity, baseFreq := range base {
		if baseFreq == 0 {
			continue
		}
		currentFreq := current[activity]
		relative := math.Abs(currentFreq-baseFreq) / baseFreq
		if relative < threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:            deviation.TypeFrequencyChange,
			AffectedElement: activity,
			Description: fmt.Sprintf("Activity '%s' frequency changed from %.1f to %.1f",
				activity, baseFreq, currentFreq),
			Magnitude: math.Min(relative, 1.0),
			Details: map[string]any{
				"baseline_frequency": baseFreq,
				"current_frequency":  currentFreq,
				"relative_change":    relative,
			},
		})
	}
	return candidates
}

// DetectControlBypass flags every baseline-required control absent from the
// executed-controls set, at fixed magnitude.
func DetectControlBypass(required, executed []string) []Candidate {
	executedSet := make(map[string]bool, len(executed))
	for _, c := range executed {
		executedSet[c] = true
	}

	var candidates []Candidate
	for _, control := range required {
		if executedSet[control] {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:            deviation.TypeControlBypass,
			AffectedElement: control,
			Description:     fmt.Sprintf("Required control '%s' was not executed", control),
			Magnitude:       ControlBypassMagnitude,
			Details:         map[string]any{"control": control},
		})
	}
	return candidates
}

// CompareOptions tunes the facet detector aggregation.
type CompareOptions struct {
	ZScoreThreshold    float64
	FrequencyThreshold float64
	MinMagnitude       float64
}

// DetectAllFacets runs every facet detector over two snapshots and filters
// the result by minimum magnitude. Missing optional facts on either side
// silently skip that facet.
func DetectAllFacets(base, current baseline.Snapshot, opts CompareOptions) []Candidate {
	var candidates []Candidate
	candidates = append(candidates, DetectSequenceChanges(base.ConnectionPairs, current.ConnectionPairs)...)
	candidates = append(candidates, DetectTimingShifts(base.TimingStats, current.TimingStats, opts.ZScoreThreshold)...)
	candidates = append(candidates, DetectRoleChanges(base.RoleAssignments, current.RoleAssignments)...)
	candidates = append(candidates, DetectFrequencyChanges(base.ActivityFrequencies, current.ActivityFrequencies, opts.FrequencyThreshold)...)
	candidates = append(candidates, DetectControlBypass(base.ControlPoints, current.ControlPoints)...)

	if opts.MinMagnitude <= 0 {
		return candidates
	}
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Magnitude >= opts.MinMagnitude {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
