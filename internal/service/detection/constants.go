package detection

import "github.com/procsight/baseline-monitor/internal/domain/deviation"

// Facet detector defaults
const (
	// DefaultZScoreThreshold is the minimum |z| for a timing shift to be flagged
	DefaultZScoreThreshold = 2.0

	// DefaultFrequencyThreshold is the minimum relative change to flag a frequency shift
	DefaultFrequencyThreshold = 0.5

	// RemovedFlowMagnitude weighs a connection pair present in baseline but gone from current
	RemovedFlowMagnitude = 0.7

	// AddedFlowMagnitude weighs a new connection pair; a behavioral change but
	// not necessarily a control gap
	AddedFlowMagnitude = 0.5

	// ControlBypassMagnitude is fixed; control omission is inherently severe
	ControlBypassMagnitude = 0.9

	// ZScoreMagnitudeDivisor scales z-scores into the [0,1] magnitude range
	ZScoreMagnitudeDivisor = 5.0
)

// Deviation engine timing formula constants
const (
	// TimingMagnitudeCap bounds the fractional excess/deficit before scaling
	TimingMagnitudeCap = 5.0

	// TimingBaseSeverityFloor guarantees any out-of-range duration carries
	// non-trivial severity even with a small excess
	TimingBaseSeverityFloor = 0.3

	// UndocumentedImportance is the fixed importance for activities unknown to the baseline
	UndocumentedImportance = 0.5

	// FallbackCoefficient applies when a deviation type has no configured coefficient
	FallbackCoefficient = 0.5
)

// DefaultCoefficients returns the default magnitude coefficient per deviation type.
func DefaultCoefficients() map[deviation.Type]float64 {
	return map[deviation.Type]float64{
		deviation.TypeSkippedActivity:         1.0,
		deviation.TypeTimingAnomaly:           0.8,
		deviation.TypeUndocumentedActivity:    0.7,
		deviation.TypeRoleReassignment:        0.6,
		deviation.TypeMissingExpectedActivity: 0.9,
		deviation.TypeSequenceChange:          0.7,
	}
}
