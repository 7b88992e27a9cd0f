package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ModelElement is one node of a raw process model document.
type ModelElement struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ModelConnection is a directed flow between two named elements.
type ModelConnection struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// TimingStats holds per-activity duration statistics.
type TimingStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// ProcessModel is the raw model document a snapshot is derived from.
// The timing, role, frequency and control facts are optional.
type ProcessModel struct {
	Elements            []ModelElement         `json:"elements"`
	Connections         []ModelConnection      `json:"connections"`
	TimingStats         map[string]TimingStats `json:"timing_stats,omitempty"`
	RoleAssignments     map[string]string      `json:"role_assignments,omitempty"`
	ActivityFrequencies map[string]float64     `json:"activity_frequencies,omitempty"`
	ControlPoints       []string               `json:"control_points,omitempty"`
}

// ConnectionPair is a canonical (source, target) flow pair.
type ConnectionPair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Snapshot is the canonical, comparable form of a process model.
// Element names are sorted so equality is independent of input order.
type Snapshot struct {
	ElementNames        []string               `json:"element_names"`
	ElementTypes        map[string]string      `json:"element_types"`
	ConnectionPairs     []ConnectionPair       `json:"connection_pairs"`
	TimingStats         map[string]TimingStats `json:"timing_stats,omitempty"`
	RoleAssignments     map[string]string      `json:"role_assignments,omitempty"`
	ActivityFrequencies map[string]float64     `json:"activity_frequencies,omitempty"`
	ControlPoints       []string               `json:"control_points,omitempty"`
	ProcessHash         string                 `json:"process_hash"`
}

// BuildSnapshot canonicalizes a process model into a Snapshot and attaches
// a stable content hash. Pure function; an empty model yields an empty
// (but hashable) snapshot.
func BuildSnapshot(model ProcessModel) Snapshot {
	snap := Snapshot{
		ElementNames:    make([]string, 0, len(model.Elements)),
		ElementTypes:    make(map[string]string, len(model.Elements)),
		ConnectionPairs: make([]ConnectionPair, 0, len(model.Connections)),
	}

	for _, e := range model.Elements {
		snap.ElementNames = append(snap.ElementNames, e.Name)
		snap.ElementTypes[e.Name] = e.Type
	}
	sort.Strings(snap.ElementNames)

	for _, c := range model.Connections {
		snap.ConnectionPairs = append(snap.ConnectionPairs, ConnectionPair{Source: c.Source, Target: c.Target})
	}

	if len(model.TimingStats) > 0 {
		snap.TimingStats = make(map[string]TimingStats, len(model.TimingStats))
		for k, v := range model.TimingStats {
			snap.TimingStats[k] = v
		}
	}
	if len(model.RoleAssignments) > 0 {
		snap.RoleAssignments = make(map[string]string, len(model.RoleAssignments))
		for k, v := range model.RoleAssignments {
			snap.RoleAssignments[k] = v
		}
	}
	if len(model.ActivityFrequencies) > 0 {
		snap.ActivityFrequencies = make(map[string]float64, len(model.ActivityFrequencies))
		for k, v := range model.ActivityFrequencies {
			snap.ActivityFrequencies[k] = v
		}
	}
	if len(model.ControlPoints) > 0 {
		snap.ControlPoints = append(snap.ControlPoints, model.ControlPoints...)
		sort.Strings(snap.ControlPoints)
	}

	snap.ProcessHash = ComputeProcessHash(snap)
	return snap
}

// ComputeProcessHash returns the SHA-256 hex digest of the snapshot's
// canonical serialization. Map keys serialize in sorted order, so the hash
// is stable across key ordering. The hash field itself is excluded.
func ComputeProcessHash(snap Snapshot) string {
	canonical := snap
	canonical.ProcessHash = ""
	data, err := json.Marshal(canonical)
	if err != nil {
		// Snapshot contains only marshalable types; this cannot happen.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ModifiedElement records an element whose type changed between snapshots.
type ModifiedElement struct {
	Name         string `json:"name"`
	BaselineType string `json:"baseline_type"`
	CurrentType  string `json:"current_type"`
}

// Diff is the structural difference between two snapshots.
type Diff struct {
	AddedElements      []string          `json:"added_elements"`
	RemovedElements    []string          `json:"removed_elements"`
	ModifiedElements   []ModifiedElement `json:"modified_elements"`
	AddedConnections   []ConnectionPair  `json:"added_connections"`
	RemovedConnections []ConnectionPair  `json:"removed_connections"`
	HasChanges         bool              `json:"has_changes"`
}

// CompareSnapshots diffs a baseline snapshot against a current one.
// Empty snapshots on either side produce empty diffs, not errors.
func CompareSnapshots(base, current Snapshot) Diff {
	var diff Diff

	baseNames := toSet(base.ElementNames)
	currentNames := toSet(current.ElementNames)

	for _, name := range current.ElementNames {
		if !baseNames[name] {
			diff.AddedElements = append(diff.AddedElements, name)
		}
	}
	for _, name := range base.ElementNames {
		if !currentNames[name] {
			diff.RemovedElements = append(diff.RemovedElements, name)
		}
	}
	for _, name := range base.ElementNames {
		if !currentNames[name] {
			continue
		}
		baseType := base.ElementTypes[name]
		currentType := current.ElementTypes[name]
		if baseType != currentType {
			diff.ModifiedElements = append(diff.ModifiedElements, ModifiedElement{
				Name:         name,
				BaselineType: baseType,
				CurrentType:  currentType,
			})
		}
	}

	basePairs := pairSet(base.ConnectionPairs)
	currentPairs := pairSet(current.ConnectionPairs)

	for _, p := range current.ConnectionPairs {
		if !basePairs[p] {
			diff.AddedConnections = append(diff.AddedConnections, p)
		}
	}
	for _, p := range base.ConnectionPairs {
		if !currentPairs[p] {
			diff.RemovedConnections = append(diff.RemovedConnections, p)
		}
	}

	diff.HasChanges = len(diff.AddedElements) > 0 ||
		len(diff.RemovedElements) > 0 ||
		len(diff.ModifiedElements) > 0 ||
		len(diff.AddedConnections) > 0 ||
		len(diff.RemovedConnections) > 0

	return diff
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func pairSet(pairs []ConnectionPair) map[ConnectionPair]bool {
	set := make(map[ConnectionPair]bool, len(pairs))
	for _, p := range pairs {
		set[p] = true
	}
	return set
}
