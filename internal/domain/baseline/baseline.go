package baseline

// DurationRange is the expected [min, max] duration for an activity, in hours.
type DurationRange struct {
	MinHours float64 `json:"min_hours"`
	MaxHours float64 `json:"max_hours"`
}

// PovElement is one element of the established POV process model.
// Elements are immutable once loaded into a baseline.
type PovElement struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ImportanceScore float64        `json:"importance_score"` // 0..1
	DurationRange   *DurationRange `json:"expected_duration_range,omitempty"`
	Role            string         `json:"role,omitempty"`
}

// PovBaseline is the frozen POV process model for one engagement.
// A new baseline supersedes the old one; it is never mutated in place.
type PovBaseline struct {
	EngagementID string       `json:"engagement_id"`
	Elements     []PovElement `json:"elements"`

	elementMap       map[string]*PovElement
	expectedSequence []string
}

// NewPovBaseline builds a baseline from elements in their expected order,
// deriving the name lookup and the expected activity sequence.
func NewPovBaseline(engagementID string, elements []PovElement) *PovBaseline {
	b := &PovBaseline{
		EngagementID: engagementID,
		Elements:     elements,
		elementMap:   make(map[string]*PovElement, len(elements)),
	}
	for i := range b.Elements {
		e := &b.Elements[i]
		b.elementMap[e.Name] = e
		b.expectedSequence = append(b.expectedSequence, e.Name)
	}
	return b
}

// Element looks up a POV element by activity name.
func (b *PovBaseline) Element(name string) (*PovElement, bool) {
	e, ok := b.elementMap[name]
	return e, ok
}

// ExpectedSequence returns the ordered activity names forming the expected flow.
func (b *PovBaseline) ExpectedSequence() []string {
	return b.expectedSequence
}
