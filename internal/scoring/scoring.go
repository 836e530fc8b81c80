package scoring

import (
	"fmt"
	"math"
)

// Criterion names one of the six fixed rubric criteria.
type Criterion string

const (
	CriterionEducation  Criterion = "education"
	CriterionTrajectory Criterion = "trajectory"
	CriterionCompany    Criterion = "company"
	CriterionExperience Criterion = "experience"
	CriterionLocation   Criterion = "location"
	CriterionTenure     Criterion = "tenure"
)

// Criteria lists the rubric criteria in presentation order.
var Criteria = []Criterion{
	CriterionEducation,
	CriterionTrajectory,
	CriterionCompany,
	CriterionExperience,
	CriterionLocation,
	CriterionTenure,
}

var weights = map[Criterion]float64{
	CriterionEducation:  0.20,
	CriterionTrajectory: 0.20,
	CriterionCompany:    0.15,
	CriterionExperience: 0.25,
	CriterionLocation:   0.10,
	CriterionTenure:     0.10,
}

const (
	// NeutralValue fills criteria the oracle did not return.
	NeutralValue = 5.0

	MinValue = 0.0
	MaxValue = 10.0

	weightTolerance = 1e-9
)

// CriterionScore is one sub-rubric result.
type CriterionScore struct {
	Criterion Criterion `json:"name"`
	Value     float64   `json:"value"`
	Rationale string    `json:"rationale,omitempty"`
}

// Breakdown holds exactly one score per fixed criterion plus the derived
// weighted composite. Construct it via NewBreakdown only.
type Breakdown struct {
	Scores    map[Criterion]CriterionScore `json:"scores"`
	Composite float64                      `json:"composite"`
	// Filled lists criteria that were absent from the input and defaulted
	// to NeutralValue.
	Filled []Criterion `json:"filled,omitempty"`
}

// Weight returns the fixed weight of the given criterion, or 0 for an
// unknown one.
func Weight(c Criterion) float64 {
	return weights[c]
}

// Known reports whether c is one of the six fixed criteria.
func Known(c Criterion) bool {
	_, ok := weights[c]
	return ok
}

// NewBreakdown builds a validated breakdown from the supplied scores.
// Values are clamped into [0,10], missing criteria default to NeutralValue
// and are recorded in Filled, duplicates are rejected. The composite is the
// weighted sum clamped to [0,10] and rounded to one decimal.
func NewBreakdown(scores []CriterionScore) (*Breakdown, error) {
	if err := validateWeights(); err != nil {
		return nil, err
	}

	seen := make(map[Criterion]CriterionScore, len(Criteria))
	for _, s := range scores {
		if !Known(s.Criterion) {
			return nil, fmt.Errorf("unknown criterion %q", s.Criterion)
		}
		if _, dup := seen[s.Criterion]; dup {
			return nil, fmt.Errorf("duplicate criterion %q", s.Criterion)
		}
		s.Value = Clamp(s.Value)
		seen[s.Criterion] = s
	}

	b := &Breakdown{Scores: make(map[Criterion]CriterionScore, len(Criteria))}
	for _, c := range Criteria {
		s, ok := seen[c]
		if !ok {
			s = CriterionScore{Criterion: c, Value: NeutralValue}
			b.Filled = append(b.Filled, c)
		}
		b.Scores[c] = s
	}

	b.Composite = Compose(b)

	return b, nil
}

// Compose derives the composite score from a breakdown: the weighted sum of
// clamped criterion values, clamped to [0,10] and rounded to one decimal.
// Pure and deterministic; a cached breakdown recomposes to the same value.
func Compose(b *Breakdown) float64 {
	// Summation follows the fixed Criteria order: float addition is not
	// associative, and a reordered sum can flip the rounded result.
	var sum float64
	for _, c := range Criteria {
		s, ok := b.Scores[c]
		v := NeutralValue
		if ok {
			v = s.Value
		}
		sum += weights[c] * Clamp(v)
	}
	return round1(Clamp(sum))
}

// Clamp bounds a criterion value into [0,10]. NaN collapses to the neutral
// default rather than poisoning the composite.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return NeutralValue
	}
	return math.Min(MaxValue, math.Max(MinValue, v))
}

func validateWeights() error {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("criterion weights sum to %v, want 1.00", sum)
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
