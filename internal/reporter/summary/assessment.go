package summary

// Assessment is the one-word verdict printed under the key metrics.
type Assessment string

const (
	AssessmentExcellent        Assessment = "EXCELLENT"
	AssessmentGood             Assessment = "GOOD"
	AssessmentNeedsImprovement Assessment = "NEEDS IMPROVEMENT"
)

// Assessment bounds.
const (
	ExcellentSuccessRate = 99.0
	ExcellentP95         = 500.0
	GoodSuccessRate      = 95.0
)

// Assess grades a run: EXCELLENT above 99% success with p95 under 500ms, GOOD
// above 95% success, NEEDS IMPROVEMENT otherwise.
func Assess(s *Summary) Assessment {
	if s == nil {
		return AssessmentNeedsImprovement
	}
	switch {
	case s.SuccessRate > ExcellentSuccessRate && s.P95ResponseTime < ExcellentP95:
		return AssessmentExcellent
	case s.SuccessRate > GoodSuccessRate:
		return AssessmentGood
	default:
		return AssessmentNeedsImprovement
	}
}
