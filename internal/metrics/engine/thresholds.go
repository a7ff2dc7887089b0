package engine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Comparator is one of the four supported comparison operators.
type Comparator string

const (
	Less           Comparator = "<"
	LessOrEqual    Comparator = "<="
	Greater        Comparator = ">"
	GreaterOrEqual Comparator = ">="
)

// Compare applies the comparator to value and bound.
func (c Comparator) Compare(value, bound float64) bool {
	switch c {
	case Less:
		return value < bound
	case LessOrEqual:
		return value <= bound
	case Greater:
		return value > bound
	case GreaterOrEqual:
		return value >= bound
	}
	return false
}

// ErrUnsupportedAggregation is returned when an aggregation does not apply to a metric type.
var ErrUnsupportedAggregation = errors.New("aggregation not supported for metric")

// ThresholdSyntaxError reports an expression that does not match
// <aggregation><comparator><number>.
type ThresholdSyntaxError struct {
	Metric     string
	Expression string
	Reason     string
}

func (e *ThresholdSyntaxError) Error() string {
	return fmt.Sprintf("threshold %q on metric %q: %s", e.Expression, e.Metric, e.Reason)
}

// ThresholdUnknownMetricError reports a rule whose metric was never registered.
type ThresholdUnknownMetricError struct {
	Metric string
}

func (e *ThresholdUnknownMetricError) Error() string {
	return fmt.Sprintf("threshold references unknown metric %q", e.Metric)
}

// Rule is a parsed threshold expression bound to a metric.
type Rule struct {
	Metric      string
	Expression  string
	Aggregation string
	Comparator  Comparator
	Bound       float64
	AbortOnFail bool
}

// String returns the source expression.
func (r *Rule) String() string {
	return r.Expression
}

var thresholdRe = regexp.MustCompile(`^\s*(p\(\s*[0-9]+(?:\.[0-9]+)?\s*\)|avg|min|max|med|rate|count)\s*(<=|>=|<|>)\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*$`)

// ParseRule parses an expression such as "p(95)<500" or "rate < 0.1".
func ParseRule(metric, expr string, abortOnFail bool) (*Rule, error) {
	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, &ThresholdSyntaxError{Metric: metric, Expression: expr, Reason: "expected <aggregation><comparator><number>"}
	}

	agg := strings.ReplaceAll(m[1], " ", "")
	if strings.HasPrefix(agg, "p(") {
		if _, ok := metrics.ParsePercentile(agg); !ok {
			return nil, &ThresholdSyntaxError{Metric: metric, Expression: expr, Reason: "percentile must be within [0, 100]"}
		}
	}

	bound, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, &ThresholdSyntaxError{Metric: metric, Expression: expr, Reason: err.Error()}
	}

	return &Rule{
		Metric:      metric,
		Expression:  strings.TrimSpace(expr),
		Aggregation: agg,
		Comparator:  Comparator(m[2]),
		Bound:       bound,
		AbortOnFail: abortOnFail,
	}, nil
}

// ParseRules parses a metric -> thresholds map. Rules are returned sorted by metric
// name and then in declaration order, so evaluation output is stable.
func ParseRules(thresholds map[string][]ThresholdConfig) ([]*Rule, error) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var rules []*Rule
	var errs []error
	for _, name := range names {
		for _, cfg := range thresholds[name] {
			r, err := ParseRule(name, cfg.Expression, cfg.AbortOnFail)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, r)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// Evaluate checks a rule against a snapshot. A missing metric or an aggregation the
// metric cannot provide fails the rule with an error.
func (r *Rule) Evaluate(snap *metrics.Snapshot) types.ThresholdResult {
	res := types.ThresholdResult{Metric: r.Metric, Condition: r.Expression}

	stats, ok := snap.Get(r.Metric)
	if !ok {
		res.Error = (&ThresholdUnknownMetricError{Metric: r.Metric}).Error()
		return res
	}

	value, ok := stats.Value(r.Aggregation)
	if !ok {
		res.Error = fmt.Errorf("%w: %s on %s metric %s", ErrUnsupportedAggregation, r.Aggregation, stats.Type, r.Metric).Error()
		return res
	}

	res.Value = value
	res.Passed = r.Comparator.Compare(value, r.Bound)
	return res
}

// EvaluateRules evaluates every rule; passed is the AND of all results.
func EvaluateRules(rules []*Rule, snap *metrics.Snapshot) (results []types.ThresholdResult, passed bool) {
	passed = true
	results = make([]types.ThresholdResult, 0, len(rules))
	for _, r := range rules {
		res := r.Evaluate(snap)
		if !res.Passed {
			passed = false
		}
		results = append(results, res)
	}
	return results, passed
}
