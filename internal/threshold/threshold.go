// Package threshold evaluates pass/fail assertions against a finished load
// test, so a CI job can fail when the target no longer keeps up.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/sentimeter/internal/runstate"
)

// Threshold is one parsed assertion such as "successful_requests:rpm > 600".
type Threshold struct {
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
	Raw       string  `json:"threshold"`
}

// Result is the outcome of evaluating one Threshold.
type Result struct {
	Threshold Threshold `json:"-"`
	Raw       string    `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

var pattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9]+(?:\.[0-9]+)?)$`)

var (
	metrics    = []string{"successful_requests"}
	aggregates = []string{"count", "rpm", "rps"}
	operators  = []string{"<", "<=", ">", ">=", "=="}
)

// Parse parses "metric:aggregate operator value". Supported forms:
//
//	successful_requests:count >= 1000   (total 2xx probes)
//	successful_requests:rpm > 600       (successful requests per minute)
//	successful_requests:rps > 10        (successful requests per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'successful_requests:rpm > 600')", s)
	}
	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[4], err)
	}
	if !contains(metrics, m[1]) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", m[1], strings.Join(metrics, ", "))
	}
	if !contains(aggregates, m[2]) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: %s)", m[2], strings.Join(aggregates, ", "))
	}
	if !contains(operators, m[3]) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: %s)", m[3], strings.Join(operators, ", "))
	}
	return Threshold{Metric: m[1], Aggregate: m[2], Operator: m[3], Value: value, Raw: s}, nil
}

// ParseMultiple parses every string and reports all failures at once.
func ParseMultiple(raw []string) ([]Threshold, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(raw))
	var problems []string
	for i, s := range raw {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// Evaluator checks a fixed set of thresholds against run results.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator returns an Evaluator for thresholds.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate returns one Result per threshold, in order. It returns nil when no
// thresholds are configured.
func (e *Evaluator) Evaluate(result runstate.Result) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, result))
	}
	return results
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}

func evaluateOne(t Threshold, result runstate.Result) Result {
	actual, err := extract(t, result)
	if err != nil {
		return Result{Threshold: t, Raw: t.Raw, Message: fmt.Sprintf("error: %v", err)}
	}
	pass := compare(actual, t.Operator, t.Value)
	mark := "PASS"
	if !pass {
		mark = "FAIL"
	}
	return Result{
		Threshold: t,
		Raw:       t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", mark, t.Raw, actual, t.Operator, t.Value),
	}
}

func extract(t Threshold, result runstate.Result) (float64, error) {
	if t.Metric != "successful_requests" {
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	switch t.Aggregate {
	case "count":
		return float64(result.SuccessfulRequests), nil
	case "rpm":
		return result.RequestsPerMinute, nil
	case "rps":
		return result.RequestsPerMinute / 60, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
	}
}

func compare(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9
	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
