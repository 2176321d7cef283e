package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/runstate"
	"github.com/torosent/sentimeter/internal/threshold"
)

// Report is the rendered summary of one finished run.
type Report struct {
	RunID              string    `json:"run_id,omitempty"`
	Target             string    `json:"target"`
	DurationSeconds    float64   `json:"duration_seconds"`
	Threads            int       `json:"thread_count"`
	SuccessfulRequests int64     `json:"successful_requests"`
	RequestsPerMinute  float64   `json:"requests_per_minute"`
	GeneratedAt        time.Time `json:"generated_at"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// ThresholdsPassed counts the passing entries of r.Thresholds.
func (r Report) ThresholdsPassed() int {
	return len(r.Thresholds) - threshold.Failed(r.Thresholds)
}

// NewReport builds the report of a finished run.
func NewReport(cfg runner.RunConfig, result runstate.Result, runID string) Report {
	return Report{
		RunID:              runID,
		Target:             cfg.Target.URL(),
		DurationSeconds:    cfg.DurationSeconds(),
		Threads:            cfg.Threads,
		SuccessfulRequests: result.SuccessfulRequests,
		RequestsPerMinute:  result.RequestsPerMinute,
		GeneratedAt:        time.Now().UTC(),
	}
}

// ReportFromState builds a Report from a finished run state. It reports false
// for any other status.
func ReportFromState(st runstate.State) (Report, bool) {
	if st.Status != runstate.StatusFinished || st.Result == nil || st.Config == nil {
		return Report{}, false
	}
	generated := time.Now().UTC()
	if st.FinishedAt != nil {
		generated = st.FinishedAt.UTC()
	}
	return Report{
		RunID:              st.RunID,
		Target:             st.Config.Target,
		DurationSeconds:    st.Config.DurationSeconds,
		Threads:            st.Config.Threads,
		SuccessfulRequests: st.Result.SuccessfulRequests,
		RequestsPerMinute:  st.Result.RequestsPerMinute,
		GeneratedAt:        generated,
	}, true
}

// PrintReport writes a human-readable summary.
func PrintReport(w io.Writer, r Report) error {
	var b strings.Builder
	fmt.Fprintln(&b, "\n--- Load Test Results ---")
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run ID:              %s\n", r.RunID)
	}
	fmt.Fprintf(&b, "URL Tested:          %s\n", r.Target)
	fmt.Fprintf(&b, "Test Duration:       %s seconds\n", formatSeconds(r.DurationSeconds))
	fmt.Fprintf(&b, "Number of Threads:   %d\n", r.Threads)
	fmt.Fprintf(&b, "Successful Requests: %d\n", r.SuccessfulRequests)
	fmt.Fprintf(&b, "Requests/min (RPM):  %s\n", formatRPM(r.RequestsPerMinute))
	if len(r.Thresholds) > 0 {
		fmt.Fprintf(&b, "\nThresholds (%d/%d passed):\n", r.ThresholdsPassed(), len(r.Thresholds))
		for _, res := range r.Thresholds {
			fmt.Fprintf(&b, "  %s\n", res.Message)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintJSONReport writes the report as indented JSON.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func formatRPM(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatSeconds prints whole durations without a fractional part.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
