package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/torosent/sentimeter/internal/config"
	"github.com/torosent/sentimeter/internal/runstate"
	"github.com/torosent/sentimeter/internal/tracing"
	"github.com/torosent/sentimeter/internal/websocket"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("SENTIMETER_TARGET", "")
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}

// countingTarget accepts the default probe and counts 200 responses.
func countingTarget(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var ok atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.FormValue("text") != config.DefaultProbeText {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ok.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &ok
}

func execute(t *testing.T, stdout *syncBuffer, args ...string) error {
	t.Helper()
	root := newRootCmd(stdout)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestLoadTestCommand(t *testing.T) {
	isolateEnv(t)
	target, served := countingTarget(t)
	reportPath := filepath.Join(t.TempDir(), "report.html")

	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest",
		"--target", target.URL+"/predict",
		"--duration", "300ms",
		"--threads", "2",
		"--html-output", reportPath,
	)
	if err != nil {
		t.Fatalf("loadtest error = %v", err)
	}

	out := stdout.String()
	want := "Successful Requests: " + strconv.FormatInt(served.Load(), 10)
	if !strings.Contains(out, want) {
		t.Errorf("output missing %q:\n%s", want, out)
	}
	if served.Load() == 0 {
		t.Error("target received no successful probes")
	}
	if !strings.Contains(out, "Number of Threads:   2") {
		t.Errorf("output missing thread count:\n%s", out)
	}

	html, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read html report: %v", err)
	}
	if !strings.Contains(string(html), "Load Test Results") {
		t.Error("html report missing title")
	}
}

func TestLoadTestCommandJSON(t *testing.T) {
	isolateEnv(t)
	target, served := countingTarget(t)

	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest",
		"--target", target.URL+"/predict",
		"--duration", "200ms",
		"--threads", "1",
		"--html-output", "",
		"--json-output",
	)
	if err != nil {
		t.Fatalf("loadtest error = %v", err)
	}

	var report map[string]interface{}
	if err := json.Unmarshal([]byte(stdout.String()), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	if report["successful_requests"] != float64(served.Load()) {
		t.Errorf("successful_requests = %v, served = %d", report["successful_requests"], served.Load())
	}
	if report["thread_count"] != float64(1) {
		t.Errorf("thread_count = %v", report["thread_count"])
	}
	if _, err := os.Stat(config.DefaultHTMLOutput); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("html report written despite empty --html-output: %v", err)
	}
}

func TestLoadTestCommandFailingTarget(t *testing.T) {
	isolateEnv(t)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer target.Close()

	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest",
		"--target", target.URL,
		"--duration", "200ms",
		"--threads", "2",
		"--html-output", "",
		"--log-errors",
	)
	if err != nil {
		t.Fatalf("loadtest error = %v", err)
	}
	if !strings.Contains(stdout.String(), "Successful Requests: 0") {
		t.Errorf("expected zero successes:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "Requests/min (RPM):  0.00") {
		t.Errorf("expected zero RPM:\n%s", stdout.String())
	}
}

func TestLoadTestCommandReportLocked(t *testing.T) {
	isolateEnv(t)
	reportPath := filepath.Join(t.TempDir(), "report.html")
	held := flock.New(reportPath + ".lock")
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer held.Unlock()

	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest", "--duration", "100ms", "--html-output", reportPath)
	if err == nil || !strings.Contains(err.Error(), "another load test") {
		t.Fatalf("loadtest error = %v, want lock contention", err)
	}
}

func TestLoadTestCommandInvalidConfig(t *testing.T) {
	isolateEnv(t)
	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest", "--threads", "0")
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "loadtest.threads") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadTestCommandThresholds(t *testing.T) {
	isolateEnv(t)
	target, _ := countingTarget(t)

	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest",
		"--target", target.URL+"/predict",
		"--duration", "200ms",
		"--threads", "1",
		"--html-output", "",
		"--threshold", "successful_requests:count >= 1",
		"--threshold", "successful_requests:rpm > 100000000",
	)
	if err == nil || err.Error() != "1 threshold(s) failed" {
		t.Fatalf("loadtest error = %v, want one failed threshold", err)
	}
	out := stdout.String()
	for _, want := range []string{"Thresholds (1/2 passed):", "FAIL successful_requests:rpm > 100000000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadTestCommandInvalidThreshold(t *testing.T) {
	isolateEnv(t)
	var stdout syncBuffer
	err := execute(t, &stdout, "loadtest", "--threshold", "latency:p99 < 5")
	if err == nil || !strings.Contains(err.Error(), "loadtest.thresholds") {
		t.Fatalf("loadtest error = %v, want threshold validation error", err)
	}
}

func TestBuildServerLexiconError(t *testing.T) {
	cfg := config.Default()
	cfg.LexiconFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := buildServer(cfg, zap.NewNop(), &tracing.Provider{}); err == nil {
		t.Fatal("buildServer() expected error for missing lexicon")
	}
}

func TestServeAndWatch(t *testing.T) {
	isolateEnv(t)
	cfg := config.Default()
	cfg.Server.StreamInterval = 10 * time.Millisecond
	srv, err := buildServer(cfg, zap.NewNop(), &tracing.Provider{})
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var stdout syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- execute(t, &stdout, "watch", "--server", ts.URL, "--until-done")
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(stdout.String(), "status=idle") {
		if time.Now().After(deadline) {
			t.Fatalf("watch never printed the idle state:\n%s", stdout.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The server load-tests its own /predict endpoint.
	body := `{"duration_seconds":0.3,"thread_count":2,"target":"` + ts.URL + `/predict"}`
	resp, err := http.Post(ts.URL+"/api/loadtest", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not exit after the run finished")
	}

	out := stdout.String()
	for _, want := range []string{"status=running", "status=finished", "Successful Requests:"} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}
	if got := srvState(t, ts.URL); got.Status != runstate.StatusFinished || got.Result.SuccessfulRequests == 0 {
		t.Errorf("final state = %+v", got)
	}
}

func srvState(t *testing.T, base string) runstate.State {
	t.Helper()
	resp, err := http.Get(base + "/api/loadtest/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	var st runstate.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestStatusPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newStatusPrinter(&buf, true)

	finished := runstate.State{
		Status: runstate.StatusFinished,
		RunID:  "01OLD",
		Config: &runstate.RunInfo{Target: "http://t:80/", DurationSeconds: 1, Threads: 1},
		Result: &runstate.Result{SuccessfulRequests: 5, DurationSeconds: 1, RequestsPerMinute: 300},
	}
	// A run that finished before we connected does not end the watch.
	if err := p.handle(finished); err != nil {
		t.Fatalf("handle(old finished) = %v", err)
	}
	if strings.Contains(buf.String(), "Successful Requests") {
		t.Error("report printed for a run finished before connecting")
	}

	if err := p.handle(runstate.State{Status: runstate.StatusRunning, RunID: "01NEW"}); err != nil {
		t.Fatalf("handle(running) = %v", err)
	}
	finished.RunID = "01NEW"
	if err := p.handle(finished); !errors.Is(err, websocket.ErrStop) {
		t.Fatalf("handle(finished) = %v, want ErrStop", err)
	}
	if !strings.Contains(buf.String(), "Requests/min (RPM):  300.00") {
		t.Errorf("report missing:\n%s", buf.String())
	}

	failing := newStatusPrinter(&buf, true)
	_ = failing.handle(runstate.State{Status: runstate.StatusRunning, RunID: "01X"})
	err := failing.handle(runstate.State{Status: runstate.StatusError, RunID: "01X", Error: "run cancelled"})
	if err == nil || !strings.Contains(err.Error(), "run cancelled") {
		t.Fatalf("handle(error) = %v", err)
	}
}

func TestStatusPrinterRunFinishedBetweenPushes(t *testing.T) {
	var buf bytes.Buffer
	p := newStatusPrinter(&buf, true)

	if err := p.handle(runstate.State{Status: runstate.StatusIdle}); err != nil {
		t.Fatalf("handle(idle) = %v", err)
	}
	// The run started and finished within one stream interval, so the
	// running state was never pushed.
	err := p.handle(runstate.State{
		Status: runstate.StatusFinished,
		RunID:  "01FAST",
		Config: &runstate.RunInfo{Target: "http://t:80/", DurationSeconds: 0.1, Threads: 1},
		Result: &runstate.Result{SuccessfulRequests: 2, DurationSeconds: 0.1, RequestsPerMinute: 1200},
	})
	if !errors.Is(err, websocket.ErrStop) {
		t.Fatalf("handle(finished) = %v, want ErrStop", err)
	}
	if !strings.Contains(buf.String(), "Successful Requests") {
		t.Errorf("report missing:\n%s", buf.String())
	}

	failing := newStatusPrinter(&buf, true)
	_ = failing.handle(runstate.State{Status: runstate.StatusFinished, RunID: "01OLD"})
	err = failing.handle(runstate.State{Status: runstate.StatusError, RunID: "01NEXT", Error: "boom"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("handle(error) = %v", err)
	}
}

func TestFormatState(t *testing.T) {
	got := formatState(runstate.State{
		Status: runstate.StatusFinished,
		RunID:  "01ABC",
		Config: &runstate.RunInfo{Target: "http://localhost:8000/predict", DurationSeconds: 0.5, Threads: 3},
		Result: &runstate.Result{SuccessfulRequests: 7, RequestsPerMinute: 840},
	})
	for _, want := range []string{
		"status=finished",
		"run_id=01ABC",
		"target=http://localhost:8000/predict threads=3 duration=0.5s",
		"successful_requests=7 rpm=840.00",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatState() = %q, missing %q", got, want)
		}
	}
	if got := formatState(runstate.State{Status: runstate.StatusIdle}); strings.Contains(got, "run_id") {
		t.Errorf("idle state = %q", got)
	}
	if formatFloat(60) != "60" || formatFloat(1.25) != "1.25" {
		t.Errorf("formatFloat() = %q, %q", formatFloat(60), formatFloat(1.25))
	}
}
