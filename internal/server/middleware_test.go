package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/runstate"
	"github.com/torosent/sentimeter/internal/sentiment"
)

func newLoggedServer(t *testing.T, level zapcore.Level) (*Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(level)
	srv, err := New(Options{
		Controller: runner.NewController(runstate.NewStore(), pacedFactory(nil)),
		Classifier: sentiment.NewLexiconClassifier(nil),
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, logs
}

func serveRequests(t *testing.T, h http.Handler) {
	t.Helper()
	form := url.Values{"text": {"This is a test."}}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("predict status = %d", rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/loadtest/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status route = %d", rec.Code)
	}
}

func TestAccessLogSkipsProbeRouteAtInfo(t *testing.T) {
	srv, logs := newLoggedServer(t, zapcore.InfoLevel)
	serveRequests(t, srv.Handler())

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d access lines at info, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["route"]; got != "/api/loadtest/status" {
		t.Errorf("route = %v", got)
	}
}

func TestAccessLogProbeRouteAtDebug(t *testing.T) {
	srv, logs := newLoggedServer(t, zapcore.DebugLevel)
	serveRequests(t, srv.Handler())

	predict := 0
	for _, e := range logs.FilterMessage("http request").All() {
		if e.ContextMap()["route"] == probeRoute {
			if e.Level != zapcore.DebugLevel {
				t.Errorf("predict logged at %s, want debug", e.Level)
			}
			predict++
		}
	}
	if predict != 3 {
		t.Fatalf("logged %d predict lines at debug, want 3", predict)
	}
}
