package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/torosent/sentimeter/internal/output"
	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/sentiment"
)

const (
	maxRequestBytes = 1 << 20

	// maxAPIThreads caps remotely requested runs.
	maxAPIThreads = 1000

	noPostsMessage = "No tweets found for this topic."
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type errorResponse struct {
	Error string `json:"error"`
}

type predictRequest struct {
	Text *string `json:"text"`
}

type predictResponse struct {
	Text      string          `json:"text"`
	Sentiment sentiment.Label `json:"sentiment"`
}

type analyzedPost struct {
	Text      string          `json:"text"`
	Sentiment sentiment.Label `json:"sentiment"`
}

type topicResponse struct {
	Topic   string                  `json:"topic"`
	Results map[sentiment.Label]int `json:"results"`
	Tweets  []analyzedPost          `json:"tweets"`
	Message string                  `json:"message,omitempty"`
}

// loadTestRequest fields are optional; missing ones fall back to the
// configured loadtest defaults.
type loadTestRequest struct {
	DurationSeconds *float64 `json:"duration_seconds"`
	ThreadCount     *int     `json:"thread_count"`
	Target          *string  `json:"target"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Target          string
		DurationSeconds float64
		Threads         int
	}{
		Target:          s.loadTest.Target,
		DurationSeconds: s.loadTest.Duration.Seconds(),
		Threads:         s.loadTest.Threads,
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("render index", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	text, err := predictText(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	label := s.classifier.Classify(text)
	s.metrics.ObservePrediction(string(label))
	writeJSON(w, http.StatusOK, predictResponse{Text: text, Sentiment: label})
}

// predictText reads the text field from a JSON body or from form values.
func predictText(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if isJSON(r) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("invalid JSON body: %w", err)
		}
		if req.Text == nil {
			return "", errors.New("text is required")
		}
		return *req.Text, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("invalid form body: %w", err)
	}
	values, ok := r.Form["text"]
	if !ok || len(values) == 0 {
		return "", errors.New("text is required")
	}
	return values[0], nil
}

func (s *Server) handleTopicSentiment(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	posts := s.fetcher.Fetch(r.Context(), topic, s.feedCount)

	resp := topicResponse{
		Topic:   topic,
		Results: map[sentiment.Label]int{},
		Tweets:  make([]analyzedPost, 0, len(posts)),
	}
	if len(posts) == 0 {
		resp.Message = noPostsMessage
		writeJSON(w, http.StatusOK, resp)
		return
	}
	for _, text := range posts {
		label := s.classifier.Classify(text)
		s.metrics.ObservePrediction(string(label))
		resp.Results[label]++
		resp.Tweets = append(resp.Tweets, analyzedPost{Text: text, Sentiment: label})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartLoadTest(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.runConfig(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ack := s.controller.Start(s.runCtx, cfg)
	if !ack.Accepted {
		writeJSON(w, http.StatusConflict, ack)
		return
	}
	s.logger.Info("load test accepted",
		zap.String("run_id", ack.RunID),
		zap.String("target", cfg.Target.URL()),
		zap.Int("threads", cfg.Threads),
		zap.Duration("duration", cfg.Duration),
	)
	writeJSON(w, http.StatusAccepted, ack)
}

// runConfig decodes an optional JSON body over the configured defaults.
func (s *Server) runConfig(w http.ResponseWriter, r *http.Request) (runner.RunConfig, error) {
	req := loadTestRequest{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return runner.RunConfig{}, fmt.Errorf("invalid JSON body: %w", err)
	}

	duration := s.loadTest.Duration
	if req.DurationSeconds != nil {
		if *req.DurationSeconds <= 0 {
			return runner.RunConfig{}, errors.New("duration_seconds must be > 0")
		}
		duration = time.Duration(*req.DurationSeconds * float64(time.Second))
	}
	threads := s.loadTest.Threads
	if req.ThreadCount != nil {
		threads = *req.ThreadCount
	}
	if threads > maxAPIThreads {
		return runner.RunConfig{}, fmt.Errorf("thread_count must be <= %d", maxAPIThreads)
	}
	rawTarget := s.loadTest.Target
	if req.Target != nil && strings.TrimSpace(*req.Target) != "" {
		rawTarget = *req.Target
	}
	target, err := runner.ParseTarget(rawTarget)
	if err != nil {
		return runner.RunConfig{}, err
	}

	cfg := runner.RunConfig{Duration: duration, Threads: threads, Target: target}
	if err := cfg.Validate(); err != nil {
		return runner.RunConfig{}, err
	}
	return cfg, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, ok := output.ReportFromState(s.controller.Snapshot())
	if !ok {
		writeError(w, http.StatusConflict, "no finished load test to report")
		return
	}
	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, report); err != nil {
		s.logger.Error("render report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
