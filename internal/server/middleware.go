package server

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// probeRoute is hit by every load-test probe, so its access log stays at
// Debug.
const probeRoute = "/predict"

// instrument records an access log line and request metrics. Routes are
// labelled by their mux template so /api/sentiment/{topic} stays one series.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		route := routeTemplate(r)
		s.metrics.ObserveHTTP(route, m.Code, m.Duration)
		level := zapcore.InfoLevel
		if route == probeRoute {
			level = zapcore.DebugLevel
		}
		ce := s.logger.Check(level, "http request")
		if ce == nil {
			return
		}
		ce.Write(
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Int64("bytes", m.Written),
			zap.Duration("elapsed", m.Duration),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
