// Package api serves the monitor listing, teardown and metrics over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/setevik/eventwatch/internal/monitor"
	"github.com/setevik/eventwatch/internal/reporter"
)

// Controller is the part of *monitor.Controller the API drives.
type Controller interface {
	ListActiveMonitors() []monitor.MonitorInfo
	StopAllMonitors() error
	StopHost(host string) error
}

// Server routes the HTTP endpoints.
type Server struct {
	r        *chi.Mux
	ctrl     Controller
	sink     *monitor.AlertSink
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer builds the router. sink and gatherer may be nil, which disables
// /alerts, /digest and /metrics respectively.
func NewServer(ctrl Controller, sink *monitor.AlertSink, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		r:        chi.NewRouter(),
		ctrl:     ctrl,
		sink:     sink,
		gatherer: gatherer,
		logger:   logger,
		now:      time.Now,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(s.logRequests)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	s.r.Get("/monitors", s.listMonitors)
	s.r.Delete("/monitors", s.stopAll)
	s.r.Delete("/monitors/{host}", s.stopHost)

	if s.sink != nil {
		s.r.Get("/alerts", s.listAlerts)
		s.r.Get("/digest", s.digest)
	}
	if s.gatherer != nil {
		s.r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) Handler() http.Handler { return s.r }

type monitorView struct {
	SubscriptionID string    `json:"subscription_id"`
	Host           string    `json:"host"`
	Handle         string    `json:"handle"`
	Filter         string    `json:"filter"`
	Persistent     bool      `json:"persistent"`
	Started        time.Time `json:"started"`
}

func (s *Server) listMonitors(w http.ResponseWriter, r *http.Request) {
	infos := s.ctrl.ListActiveMonitors()
	out := make([]monitorView, 0, len(infos))
	for _, m := range infos {
		v := monitorView{
			SubscriptionID: m.SubscriptionID,
			Host:           m.Host,
			Filter:         m.Filter,
			Persistent:     m.Persistent,
			Started:        m.Started,
		}
		if m.Handle != nil {
			v.Handle = m.Handle.ID()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type stopResult struct {
	Stopped  bool              `json:"stopped"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (s *Server) stopAll(w http.ResponseWriter, r *http.Request) {
	s.writeStop(w, s.ctrl.StopAllMonitors())
}

func (s *Server) stopHost(w http.ResponseWriter, r *http.Request) {
	s.writeStop(w, s.ctrl.StopHost(chi.URLParam(r, "host")))
}

// writeStop reports a partial teardown as 207 with one entry per failed
// subscription.
func (s *Server) writeStop(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, stopResult{Stopped: true})
		return
	}

	var te *monitor.TeardownError
	if !errors.As(err, &te) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	res := stopResult{Failures: make(map[string]string, len(te.Failures))}
	for id, ferr := range te.Failures {
		res.Failures[id] = ferr.Error()
	}
	writeJSON(w, http.StatusMultiStatus, res)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sink.Events())
}

// digest summarises collected alerts over ?window= (default 24h).
func (s *Server) digest(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}

	until := s.now()
	since := until.Add(-window)
	body := reporter.FormatDigest(reporter.BuildDigest(s.sink.Events(), since, until))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(body))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
