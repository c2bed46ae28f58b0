package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drainwatch/internal/alerts"
	"drainwatch/internal/analytics"
	"drainwatch/internal/errs"
	"drainwatch/internal/ingest"
	"drainwatch/internal/middleware"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
	"drainwatch/internal/ws"
)

// StatsFunc returns component counters for the /stats endpoint.
type StatsFunc func() map[string]any

// LastReader serves the cached latest reading for one manhole.
type LastReader interface {
	Last(ctx context.Context, manholeID string) (*models.SensorReading, error)
}

// API holds the HTTP handler set and its collaborators.
type API struct {
	store      storage.Store
	pipeline   *ingest.Pipeline
	manager    *alerts.Manager
	aggregator *analytics.Aggregator
	hub        *ws.Hub
	stats      StatsFunc
	lastReader LastReader
	jwtSecret  string
}

// Config wires an API. Hub, Stats and LastReader may be nil.
type Config struct {
	Store      storage.Store
	Pipeline   *ingest.Pipeline
	Manager    *alerts.Manager
	Aggregator *analytics.Aggregator
	Hub        *ws.Hub
	Stats      StatsFunc
	LastReader LastReader
	JWTSecret  string
}

// New creates the API handler set.
func New(cfg Config) *API {
	return &API{
		store:      cfg.Store,
		pipeline:   cfg.Pipeline,
		manager:    cfg.Manager,
		aggregator: cfg.Aggregator,
		hub:        cfg.Hub,
		stats:      cfg.Stats,
		lastReader: cfg.LastReader,
		jwtSecret:  cfg.JWTSecret,
	}
}

// Router assembles the chi router with logging, recovery and auth.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	r.Get("/health", a.Health)
	r.Get("/stats", a.Stats)
	r.Handle("/metrics", promhttp.Handler())
	if a.hub != nil {
		r.Get("/ws", a.hub.ServeWS)
	}

	auth := middleware.Auth(a.jwtSecret)

	r.Route("/api", func(r chi.Router) {
		r.Get("/manholes/{manholeID}/readings", a.ManholeReadings)
		r.Get("/manholes/{manholeID}/readings/latest", a.ManholeLatestReading)
		r.Get("/readings/critical", a.CriticalReadings)
		r.Get("/readings/latest", a.LatestReadings)
		r.Get("/analytics", a.Analytics)
		r.Get("/alerts", a.ListAlerts)
		r.Get("/alerts/{alertID}", a.GetAlert)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/readings", a.CreateReading)
			r.Post("/manholes", a.CreateManhole)
			r.Post("/workers", a.CreateWorker)
			r.Post("/alerts", a.CreateAlert)
			r.Patch("/alerts/{alertID}/status", a.UpdateAlertStatus)
			r.Post("/alerts/{alertID}/resolution", a.AddResolutionNotes)
			r.Post("/alerts/{alertID}/assign", a.AssignAlert)
		})
	})

	return r
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports component counters.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if a.stats != nil {
		body = a.stats()
	} else if a.pipeline != nil {
		body["ingest"] = a.pipeline.Stats()
	}
	writeData(w, http.StatusOK, body)
}

// Analytics runs a time-bucketed aggregation over stored readings.
func (a *API) Analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period := q.Get("period")
	if period == "" {
		period = "24h"
	}
	report, err := a.aggregator.Aggregate(r.Context(), analytics.Query{
		ManholeID: q.Get("manholeId"),
		Metric:    models.Metric(q.Get("metric")),
		Period:    period,
		GroupBy:   analytics.GroupBy(q.Get("groupBy")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// CreateManhole registers a monitored manhole.
func (a *API) CreateManhole(w http.ResponseWriter, r *http.Request) {
	var manhole models.Manhole
	if err := json.NewDecoder(r.Body).Decode(&manhole); err != nil {
		writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
		return
	}
	if manhole.Code == "" {
		writeError(w, errs.Validationf("code", "manhole code is required"))
		return
	}
	if err := a.store.CreateManhole(r.Context(), &manhole); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "manhole created", manhole)
}

// CreateWorker registers a dispatchable worker.
func (a *API) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var worker models.Worker
	if err := json.NewDecoder(r.Body).Decode(&worker); err != nil {
		writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
		return
	}
	if worker.Name == "" {
		writeError(w, errs.Validationf("name", "worker name is required"))
		return
	}
	if worker.Role != "" && !worker.Role.IsValid() {
		writeError(w, errs.Validationf("role", "invalid role %q", worker.Role))
		return
	}
	if worker.Availability != "" && !worker.Availability.IsValid() {
		writeError(w, errs.Validationf("availability", "invalid availability %q", worker.Availability))
		return
	}
	if err := a.store.CreateWorker(r.Context(), &worker); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "worker created", worker)
}
