package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"drainwatch/internal/alerts"
	"drainwatch/internal/analytics"
	"drainwatch/internal/dispatch"
	"drainwatch/internal/ingest"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

func newTestAPI(store storage.Store, secret string) *API {
	manager := alerts.NewManager(store, dispatch.New(store), nil)
	pipeline := ingest.New(ingest.Config{Shards: 1, QueueSize: 8}, store, manager, nil, nil, nil)
	return New(Config{
		Store:      store,
		Pipeline:   pipeline,
		Manager:    manager,
		Aggregator: analytics.New(store),
		JWTSecret:  secret,
	})
}

func seedManhole(t *testing.T, store storage.Store, id string) {
	t.Helper()
	if err := store.CreateManhole(context.Background(), &models.Manhole{ID: id, Code: id}); err != nil {
		t.Fatalf("CreateManhole: %v", err)
	}
}

func seedWorker(t *testing.T, store storage.Store, name string) *models.Worker {
	t.Helper()
	worker := &models.Worker{
		Name:         name,
		Role:         models.RoleWorker,
		Availability: models.AvailabilityAvailable,
		LastActive:   time.Now().UTC(),
	}
	if err := store.CreateWorker(context.Background(), worker); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	return worker
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return env
}

func TestCreateReadingEndpoint(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, "").Router()

	rec := doJSON(t, router, http.MethodPost, "/api/readings", map[string]any{
		"manholeId": "MH-001",
		"timestamp": time.Now().UTC(),
		"sensors":   map[string]float64{"sewageLevel": 1.8, "methaneLevel": 450, "flowRate": 0.15},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("success = false: %s", env.Message)
	}

	var reading models.SensorReading
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &reading); err != nil {
		t.Fatalf("decode reading: %v", err)
	}
	if reading.Severity != models.SeverityWarning {
		t.Errorf("severity = %s, want warning", reading.Severity)
	}
}

func TestCreateReadingUnknownManhole(t *testing.T) {
	t.Parallel()

	router := newTestAPI(storage.NewMemoryStore(), "").Router()
	rec := doJSON(t, router, http.MethodPost, "/api/readings", map[string]any{
		"manholeId": "MH-ghost",
		"sensors":   map[string]float64{"flowRate": 0.5},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestManholeReadingsFilters(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	api := newTestAPI(store, "")
	router := api.Router()

	for _, sewage := range []float64{1.0, 5.0} {
		rec := doJSON(t, router, http.MethodPost, "/api/readings", map[string]any{
			"manholeId": "MH-001",
			"sensors":   map[string]float64{"sewageLevel": sewage, "methaneLevel": 100, "flowRate": 0.5},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed reading: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/manholes/MH-001/readings?status=critical", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Count == nil || *env.Count != 1 {
		t.Fatalf("count = %v, want 1 critical", env.Count)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/manholes/MH-001/readings?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status filter: %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/manholes/MH-ghost/readings", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown manhole: %d, want 404", rec.Code)
	}
}

type fakeLastReader struct {
	reading *models.SensorReading
}

func (f *fakeLastReader) Last(ctx context.Context, manholeID string) (*models.SensorReading, error) {
	if f.reading == nil || f.reading.ManholeID != manholeID {
		return nil, fmt.Errorf("cache miss")
	}
	return f.reading, nil
}

func TestManholeLatestReadingCacheAndFallback(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	api := newTestAPI(store, "")
	cached := &models.SensorReading{
		ID:        "cached-reading",
		ManholeID: "MH-001",
		Timestamp: time.Now().UTC(),
		Severity:  models.SeverityNormal,
	}
	api.lastReader = &fakeLastReader{reading: cached}
	router := api.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/manholes/MH-001/readings/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var reading models.SensorReading
	raw, _ := json.Marshal(decodeEnvelope(t, rec).Data)
	if err := json.Unmarshal(raw, &reading); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reading.ID != "cached-reading" {
		t.Fatalf("reading id = %q, want cache hit", reading.ID)
	}

	// Miss falls back to the store, which is empty: 404.
	api.lastReader = &fakeLastReader{}
	rec = doJSON(t, router, http.MethodGet, "/api/manholes/MH-001/readings/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("fallback with empty store: %d, want 404", rec.Code)
	}

	// Store fallback serves the newest persisted reading on a miss.
	recSeed := doJSON(t, router, http.MethodPost, "/api/readings", map[string]any{
		"manholeId": "MH-001",
		"sensors":   map[string]float64{"sewageLevel": 1, "methaneLevel": 100, "flowRate": 0.5},
	})
	if recSeed.Code != http.StatusCreated {
		t.Fatalf("seed: %d", recSeed.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/manholes/MH-001/readings/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback: %d", rec.Code)
	}
}

func TestCriticalReadingsEmptyWindowIs404(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, "").Router()

	rec := doJSON(t, router, http.MethodGet, "/api/readings/critical", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 with no critical readings", rec.Code)
	}
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	worker := seedWorker(t, store, "Asha")
	router := newTestAPI(store, "").Router()

	// Create a critical alert; the worker is dispatched automatically.
	rec := doJSON(t, router, http.MethodPost, "/api/alerts", map[string]any{
		"manholeId":  "MH-001",
		"alertType":  "gas_leak",
		"alertLevel": "critical",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var alert models.Alert
	raw, _ := json.Marshal(decodeEnvelope(t, rec).Data)
	if err := json.Unmarshal(raw, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.Status != models.AlertStatusAssigned {
		t.Fatalf("status = %s, want assigned", alert.Status)
	}

	// Move to in_progress.
	rec = doJSON(t, router, http.MethodPatch, "/api/alerts/"+alert.ID+"/status", map[string]any{
		"status":   "in_progress",
		"workerId": worker.ID,
		"notes":    "on site",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status: %d %s", rec.Code, rec.Body.String())
	}

	// Resolution notes.
	rec = doJSON(t, router, http.MethodPost, "/api/alerts/"+alert.ID+"/resolution", map[string]any{
		"workerId": worker.ID,
		"notes":    "vent cleared",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolution: %d %s", rec.Code, rec.Body.String())
	}

	// Resolve; worker becomes available again.
	rec = doJSON(t, router, http.MethodPatch, "/api/alerts/"+alert.ID+"/status", map[string]any{
		"status":   "resolved",
		"workerId": worker.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}
	got, err := store.WorkerByID(context.Background(), worker.ID)
	if err != nil {
		t.Fatalf("WorkerByID: %v", err)
	}
	if got.Availability != models.AvailabilityAvailable {
		t.Fatalf("worker availability = %s, want available", got.Availability)
	}

	// Fetch the alert and check the action log grew.
	rec = doJSON(t, router, http.MethodGet, "/api/alerts/"+alert.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	raw, _ = json.Marshal(decodeEnvelope(t, rec).Data)
	if err := json.Unmarshal(raw, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	// assigned + status_update x2 + resolution_notes
	if len(alert.Actions) != 4 {
		t.Fatalf("actions = %d, want 4", len(alert.Actions))
	}
}

func TestStatusUpdateWithoutWorkerIs409(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, "").Router()

	rec := doJSON(t, router, http.MethodPost, "/api/alerts", map[string]any{
		"manholeId":  "MH-001",
		"alertType":  "blockage",
		"alertLevel": "medium",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	var alert models.Alert
	raw, _ := json.Marshal(decodeEnvelope(t, rec).Data)
	if err := json.Unmarshal(raw, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}

	rec = doJSON(t, router, http.MethodPatch, "/api/alerts/"+alert.ID+"/status", map[string]any{
		"status": "in_progress",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCriticalAlertWithNoWorkersStillCreated(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, "").Router()

	rec := doJSON(t, router, http.MethodPost, "/api/alerts", map[string]any{
		"manholeId":  "MH-001",
		"alertType":  "gas_leak",
		"alertLevel": "critical",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 even with no workers", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "alert created, no available workers found" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestAssignEndpointNoWorkersIs503(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, "").Router()

	rec := doJSON(t, router, http.MethodPost, "/api/alerts", map[string]any{
		"manholeId":  "MH-001",
		"alertType":  "blockage",
		"alertLevel": "high",
	})
	var alert models.Alert
	raw, _ := json.Marshal(decodeEnvelope(t, rec).Data)
	if err := json.Unmarshal(raw, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/alerts/"+alert.ID+"/assign", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, "").Router()

	rec := doJSON(t, router, http.MethodPost, "/api/readings", map[string]any{
		"manholeId": "MH-001",
		"sensors":   map[string]float64{"sewageLevel": 1.5, "methaneLevel": 100, "flowRate": 0.5},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed reading: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/analytics?metric=sewageLevel&period=6h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/analytics?metric=sewageLevel&period=6h&manholeId=MH-empty", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no data: %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/analytics?metric=pressure&period=6h", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad metric: %d, want 400", rec.Code)
	}
}

func TestAuthGuardsMutatingRoutes(t *testing.T) {
	t.Parallel()

	const secret = "test-secret"
	store := storage.NewMemoryStore()
	seedManhole(t, store, "MH-001")
	router := newTestAPI(store, secret).Router()

	body := map[string]any{
		"manholeId":  "MH-001",
		"alertType":  "gas_leak",
		"alertLevel": "low",
	}

	rec := doJSON(t, router, http.MethodPost, "/api/alerts", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d, want 401", rec.Code)
	}

	// Reads stay open.
	rec = doJSON(t, router, http.MethodGet, "/api/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read with no token: %d, want 200", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/alerts", &buf)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", signed))
	recOK := httptest.NewRecorder()
	router.ServeHTTP(recOK, req)
	if recOK.Code != http.StatusCreated {
		t.Fatalf("with token: %d, want 201 (body %s)", recOK.Code, recOK.Body.String())
	}
}

func TestHealthAndStats(t *testing.T) {
	t.Parallel()

	router := newTestAPI(storage.NewMemoryStore(), "").Router()

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
}
