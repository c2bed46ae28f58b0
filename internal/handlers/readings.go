package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"drainwatch/internal/errs"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

const (
	defaultManholeLimit  = 100
	defaultCriticalLimit = 50
	defaultLatestLimit   = 20
	maxLimit             = 1000
)

// CreateReading accepts one reading over HTTP and runs it through the same
// pipeline as MQTT telemetry. The response carries the evaluated reading.
func (a *API) CreateReading(w http.ResponseWriter, r *http.Request) {
	var reading models.SensorReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
		return
	}

	processed, err := a.pipeline.Process(r.Context(), &reading)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "reading recorded", processed)
}

// ManholeReadings returns readings for one manhole, newest first.
func (a *API) ManholeReadings(w http.ResponseWriter, r *http.Request) {
	manholeID := chi.URLParam(r, "manholeID")
	if _, err := a.store.ManholeByID(r.Context(), manholeID); err != nil {
		writeError(w, err)
		return
	}

	f := storage.ReadingFilter{Limit: queryLimit(r, "limit", defaultManholeLimit)}
	if status := r.URL.Query().Get("status"); status != "" {
		sev := models.Severity(status)
		if !sev.IsValid() {
			writeError(w, errs.Validationf("status", "invalid status %q", status))
			return
		}
		f.Status = sev
	}
	if hours, ok, err := queryHours(r, "timeRange"); err != nil {
		writeError(w, err)
		return
	} else if ok {
		f.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	readings, err := a.store.ReadingsByManhole(r.Context(), manholeID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, http.StatusOK, len(readings), readings)
}

// CriticalReadings returns critical readings within the window, 404 when the
// window holds none.
func (a *API) CriticalReadings(w http.ResponseWriter, r *http.Request) {
	hours, ok, err := queryHours(r, "hours")
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		hours = 24
	}
	limit := queryLimit(r, "limit", defaultCriticalLimit)

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	readings, err := a.store.CriticalReadings(r.Context(), since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(readings) == 0 {
		writeJSON(w, http.StatusNotFound, envelope{
			Success: false,
			Message: "no critical readings found in the specified time range",
		})
		return
	}
	writeList(w, http.StatusOK, len(readings), readings)
}

// ManholeLatestReading returns the manhole's most recent reading, served
// from the cache when it holds one and falling back to the store on a miss.
func (a *API) ManholeLatestReading(w http.ResponseWriter, r *http.Request) {
	manholeID := chi.URLParam(r, "manholeID")
	if _, err := a.store.ManholeByID(r.Context(), manholeID); err != nil {
		writeError(w, err)
		return
	}

	if a.lastReader != nil {
		if reading, err := a.lastReader.Last(r.Context(), manholeID); err == nil {
			writeData(w, http.StatusOK, reading)
			return
		}
	}

	readings, err := a.store.ReadingsByManhole(r.Context(), manholeID, storage.ReadingFilter{Limit: 1})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(readings) == 0 {
		writeError(w, errs.NotFound("reading", manholeID))
		return
	}
	writeData(w, http.StatusOK, readings[0])
}

// LatestReadings returns the most recent readings across all manholes.
func (a *API) LatestReadings(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, "limit", defaultLatestLimit)
	readings, err := a.store.LatestReadings(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, http.StatusOK, len(readings), readings)
}

// queryLimit parses a positive limit, falling back to def and capping at
// maxLimit.
func queryLimit(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// queryHours parses an hour-count query parameter. The second return is
// false when the parameter is absent.
func queryHours(r *http.Request, key string) (int, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, false, errs.Validationf(key, "must be a positive integer")
	}
	return hours, true, nil
}
