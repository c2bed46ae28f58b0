package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"drainwatch/internal/alerts"
	"drainwatch/internal/errs"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

// CreateAlert records a manually reported alert. Critical alerts dispatch a
// worker immediately; when none is available the alert is still created and
// the response says so.
func (a *API) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alerts.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
		return
	}

	alert, err := a.manager.Create(r.Context(), req)
	if errors.Is(err, errs.ErrNoAvailableWorker) {
		writeMessage(w, http.StatusCreated, "alert created, no available workers found", alert)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "alert created", alert)
}

// ListAlerts returns alerts matching the query filters, newest first.
func (a *API) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AlertFilter{}

	if status := q.Get("status"); status != "" {
		s := models.AlertStatus(status)
		if !s.IsValid() {
			writeError(w, errs.Validationf("status", "invalid status %q", status))
			return
		}
		f.Status = s
	}
	if alertType := q.Get("alertType"); alertType != "" {
		t := models.AlertType(alertType)
		if !t.IsValid() {
			writeError(w, errs.Validationf("alertType", "invalid alert type %q", alertType))
			return
		}
		f.Type = t
	}
	if level := q.Get("alertLevel"); level != "" {
		l := models.AlertLevel(level)
		if !l.IsValid() {
			writeError(w, errs.Validationf("alertLevel", "invalid alert level %q", level))
			return
		}
		f.Level = l
	}
	if hours, ok, err := queryHours(r, "timeRange"); err != nil {
		writeError(w, err)
		return
	} else if ok {
		f.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	list, err := a.manager.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, http.StatusOK, len(list), list)
}

// GetAlert returns one alert with its full action log.
func (a *API) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.manager.Get(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, alert)
}

// UpdateAlertStatus transitions an alert's lifecycle status.
func (a *API) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status   models.AlertStatus `json:"status"`
		WorkerID string             `json:"workerId"`
		Notes    string             `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
		return
	}

	alert, err := a.manager.UpdateStatus(r.Context(), chi.URLParam(r, "alertID"), req.Status, req.WorkerID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "alert status updated", alert)
}

// AddResolutionNotes attaches resolution notes to an alert.
func (a *API) AddResolutionNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"workerId"`
		Notes    string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
		return
	}

	alert, err := a.manager.AddResolutionNotes(r.Context(), chi.URLParam(r, "alertID"), req.WorkerID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "resolution notes added", alert)
}

// AssignAlert manually dispatches a worker to an alert. With no workerId in
// the body the dispatcher picks the most recently active available worker.
func (a *API) AssignAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"workerId"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Validationf("body", "invalid JSON: %v", err))
			return
		}
	}

	alert, worker, err := a.manager.Assign(r.Context(), chi.URLParam(r, "alertID"), req.WorkerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "alert assigned to "+worker.Name, alert)
}
