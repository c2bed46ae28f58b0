package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drainwatch/internal/dispatch"
	"drainwatch/internal/errs"
	"drainwatch/internal/events"
	"drainwatch/internal/logger"
	"drainwatch/internal/metrics"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

// Manager owns the alert lifecycle: creation, status transitions, assignment
// and resolution notes. It is the only component that mutates alerts; every
// mutation appends to the append-only action log.
type Manager struct {
	store      storage.Store
	dispatcher *dispatch.Dispatcher
	events     events.Publisher
}

// NewManager wires the lifecycle manager.
func NewManager(store storage.Store, dispatcher *dispatch.Dispatcher, publisher events.Publisher) *Manager {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Manager{store: store, dispatcher: dispatcher, events: publisher}
}

// CreateRequest carries the fields for a new alert. Description and
// Timestamp are optional.
type CreateRequest struct {
	ManholeID   string            `json:"manholeId"`
	SensorID    string            `json:"sensorId,omitempty"`
	AlertType   models.AlertType  `json:"alertType"`
	AlertLevel  models.AlertLevel `json:"alertLevel"`
	Description string            `json:"description,omitempty"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
}

// Create validates and persists a new open alert. Critical alerts trigger an
// immediate dispatch attempt. When dispatch finds no claimable worker the
// alert is still returned alongside errs.ErrNoAvailableWorker: the alert
// exists and stays open, only the assignment failed.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Alert, error) {
	if req.ManholeID == "" {
		return nil, errs.Validationf("manholeId", "manhole id is required")
	}
	if !req.AlertType.IsValid() {
		return nil, errs.Validationf("alertType", "invalid alert type %q", req.AlertType)
	}
	if !req.AlertLevel.IsValid() {
		return nil, errs.Validationf("alertLevel", "invalid alert level %q", req.AlertLevel)
	}

	if _, err := m.store.ManholeByID(ctx, req.ManholeID); err != nil {
		return nil, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = models.DefaultDescription(req.AlertType)
	}
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	alert := &models.Alert{
		ManholeID:   req.ManholeID,
		SensorID:    req.SensorID,
		AlertType:   req.AlertType,
		AlertLevel:  req.AlertLevel,
		Description: description,
		Timestamp:   timestamp,
		Status:      models.AlertStatusOpen,
	}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.AlertType), string(alert.AlertLevel)).Inc()
	log := logger.WithComponent("alerts")
	log.Info().
		Str("alert_id", alert.ID).
		Str("manhole_id", alert.ManholeID).
		Str("alert_type", string(alert.AlertType)).
		Str("alert_level", string(alert.AlertLevel)).
		Msg("alert created")
	m.publish(ctx, alert)

	if alert.AlertLevel != models.AlertLevelCritical {
		return alert, nil
	}

	boundAlert, _, err := m.dispatcher.Assign(ctx, alert.ID, "")
	if err != nil {
		// The alert is persisted either way; the caller decides how to
		// surface the failed dispatch.
		return alert, err
	}
	m.publish(ctx, boundAlert)
	return boundAlert, nil
}

// Assign binds a worker to the alert through the dispatcher. When workerID
// is empty the dispatcher selects one. Alerts that already carry a worker
// are not reassigned.
func (m *Manager) Assign(ctx context.Context, alertID, workerID string) (*models.Alert, *models.Worker, error) {
	alert, err := m.store.AlertByID(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}
	if alert.AssignedWorkerID != "" {
		return nil, nil, errs.Statef("alert is already assigned to worker %s", alert.AssignedWorkerID)
	}
	if alert.Status == models.AlertStatusResolved || alert.Status == models.AlertStatusClosed {
		return nil, nil, errs.Statef("cannot assign a %s alert", alert.Status)
	}

	boundAlert, boundWorker, err := m.dispatcher.Assign(ctx, alertID, workerID)
	if err != nil {
		return nil, nil, err
	}
	metrics.AlertTransitionsTotal.WithLabelValues(string(models.AlertStatusAssigned)).Inc()
	m.publish(ctx, boundAlert)
	return boundAlert, boundWorker, nil
}

// statusOrder ranks lifecycle states. Transitions must move strictly
// forward; repeats and backward steps are rejected.
var statusOrder = map[models.AlertStatus]int{
	models.AlertStatusOpen:       0,
	models.AlertStatusAssigned:   1,
	models.AlertStatusInProgress: 2,
	models.AlertStatusResolved:   3,
	models.AlertStatusClosed:     4,
}

// UpdateStatus transitions the alert forward and appends a status_update
// action. Any status other than open requires an assigned worker. Moving
// into resolved releases the worker in the same atomic store operation, so
// the worker is claimable again the moment the alert reads as resolved; the
// forward-only rule guarantees the release fires at most once per alert.
func (m *Manager) UpdateStatus(ctx context.Context, alertID string, newStatus models.AlertStatus, workerID, notes string) (*models.Alert, error) {
	if !newStatus.IsValid() {
		return nil, errs.Validationf("status", "invalid status %q", newStatus)
	}

	alert, err := m.store.AlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.AlertStatusClosed {
		return nil, errs.Statef("alert is closed and cannot change status")
	}
	if statusOrder[newStatus] <= statusOrder[alert.Status] {
		return nil, errs.Statef("cannot change status from %s to %s", alert.Status, newStatus)
	}
	if newStatus != models.AlertStatusOpen && alert.AssignedWorkerID == "" {
		return nil, errs.Statef("alert must be assigned before status update")
	}

	note := strings.TrimSpace(fmt.Sprintf("Status changed to %s. %s", newStatus, notes))
	alert.Status = newStatus
	alert.Actions = append(alert.Actions, models.AlertAction{
		WorkerID:  workerID,
		Action:    models.ActionStatusUpdate,
		Notes:     note,
		Timestamp: time.Now().UTC(),
	})

	releaseWorkerID := ""
	if newStatus == models.AlertStatusResolved {
		releaseWorkerID = alert.AssignedWorkerID
	}
	if err := m.store.UpdateAlert(ctx, alert, releaseWorkerID); err != nil {
		return nil, err
	}

	metrics.AlertTransitionsTotal.WithLabelValues(string(newStatus)).Inc()
	log := logger.WithComponent("alerts")
	log.Info().
		Str("alert_id", alert.ID).
		Str("status", string(newStatus)).
		Msg("alert status updated")
	m.publish(ctx, alert)
	return alert, nil
}

// AddResolutionNotes overwrites the alert's resolution notes and appends a
// resolution_notes action. Notes are free text but must be non-empty.
func (m *Manager) AddResolutionNotes(ctx context.Context, alertID, workerID, notes string) (*models.Alert, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, errs.Validationf("resolutionNotes", "resolution notes are required")
	}

	alert, err := m.store.AlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	alert.ResolutionNotes = notes
	alert.Actions = append(alert.Actions, models.AlertAction{
		WorkerID:  workerID,
		Action:    models.ActionResolutionNotes,
		Notes:     "Resolution notes added",
		Timestamp: time.Now().UTC(),
	})
	if err := m.store.UpdateAlert(ctx, alert, ""); err != nil {
		return nil, err
	}
	m.publish(ctx, alert)
	return alert, nil
}

// Get returns one alert by id.
func (m *Manager) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	return m.store.AlertByID(ctx, alertID)
}

// List returns alerts matching the filter, newest first.
func (m *Manager) List(ctx context.Context, f storage.AlertFilter) ([]models.Alert, error) {
	return m.store.Alerts(ctx, f)
}

func (m *Manager) publish(ctx context.Context, alert *models.Alert) {
	event := events.Event{
		Type:      events.TypeAlert,
		Timestamp: time.Now().UTC(),
		Payload:   alert,
	}
	if err := m.events.Publish(ctx, event); err != nil {
		log := logger.WithComponent("alerts")
		log.Warn().Err(err).
			Str("alert_id", alert.ID).
			Msg("alert event publish failed")
	}
}
