package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drainwatch/internal/errs"
	"drainwatch/internal/logger"
	"drainwatch/internal/metrics"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

// Dispatcher selects an available worker and binds it to an alert. It is the
// sole writer that flips worker availability to busy; the claim is a
// compare-and-set executed by the store, so two concurrent critical alerts
// can never bind the same worker.
type Dispatcher struct {
	store storage.Store
}

// New creates a dispatcher over the given store.
func New(store storage.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Assign binds a worker to the alert. When workerID is given, that specific
// worker is claimed; the availability check is not bypassed. When omitted,
// candidates with role worker and availability available are tried most
// recently active first, each through the store's compare-and-set; losers of
// a concurrent claim fall through to the next candidate.
//
// Returns errs.ErrNoAvailableWorker when no worker could be claimed. That is
// a recoverable condition: the alert stays open and unassigned.
func (d *Dispatcher) Assign(ctx context.Context, alertID, workerID string) (*models.Alert, *models.Worker, error) {
	log := logger.WithComponent("dispatcher")

	alert, err := d.store.AlertByID(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}

	var candidates []models.Worker
	if workerID != "" {
		worker, err := d.store.WorkerByID(ctx, workerID)
		if err != nil {
			return nil, nil, err
		}
		candidates = []models.Worker{*worker}
	} else {
		candidates, err = d.store.AvailableWorkers(ctx)
		if err != nil {
			metrics.DispatchAttemptsTotal.WithLabelValues("failed").Inc()
			return nil, nil, err
		}
	}

	for _, candidate := range candidates {
		now := time.Now().UTC()
		action := models.AlertAction{
			WorkerID:  candidate.ID,
			Action:    models.ActionAssigned,
			Notes:     fmt.Sprintf("Alert assigned to %s", candidate.Name),
			Timestamp: now,
		}
		task := models.Assignment{
			ManholeID: alert.ManholeID,
			Task:      fmt.Sprintf("Address %s alert", alert.AlertType),
			Date:      now,
		}

		boundAlert, boundWorker, err := d.store.BindWorker(ctx, alert.ID, candidate.ID, action, task)
		if errors.Is(err, storage.ErrWorkerUnavailable) {
			// Lost the claim to a concurrent dispatch; try the next one.
			log.Debug().
				Str("alert_id", alert.ID).
				Str("worker_id", candidate.ID).
				Msg("worker claim lost, trying next candidate")
			continue
		}
		if err != nil {
			metrics.DispatchAttemptsTotal.WithLabelValues("failed").Inc()
			return nil, nil, err
		}

		metrics.DispatchAttemptsTotal.WithLabelValues("assigned").Inc()
		log.Info().
			Str("alert_id", boundAlert.ID).
			Str("worker_id", boundWorker.ID).
			Str("worker_name", boundWorker.Name).
			Msg("worker assigned to alert")
		return boundAlert, boundWorker, nil
	}

	metrics.DispatchAttemptsTotal.WithLabelValues("no_worker").Inc()
	log.Warn().
		Str("alert_id", alert.ID).
		Str("alert_type", string(alert.AlertType)).
		Msg("no available workers for alert")
	return nil, nil, errs.ErrNoAvailableWorker
}
