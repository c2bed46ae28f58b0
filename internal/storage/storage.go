package storage

import (
	"context"
	"errors"
	"time"

	"drainwatch/internal/models"
)

// ErrWorkerUnavailable is returned by BindWorker when the compare-and-set
// claim on the worker's availability is lost. Callers fall through to the
// next candidate.
var ErrWorkerUnavailable = errors.New("worker is not available")

// ReadingFilter narrows reading queries.
type ReadingFilter struct {
	// Status filters by derived severity when non-empty.
	Status models.Severity
	// Since bounds the time range when non-zero.
	Since time.Time
	// Limit caps the result count when positive.
	Limit int
}

// AlertFilter narrows alert queries.
type AlertFilter struct {
	Status models.AlertStatus
	Type   models.AlertType
	Level  models.AlertLevel
	// Since bounds the time range when non-zero.
	Since time.Time
}

// Store is the persistence collaborator. It owns ID generation, indexing and
// referential lookups; the two multi-entity operations (BindWorker,
// UpdateAlert with a worker release) are atomic in every implementation.
type Store interface {
	// Readings. Results are ordered newest first.
	CreateReading(ctx context.Context, reading *models.SensorReading) error
	ReadingsByManhole(ctx context.Context, manholeID string, f ReadingFilter) ([]models.SensorReading, error)
	CriticalReadings(ctx context.Context, since time.Time, limit int) ([]models.SensorReading, error)
	LatestReadings(ctx context.Context, limit int) ([]models.SensorReading, error)
	// ReadingsSince returns readings at or after since, oldest first,
	// optionally restricted to one manhole. Used by analytics.
	ReadingsSince(ctx context.Context, since time.Time, manholeID string) ([]models.SensorReading, error)
	// PurgeReadingsBefore deletes readings older than cutoff and reports how
	// many were removed.
	PurgeReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Manholes.
	CreateManhole(ctx context.Context, manhole *models.Manhole) error
	ManholeByID(ctx context.Context, id string) (*models.Manhole, error)
	// MarkManholeAttention flips the manhole to needs_attention and stamps
	// its last inspection time.
	MarkManholeAttention(ctx context.Context, id string, at time.Time) error

	// Alerts. Alerts are never deleted.
	CreateAlert(ctx context.Context, alert *models.Alert) error
	AlertByID(ctx context.Context, id string) (*models.Alert, error)
	Alerts(ctx context.Context, f AlertFilter) ([]models.Alert, error)
	// UpdateAlert persists the mutated alert. When releaseWorkerID is
	// non-empty the named worker's availability is set back to available in
	// the same atomic unit, so no reader ever observes a resolved alert with
	// a busy former worker.
	UpdateAlert(ctx context.Context, alert *models.Alert, releaseWorkerID string) error

	// Workers.
	CreateWorker(ctx context.Context, worker *models.Worker) error
	WorkerByID(ctx context.Context, id string) (*models.Worker, error)
	// AvailableWorkers returns workers with role worker and availability
	// available, most recently active first.
	AvailableWorkers(ctx context.Context) ([]models.Worker, error)
	// BindWorker atomically claims the worker (compare-and-set on
	// availability, available to busy), binds it to the alert, appends the
	// action-log entry and the worker assignment. Returns
	// ErrWorkerUnavailable when the claim is lost to a concurrent dispatch.
	BindWorker(ctx context.Context, alertID, workerID string, action models.AlertAction, task models.Assignment) (*models.Alert, *models.Worker, error)
}
