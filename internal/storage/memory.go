package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"drainwatch/internal/errs"
	"drainwatch/internal/models"
)

// MemoryStore is an in-process Store used by tests and local development.
// A single mutex serializes the multi-entity operations, which makes the
// worker claim and the resolve-and-release unit trivially atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []models.SensorReading
	manholes map[string]models.Manhole
	alerts   map[string]models.Alert
	workers  map[string]models.Worker
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manholes: make(map[string]models.Manhole),
		alerts:   make(map[string]models.Alert),
		workers:  make(map[string]models.Worker),
	}
}

func (s *MemoryStore) CreateReading(ctx context.Context, reading *models.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}
	reading.CreatedAt = time.Now().UTC()
	s.readings = append(s.readings, *reading)
	return nil
}

func (s *MemoryStore) ReadingsByManhole(ctx context.Context, manholeID string, f ReadingFilter) ([]models.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SensorReading
	for _, r := range s.readings {
		if r.ManholeID != manholeID {
			continue
		}
		if f.Status != "" && r.Severity != f.Status {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	sortNewestFirst(out)
	return capLimit(out, f.Limit), nil
}

func (s *MemoryStore) CriticalReadings(ctx context.Context, since time.Time, limit int) ([]models.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SensorReading
	for _, r := range s.readings {
		if r.Severity == models.SeverityCritical && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return capLimit(out, limit), nil
}

func (s *MemoryStore) LatestReadings(ctx context.Context, limit int) ([]models.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SensorReading, len(s.readings))
	copy(out, s.readings)
	sortNewestFirst(out)
	return capLimit(out, limit), nil
}

func (s *MemoryStore) ReadingsSince(ctx context.Context, since time.Time, manholeID string) ([]models.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SensorReading
	for _, r := range s.readings {
		if r.Timestamp.Before(since) {
			continue
		}
		if manholeID != "" && r.ManholeID != manholeID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) PurgeReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.readings[:0]
	var deleted int64
	for _, r := range s.readings {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.readings = kept
	return deleted, nil
}

func (s *MemoryStore) CreateManhole(ctx context.Context, manhole *models.Manhole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if manhole.ID == "" {
		manhole.ID = uuid.NewString()
	}
	if manhole.Status == "" {
		manhole.Status = models.ManholeStatusOperational
	}
	manhole.CreatedAt = time.Now().UTC()
	manhole.UpdatedAt = manhole.CreatedAt
	s.manholes[manhole.ID] = *manhole
	return nil
}

func (s *MemoryStore) ManholeByID(ctx context.Context, id string) (*models.Manhole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.manholes[id]
	if !ok {
		return nil, errs.NotFound("manhole", id)
	}
	return &m, nil
}

func (s *MemoryStore) MarkManholeAttention(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manholes[id]
	if !ok {
		return errs.NotFound("manhole", id)
	}
	m.Status = models.ManholeStatusNeedsAttention
	m.LastInspection = &at
	m.UpdatedAt = time.Now().UTC()
	s.manholes[id] = m
	return nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	alert.CreatedAt = time.Now().UTC()
	alert.UpdatedAt = alert.CreatedAt
	s.alerts[alert.ID] = cloneAlert(*alert)
	return nil
}

func (s *MemoryStore) AlertByID(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, errs.NotFound("alert", id)
	}
	out := cloneAlert(a)
	return &out, nil
}

func (s *MemoryStore) Alerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Alert
	for _, a := range s.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Type != "" && a.AlertType != f.Type {
			continue
		}
		if f.Level != "" && a.AlertLevel != f.Level {
			continue
		}
		if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, alert *models.Alert, releaseWorkerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[alert.ID]; !ok {
		return errs.NotFound("alert", alert.ID)
	}
	if releaseWorkerID != "" {
		w, ok := s.workers[releaseWorkerID]
		if !ok {
			return errs.NotFound("worker", releaseWorkerID)
		}
		w.Availability = models.AvailabilityAvailable
		w.UpdatedAt = time.Now().UTC()
		s.workers[releaseWorkerID] = w
	}
	alert.UpdatedAt = time.Now().UTC()
	s.alerts[alert.ID] = cloneAlert(*alert)
	return nil
}

func (s *MemoryStore) CreateWorker(ctx context.Context, worker *models.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if worker.ID == "" {
		worker.ID = uuid.NewString()
	}
	if worker.Role == "" {
		worker.Role = models.RoleWorker
	}
	if worker.Availability == "" {
		worker.Availability = models.AvailabilityAvailable
	}
	if worker.LastActive.IsZero() {
		worker.LastActive = time.Now().UTC()
	}
	worker.CreatedAt = time.Now().UTC()
	worker.UpdatedAt = worker.CreatedAt
	s.workers[worker.ID] = cloneWorker(*worker)
	return nil
}

func (s *MemoryStore) WorkerByID(ctx context.Context, id string) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, errs.NotFound("worker", id)
	}
	out := cloneWorker(w)
	return &out, nil
}

func (s *MemoryStore) AvailableWorkers(ctx context.Context) ([]models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Worker
	for _, w := range s.workers {
		if w.Role == models.RoleWorker && w.Availability == models.AvailabilityAvailable {
			out = append(out, cloneWorker(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

func (s *MemoryStore) BindWorker(ctx context.Context, alertID, workerID string, action models.AlertAction, task models.Assignment) (*models.Alert, *models.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, nil, errs.NotFound("alert", alertID)
	}
	worker, ok := s.workers[workerID]
	if !ok {
		return nil, nil, errs.NotFound("worker", workerID)
	}
	// The compare-and-set: a worker already claimed by a concurrent dispatch
	// loses here, under the same lock that granted the winner.
	if worker.Availability != models.AvailabilityAvailable {
		return nil, nil, ErrWorkerUnavailable
	}

	now := time.Now().UTC()
	worker.Availability = models.AvailabilityBusy
	worker.Assignments = append(worker.Assignments, task)
	worker.UpdatedAt = now

	alert.Status = models.AlertStatusAssigned
	alert.AssignedWorkerID = worker.ID
	alert.Actions = append(alert.Actions, action)
	alert.UpdatedAt = now

	s.workers[workerID] = cloneWorker(worker)
	s.alerts[alertID] = cloneAlert(alert)

	outAlert := cloneAlert(alert)
	outWorker := cloneWorker(worker)
	return &outAlert, &outWorker, nil
}

func cloneAlert(a models.Alert) models.Alert {
	actions := make([]models.AlertAction, len(a.Actions))
	copy(actions, a.Actions)
	a.Actions = actions
	return a
}

func cloneWorker(w models.Worker) models.Worker {
	assignments := make([]models.Assignment, len(w.Assignments))
	copy(assignments, w.Assignments)
	w.Assignments = assignments
	return w
}

func sortNewestFirst(readings []models.SensorReading) {
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.After(readings[j].Timestamp)
	})
}

func capLimit(readings []models.SensorReading, limit int) []models.SensorReading {
	if limit > 0 && len(readings) > limit {
		return readings[:limit]
	}
	return readings
}
