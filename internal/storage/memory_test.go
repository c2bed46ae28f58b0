package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drainwatch/internal/errs"
	"drainwatch/internal/models"
)

func seedAlertAndWorker(t *testing.T, s *MemoryStore) (*models.Alert, *models.Worker) {
	t.Helper()
	ctx := context.Background()
	alert := &models.Alert{
		ManholeID:  "MH-001",
		AlertType:  models.AlertTypeGasLeak,
		AlertLevel: models.AlertLevelCritical,
		Timestamp:  time.Now().UTC(),
		Status:     models.AlertStatusOpen,
	}
	if err := s.CreateAlert(ctx, alert); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	worker := &models.Worker{
		Name:         "Asha",
		Role:         models.RoleWorker,
		Availability: models.AvailabilityAvailable,
		LastActive:   time.Now().UTC(),
	}
	if err := s.CreateWorker(ctx, worker); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	return alert, worker
}

func TestBindWorkerClaimsAtomically(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	alert, worker := seedAlertAndWorker(t, s)
	ctx := context.Background()

	action := models.AlertAction{WorkerID: worker.ID, Action: models.ActionAssigned, Timestamp: time.Now().UTC()}
	task := models.Assignment{ManholeID: alert.ManholeID, Task: "Address gas_leak alert", Date: time.Now().UTC()}

	boundAlert, boundWorker, err := s.BindWorker(ctx, alert.ID, worker.ID, action, task)
	if err != nil {
		t.Fatalf("BindWorker: %v", err)
	}
	if boundAlert.Status != models.AlertStatusAssigned || boundAlert.AssignedWorkerID != worker.ID {
		t.Fatalf("alert = %+v", boundAlert)
	}
	if boundWorker.Availability != models.AvailabilityBusy {
		t.Fatalf("worker availability = %s", boundWorker.Availability)
	}

	// Second claim on the same worker loses.
	if _, _, err := s.BindWorker(ctx, alert.ID, worker.ID, action, task); !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("second claim err = %v, want ErrWorkerUnavailable", err)
	}
}

func TestBindWorkerConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	alert, worker := seedAlertAndWorker(t, s)
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			action := models.AlertAction{WorkerID: worker.ID, Action: models.ActionAssigned, Timestamp: time.Now().UTC()}
			task := models.Assignment{ManholeID: alert.ManholeID, Task: "Address gas_leak alert", Date: time.Now().UTC()}
			_, _, err := s.BindWorker(ctx, alert.ID, worker.ID, action, task)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrWorkerUnavailable) {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	got, err := s.WorkerByID(ctx, worker.ID)
	if err != nil {
		t.Fatalf("WorkerByID: %v", err)
	}
	if len(got.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(got.Assignments))
	}
}

func TestUpdateAlertReleasesWorker(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	alert, worker := seedAlertAndWorker(t, s)
	ctx := context.Background()

	action := models.AlertAction{WorkerID: worker.ID, Action: models.ActionAssigned, Timestamp: time.Now().UTC()}
	task := models.Assignment{ManholeID: alert.ManholeID, Task: "Address gas_leak alert", Date: time.Now().UTC()}
	boundAlert, _, err := s.BindWorker(ctx, alert.ID, worker.ID, action, task)
	if err != nil {
		t.Fatalf("BindWorker: %v", err)
	}

	boundAlert.Status = models.AlertStatusResolved
	if err := s.UpdateAlert(ctx, boundAlert, worker.ID); err != nil {
		t.Fatalf("UpdateAlert: %v", err)
	}

	got, err := s.WorkerByID(ctx, worker.ID)
	if err != nil {
		t.Fatalf("WorkerByID: %v", err)
	}
	if got.Availability != models.AvailabilityAvailable {
		t.Fatalf("availability = %s, want available", got.Availability)
	}

	stored, err := s.AlertByID(ctx, boundAlert.ID)
	if err != nil {
		t.Fatalf("AlertByID: %v", err)
	}
	if stored.Status != models.AlertStatusResolved {
		t.Fatalf("status = %s, want resolved", stored.Status)
	}
}

func TestAvailableWorkersOrderAndFilter(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(name string, role models.Role, avail models.Availability, active time.Time) string {
		w := &models.Worker{Name: name, Role: role, Availability: avail, LastActive: active}
		if err := s.CreateWorker(ctx, w); err != nil {
			t.Fatalf("CreateWorker: %v", err)
		}
		return w.ID
	}

	old := mk("Old", models.RoleWorker, models.AvailabilityAvailable, now.Add(-3*time.Hour))
	recent := mk("Recent", models.RoleWorker, models.AvailabilityAvailable, now.Add(-time.Minute))
	mk("Admin", models.RoleAdmin, models.AvailabilityAvailable, now)
	mk("Busy", models.RoleWorker, models.AvailabilityBusy, now)
	mk("Offline", models.RoleWorker, models.AvailabilityOffline, now)

	workers, err := s.AvailableWorkers(ctx)
	if err != nil {
		t.Fatalf("AvailableWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("len = %d, want 2", len(workers))
	}
	if workers[0].ID != recent || workers[1].ID != old {
		t.Fatalf("order = [%s %s], want most recently active first", workers[0].Name, workers[1].Name)
	}
}

func TestPurgeReadingsBefore(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{time.Hour, 40 * 24 * time.Hour, 31 * 24 * time.Hour} {
		r := &models.SensorReading{
			ManholeID:  "MH-001",
			Timestamp:  now.Add(-age),
			Thresholds: models.DefaultThresholds(),
			Severity:   models.SeverityNormal,
		}
		if err := s.CreateReading(ctx, r); err != nil {
			t.Fatalf("CreateReading: %v", err)
		}
	}

	deleted, err := s.PurgeReadingsBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeReadingsBefore: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	remaining, err := s.LatestReadings(ctx, 0)
	if err != nil {
		t.Fatalf("LatestReadings: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("remaining = %d, want 1", len(remaining))
	}
}

func TestReadingQueriesFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(manholeID string, age time.Duration, sev models.Severity) {
		r := &models.SensorReading{
			ManholeID:  manholeID,
			Timestamp:  now.Add(-age),
			Thresholds: models.DefaultThresholds(),
			Severity:   sev,
		}
		if err := s.CreateReading(ctx, r); err != nil {
			t.Fatalf("CreateReading: %v", err)
		}
	}
	add("MH-001", 3*time.Hour, models.SeverityNormal)
	add("MH-001", time.Hour, models.SeverityCritical)
	add("MH-002", 2*time.Hour, models.SeverityCritical)

	byManhole, err := s.ReadingsByManhole(ctx, "MH-001", ReadingFilter{})
	if err != nil {
		t.Fatalf("ReadingsByManhole: %v", err)
	}
	if len(byManhole) != 2 {
		t.Fatalf("len = %d, want 2", len(byManhole))
	}
	if !byManhole[0].Timestamp.After(byManhole[1].Timestamp) {
		t.Fatal("not ordered newest first")
	}

	critical, err := s.CriticalReadings(ctx, now.Add(-24*time.Hour), 0)
	if err != nil {
		t.Fatalf("CriticalReadings: %v", err)
	}
	if len(critical) != 2 {
		t.Fatalf("critical = %d, want 2", len(critical))
	}

	since, err := s.ReadingsSince(ctx, now.Add(-150*time.Minute), "")
	if err != nil {
		t.Fatalf("ReadingsSince: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("since = %d, want 2", len(since))
	}
	if !since[0].Timestamp.Before(since[1].Timestamp) {
		t.Fatal("ReadingsSince not ordered oldest first")
	}

	latest, err := s.LatestReadings(ctx, 2)
	if err != nil {
		t.Fatalf("LatestReadings: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest = %d, want limit 2", len(latest))
	}
}

func TestNotFoundErrors(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.ManholeByID(ctx, "nope"); !errs.IsNotFound(err) {
		t.Errorf("manhole err = %v", err)
	}
	if _, err := s.AlertByID(ctx, "nope"); !errs.IsNotFound(err) {
		t.Errorf("alert err = %v", err)
	}
	if _, err := s.WorkerByID(ctx, "nope"); !errs.IsNotFound(err) {
		t.Errorf("worker err = %v", err)
	}
	if err := s.MarkManholeAttention(ctx, "nope", time.Now()); !errs.IsNotFound(err) {
		t.Errorf("mark err = %v", err)
	}
}
