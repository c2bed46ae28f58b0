package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"drainwatch/internal/errs"
	"drainwatch/internal/models"
)

// MySQLStore persists entities through gorm. The worker claim and the
// resolve-and-release unit run inside transactions; the claim itself is a
// guarded UPDATE checked via RowsAffected, so concurrent dispatch attempts
// race safely with exactly one winner per worker.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore opens the database and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errs.Persistence("open", err)
	}

	if err := db.AutoMigrate(
		&models.SensorReading{},
		&models.Manhole{},
		&models.Alert{},
		&models.Worker{},
	); err != nil {
		return nil, errs.Persistence("migrate", err)
	}

	return &MySQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *MySQLStore) CreateReading(ctx context.Context, reading *models.SensorReading) error {
	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(reading).Error; err != nil {
		return errs.Persistence("create reading", err)
	}
	return nil
}

func (s *MySQLStore) ReadingsByManhole(ctx context.Context, manholeID string, f ReadingFilter) ([]models.SensorReading, error) {
	q := s.db.WithContext(ctx).Where("manhole_id = ?", manholeID)
	if f.Status != "" {
		q = q.Where("severity = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.SensorReading
	if err := q.Order("timestamp DESC").Find(&out).Error; err != nil {
		return nil, errs.Persistence("list readings", err)
	}
	return out, nil
}

func (s *MySQLStore) CriticalReadings(ctx context.Context, since time.Time, limit int) ([]models.SensorReading, error) {
	q := s.db.WithContext(ctx).
		Where("severity = ? AND timestamp >= ?", models.SeverityCritical, since).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.SensorReading
	if err := q.Find(&out).Error; err != nil {
		return nil, errs.Persistence("list critical readings", err)
	}
	return out, nil
}

func (s *MySQLStore) LatestReadings(ctx context.Context, limit int) ([]models.SensorReading, error) {
	q := s.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.SensorReading
	if err := q.Find(&out).Error; err != nil {
		return nil, errs.Persistence("list latest readings", err)
	}
	return out, nil
}

func (s *MySQLStore) ReadingsSince(ctx context.Context, since time.Time, manholeID string) ([]models.SensorReading, error) {
	q := s.db.WithContext(ctx).Where("timestamp >= ?", since)
	if manholeID != "" {
		q = q.Where("manhole_id = ?", manholeID)
	}
	var out []models.SensorReading
	if err := q.Order("timestamp ASC").Find(&out).Error; err != nil {
		return nil, errs.Persistence("list readings since", err)
	}
	return out, nil
}

func (s *MySQLStore) PurgeReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SensorReading{})
	if res.Error != nil {
		return 0, errs.Persistence("purge readings", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *MySQLStore) CreateManhole(ctx context.Context, manhole *models.Manhole) error {
	if manhole.ID == "" {
		manhole.ID = uuid.NewString()
	}
	if manhole.Status == "" {
		manhole.Status = models.ManholeStatusOperational
	}
	if err := s.db.WithContext(ctx).Create(manhole).Error; err != nil {
		return errs.Persistence("create manhole", err)
	}
	return nil
}

func (s *MySQLStore) ManholeByID(ctx context.Context, id string) (*models.Manhole, error) {
	var m models.Manhole
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("manhole", id)
	}
	if err != nil {
		return nil, errs.Persistence("get manhole", err)
	}
	return &m, nil
}

func (s *MySQLStore) MarkManholeAttention(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Manhole{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          models.ManholeStatusNeedsAttention,
			"last_inspection": at,
		})
	if res.Error != nil {
		return errs.Persistence("mark manhole", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("manhole", id)
	}
	return nil
}

func (s *MySQLStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return errs.Persistence("create alert", err)
	}
	return nil
}

func (s *MySQLStore) AlertByID(ctx context.Context, id string) (*models.Alert, error) {
	var a models.Alert
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("alert", id)
	}
	if err != nil {
		return nil, errs.Persistence("get alert", err)
	}
	return &a, nil
}

func (s *MySQLStore) Alerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	q := s.db.WithContext(ctx)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("alert_type = ?", f.Type)
	}
	if f.Level != "" {
		q = q.Where("alert_level = ?", f.Level)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	var out []models.Alert
	if err := q.Order("timestamp DESC").Find(&out).Error; err != nil {
		return nil, errs.Persistence("list alerts", err)
	}
	return out, nil
}

func (s *MySQLStore) UpdateAlert(ctx context.Context, alert *models.Alert, releaseWorkerID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(alert).Error; err != nil {
			return err
		}
		if releaseWorkerID == "" {
			return nil
		}
		res := tx.Model(&models.Worker{}).
			Where("id = ?", releaseWorkerID).
			Update("availability", models.AvailabilityAvailable)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("worker", releaseWorkerID)
		}
		return nil
	})
	if err != nil && !errs.IsNotFound(err) {
		return errs.Persistence("update alert", err)
	}
	return err
}

func (s *MySQLStore) CreateWorker(ctx context.Context, worker *models.Worker) error {
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
	if err := s.db.WithContext(ctx).Create(worker).Error; err != nil {
		return errs.Persistence("create worker", err)
	}
	return nil
}

func (s *MySQLStore) WorkerByID(ctx context.Context, id string) (*models.Worker, error) {
	var w models.Worker
	err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("worker", id)
	}
	if err != nil {
		return nil, errs.Persistence("get worker", err)
	}
	return &w, nil
}

func (s *MySQLStore) AvailableWorkers(ctx context.Context) ([]models.Worker, error) {
	var out []models.Worker
	err := s.db.WithContext(ctx).
		Where("role = ? AND availability = ?", models.RoleWorker, models.AvailabilityAvailable).
		Order("last_active DESC").
		Find(&out).Error
	if err != nil {
		return nil, errs.Persistence("list available workers", err)
	}
	return out, nil
}

func (s *MySQLStore) BindWorker(ctx context.Context, alertID, workerID string, action models.AlertAction, task models.Assignment) (*models.Alert, *models.Worker, error) {
	var alert models.Alert
	var worker models.Worker

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guarded claim: only one concurrent transaction can flip
		// available to busy for this worker.
		res := tx.Model(&models.Worker{}).
			Where("id = ? AND availability = ?", workerID, models.AvailabilityAvailable).
			Update("availability", models.AvailabilityBusy)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&models.Worker{}, "id = ?", workerID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("worker", workerID)
			}
			return ErrWorkerUnavailable
		}

		if err := tx.First(&worker, "id = ?", workerID).Error; err != nil {
			return err
		}
		worker.Assignments = append(worker.Assignments, task)
		if err := tx.Model(&worker).Update("assignments", worker.Assignments).Error; err != nil {
			return err
		}

		if err := tx.First(&alert, "id = ?", alertID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("alert", alertID)
			}
			return err
		}
		alert.Status = models.AlertStatusAssigned
		alert.AssignedWorkerID = worker.ID
		alert.Actions = append(alert.Actions, action)
		return tx.Save(&alert).Error
	})
	if err != nil {
		if errors.Is(err, ErrWorkerUnavailable) || errs.IsNotFound(err) {
			return nil, nil, err
		}
		return nil, nil, errs.Persistence("bind worker", err)
	}
	return &alert, &worker, nil
}
