package models

import (
	"strings"
	"time"
)

// AlertType is the closed incident category enum.
type AlertType string

const (
	AlertTypeSewageOverflow      AlertType = "sewage_overflow"
	AlertTypeGasLeak             AlertType = "gas_leak"
	AlertTypeBlockage            AlertType = "blockage"
	AlertTypeSensorFailure       AlertType = "sensor_failure"
	AlertTypeMaintenanceRequired AlertType = "maintenance_required"
)

// AlertTypes lists every valid alert type, in declaration order.
func AlertTypes() []AlertType {
	return []AlertType{
		AlertTypeSewageOverflow,
		AlertTypeGasLeak,
		AlertTypeBlockage,
		AlertTypeSensorFailure,
		AlertTypeMaintenanceRequired,
	}
}

// IsValid checks if the alert type is a known value.
func (t AlertType) IsValid() bool {
	switch t {
	case AlertTypeSewageOverflow, AlertTypeGasLeak, AlertTypeBlockage,
		AlertTypeSensorFailure, AlertTypeMaintenanceRequired:
		return true
	default:
		return false
	}
}

// AlertLevel is the closed incident urgency enum, set at creation.
type AlertLevel string

const (
	AlertLevelLow      AlertLevel = "low"
	AlertLevelMedium   AlertLevel = "medium"
	AlertLevelHigh     AlertLevel = "high"
	AlertLevelCritical AlertLevel = "critical"
)

// IsValid checks if the alert level is a known value.
func (l AlertLevel) IsValid() bool {
	switch l {
	case AlertLevelLow, AlertLevelMedium, AlertLevelHigh, AlertLevelCritical:
		return true
	default:
		return false
	}
}

// AlertStatus is the lifecycle state machine position.
type AlertStatus string

const (
	AlertStatusOpen       AlertStatus = "open"
	AlertStatusAssigned   AlertStatus = "assigned"
	AlertStatusInProgress AlertStatus = "in_progress"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusClosed     AlertStatus = "closed"
)

// IsValid checks if the status is a known value.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusAssigned, AlertStatusInProgress,
		AlertStatusResolved, AlertStatusClosed:
		return true
	default:
		return false
	}
}

// Action kinds recorded in the alert action log.
const (
	ActionAssigned        = "assigned"
	ActionStatusUpdate    = "status_update"
	ActionResolutionNotes = "resolution_notes"
)

// AlertAction is one append-only action-log entry, ordered by call time.
type AlertAction struct {
	WorkerID  string    `json:"workerId,omitempty"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is a tracked incident with a lifecycle. Created on detection or
// manual report; mutated only through the lifecycle manager; never deleted,
// only transitioned to closed.
type Alert struct {
	ID               string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ManholeID        string        `json:"manholeId" gorm:"index;type:varchar(36)"`
	SensorID         string        `json:"sensorId,omitempty" gorm:"type:varchar(36)"`
	AlertType        AlertType     `json:"alertType" gorm:"index;type:varchar(32)"`
	AlertLevel       AlertLevel    `json:"alertLevel" gorm:"index;type:varchar(16)"`
	Description      string        `json:"description"`
	Timestamp        time.Time     `json:"timestamp" gorm:"index"`
	Status           AlertStatus   `json:"status" gorm:"index;type:varchar(16)"`
	AssignedWorkerID string        `json:"assignedWorkerId,omitempty" gorm:"type:varchar(36)"`
	Actions          []AlertAction `json:"actions" gorm:"serializer:json"`
	ResolutionNotes  string        `json:"resolutionNotes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// DefaultDescription derives the human description used when the caller
// supplies none, e.g. "gas leak detected".
func DefaultDescription(t AlertType) string {
	return strings.ReplaceAll(string(t), "_", " ") + " detected"
}
