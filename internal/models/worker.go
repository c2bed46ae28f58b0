package models

import "time"

// Role is a user's role in the system.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleWorker  Role = "worker"
	RoleManager Role = "manager"
)

// IsValid checks if the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleWorker, RoleManager:
		return true
	default:
		return false
	}
}

// Availability is a worker's dispatch availability.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

// IsValid checks if the availability is a known value.
func (a Availability) IsValid() bool {
	switch a {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityOffline:
		return true
	default:
		return false
	}
}

// Assignment is one append-only entry in a worker's assignment list.
type Assignment struct {
	ManholeID string    `json:"manholeId"`
	Task      string    `json:"task"`
	Date      time.Time `json:"date"`
}

// Worker is a field operative eligible for dispatch. Availability is written
// only by the dispatcher (to busy) and by the lifecycle manager (back to
// available on alert resolution).
type Worker struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone,omitempty"`
	Email        string       `json:"email,omitempty"`
	Role         Role         `json:"role" gorm:"index;type:varchar(16)"`
	Availability Availability `json:"availability" gorm:"index;type:varchar(16)"`
	LastActive   time.Time    `json:"lastActive"`
	Assignments  []Assignment `json:"assignments" gorm:"serializer:json"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
