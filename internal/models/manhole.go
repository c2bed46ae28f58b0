package models

import "time"

// Manhole statuses tracked by the monitor. Inventory management lives
// elsewhere; the pipeline only flips a manhole to needs_attention when a
// critical reading arrives.
const (
	ManholeStatusOperational    = "operational"
	ManholeStatusNeedsAttention = "needs_attention"
)

// Manhole is a monitored infrastructure access point.
type Manhole struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code           string     `json:"code" gorm:"uniqueIndex;type:varchar(32)"`
	Address        string     `json:"address,omitempty"`
	Zone           string     `json:"zone,omitempty" gorm:"type:varchar(32)"`
	InstalledDate  *time.Time `json:"installedDate,omitempty"`
	LastInspection *time.Time `json:"lastInspection,omitempty"`
	Status         string     `json:"status" gorm:"type:varchar(32)"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
