package models

import (
	"time"

	"drainwatch/internal/errs"
)

// Severity classifies one reading against its thresholds.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityNormal, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// ThresholdSet holds the numeric limits a reading is classified against.
// Supplied per reading or defaulted. Immutable once attached to a reading.
type ThresholdSet struct {
	MaxSewage float64 `json:"maxSewage" gorm:"column:max_sewage"`
	MaxGas    float64 `json:"maxGas" gorm:"column:max_gas"`
	MinFlow   float64 `json:"minFlow" gorm:"column:min_flow"`
}

// DefaultThresholds returns the limits used when a reading carries none.
// Sewage level in meters, gas in ppm, flow in m/s.
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		MaxSewage: 2.5,
		MaxGas:    1000,
		MinFlow:   0.1,
	}
}

// Validate checks that all limits are non-negative.
func (t ThresholdSet) Validate() error {
	if t.MaxSewage < 0 {
		return errs.Validationf("maxSewage", "must be non-negative")
	}
	if t.MaxGas < 0 {
		return errs.Validationf("maxGas", "must be non-negative")
	}
	if t.MinFlow < 0 {
		return errs.Validationf("minFlow", "must be non-negative")
	}
	return nil
}

// SensorChannels is the fixed set of named numeric channels in one sample.
// Temperature, humidity and battery are optional on older sensor firmware.
type SensorChannels struct {
	SewageLevel  float64  `json:"sewageLevel"`
	MethaneLevel float64  `json:"methaneLevel"`
	FlowRate     float64  `json:"flowRate"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
}

// SensorReading is one telemetry sample of a manhole. Immutable once
// persisted: severity and alert types are derived from (channels, thresholds)
// at evaluation time and never mutated afterwards.
type SensorReading struct {
	ID              string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ManholeID       string         `json:"manholeId" gorm:"index;type:varchar(36)"`
	Timestamp       time.Time      `json:"timestamp" gorm:"index"`
	Sensors         SensorChannels `json:"sensors" gorm:"embedded;embeddedPrefix:sensor_"`
	Thresholds      ThresholdSet   `json:"thresholds" gorm:"embedded"`
	LastCalibration *time.Time     `json:"lastCalibration,omitempty"`
	Severity        Severity       `json:"status" gorm:"index;type:varchar(16)"`
	AlertTypes      []string       `json:"alertTypes" gorm:"serializer:json"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Validate checks the reading before evaluation and persistence.
func (r *SensorReading) Validate() error {
	if r.ManholeID == "" {
		return errs.Validationf("manholeId", "cannot be empty")
	}
	if r.Timestamp.IsZero() {
		return errs.Validationf("timestamp", "cannot be zero")
	}
	return r.Thresholds.Validate()
}

// Metric names one analyzable sensor channel.
type Metric string

const (
	MetricSewageLevel  Metric = "sewageLevel"
	MetricMethaneLevel Metric = "methaneLevel"
	MetricFlowRate     Metric = "flowRate"
	MetricTemperature  Metric = "temperature"
)

// IsValid checks if the metric is one of the analyzable channels.
func (m Metric) IsValid() bool {
	switch m {
	case MetricSewageLevel, MetricMethaneLevel, MetricFlowRate, MetricTemperature:
		return true
	default:
		return false
	}
}

// MetricValue extracts the channel named by m. The second return is false
// when the channel is optional and absent from this reading.
func (r *SensorReading) MetricValue(m Metric) (float64, bool) {
	switch m {
	case MetricSewageLevel:
		return r.Sensors.SewageLevel, true
	case MetricMethaneLevel:
		return r.Sensors.MethaneLevel, true
	case MetricFlowRate:
		return r.Sensors.FlowRate, true
	case MetricTemperature:
		if r.Sensors.Temperature == nil {
			return 0, false
		}
		return *r.Sensors.Temperature, true
	default:
		return 0, false
	}
}
