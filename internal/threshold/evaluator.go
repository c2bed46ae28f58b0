package threshold

import "drainwatch/internal/models"

// Alert-type tags produced by evaluation. Critical tags map onto the closed
// alert-type enum when an alert is raised; warning tags only annotate the
// reading.
const (
	TagGasLeak        = "gas_leak"
	TagHighSewage     = "high_sewage"
	TagBlockageRisk   = "blockage_risk"
	TagMethaneWarning = "methane_warning"
	TagSewageWarning  = "sewage_warning"
	TagFlowWarning    = "flow_warning"
)

// Result is the outcome of classifying one reading.
type Result struct {
	Severity models.Severity
	Tags     []string
}

// IsCritical reports whether any critical condition fired.
func (r Result) IsCritical() bool {
	return r.Severity == models.SeverityCritical
}

// Evaluate classifies a reading's channel values against a threshold set.
// Stateless and deterministic: identical inputs always yield identical output.
//
// Critical conditions are checked first, in fixed order; if any fires the
// severity is critical and warning checks are skipped. Warnings use half
// thresholds (double for minimum flow). All comparisons are strict, so
// boundary values do not trigger.
func Evaluate(sensors models.SensorChannels, thresholds models.ThresholdSet) Result {
	var critical []string
	if sensors.MethaneLevel > thresholds.MaxGas {
		critical = append(critical, TagGasLeak)
	}
	if sensors.SewageLevel > thresholds.MaxSewage {
		critical = append(critical, TagHighSewage)
	}
	if sensors.FlowRate < thresholds.MinFlow {
		critical = append(critical, TagBlockageRisk)
	}
	if len(critical) > 0 {
		return Result{Severity: models.SeverityCritical, Tags: critical}
	}

	var warnings []string
	if sensors.MethaneLevel > thresholds.MaxGas/2 {
		warnings = append(warnings, TagMethaneWarning)
	}
	if sensors.SewageLevel > thresholds.MaxSewage/2 {
		warnings = append(warnings, TagSewageWarning)
	}
	if sensors.FlowRate < thresholds.MinFlow*2 {
		warnings = append(warnings, TagFlowWarning)
	}
	if len(warnings) > 0 {
		return Result{Severity: models.SeverityWarning, Tags: warnings}
	}

	return Result{Severity: models.SeverityNormal}
}

// AlertTypeForTag maps a critical evaluation tag onto the closed alert-type
// enum. The second return is false for warning tags, which never raise alerts.
func AlertTypeForTag(tag string) (models.AlertType, bool) {
	switch tag {
	case TagGasLeak:
		return models.AlertTypeGasLeak, true
	case TagHighSewage:
		return models.AlertTypeSewageOverflow, true
	case TagBlockageRisk:
		return models.AlertTypeBlockage, true
	default:
		return "", false
	}
}
