// Package domain contains core business entities and types for thyroid
// function panel interpretation and retrieval-augmented differential diagnosis.
//
// Reference ranges and interpretation patterns follow common clinical
// laboratory practice for the thyroid axis (TSH, free T4, free T3, and
// thyroid autoantibodies).
package domain

import (
	"errors"
)

// AnalyteCategory classifies a measured lab value against its reference range.
type AnalyteCategory string

const (
	CategoryLow      AnalyteCategory = "low"
	CategoryNormal   AnalyteCategory = "normal"
	CategoryHigh     AnalyteCategory = "high"
	CategoryCritical AnalyteCategory = "critical"
	// CategoryUnknown marks analytes absent from the panel. Absent analytes
	// must never silently count as normal in downstream rule evaluation.
	CategoryUnknown AnalyteCategory = "unknown"
)

// AxisPattern is the coarse clinical categorization of thyroid-axis behavior
// derived deterministically from analyte categories. It is the rule-based
// backbone that keeps reports grounded even when the generative step fails.
type AxisPattern string

const (
	PatternPrimaryHypo           AxisPattern = "primary-hypo"
	PatternPrimaryHyper          AxisPattern = "primary-hyper"
	PatternSubclinicalHypo       AxisPattern = "subclinical-hypo"
	PatternSubclinicalHyper      AxisPattern = "subclinical-hyper"
	PatternCentralHypo           AxisPattern = "central-hypo"
	PatternAutoimmuneSubclinical AxisPattern = "autoimmune-subclinical-or-evolving-hypo"
	PatternEuthyroidAntibodies   AxisPattern = "euthyroid-with-antibodies"
	PatternEuthyroid             AxisPattern = "euthyroid"
	PatternIndeterminate         AxisPattern = "indeterminate"
)

// ThyroidStatus is the overall functional status label carried by a report.
type ThyroidStatus string

const (
	StatusNormal           ThyroidStatus = "normal"
	StatusHyperthyroid     ThyroidStatus = "hyperthyroid"
	StatusHypothyroid      ThyroidStatus = "hypothyroid"
	StatusSubclinicalHyper ThyroidStatus = "subclinical-hyperthyroid"
	StatusSubclinicalHypo  ThyroidStatus = "subclinical-hypothyroid"
	StatusCentralHypo      ThyroidStatus = "central-hypothyroid"
	StatusIndeterminate    ThyroidStatus = "indeterminate"
)

// ReportConfidence flags whether a report came out of the full synthesis path
// or degraded to the deterministic rule-only fallback.
type ReportConfidence string

const (
	ConfidenceNormal ReportConfidence = "normal"
	ConfidenceLow    ReportConfidence = "low_confidence"
)

// Validation errors for clinical data integrity
var (
	ErrInvalidCategory   = errors.New("invalid analyte category")
	ErrInvalidPattern    = errors.New("invalid axis pattern")
	ErrInvalidStatus     = errors.New("invalid thyroid status")
	ErrInvalidConfidence = errors.New("invalid report confidence")
)

// IsValid reports whether the category is one of the known values.
func (c AnalyteCategory) IsValid() bool {
	switch c {
	case CategoryLow, CategoryNormal, CategoryHigh, CategoryCritical, CategoryUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the category.
func (c AnalyteCategory) String() string {
	return string(c)
}

// Abnormal reports whether the category counts as outside the reference range.
func (c AnalyteCategory) Abnormal() bool {
	return c == CategoryLow || c == CategoryHigh || c == CategoryCritical
}

// Elevated reports whether the category is above range, at any severity.
func (c AnalyteCategory) Elevated() bool {
	return c == CategoryHigh || c == CategoryCritical
}

// IsValid reports whether the axis pattern is one of the enumerated values.
func (p AxisPattern) IsValid() bool {
	switch p {
	case PatternPrimaryHypo, PatternPrimaryHyper, PatternSubclinicalHypo,
		PatternSubclinicalHyper, PatternCentralHypo, PatternAutoimmuneSubclinical,
		PatternEuthyroidAntibodies, PatternEuthyroid, PatternIndeterminate:
		return true
	default:
		return false
	}
}

// String returns the string representation of the axis pattern.
func (p AxisPattern) String() string {
	return string(p)
}

// Confident reports whether the pattern is specific enough to anchor a
// fallback report and to flag discrepancies with the generative backend.
func (p AxisPattern) Confident() bool {
	return p.IsValid() && p != PatternIndeterminate
}

// Status maps an axis pattern to the thyroid status label it implies.
// Used for the deterministic fallback report and for discrepancy checks
// against the generative backend's top candidate.
func (p AxisPattern) Status() ThyroidStatus {
	switch p {
	case PatternPrimaryHypo:
		return StatusHypothyroid
	case PatternPrimaryHyper:
		return StatusHyperthyroid
	case PatternSubclinicalHypo, PatternAutoimmuneSubclinical:
		return StatusSubclinicalHypo
	case PatternSubclinicalHyper:
		return StatusSubclinicalHyper
	case PatternCentralHypo:
		return StatusCentralHypo
	case PatternEuthyroid, PatternEuthyroidAntibodies:
		return StatusNormal
	default:
		return StatusIndeterminate
	}
}

// LogFields returns structured logging fields for audit trails.
func (p AxisPattern) LogFields() map[string]any {
	return map[string]any{
		"axis_pattern": string(p),
		"status":       string(p.Status()),
		"confident":    p.Confident(),
	}
}

// IsValid reports whether the thyroid status is one of the enumerated values.
func (s ThyroidStatus) IsValid() bool {
	switch s {
	case StatusNormal, StatusHyperthyroid, StatusHypothyroid,
		StatusSubclinicalHyper, StatusSubclinicalHypo, StatusCentralHypo,
		StatusIndeterminate:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s ThyroidStatus) String() string {
	return string(s)
}

// Hypothyroid reports whether the status leans toward thyroid underactivity.
func (s ThyroidStatus) Hypothyroid() bool {
	switch s {
	case StatusHypothyroid, StatusSubclinicalHypo, StatusCentralHypo:
		return true
	default:
		return false
	}
}

// Hyperthyroid reports whether the status leans toward thyroid overactivity.
func (s ThyroidStatus) Hyperthyroid() bool {
	return s == StatusHyperthyroid || s == StatusSubclinicalHyper
}

// IsValid reports whether the confidence flag is one of the enumerated values.
func (rc ReportConfidence) IsValid() bool {
	return rc == ConfidenceNormal || rc == ConfidenceLow
}

// String returns the string representation of the confidence flag.
func (rc ReportConfidence) String() string {
	return string(rc)
}
