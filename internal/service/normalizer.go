// Package service implements the diagnosis engine: clinical state
// normalization, literature retrieval, generative synthesis under the
// consistency guard, and the deterministic rule fallback.
package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
)

// Normalizer converts a raw lab panel plus optional symptoms into a
// structured ClinicalState. It owns input validation: unknown analytes and
// unit mismatches abort the request before anything downstream runs.
type Normalizer struct {
	table            *domain.ReferenceTable
	criticalMultiple float64
	logger           *logrus.Logger
}

// NewNormalizer creates a normalizer over the given reference table.
func NewNormalizer(table *domain.ReferenceTable, criticalMultiple float64, logger *logrus.Logger) *Normalizer {
	return &Normalizer{
		table:            table,
		criticalMultiple: criticalMultiple,
		logger:           logger,
	}
}

// Normalize validates the panel against the reference table, categorizes
// every analyte, normalizes symptoms, and derives the axis pattern.
func (n *Normalizer) Normalize(panel domain.LabPanel, symptoms []string) (*domain.ClinicalState, error) {
	if len(panel) == 0 {
		return nil, domain.NewValidationError("lab_panel", "at least one analyte is required", nil)
	}

	categories := make(map[string]domain.AnalyteCategory, len(panel))
	sides := make(map[string]domain.AnalyteCategory, len(panel))

	for _, analyte := range panel.Analytes() {
		m := panel[analyte]
		rng, ok := n.table.Lookup(analyte)
		if !ok {
			return nil, &domain.UnknownAnalyteError{Analyte: analyte}
		}
		// unit conversion is an explicit pre-step, never implicit here
		if m.Unit != "" && m.Unit != rng.Unit {
			return nil, &domain.UnitMismatchError{Analyte: analyte, Declared: m.Unit, Expected: rng.Unit}
		}

		category := rng.Categorize(m.Value, n.criticalMultiple)
		categories[analyte] = category
		sides[analyte] = collapseToSide(category, &rng, m.Value)
	}

	state := &domain.ClinicalState{
		Categories: categories,
		Symptoms:   NormalizeSymptoms(symptoms),
	}
	state.AxisPattern = DeriveAxisPattern(
		sideFor(sides, domain.AnalyteTSH),
		sideFor(sides, domain.AnalyteFreeT4),
		sideFor(sides, domain.AnalyteFreeT3),
		antibodySide(sides),
	)
	state.AxisPattern = escalateOvertHypo(state.AxisPattern, panel, sideFor(sides, domain.AnalyteFreeT4))

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("normalizing panel: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"analytes":     len(categories),
		"symptoms":     len(state.Symptoms),
		"axis_pattern": state.AxisPattern.String(),
	}).Debug("Clinical state normalized")

	return state, nil
}

// overtHypoTSH is the TSH level above which a high TSH counts as overt
// hypothyroidism even when free T4 is still within range.
const overtHypoTSH = 10.0

// escalateOvertHypo upgrades the subclinical hypothyroid patterns to primary
// hypothyroidism when TSH exceeds the overt threshold with FT4 measured and
// preserved. An unmeasured FT4 stays subclinical regardless of the TSH level.
func escalateOvertHypo(pattern domain.AxisPattern, panel domain.LabPanel, ft4Side domain.AnalyteCategory) domain.AxisPattern {
	if pattern != domain.PatternSubclinicalHypo && pattern != domain.PatternAutoimmuneSubclinical {
		return pattern
	}
	if ft4Side != domain.CategoryNormal {
		return pattern
	}
	if m, ok := panel[domain.AnalyteTSH]; ok && m.Value > overtHypoTSH {
		return domain.PatternPrimaryHypo
	}
	return pattern
}

// collapseToSide maps the critical tier back onto its side of the range so
// the axis rule table only deals in low/normal/high.
func collapseToSide(category domain.AnalyteCategory, rng *domain.ReferenceRange, value float64) domain.AnalyteCategory {
	if category != domain.CategoryCritical {
		return category
	}
	if rng.Lower != nil && value < *rng.Lower {
		return domain.CategoryLow
	}
	return domain.CategoryHigh
}

func sideFor(sides map[string]domain.AnalyteCategory, analyte string) domain.AnalyteCategory {
	if s, ok := sides[analyte]; ok {
		return s
	}
	return domain.CategoryUnknown
}

// antibodySide combines the three antibody analytes into one tuple element:
// high if any measured antibody is above threshold, normal if at least one
// was measured and all are negative, unknown if none were measured.
func antibodySide(sides map[string]domain.AnalyteCategory) domain.AnalyteCategory {
	measured := false
	for _, analyte := range []string{domain.AnalyteTPOAb, domain.AnalyteTgAb, domain.AnalyteTRAb} {
		s, ok := sides[analyte]
		if !ok {
			continue
		}
		measured = true
		if s == domain.CategoryHigh {
			return domain.CategoryHigh
		}
	}
	if measured {
		return domain.CategoryNormal
	}
	return domain.CategoryUnknown
}

// symptomSynonyms maps case-folded raw symptom phrases onto the canonical
// vocabulary used in retrieval queries.
var symptomSynonyms = map[string]string{
	"fatigue":             "fatigue",
	"tired":               "fatigue",
	"tiredness":           "fatigue",
	"exhaustion":          "fatigue",
	"low energy":          "fatigue",
	"weight gain":         "weight-gain",
	"gaining weight":      "weight-gain",
	"weight loss":         "weight-loss",
	"losing weight":       "weight-loss",
	"cold intolerance":    "cold-intolerance",
	"feeling cold":        "cold-intolerance",
	"sensitivity to cold": "cold-intolerance",
	"heat intolerance":    "heat-intolerance",
	"sensitivity to heat": "heat-intolerance",
	"palpitations":        "palpitations",
	"racing heart":        "palpitations",
	"rapid heartbeat":     "palpitations",
	"tremor":              "tremor",
	"shaking hands":       "tremor",
	"constipation":        "constipation",
	"diarrhea":            "diarrhea",
	"hair loss":           "hair-loss",
	"hair thinning":       "hair-loss",
	"dry skin":            "dry-skin",
	"anxiety":             "anxiety",
	"nervousness":         "anxiety",
	"depression":          "depression",
	"low mood":            "depression",
	"insomnia":            "insomnia",
	"trouble sleeping":    "insomnia",
	"sweating":            "sweating",
	"excessive sweating":  "sweating",
	"goiter":              "goiter",
	"neck swelling":       "goiter",
	"brain fog":           "brain-fog",
	"poor concentration":  "brain-fog",
	"muscle weakness":     "muscle-weakness",
	"irregular periods":   "menstrual-irregularity",
	"menstrual changes":   "menstrual-irregularity",
}

// NormalizeSymptoms case-folds and trims each raw symptom and maps it
// through the synonym table. Unmapped entries are kept verbatim, flagged so
// retrieval can still use them as free text.
func NormalizeSymptoms(raw []string) []domain.SymptomTag {
	var tags []domain.SymptomTag
	seen := make(map[string]bool)
	for _, s := range raw {
		folded := strings.ToLower(strings.TrimSpace(s))
		if folded == "" {
			continue
		}
		tag, ok := symptomSynonyms[folded]
		if !ok {
			tag = folded
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, domain.SymptomTag{Tag: tag, Raw: s, Unmapped: !ok})
	}
	return tags
}
