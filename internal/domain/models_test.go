package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceRange_Categorize(t *testing.T) {
	rng := ReferenceRange{Analyte: AnalyteTSH, Unit: "μIU/mL", Lower: ptr(0.4), Upper: 4.0}

	tests := []struct {
		name  string
		value float64
		want  AnalyteCategory
	}{
		{"below lower bound", 0.2, CategoryLow},
		{"exactly lower bound", 0.4, CategoryNormal},
		{"inside range", 2.5, CategoryNormal},
		{"exactly upper bound", 4.0, CategoryNormal},
		{"above upper bound", 5.2, CategoryHigh},
		{"far above with implicit critical", 150.0, CategoryCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rng.Categorize(tt.value, 10))
		})
	}
}

func TestReferenceRange_CategorizeExplicitCritical(t *testing.T) {
	rng := ReferenceRange{Analyte: AnalyteTSH, Unit: "μIU/mL", Lower: ptr(0.4), Upper: 4.0,
		CriticalLow: ptr(0.01), CriticalHigh: ptr(100.0)}

	assert.Equal(t, CategoryCritical, rng.Categorize(0.005, 10))
	assert.Equal(t, CategoryLow, rng.Categorize(0.02, 10))
	assert.Equal(t, CategoryCritical, rng.Categorize(120, 10))
	assert.Equal(t, CategoryHigh, rng.Categorize(99, 10))
}

func TestReferenceRange_CategorizeThresholdOnly(t *testing.T) {
	// antibody analytes have no lower bound
	rng := ReferenceRange{Analyte: AnalyteTPOAb, Unit: "IU/mL", Upper: 34}

	assert.Equal(t, CategoryNormal, rng.Categorize(0, 10))
	assert.Equal(t, CategoryNormal, rng.Categorize(34, 10))
	assert.Equal(t, CategoryHigh, rng.Categorize(150, 10))
}

func TestReferenceRange_Display(t *testing.T) {
	bounded := ReferenceRange{Analyte: AnalyteTSH, Unit: "μIU/mL", Lower: ptr(0.4), Upper: 4.0}
	assert.Equal(t, "0.4-4 μIU/mL", bounded.Display())

	threshold := ReferenceRange{Analyte: AnalyteTPOAb, Unit: "IU/mL", Upper: 34}
	assert.Equal(t, "< 34 IU/mL", threshold.Display())
}

func TestNormalizeCandidates(t *testing.T) {
	in := []DiagnosisCandidate{
		{Condition: "Subclinical hypothyroidism", Probability: 0.4},
		{Condition: "Hashimoto's thyroiditis", Probability: 0.7},
		{Condition: "hashimoto's thyroiditis", Probability: 0.3}, // lower duplicate
		{Condition: "Graves' disease", Probability: 0.4},
	}

	out := NormalizeCandidates(in)

	require.Len(t, out, 3)
	assert.Equal(t, "Hashimoto's thyroiditis", out[0].Condition)
	assert.Equal(t, 0.7, out[0].Probability)
	// equal scores break ties lexically
	assert.Equal(t, "Graves' disease", out[1].Condition)
	assert.Equal(t, "Subclinical hypothyroidism", out[2].Condition)
}

func TestDiagnosisCandidate_Validate(t *testing.T) {
	valid := DiagnosisCandidate{Condition: "Graves' disease", Probability: 0.8}
	assert.NoError(t, valid.Validate())

	for _, bad := range []DiagnosisCandidate{
		{Condition: "", Probability: 0.5},
		{Condition: "x", Probability: -0.1},
		{Condition: "x", Probability: 1.5},
	} {
		c := bad
		assert.Error(t, c.Validate())
	}
}

func TestDiagnosisReport_Validate(t *testing.T) {
	report := &DiagnosisReport{
		RequestID:     "r1",
		ThyroidStatus: StatusSubclinicalHypo,
		Confidence:    ConfidenceNormal,
		Candidates: []DiagnosisCandidate{
			{Condition: "early Hashimoto's thyroiditis", Probability: 0.6},
			{Condition: "subclinical hypothyroidism", Probability: 0.4},
		},
	}
	assert.NoError(t, report.Validate())

	unsorted := *report
	unsorted.Candidates = []DiagnosisCandidate{
		{Condition: "a", Probability: 0.2},
		{Condition: "b", Probability: 0.9},
	}
	assert.Error(t, unsorted.Validate())

	duplicated := *report
	duplicated.Candidates = []DiagnosisCandidate{
		{Condition: "Graves' disease", Probability: 0.8},
		{Condition: "graves' disease", Probability: 0.2},
	}
	assert.Error(t, duplicated.Validate())

	badStatus := *report
	badStatus.ThyroidStatus = ThyroidStatus("bogus")
	assert.Error(t, badStatus.Validate())
}

func TestAxisPattern_Status(t *testing.T) {
	assert.Equal(t, StatusHypothyroid, PatternPrimaryHypo.Status())
	assert.Equal(t, StatusHyperthyroid, PatternPrimaryHyper.Status())
	assert.Equal(t, StatusSubclinicalHypo, PatternAutoimmuneSubclinical.Status())
	assert.Equal(t, StatusCentralHypo, PatternCentralHypo.Status())
	assert.Equal(t, StatusNormal, PatternEuthyroid.Status())
	assert.Equal(t, StatusIndeterminate, PatternIndeterminate.Status())
}
