package service

import "github.com/thyroid-rag-server/internal/domain"

// subclinicalTreatmentTSH is the TSH level above which treatment of
// subclinical hypothyroidism is usually considered.
const subclinicalTreatmentTSH = 7.0

// Recommender produces the deterministic, rule-derived side of a report:
// the fallback differential, recommendations, additional tests, and the
// confidence score. None of it depends on retrieval or the model backend.
type Recommender struct{}

// NewRecommender returns a Recommender.
func NewRecommender() *Recommender {
	return &Recommender{}
}

// RuleDifferential builds the fallback differential for a clinical state.
// Weights reflect how strongly each condition is favored given the axis
// pattern and antibody findings.
func (r *Recommender) RuleDifferential(state *domain.ClinicalState) []domain.DiagnosisCandidate {
	var candidates []domain.DiagnosisCandidate
	add := func(condition string, probability float64, rationale string) {
		candidates = append(candidates, domain.DiagnosisCandidate{
			Condition:   condition,
			Probability: probability,
			Rationale:   rationale,
		})
	}

	status := state.AxisPattern.Status()
	switch {
	case status.Hyperthyroid():
		if state.Category(domain.AnalyteTRAb).Elevated() {
			add("Graves' disease", 0.8, "suppressed TSH with elevated thyroid hormone and positive TSH receptor antibodies")
		} else {
			add("toxic multinodular goiter", 0.4, "hyperthyroid biochemistry without TSH receptor antibodies")
			add("toxic adenoma", 0.3, "hyperthyroid biochemistry without TSH receptor antibodies")
			add("subacute thyroiditis", 0.2, "transient hyperthyroidism can follow thyroid inflammation")
		}
	case status == domain.StatusHypothyroid || status == domain.StatusCentralHypo:
		if state.Category(domain.AnalyteTPOAb).Elevated() || state.Category(domain.AnalyteTgAb).Elevated() {
			add("Hashimoto's thyroiditis", 0.7, "hypothyroid biochemistry with positive thyroid autoantibodies")
		} else {
			add("primary hypothyroidism", 0.5, "hypothyroid biochemistry without documented autoantibodies")
			add("iodine deficiency", 0.2, "hypothyroidism can reflect inadequate iodine intake")
			add("drug-induced hypothyroidism", 0.2, "medications such as lithium or amiodarone can suppress thyroid function")
		}
		if status == domain.StatusCentralHypo {
			add("central hypothyroidism", 0.6, "low free T4 without the expected TSH elevation suggests a pituitary or hypothalamic cause")
		}
	case status == domain.StatusSubclinicalHypo:
		if state.Category(domain.AnalyteTPOAb).Elevated() || state.Category(domain.AnalyteTgAb).Elevated() {
			add("early Hashimoto's thyroiditis", 0.6, "elevated TSH with preserved free T4 and positive anti-TPO antibodies")
		} else {
			add("subclinical hypothyroidism", 0.7, "elevated TSH with preserved free T4")
		}
	case status == domain.StatusSubclinicalHyper:
		add("subclinical hyperthyroidism", 0.6, "suppressed TSH with preserved thyroid hormone levels")
	}

	if state.AxisPattern == domain.PatternEuthyroidAntibodies {
		add("euthyroid autoimmune thyroiditis", 0.5, "normal thyroid function with positive thyroid autoantibodies")
	}

	return domain.NormalizeCandidates(candidates)
}

// Recommendations returns management advice for the derived status. The
// subclinical branch needs the raw panel to apply the TSH treatment
// threshold.
func (r *Recommender) Recommendations(state *domain.ClinicalState, panel domain.LabPanel) []string {
	var recs []string
	status := state.AxisPattern.Status()

	switch {
	case status.Hyperthyroid():
		recs = append(recs,
			"Seek endocrinology review promptly",
			"Antithyroid drug therapy may be required",
			"Avoid iodine-rich foods and iodinated medications",
			"Monitor heart rate and blood pressure",
			"Ophthalmology assessment if eye symptoms are present",
		)
	case status.Hypothyroid() && status != domain.StatusSubclinicalHypo:
		recs = append(recs,
			"Consider starting levothyroxine replacement",
			"Recheck TSH every 6-8 weeks while titrating",
			"Take replacement on an empty stomach",
			"Assess cardiovascular risk",
			"Adjust dosing immediately if pregnant",
		)
	case status == domain.StatusSubclinicalHypo:
		if m, ok := panel[domain.AnalyteTSH]; ok && m.Value > subclinicalTreatmentTSH {
			recs = append(recs, "TSH above 7: consider starting treatment")
		} else {
			recs = append(recs, "Repeat thyroid function tests in 3-6 months")
		}
		if len(state.Symptoms) > 0 {
			recs = append(recs, "A treatment trial can be considered for symptomatic patients")
		}
	}

	if status == domain.StatusCentralHypo {
		recs = append(recs, "Evaluate the remaining pituitary axes")
	}
	return recs
}

// AdditionalTests suggests follow-up laboratory and imaging work.
func (r *Recommender) AdditionalTests(state *domain.ClinicalState) []string {
	var tests []string
	status := state.AxisPattern.Status()

	if state.Category(domain.AnalyteTPOAb) == domain.CategoryUnknown {
		tests = append(tests, "Anti-TPO antibodies")
	}

	switch {
	case status.Hyperthyroid():
		if state.Category(domain.AnalyteTRAb) == domain.CategoryUnknown {
			tests = append(tests, "TSH receptor antibodies (TRAb)")
		}
		tests = append(tests,
			"Thyroid ultrasound",
			"Thyroid uptake scan if the cause is unclear",
			"Liver function tests",
			"Complete blood count",
		)
	case status.Hypothyroid():
		tests = append(tests,
			"Lipid panel",
			"Vitamin B12",
			"Thyroid ultrasound",
		)
	}
	return tests
}

// Confidence scores report confidence from panel completeness: base 0.5,
// +0.15 for each of TSH and free T4, +0.1 when any antibody was measured,
// +0.1 when symptoms were reported, capped at 0.95.
func (r *Recommender) Confidence(state *domain.ClinicalState) float64 {
	confidence := 0.5
	for _, analyte := range []string{domain.AnalyteTSH, domain.AnalyteFreeT4} {
		if state.Category(analyte) != domain.CategoryUnknown {
			confidence += 0.15
		}
	}
	for _, analyte := range []string{domain.AnalyteTPOAb, domain.AnalyteTgAb, domain.AnalyteTRAb} {
		if state.Category(analyte) != domain.CategoryUnknown {
			confidence += 0.1
			break
		}
	}
	if len(state.Symptoms) > 0 {
		confidence += 0.1
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}
