package service

import "github.com/thyroid-rag-server/internal/domain"

// catAny is the wildcard cell in the axis rule table.
const catAny = domain.AnalyteCategory("any")

// axisRule is one row of the pattern table. Cells hold low/normal/high/
// unknown after the critical tier has been collapsed onto its side.
type axisRule struct {
	tsh        domain.AnalyteCategory
	ft4        domain.AnalyteCategory
	ft3        domain.AnalyteCategory
	antibodies domain.AnalyteCategory
	pattern    domain.AxisPattern
}

// axisRules is evaluated top to bottom, first match wins. Order matters:
// overt patterns sit above their subclinical counterparts, and the
// antibody-qualified rows sit above the unqualified ones.
var axisRules = []axisRule{
	// Overt primary hypothyroidism: high TSH driving low FT4.
	{domain.CategoryHigh, domain.CategoryLow, catAny, catAny, domain.PatternPrimaryHypo},

	// Overt primary hyperthyroidism, including T3 toxicosis.
	{domain.CategoryLow, domain.CategoryHigh, catAny, catAny, domain.PatternPrimaryHyper},
	{domain.CategoryLow, domain.CategoryNormal, domain.CategoryHigh, catAny, domain.PatternPrimaryHyper},
	{domain.CategoryLow, domain.CategoryUnknown, domain.CategoryHigh, catAny, domain.PatternPrimaryHyper},

	// High TSH with preserved FT4 and positive antibodies points at
	// autoimmune thyroiditis that is subclinical or still evolving.
	{domain.CategoryHigh, domain.CategoryNormal, catAny, domain.CategoryHigh, domain.PatternAutoimmuneSubclinical},

	// Subclinical hypothyroidism: high TSH, FT4 preserved or unmeasured.
	{domain.CategoryHigh, domain.CategoryNormal, catAny, catAny, domain.PatternSubclinicalHypo},
	{domain.CategoryHigh, domain.CategoryUnknown, catAny, catAny, domain.PatternSubclinicalHypo},

	// Subclinical hyperthyroidism: suppressed TSH, hormones preserved.
	{domain.CategoryLow, domain.CategoryNormal, domain.CategoryNormal, catAny, domain.PatternSubclinicalHyper},
	{domain.CategoryLow, domain.CategoryNormal, domain.CategoryUnknown, catAny, domain.PatternSubclinicalHyper},
	{domain.CategoryLow, domain.CategoryUnknown, domain.CategoryUnknown, catAny, domain.PatternSubclinicalHyper},

	// Central hypothyroidism: low FT4 without the expected TSH rise.
	{domain.CategoryLow, domain.CategoryLow, catAny, catAny, domain.PatternCentralHypo},
	{domain.CategoryNormal, domain.CategoryLow, catAny, catAny, domain.PatternCentralHypo},

	// Biochemically euthyroid but antibody positive.
	{domain.CategoryNormal, domain.CategoryNormal, catAny, domain.CategoryHigh, domain.PatternEuthyroidAntibodies},
	{domain.CategoryNormal, domain.CategoryUnknown, catAny, domain.CategoryHigh, domain.PatternEuthyroidAntibodies},

	// Fully euthyroid.
	{domain.CategoryNormal, domain.CategoryNormal, domain.CategoryNormal, catAny, domain.PatternEuthyroid},
	{domain.CategoryNormal, domain.CategoryNormal, domain.CategoryUnknown, catAny, domain.PatternEuthyroid},
	{domain.CategoryNormal, domain.CategoryUnknown, domain.CategoryUnknown, catAny, domain.PatternEuthyroid},
}

// DeriveAxisPattern looks up the pattern for a tuple of collapsed analyte
// categories. The antibodies cell is the combined antibody status produced
// by the normalizer. Tuples no rule covers yield PatternIndeterminate.
func DeriveAxisPattern(tsh, ft4, ft3, antibodies domain.AnalyteCategory) domain.AxisPattern {
	for _, r := range axisRules {
		if cellMatches(r.tsh, tsh) &&
			cellMatches(r.ft4, ft4) &&
			cellMatches(r.ft3, ft3) &&
			cellMatches(r.antibodies, antibodies) {
			return r.pattern
		}
	}
	return domain.PatternIndeterminate
}

func cellMatches(cell, got domain.AnalyteCategory) bool {
	return cell == catAny || cell == got
}
