package domain

// ReferenceTable is the static analyte → reference range mapping. It is
// loaded once at startup and safe for concurrent reads; nothing mutates it
// afterwards.
type ReferenceTable struct {
	ranges map[string]ReferenceRange
}

// NewReferenceTable builds a table from the given ranges, keyed by analyte name.
func NewReferenceTable(ranges []ReferenceRange) *ReferenceTable {
	m := make(map[string]ReferenceRange, len(ranges))
	for _, r := range ranges {
		m[r.Analyte] = r
	}
	return &ReferenceTable{ranges: m}
}

// Lookup returns the range for an analyte name.
func (t *ReferenceTable) Lookup(analyte string) (ReferenceRange, bool) {
	r, ok := t.ranges[analyte]
	return r, ok
}

// Ranges returns a copy of all registered ranges for read-only display.
func (t *ReferenceTable) Ranges() []ReferenceRange {
	out := make([]ReferenceRange, 0, len(t.ranges))
	for _, r := range t.ranges {
		out = append(out, r)
	}
	return out
}

// Well-known analyte names used by the axis-pattern rule table.
const (
	AnalyteTSH    = "TSH"
	AnalyteFreeT4 = "Free_T4"
	AnalyteFreeT3 = "Free_T3"
	AnalyteTPOAb  = "Anti_TPO"
	AnalyteTgAb   = "Anti_Tg"
	AnalyteTRAb   = "TSH_receptor_Ab"
)

func ptr(v float64) *float64 { return &v }

// DefaultReferenceRanges are the adult reference intervals the system ships
// with. Antibody analytes are threshold-only: above the upper bound reads as
// positive, at or below as negative.
func DefaultReferenceRanges() []ReferenceRange {
	return []ReferenceRange{
		{Analyte: AnalyteTSH, Unit: "μIU/mL", Lower: ptr(0.4), Upper: 4.0, CriticalLow: ptr(0.01), CriticalHigh: ptr(100.0)},
		{Analyte: AnalyteFreeT4, Unit: "ng/dL", Lower: ptr(0.8), Upper: 1.8, CriticalHigh: ptr(7.0)},
		{Analyte: AnalyteFreeT3, Unit: "pg/mL", Lower: ptr(2.3), Upper: 4.2},
		{Analyte: AnalyteTPOAb, Unit: "IU/mL", Upper: 34},
		{Analyte: AnalyteTgAb, Unit: "IU/mL", Upper: 115},
		{Analyte: AnalyteTRAb, Unit: "IU/L", Upper: 1.75},
	}
}
