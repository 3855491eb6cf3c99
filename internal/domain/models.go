package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ReferenceRange describes the normal interval for one analyte. Ranges are
// immutable and loaded once at startup. Antibody analytes carry only an
// upper threshold (Lower is nil); values at or below the threshold are normal.
type ReferenceRange struct {
	Analyte      string   `json:"analyte"`
	Unit         string   `json:"unit"`
	Lower        *float64 `json:"lower,omitempty"`
	Upper        float64  `json:"upper"`
	CriticalLow  *float64 `json:"critical_low,omitempty"`
	CriticalHigh *float64 `json:"critical_high,omitempty"`
}

// Categorize classifies a value against the range. Bounds are inclusive-normal:
// a value exactly at a bound is normal. criticalMultiple widens the bound for
// the critical tier when the range carries no explicit critical thresholds;
// a multiple <= 1 disables the implicit tier.
func (r *ReferenceRange) Categorize(value, criticalMultiple float64) AnalyteCategory {
	if r.Lower != nil && value < *r.Lower {
		if r.CriticalLow != nil && value <= *r.CriticalLow {
			return CategoryCritical
		}
		if r.CriticalLow == nil && criticalMultiple > 1 && value < *r.Lower/criticalMultiple {
			return CategoryCritical
		}
		return CategoryLow
	}
	if value > r.Upper {
		if r.CriticalHigh != nil && value >= *r.CriticalHigh {
			return CategoryCritical
		}
		if r.CriticalHigh == nil && criticalMultiple > 1 && value > r.Upper*criticalMultiple {
			return CategoryCritical
		}
		return CategoryHigh
	}
	return CategoryNormal
}

// Display renders the interval for UI and report output, e.g. "0.4-4.0 μIU/mL"
// or "< 34 IU/mL" for threshold-only analytes.
func (r *ReferenceRange) Display() string {
	if r.Lower == nil {
		return fmt.Sprintf("< %g %s", r.Upper, r.Unit)
	}
	return fmt.Sprintf("%g-%g %s", *r.Lower, r.Upper, r.Unit)
}

// Measurement is a single measured lab value with its declared unit.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// LabPanel maps analyte name to its measurement. Panels are created per
// request and treated as immutable after construction; units must validate
// against the reference table before any categorization happens.
type LabPanel map[string]Measurement

// Analytes returns the panel's analyte names in lexical order.
func (p LabPanel) Analytes() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SymptomTag is one normalized symptom. Unmapped tags carry the raw input
// verbatim so retrieval can still use them as free text.
type SymptomTag struct {
	Tag      string `json:"tag"`
	Raw      string `json:"raw,omitempty"`
	Unmapped bool   `json:"unmapped,omitempty"`
}

// ClinicalState is the structured clinical picture derived from a lab panel
// and symptom set. It is owned by the request it was computed for and is
// never cached across requests.
type ClinicalState struct {
	Categories  map[string]AnalyteCategory `json:"categories"`
	Symptoms    []SymptomTag               `json:"symptoms,omitempty"`
	AxisPattern AxisPattern                `json:"axis_pattern"`
}

// Category returns the category for an analyte, CategoryUnknown when the
// analyte was absent from the panel.
func (cs *ClinicalState) Category(analyte string) AnalyteCategory {
	if c, ok := cs.Categories[analyte]; ok {
		return c
	}
	return CategoryUnknown
}

// SymptomTags returns the canonical tag strings in input order.
func (cs *ClinicalState) SymptomTags() []string {
	tags := make([]string, 0, len(cs.Symptoms))
	for _, s := range cs.Symptoms {
		tags = append(tags, s.Tag)
	}
	return tags
}

// Validate checks the per-analyte category invariant.
func (cs *ClinicalState) Validate() error {
	for analyte, category := range cs.Categories {
		if !category.IsValid() {
			return fmt.Errorf("clinical state validation: analyte %s: %w", analyte, ErrInvalidCategory)
		}
		if category == CategoryUnknown {
			return fmt.Errorf("clinical state validation: analyte %s present in panel but categorized unknown", analyte)
		}
	}
	if !cs.AxisPattern.IsValid() {
		return fmt.Errorf("clinical state validation: %w", ErrInvalidPattern)
	}
	return nil
}

// Document is a literature source submitted for ingestion.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate ensures the document can be chunked and indexed.
func (d *Document) Validate() error {
	if d.ID == "" {
		return NewValidationError("id", "document ID is required", d.ID)
	}
	if strings.TrimSpace(d.Text) == "" {
		return NewValidationError("text", "document text is empty", nil)
	}
	return nil
}

// KnowledgeChunk is one bounded span of source-document text stored with its
// embedding. Chunks are immutable once stored; corpus revision is
// delete-and-reinsert, never in-place update.
type KnowledgeChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	Title      string    `json:"title,omitempty"`
	Section    string    `json:"section,omitempty"`
	Ordinal    int       `json:"ordinal"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ScoredChunk pairs a chunk with its similarity score for one query. Search
// results hold chunk text and provenance but never the stored vectors.
type ScoredChunk struct {
	Chunk KnowledgeChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// RetrievalQuery is the derived query for one diagnosis request. Ephemeral.
type RetrievalQuery struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

// RetrievedContext is the ordered, deduplicated literature context supplied
// to the synthesizer. Empty means the corpus had nothing relevant; context is
// never fabricated.
type RetrievedContext struct {
	Chunks []ScoredChunk  `json:"chunks"`
	Query  RetrievalQuery `json:"query"`
}

// Empty reports whether retrieval produced zero usable chunks.
func (rc *RetrievedContext) Empty() bool {
	return len(rc.Chunks) == 0
}

// ChunkIDs returns the ids of the supplied chunks in context order.
func (rc *RetrievedContext) ChunkIDs() []string {
	ids := make([]string, 0, len(rc.Chunks))
	for _, sc := range rc.Chunks {
		ids = append(ids, sc.Chunk.ID)
	}
	return ids
}

// DiagnosisCandidate is one named condition in the differential with an
// independent confidence score in [0,1]. Scores are not a probability
// distribution and need not sum to 1.
type DiagnosisCandidate struct {
	Condition     string   `json:"condition"`
	Probability   float64  `json:"probability"`
	Rationale     string   `json:"rationale,omitempty"`
	CitedChunkIDs []string `json:"cited_sources,omitempty"`
}

// Validate checks the per-candidate contract.
func (dc *DiagnosisCandidate) Validate() error {
	if strings.TrimSpace(dc.Condition) == "" {
		return NewValidationError("condition", "candidate condition is required", dc.Condition)
	}
	if dc.Probability < 0 || dc.Probability > 1 {
		return NewValidationError("probability", "probability must be within [0,1]", dc.Probability)
	}
	return nil
}

// NormalizeCandidates enforces the report invariants on a candidate list:
// deduplicated by condition name keeping the highest score, then sorted by
// score descending with condition name as the deterministic tiebreaker.
func NormalizeCandidates(candidates []DiagnosisCandidate) []DiagnosisCandidate {
	best := make(map[string]DiagnosisCandidate, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Condition))
		if existing, ok := best[key]; !ok || c.Probability > existing.Probability {
			best[key] = c
		}
	}
	out := make([]DiagnosisCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Condition < out[j].Condition
	})
	return out
}

// DiagnosisReport is the engine's final product. Immutable once returned;
// consumers render or export it but never mutate it.
type DiagnosisReport struct {
	RequestID       string               `json:"request_id"`
	ThyroidStatus   ThyroidStatus        `json:"thyroid_status"`
	Candidates      []DiagnosisCandidate `json:"candidates"`
	Recommendations []string             `json:"recommendations"`
	AdditionalTests []string             `json:"additional_tests,omitempty"`
	Confidence      ReportConfidence     `json:"confidence"`
	ConfidenceScore float64              `json:"confidence_score"`
	BasedOn         ClinicalState        `json:"based_on"`
	CitedChunkIDs   []string             `json:"cited_chunk_ids,omitempty"`
	LiteratureNote  string               `json:"literature_note,omitempty"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Validate checks the report-level invariants before it leaves the engine.
func (r *DiagnosisReport) Validate() error {
	if !r.ThyroidStatus.IsValid() {
		return fmt.Errorf("report validation: %w", ErrInvalidStatus)
	}
	if !r.Confidence.IsValid() {
		return fmt.Errorf("report validation: %w", ErrInvalidConfidence)
	}
	seen := make(map[string]bool, len(r.Candidates))
	last := 1.1
	for _, c := range r.Candidates {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("report validation: %w", err)
		}
		key := strings.ToLower(strings.TrimSpace(c.Condition))
		if seen[key] {
			return fmt.Errorf("report validation: duplicate candidate %q", c.Condition)
		}
		seen[key] = true
		if c.Probability > last {
			return fmt.Errorf("report validation: candidates not sorted descending")
		}
		last = c.Probability
	}
	return nil
}
