package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
)

// Synthesizer builds the grounded prompt, submits it to the generative
// backend, and validates the returned differential against the retrieved
// context. It never decides fallback policy; that belongs to the guard.
type Synthesizer struct {
	backend          domain.GenerativeBackend
	maxContextChunks int
	logger           *logrus.Logger
}

// NewSynthesizer creates a synthesizer over the given backend.
func NewSynthesizer(backend domain.GenerativeBackend, maxContextChunks int, logger *logrus.Logger) *Synthesizer {
	return &Synthesizer{backend: backend, maxContextChunks: maxContextChunks, logger: logger}
}

// modelResponse is the JSON contract the backend is instructed to follow.
type modelResponse struct {
	Candidates     []modelCandidate `json:"candidates"`
	LiteratureNote string           `json:"literature_note"`
}

type modelCandidate struct {
	Condition     string   `json:"condition"`
	Probability   float64  `json:"probability"`
	Rationale     string   `json:"rationale"`
	CitedChunkIDs []string `json:"cited_chunk_ids"`
}

// SynthesisResult carries the surviving candidates together with counts of
// what validation discarded.
type SynthesisResult struct {
	Candidates     []domain.DiagnosisCandidate
	LiteratureNote string
	Dropped        int
	Hallucinated   int
}

// BuildPrompt renders the deterministic synthesis prompt: the clinical
// state, the context chunks each tagged with its citable id, and the output
// contract. Identical inputs always produce the identical prompt.
func (s *Synthesizer) BuildPrompt(state *domain.ClinicalState, rctx *domain.RetrievedContext) string {
	var b strings.Builder

	b.WriteString("Clinical state:\n")
	fmt.Fprintf(&b, "- axis pattern: %s (suggested status: %s)\n",
		state.AxisPattern, state.AxisPattern.Status())

	analytes := make([]string, 0, len(state.Categories))
	for analyte := range state.Categories {
		analytes = append(analytes, analyte)
	}
	sort.Strings(analytes)
	for _, analyte := range analytes {
		fmt.Fprintf(&b, "- %s: %s\n", analyte, state.Categories[analyte])
	}
	if tags := state.SymptomTags(); len(tags) > 0 {
		fmt.Fprintf(&b, "- symptoms: %s\n", strings.Join(tags, ", "))
	}

	chunks := rctx.Chunks
	if len(chunks) > s.maxContextChunks {
		chunks = chunks[:s.maxContextChunks]
	}
	if len(chunks) == 0 {
		b.WriteString("\nNo literature excerpts are available. Base the differential on the clinical state alone and cite nothing.\n")
	} else {
		b.WriteString("\nLiterature excerpts:\n")
		for _, sc := range chunks {
			fmt.Fprintf(&b, "[chunk %s] (%s / %s)\n%s\n\n", sc.Chunk.ID, sc.Chunk.Title, sc.Chunk.Section, sc.Chunk.Text)
		}
	}

	b.WriteString("Respond with a single JSON object: " +
		`{"candidates": [{"condition": string, "probability": number in [0,1], "rationale": string, "cited_chunk_ids": [string]}], "literature_note": string}. ` +
		"Rank candidates by probability. Cite only the chunk ids given above; every rationale must be supported by its citations or by the lab pattern itself.")

	return b.String()
}

// Synthesize submits the prompt and validates the response. A response that
// cannot be parsed into the contract fails with ErrMalformedModelOutput;
// individual candidates that fail validation are dropped, not fatal.
func (s *Synthesizer) Synthesize(ctx context.Context, state *domain.ClinicalState, rctx *domain.RetrievedContext) (*SynthesisResult, error) {
	raw, err := s.backend.Submit(ctx, s.BuildPrompt(state, rctx))
	if err != nil {
		return nil, err
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedModelOutput, err)
	}

	known := make(map[string]bool, len(rctx.Chunks))
	for _, id := range rctx.ChunkIDs() {
		known[id] = true
	}

	result := &SynthesisResult{LiteratureNote: resp.LiteratureNote}
	for _, mc := range resp.Candidates {
		candidate := domain.DiagnosisCandidate{
			Condition:     strings.TrimSpace(mc.Condition),
			Probability:   mc.Probability,
			Rationale:     strings.TrimSpace(mc.Rationale),
			CitedChunkIDs: mc.CitedChunkIDs,
		}
		if err := candidate.Validate(); err != nil {
			result.Dropped++
			s.logger.WithError(err).WithField("condition", mc.Condition).Warn("Dropping malformed candidate")
			continue
		}
		if bad := unknownCitations(candidate.CitedChunkIDs, known); len(bad) > 0 {
			result.Hallucinated++
			s.logger.WithError(domain.ErrHallucinatedCitation).WithFields(logrus.Fields{
				"condition": candidate.Condition,
				"chunk_ids": bad,
			}).Warn("Dropping candidate citing unknown chunks")
			continue
		}
		result.Candidates = append(result.Candidates, candidate)
	}

	result.Candidates = domain.NormalizeCandidates(result.Candidates)
	return result, nil
}

// unknownCitations returns any cited ids absent from the retrieved context.
func unknownCitations(cited []string, known map[string]bool) []string {
	var bad []string
	for _, id := range cited {
		if !known[id] {
			bad = append(bad, id)
		}
	}
	return bad
}

// stripFences removes a surrounding Markdown code fence if the backend
// wrapped its JSON in one.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
