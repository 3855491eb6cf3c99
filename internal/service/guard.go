package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
)

// ConsistencyGuard enforces the output contract around the synthesizer. It
// retries transient backend failures with the unchanged prompt, and when
// the budget runs out it degrades to the rule-derived differential instead
// of failing the request.
type ConsistencyGuard struct {
	synthesizer *Synthesizer
	recommender *Recommender
	retryBudget int
	logger      *logrus.Logger
}

// NewConsistencyGuard creates a guard with the given retry budget for
// retryable synthesis failures.
func NewConsistencyGuard(synthesizer *Synthesizer, recommender *Recommender, retryBudget int, logger *logrus.Logger) *ConsistencyGuard {
	if retryBudget < 0 {
		retryBudget = 0
	}
	return &ConsistencyGuard{
		synthesizer: synthesizer,
		recommender: recommender,
		retryBudget: retryBudget,
		logger:      logger,
	}
}

// Produce runs synthesis under the guard and always returns a valid report.
func (g *ConsistencyGuard) Produce(ctx context.Context, requestID string, state *domain.ClinicalState, rctx *domain.RetrievedContext, panel domain.LabPanel) *domain.DiagnosisReport {
	attempts := 1 + g.retryBudget
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := g.synthesizer.Synthesize(ctx, state, rctx)
		switch {
		case err == nil && len(result.Candidates) > 0:
			return g.buildReport(requestID, state, panel, result, rctx)
		case err == nil:
			g.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"attempt":    attempt,
				"dropped":    result.Dropped + result.Hallucinated,
			}).Warn("Synthesis produced no usable candidates")
		case domain.IsRetryable(err):
			g.logger.WithError(err).WithFields(logrus.Fields{
				"request_id": requestID,
				"attempt":    attempt,
			}).Warn("Retryable synthesis failure")
		default:
			// non-retryable backend error, stop burning budget
			g.logger.WithError(err).WithField("request_id", requestID).Error("Synthesis failed")
			return g.fallbackReport(requestID, state, panel, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return g.fallbackReport(requestID, state, panel, nil)
}

func (g *ConsistencyGuard) buildReport(requestID string, state *domain.ClinicalState, panel domain.LabPanel, result *SynthesisResult, rctx *domain.RetrievedContext) *domain.DiagnosisReport {
	report := &domain.DiagnosisReport{
		RequestID:       requestID,
		ThyroidStatus:   state.AxisPattern.Status(),
		Candidates:      domain.NormalizeCandidates(result.Candidates),
		Recommendations: g.recommender.Recommendations(state, panel),
		AdditionalTests: g.recommender.AdditionalTests(state),
		Confidence:      domain.ConfidenceNormal,
		ConfidenceScore: g.recommender.Confidence(state),
		BasedOn:         *state,
		LiteratureNote:  result.LiteratureNote,
		GeneratedAt:     time.Now().UTC(),
	}
	report.CitedChunkIDs = citedUnion(report.Candidates)

	if note := g.discrepancyNote(state, report.Candidates); note != "" {
		if report.LiteratureNote != "" {
			report.LiteratureNote += " "
		}
		report.LiteratureNote += note
	}
	if rctx.Empty() {
		report.Confidence = domain.ConfidenceLow
	}
	return report
}

// fallbackReport builds the rule-only report used when synthesis is
// unavailable or keeps failing. It is always flagged low_confidence.
func (g *ConsistencyGuard) fallbackReport(requestID string, state *domain.ClinicalState, panel domain.LabPanel, cause error) *domain.DiagnosisReport {
	if cause != nil {
		g.logger.WithError(cause).WithField("request_id", requestID).Warn("Falling back to rule-derived differential")
	} else {
		g.logger.WithField("request_id", requestID).Warn("Falling back to rule-derived differential")
	}
	return &domain.DiagnosisReport{
		RequestID:       requestID,
		ThyroidStatus:   state.AxisPattern.Status(),
		Candidates:      g.recommender.RuleDifferential(state),
		Recommendations: g.recommender.Recommendations(state, panel),
		AdditionalTests: g.recommender.AdditionalTests(state),
		Confidence:      domain.ConfidenceLow,
		ConfidenceScore: g.recommender.Confidence(state),
		BasedOn:         *state,
		LiteratureNote:  "Literature synthesis was unavailable; this differential was derived from the lab pattern alone.",
		GeneratedAt:     time.Now().UTC(),
	}
}

// discrepancyNote surfaces a disagreement between a confident axis pattern
// and a differential that points entirely the other way. The rule-derived
// status always stands; the note keeps the disagreement visible.
func (g *ConsistencyGuard) discrepancyNote(state *domain.ClinicalState, candidates []domain.DiagnosisCandidate) string {
	if !state.AxisPattern.Confident() || len(candidates) == 0 {
		return ""
	}
	status := state.AxisPattern.Status()
	var want func(string) bool
	switch {
	case status.Hypothyroid():
		want = hypoCondition
	case status.Hyperthyroid():
		want = hyperCondition
	default:
		return ""
	}
	for _, c := range candidates {
		if want(c.Condition) {
			return ""
		}
	}
	return "Note: the literature-derived differential does not include a condition matching the laboratory pattern; the status above follows the laboratory pattern."
}

func hypoCondition(condition string) bool {
	c := strings.ToLower(condition)
	return strings.Contains(c, "hypothyroid") ||
		strings.Contains(c, "hashimoto") ||
		strings.Contains(c, "iodine deficiency") ||
		strings.Contains(c, "thyroiditis")
}

func hyperCondition(condition string) bool {
	c := strings.ToLower(condition)
	return strings.Contains(c, "hyperthyroid") ||
		strings.Contains(c, "graves") ||
		strings.Contains(c, "toxic") ||
		strings.Contains(c, "thyroiditis")
}

// citedUnion collects the distinct chunk ids cited across candidates,
// preserving first-seen order.
func citedUnion(candidates []domain.DiagnosisCandidate) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range candidates {
		for _, id := range c.CitedChunkIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
