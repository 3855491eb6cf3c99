package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thyroid-rag-server/internal/domain"
)

// RenderMarkdown renders a report as a human-readable Markdown document.
// Sections with nothing to say are omitted.
func RenderMarkdown(report *domain.DiagnosisReport, panel domain.LabPanel, table *domain.ReferenceTable) string {
	var b strings.Builder

	b.WriteString("# Thyroid Function Report\n\n")
	fmt.Fprintf(&b, "Request: `%s`  \nGenerated: %s\n\n", report.RequestID, report.GeneratedAt.Format("2006-01-02 15:04 UTC"))

	if len(panel) > 0 {
		b.WriteString("## Laboratory Results\n\n")
		for _, analyte := range panel.Analytes() {
			m := panel[analyte]
			line := fmt.Sprintf("- **%s**: %g", analyte, m.Value)
			if rng, ok := table.Lookup(analyte); ok {
				line += " " + rng.Unit
				if cat, found := report.BasedOn.Categories[analyte]; found && cat != domain.CategoryNormal {
					line += fmt.Sprintf(" (%s, reference %s)", cat, rng.Display())
				}
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Assessment\n\n")
	fmt.Fprintf(&b, "**Thyroid status**: %s  \n", report.ThyroidStatus)
	fmt.Fprintf(&b, "**Confidence**: %.0f%%", report.ConfidenceScore*100)
	if report.Confidence == domain.ConfidenceLow {
		b.WriteString(" (low confidence)")
	}
	b.WriteString("\n\n")

	if len(report.Candidates) > 0 {
		b.WriteString("## Differential Diagnosis\n\n")
		for _, c := range report.Candidates {
			fmt.Fprintf(&b, "- %s (probability: %.0f%%)", c.Condition, c.Probability*100)
			if c.Rationale != "" {
				b.WriteString(": " + c.Rationale)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, rec := range report.Recommendations {
			b.WriteString("- " + rec + "\n")
		}
		b.WriteString("\n")
	}

	if len(report.AdditionalTests) > 0 {
		b.WriteString("## Suggested Additional Tests\n\n")
		for _, t := range report.AdditionalTests {
			b.WriteString("- " + t + "\n")
		}
		b.WriteString("\n")
	}

	if report.LiteratureNote != "" {
		fmt.Fprintf(&b, "## Literature Note\n\n%s\n\n", report.LiteratureNote)
	}
	if len(report.CitedChunkIDs) > 0 {
		ids := append([]string(nil), report.CitedChunkIDs...)
		sort.Strings(ids)
		fmt.Fprintf(&b, "_Cited sources: %s_\n", strings.Join(ids, ", "))
	}

	return b.String()
}
