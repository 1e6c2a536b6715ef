// Package fidelity implements the evaluator: it compares ground truth against
// a blind reconstruction and produces the weighted fidelity score, the
// information gaps, and the critique that drives revision.
//
// The LLM judges WHICH elements were recovered; the score itself is computed
// locally and deterministically from those judgments, never taken from the
// model.
package fidelity

import (
	"fmt"

	"github.com/dshills/panelcheck/internal/schema"
)

// Weights is the fidelity rubric. The values sum to 100; each category
// contributes its recovered fraction of its weight.
var Weights = map[schema.ScoreCategory]float64{
	schema.CategoryPlotAccuracy:        30,
	schema.CategoryMotivationClarity:   25,
	schema.CategoryConflictRecognition: 20,
	schema.CategoryEmotionalBeats:      15,
	schema.CategoryCoherence:           10,
}

// AllCategories lists the rubric axes in weight order. Evaluator responses
// must cover every one of them.
var AllCategories = []schema.ScoreCategory{
	schema.CategoryPlotAccuracy,
	schema.CategoryMotivationClarity,
	schema.CategoryConflictRecognition,
	schema.CategoryEmotionalBeats,
	schema.CategoryCoherence,
}

// ComputeScore calculates the weighted fidelity score from per-category
// recovery fractions, clamped to [0, 100]. A category absent from the input
// contributes nothing, which is why validation requires all five.
func ComputeScore(categories []schema.CategoryScore) float64 {
	var score float64
	for _, c := range categories {
		score += Weights[c.Category] * c.Fraction()
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// CountSeverities aggregates gap counts by severity.
func CountSeverities(gaps []schema.InformationGap) (critical, major, minor int) {
	for _, g := range gaps {
		switch g.Severity {
		case schema.SeverityCritical:
			critical++
		case schema.SeverityMajor:
			major++
		case schema.SeverityMinor:
			minor++
		}
	}
	return
}

// ValidateGap returns field-level problem messages for one information gap.
func ValidateGap(g schema.InformationGap) []string {
	var problems []string
	switch g.Category {
	case schema.GapPlot, schema.GapMotivation, schema.GapEmotion,
		schema.GapRelationship, schema.GapConflict:
	default:
		problems = append(problems, fmt.Sprintf("category %q is not valid", g.Category))
	}
	switch g.Severity {
	case schema.SeverityCritical, schema.SeverityMajor, schema.SeverityMinor:
	default:
		problems = append(problems, fmt.Sprintf("severity %q is not valid", g.Severity))
	}
	if g.Original == "" {
		problems = append(problems, "original is required")
	}
	if g.Remedy == "" {
		problems = append(problems, "remedy is required")
	}
	return problems
}

// ValidateCategories checks that every rubric axis appears exactly once with
// sane counts.
func ValidateCategories(categories []schema.CategoryScore) []string {
	var problems []string
	seen := make(map[schema.ScoreCategory]int, len(categories))
	for i, c := range categories {
		seen[c.Category]++
		if c.Recovered < 0 || c.Total < 0 {
			problems = append(problems, fmt.Sprintf("categories[%d]: negative counts", i))
		}
		if c.Recovered > c.Total {
			problems = append(problems, fmt.Sprintf(
				"categories[%d]: recovered %d exceeds total %d", i, c.Recovered, c.Total))
		}
	}
	for _, want := range AllCategories {
		switch seen[want] {
		case 0:
			problems = append(problems, fmt.Sprintf("category %q is missing", want))
		case 1:
		default:
			problems = append(problems, fmt.Sprintf("category %q appears %d times", want, seen[want]))
		}
	}
	for got := range seen {
		if _, ok := Weights[got]; !ok {
			problems = append(problems, fmt.Sprintf("category %q is not valid", got))
		}
	}
	return problems
}
