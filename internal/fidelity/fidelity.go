package fidelity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/schema"
)

// Evaluator compares ground truth against a reconstruction.
type Evaluator struct {
	LLM llm.Retryer
}

// evalResponse contains only the fields populated by the LLM. The score is
// computed locally from Categories and merged into the final FidelityReport.
type evalResponse struct {
	Categories []schema.CategoryScore  `json:"categories"`
	Gaps       []schema.InformationGap `json:"gaps"`
	Critique   string                  `json:"critique"`
}

// Evaluate calls the LLM judge, validates the response with one repair
// attempt, computes the weighted score locally, and returns the report.
//
// Repeated calls on identical input are not guaranteed to produce identical
// scores; the judge is itself a generative model.
func (e Evaluator) Evaluate(ctx context.Context, gt schema.GroundTruth, recon schema.Reconstruction) (schema.FidelityReport, error) {
	userPrompt := buildUserPrompt(gt, recon)

	raw, err := e.LLM.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return schema.FidelityReport{}, fmt.Errorf("fidelity: evaluate: %w", err)
	}

	resp, problems := parseResponse(raw)
	if len(problems) > 0 {
		repairPrompt := llm.BuildRepairPrompt(userPrompt, raw, problems)
		raw2, err := e.LLM.Complete(ctx, systemPrompt, repairPrompt)
		if err != nil {
			return schema.FidelityReport{}, fmt.Errorf("fidelity: repair: %w", err)
		}
		resp, problems = parseResponse(raw2)
		if len(problems) > 0 {
			return schema.FidelityReport{}, llm.ErrInvalidModelOutput
		}
	}

	report := schema.FidelityReport{
		Score:      ComputeScore(resp.Categories),
		Categories: resp.Categories,
		Gaps:       resp.Gaps,
		Critique:   resp.Critique,
	}

	// Missing ground-truth conflicts are a data-quality condition from the
	// generator; surface them here as a plot gap so revision pressure and
	// the caller both see it.
	if len(gt.Conflicts) == 0 {
		log.Warn().Msg("fidelity: ground truth has no conflicts; recording plot gap")
		report.Gaps = append(report.Gaps, schema.InformationGap{
			Category:   schema.GapPlot,
			Severity:   schema.SeverityMajor,
			Original:   "the narrative's driving conflict",
			Understood: "no conflict was extracted from the generated narrative",
			Remedy:     "add panels whose visuals and dialogue make the central tension explicit",
		})
	}

	critical, major, minor := CountSeverities(report.Gaps)
	log.Info().
		Float64("score", report.Score).
		Int("critical", critical).Int("major", major).Int("minor", minor).
		Msg("fidelity: evaluated")

	return report, nil
}

// parseResponse parses and validates a raw evaluator response.
func parseResponse(raw string) (evalResponse, []string) {
	raw = llm.StripMarkdownFences(raw)

	var resp evalResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		fixed := llm.FixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &resp); err2 != nil {
			return evalResponse{}, []string{fmt.Sprintf("json parse: %v", err)}
		}
	}

	problems := ValidateCategories(resp.Categories)
	for i, g := range resp.Gaps {
		for _, p := range ValidateGap(g) {
			problems = append(problems, fmt.Sprintf("gaps[%d]: %s", i, p))
		}
	}
	if len(resp.Gaps) > 0 && strings.TrimSpace(resp.Critique) == "" {
		problems = append(problems, "critique is required when gaps are present")
	}

	// An imperfect recovery with nothing actionable attached would leave the
	// revision pass with no input. Either everything was recovered, or the
	// response must say what was missed and what to change.
	unrecovered := false
	for _, c := range resp.Categories {
		if c.Recovered < c.Total {
			unrecovered = true
			break
		}
	}
	if unrecovered {
		if len(resp.Gaps) == 0 {
			problems = append(problems, "categories report unrecovered elements but gaps is empty; emit one gap per missed element")
		}
		if strings.TrimSpace(resp.Critique) == "" {
			problems = append(problems, "critique is required when any element was not recovered")
		}
	}
	if len(problems) > 0 {
		return evalResponse{}, problems
	}
	return resp, nil
}

// systemPrompt instructs the judge. Remedies must be presentation changes so
// the revision pass never receives an instruction to alter the story.
const systemPrompt = `You are a story fidelity judge for webtoon adaptations.

Output ONLY valid JSON conforming to the schema below. No prose, no markdown,
no explanation outside the JSON.

You are given the ORIGINAL story (with its extracted facts) and a RECONSTRUCTION
written by a first-time reader who saw only the panels. For each rubric category,
count how many ground-truth elements exist (total) and how many the reconstruction
recovered with the same meaning (recovered). Semantic match counts; exact wording
does not.

Categories (all five are required, each exactly once):
  plot_accuracy        - key story events
  motivation_clarity   - each character's goal, reason, and obstacle
  conflict_recognition - each conflict
  emotional_beats      - the emotional turns of the story
  coherence            - whether the reading holds together as one story (total 1)

For every element not recovered, or recovered with materially different meaning,
emit one gap:
  category: plot|motivation|emotion|relationship|conflict
  severity: critical (breaks basic plot comprehension) | major (significant
            misunderstanding of a motivation or conflict) | minor (detail-level)
  original: the ground-truth element
  understood: what the reader took away, or "missed entirely"
  remedy: a PRESENTATION change only - a visual cue, added or modified dialogue,
          or framing. NEVER suggest changing the story itself.

Finish with a critique: direct, actionable notes to the panel artist covering
the highest-severity gaps first.

Output schema (JSON only):
{
  "categories": [
    {"category": "plot_accuracy", "recovered": 3, "total": 4},
    {"category": "motivation_clarity", "recovered": 1, "total": 2},
    {"category": "conflict_recognition", "recovered": 1, "total": 1},
    {"category": "emotional_beats", "recovered": 2, "total": 3},
    {"category": "coherence", "recovered": 1, "total": 1}
  ],
  "gaps": [
    {"category": "motivation", "severity": "major", "original": "...",
     "understood": "...", "remedy": "..."}
  ],
  "critique": "..."
}
`

// buildUserPrompt renders both sides of the comparison.
func buildUserPrompt(gt schema.GroundTruth, recon schema.Reconstruction) string {
	var sb strings.Builder

	sb.WriteString("ORIGINAL NARRATIVE:\n")
	sb.WriteString(gt.Narrative)

	sb.WriteString("\n\nORIGINAL MOTIVATIONS:\n")
	for _, m := range gt.Motivations {
		fmt.Fprintf(&sb, "  - %s wants %s because %s; in the way: %s\n",
			m.Character, m.Goal, m.Reason, m.Obstacle)
	}

	sb.WriteString("\nORIGINAL CONFLICTS:\n")
	if len(gt.Conflicts) == 0 {
		sb.WriteString("  (none extracted)\n")
	}
	for _, c := range gt.Conflicts {
		fmt.Fprintf(&sb, "  - %s\n", c.Description)
	}

	sb.WriteString("\nREADER'S RECONSTRUCTION:\n")
	sb.WriteString(recon.Narrative)

	sb.WriteString("\n\nREADER'S INFERRED MOTIVATIONS:\n")
	if len(recon.Motivations) == 0 {
		sb.WriteString("  (none inferred)\n")
	}
	for _, m := range recon.Motivations {
		fmt.Fprintf(&sb, "  - %s wants %s because %s; in the way: %s\n",
			m.Character, m.Goal, m.Reason, m.Obstacle)
	}

	if len(recon.UnclearElements) > 0 {
		sb.WriteString("\nREADER FOUND UNCLEAR:\n")
		for _, u := range recon.UnclearElements {
			fmt.Fprintf(&sb, "  - %s\n", u)
		}
	}

	sb.WriteString("\nProduce the JSON report now.")
	return sb.String()
}
