package fidelity

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/schema"
)

type scriptedProvider struct {
	responses []string
	calls     int
	prompts   []string
}

func (s *scriptedProvider) Complete(_ context.Context, _, userPrompt string, _ int, _ float64) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func evalJSON(t *testing.T, categories []schema.CategoryScore, gaps []schema.InformationGap, critique string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"categories": categories,
		"gaps":       gaps,
		"critique":   critique,
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func fullRubric(recovered, total int) []schema.CategoryScore {
	out := make([]schema.CategoryScore, 0, len(AllCategories))
	for _, c := range AllCategories {
		out = append(out, schema.CategoryScore{Category: c, Recovered: recovered, Total: total})
	}
	return out
}

func sampleTruth() schema.GroundTruth {
	return schema.GroundTruth{
		Narrative: "Mina climbs the water tower before the storm.",
		Motivations: []schema.Motivation{
			{Character: "Mina", Goal: "retrieve the kite", Reason: "father's gift", Obstacle: "the storm"},
		},
		Conflicts: []schema.Conflict{{Description: "Mina against the storm"}},
	}
}

func sampleRecon() schema.Reconstruction {
	return schema.Reconstruction{
		Narrative:  "A girl races a storm up a tower.",
		Confidence: 0.6,
	}
}

func TestEvaluate_ScoreComputedLocally(t *testing.T) {
	// The response carries no score field at all; the score must come from
	// the category counts.
	gap := schema.InformationGap{
		Category:   schema.GapMotivation,
		Severity:   schema.SeverityMajor,
		Original:   "the kite was her father's gift",
		Understood: "missed entirely",
		Remedy:     "add a flashback panel of the kite being given",
	}
	p := &scriptedProvider{responses: []string{
		evalJSON(t, fullRubric(1, 2), []schema.InformationGap{gap}, "Show why the kite matters."),
	}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	report, err := e.Evaluate(context.Background(), sampleTruth(), sampleRecon())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Score != 50 {
		t.Errorf("Score = %v, want 50 (all categories half recovered)", report.Score)
	}
	if len(report.Gaps) != 1 {
		t.Errorf("expected 1 gap, got %d", len(report.Gaps))
	}
	if report.Critique == "" {
		t.Error("expected critique to be carried through")
	}
}

func TestEvaluate_RepairOnBadRubric(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		evalJSON(t, fullRubric(1, 2)[:3], nil, ""), // missing categories
		evalJSON(t, fullRubric(2, 2), nil, ""),
	}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	report, err := e.Evaluate(context.Background(), sampleTruth(), sampleRecon())
	if err != nil {
		t.Fatalf("Evaluate() after repair error = %v", err)
	}
	if report.Score != 100 {
		t.Errorf("Score = %v, want 100", report.Score)
	}
	if p.calls != 2 {
		t.Errorf("expected 2 LLM calls, got %d", p.calls)
	}
	if !strings.Contains(p.prompts[1], "is missing") {
		t.Error("repair prompt should name the missing categories")
	}
}

func TestEvaluate_RepairFails(t *testing.T) {
	p := &scriptedProvider{responses: []string{"nope", "still nope"}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	_, err := e.Evaluate(context.Background(), sampleTruth(), sampleRecon())
	if err != llm.ErrInvalidModelOutput {
		t.Fatalf("expected ErrInvalidModelOutput, got %v", err)
	}
}

func TestEvaluate_MissingConflictsRecordedAsPlotGap(t *testing.T) {
	gt := sampleTruth()
	gt.Conflicts = nil

	p := &scriptedProvider{responses: []string{
		evalJSON(t, fullRubric(2, 2), nil, ""),
	}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	report, err := e.Evaluate(context.Background(), gt, sampleRecon())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(report.Gaps) != 1 {
		t.Fatalf("expected 1 locally appended gap, got %d", len(report.Gaps))
	}
	g := report.Gaps[0]
	if g.Category != schema.GapPlot || g.Severity != schema.SeverityMajor {
		t.Errorf("appended gap = %s/%s, want plot/major", g.Category, g.Severity)
	}
}

func TestEvaluate_UnrecoveredRequiresGapsAndCritique(t *testing.T) {
	// Partial recovery with no gaps and no critique would leave the revision
	// pass with nothing to act on; the validator must bounce it to repair.
	gap := schema.InformationGap{
		Category: schema.GapMotivation, Severity: schema.SeverityMajor,
		Original: "the kite was her father's gift", Understood: "missed entirely",
		Remedy: "add a flashback panel of the kite being given",
	}
	p := &scriptedProvider{responses: []string{
		evalJSON(t, fullRubric(1, 2), nil, ""),
		evalJSON(t, fullRubric(1, 2), []schema.InformationGap{gap}, "Show why the kite matters."),
	}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	report, err := e.Evaluate(context.Background(), sampleTruth(), sampleRecon())
	if err != nil {
		t.Fatalf("Evaluate() after repair error = %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("gapless partial recovery must trigger repair, got %d calls", p.calls)
	}
	for _, want := range []string{"gaps is empty", "critique is required"} {
		if !strings.Contains(p.prompts[1], want) {
			t.Errorf("repair prompt missing %q", want)
		}
	}
	if report.Score >= 100 {
		t.Errorf("Score = %v, want partial", report.Score)
	}
	if len(report.Gaps) == 0 || report.Critique == "" {
		t.Error("a below-perfect report must carry gaps and a critique")
	}
}

func TestEvaluate_PersistentlyGaplessPartialRecoveryFails(t *testing.T) {
	bad := evalJSON(t, fullRubric(1, 2), nil, "")
	p := &scriptedProvider{responses: []string{bad, bad}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	_, err := e.Evaluate(context.Background(), sampleTruth(), sampleRecon())
	if err != llm.ErrInvalidModelOutput {
		t.Fatalf("expected ErrInvalidModelOutput, got %v", err)
	}
}

func TestEvaluate_CritiqueRequiredWithGaps(t *testing.T) {
	gap := schema.InformationGap{
		Category: schema.GapPlot, Severity: schema.SeverityMinor,
		Original: "x", Understood: "y", Remedy: "z",
	}
	p := &scriptedProvider{responses: []string{
		evalJSON(t, fullRubric(1, 2), []schema.InformationGap{gap}, ""),
		evalJSON(t, fullRubric(1, 2), []schema.InformationGap{gap}, "Tighten panel 2."),
	}}
	e := Evaluator{LLM: llm.Retryer{Provider: p}}

	report, err := e.Evaluate(context.Background(), sampleTruth(), sampleRecon())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if p.calls != 2 {
		t.Errorf("missing critique should trigger repair, got %d calls", p.calls)
	}
	if report.Critique != "Tighten panel 2." {
		t.Errorf("Critique = %q", report.Critique)
	}
}
