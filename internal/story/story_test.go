package story

import (
	"context"
	"strings"
	"testing"

	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/styleprofile"
)

// scriptedProvider returns canned responses in order.
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

func newGenerator(p llm.Provider) Generator {
	return Generator{
		LLM:     llm.Retryer{Provider: p, Opts: llm.Options{MaxTokens: 4096}},
		Profile: styleprofile.Profile{Name: "general"},
	}
}

const validTruth = `{
  "narrative": "Mina climbs the water tower to retrieve her brother's kite before the storm hits.",
  "motivations": [
    {"character": "Mina", "goal": "retrieve the kite", "reason": "it was their father's last gift", "obstacle": "the approaching storm"}
  ],
  "conflicts": [
    {"description": "Mina against the storm's deadline", "characters": ["Mina"]}
  ]
}`

func TestGenerate_Valid(t *testing.T) {
	p := &scriptedProvider{responses: []string{validTruth}}
	g := newGenerator(p)

	gt, err := g.Generate(context.Background(), "a kite stuck on a water tower")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gt.Narrative == "" {
		t.Error("expected non-empty narrative")
	}
	if len(gt.Motivations) != 1 || gt.Motivations[0].Character != "Mina" {
		t.Errorf("unexpected motivations: %+v", gt.Motivations)
	}
	if len(gt.Conflicts) != 1 {
		t.Errorf("expected 1 conflict, got %d", len(gt.Conflicts))
	}
	if p.calls != 1 {
		t.Errorf("expected 1 LLM call, got %d", p.calls)
	}
}

func TestGenerate_FencedResponse(t *testing.T) {
	p := &scriptedProvider{responses: []string{"```json\n" + validTruth + "\n```"}}
	g := newGenerator(p)

	gt, err := g.Generate(context.Background(), "seed")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gt.Narrative == "" {
		t.Error("expected fenced JSON to parse")
	}
}

func TestGenerate_RepairSucceeds(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"narrative": ""}`, validTruth}}
	g := newGenerator(p)

	gt, err := g.Generate(context.Background(), "seed")
	if err != nil {
		t.Fatalf("Generate() after repair error = %v", err)
	}
	if gt.Narrative == "" {
		t.Error("expected repaired response to be used")
	}
	if p.calls != 2 {
		t.Errorf("expected 2 LLM calls (initial + repair), got %d", p.calls)
	}
	if !strings.Contains(p.prompts[1], "narrative is empty") {
		t.Error("repair prompt should name the validation problem")
	}
}

func TestGenerate_RepairFails(t *testing.T) {
	p := &scriptedProvider{responses: []string{"not json", "still not json"}}
	g := newGenerator(p)

	_, err := g.Generate(context.Background(), "seed")
	if err != llm.ErrInvalidModelOutput {
		t.Fatalf("expected ErrInvalidModelOutput, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected exactly 2 LLM calls, got %d", p.calls)
	}
}

func TestGenerate_EmptyConflictsTolerated(t *testing.T) {
	noConflicts := `{
	  "narrative": "A quiet afternoon.",
	  "motivations": [
	    {"character": "Joon", "goal": "finish a painting", "reason": "gallery deadline", "obstacle": "self doubt"}
	  ],
	  "conflicts": []
	}`
	p := &scriptedProvider{responses: []string{noConflicts}}
	g := newGenerator(p)

	gt, err := g.Generate(context.Background(), "seed")
	if err != nil {
		t.Fatalf("empty conflicts should not fail generation: %v", err)
	}
	if len(gt.Conflicts) != 0 {
		t.Errorf("expected 0 conflicts, got %d", len(gt.Conflicts))
	}
	if p.calls != 1 {
		t.Errorf("empty conflicts should not trigger repair, got %d calls", p.calls)
	}
}

func TestGenerate_EmptySeed(t *testing.T) {
	p := &scriptedProvider{responses: []string{validTruth}}
	g := newGenerator(p)

	if _, err := g.Generate(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank seed")
	}
	if p.calls != 0 {
		t.Errorf("blank seed should not reach the LLM, got %d calls", p.calls)
	}
}

func TestParseResponse_ProblemList(t *testing.T) {
	raw := `{
	  "narrative": "x",
	  "motivations": [{"character": "", "goal": "", "reason": "r", "obstacle": "o"}],
	  "conflicts": [{"description": ""}]
	}`
	_, problems := parseResponse(raw)
	wantSubstrings := []string{
		"motivations[0].character is empty",
		"motivations[0].goal is empty",
		"conflicts[0].description is empty",
	}
	for _, want := range wantSubstrings {
		found := false
		for _, p := range problems {
			if strings.Contains(p, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("problems missing %q; got %v", want, problems)
		}
	}
}
