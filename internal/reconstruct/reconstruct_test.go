package reconstruct

import (
	"context"
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

func samplePanels() []schema.PanelSpec {
	return []schema.PanelSpec{
		{
			Index:   1,
			Visual:  "A girl climbs a rusted water tower ladder as storm clouds gather.",
			Framing: schema.ShotWide,
			Dialogue: []schema.DialogueLine{
				{Speaker: "Mina", Line: "Hold on, little one."},
			},
		},
	}
}

func TestNewView_DeepCopy(t *testing.T) {
	panels := samplePanels()
	names := []string{"Mina"}
	view := NewView(panels, names)

	view.Panels[0].Visual = "changed"
	view.Panels[0].Dialogue[0].Line = "changed"
	view.CharacterNames[0] = "changed"

	if panels[0].Visual == "changed" {
		t.Error("View shares panel storage with the source slice")
	}
	if panels[0].Dialogue[0].Line == "changed" {
		t.Error("View shares dialogue storage with the source slice")
	}
	if names[0] == "changed" {
		t.Error("View shares character name storage with the source slice")
	}
}

func TestReconstruct_Valid(t *testing.T) {
	resp := `{
	  "narrative": "A girl races a storm to rescue something precious from a tower.",
	  "motivations": [
	    {"character": "Mina", "goal": "reach the top", "reason": "", "obstacle": "the storm"}
	  ],
	  "unclear_elements": ["what she is retrieving"],
	  "confidence": 0.7
	}`
	p := &scriptedProvider{responses: []string{resp}}
	r := Reconstructor{LLM: llm.Retryer{Provider: p}}

	recon, err := r.Reconstruct(context.Background(), NewView(samplePanels(), []string{"Mina"}))
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if recon.Narrative == "" {
		t.Error("expected non-empty narrative")
	}
	if recon.Motivations[0].Reason != "unknown" {
		t.Errorf("empty inferred field should become \"unknown\", got %q", recon.Motivations[0].Reason)
	}
	if recon.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", recon.Confidence)
	}
}

func TestReconstruct_ConfidenceClamped(t *testing.T) {
	resp := `{"narrative": "A story.", "motivations": [], "unclear_elements": [], "confidence": 1.4}`
	p := &scriptedProvider{responses: []string{resp}}
	r := Reconstructor{LLM: llm.Retryer{Provider: p}}

	recon, err := r.Reconstruct(context.Background(), NewView(samplePanels(), nil))
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if recon.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped 1.0", recon.Confidence)
	}
}

func TestReconstruct_EmptyView(t *testing.T) {
	p := &scriptedProvider{responses: []string{"{}"}}
	r := Reconstructor{LLM: llm.Retryer{Provider: p}}

	if _, err := r.Reconstruct(context.Background(), View{}); err == nil {
		t.Fatal("expected error for empty view")
	}
	if p.calls != 0 {
		t.Errorf("empty view should not reach the LLM, got %d calls", p.calls)
	}
}

func TestReconstruct_RepairFails(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"narrative": ""}`, "garbage"}}
	r := Reconstructor{LLM: llm.Retryer{Provider: p}}

	_, err := r.Reconstruct(context.Background(), NewView(samplePanels(), nil))
	if err != llm.ErrInvalidModelOutput {
		t.Fatalf("expected ErrInvalidModelOutput, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected exactly 2 LLM calls, got %d", p.calls)
	}
}

// The prompt must contain only view content. Feeding a view whose panels never
// mention a secret string and checking the prompt proves buildUserPrompt adds
// nothing beyond the view.
func TestReconstruct_PromptCarriesOnlyView(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"narrative": "A story.", "confidence": 0.5}`}}
	r := Reconstructor{LLM: llm.Retryer{Provider: p}}

	view := NewView(samplePanels(), []string{"Mina"})
	if _, err := r.Reconstruct(context.Background(), view); err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}

	prompt := p.prompts[0]
	if !strings.Contains(prompt, "rusted water tower") {
		t.Error("prompt should include panel visuals")
	}
	if !strings.Contains(prompt, "Hold on, little one.") {
		t.Error("prompt should include dialogue lines")
	}
	if !strings.Contains(prompt, "CHARACTERS APPEARING: Mina") {
		t.Error("prompt should list character display names")
	}
}
