// Package reconstruct implements the blind reader: an information-isolated
// stage that infers a narrative purely from a panel script. Its input type,
// View, is the one-way barrier the whole pipeline depends on: it can only be
// built by explicit field copy and never carries ground truth.
package reconstruct

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/schema"
)

// View is the reconstructor's entire world: panel copies and public character
// display names. There is deliberately no field for the narrative, the facts,
// the seed, or any prior fidelity report. Construct it with NewView only.
type View struct {
	Panels         []schema.PanelSpec
	CharacterNames []string
}

// NewView builds a View by deep-copying the given panels and names. Callers
// must never construct a View from a reference into pipeline state.
func NewView(panels []schema.PanelSpec, characterNames []string) View {
	names := make([]string, len(characterNames))
	copy(names, characterNames)
	return View{
		Panels:         schema.ClonePanels(panels),
		CharacterNames: names,
	}
}

// Reconstructor infers a narrative from a View.
type Reconstructor struct {
	LLM llm.Retryer
}

// Reconstruct calls the LLM with the view only, validates the response, and
// performs one repair attempt if validation fails. Confidence outside [0,1]
// is clamped and logged; it is advisory data, never used for scoring.
func (r Reconstructor) Reconstruct(ctx context.Context, view View) (schema.Reconstruction, error) {
	if len(view.Panels) == 0 {
		return schema.Reconstruction{}, fmt.Errorf("reconstruct: view has no panels")
	}

	userPrompt := buildUserPrompt(view)

	raw, err := r.LLM.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return schema.Reconstruction{}, fmt.Errorf("reconstruct: %w", err)
	}

	recon, problems := parseResponse(raw)
	if len(problems) == 0 {
		return recon, nil
	}

	repairPrompt := llm.BuildRepairPrompt(userPrompt, raw, problems)
	raw2, err := r.LLM.Complete(ctx, systemPrompt, repairPrompt)
	if err != nil {
		return schema.Reconstruction{}, fmt.Errorf("reconstruct: repair: %w", err)
	}

	recon2, problems2 := parseResponse(raw2)
	if len(problems2) == 0 {
		return recon2, nil
	}
	return schema.Reconstruction{}, llm.ErrInvalidModelOutput
}

// parseResponse parses and validates a raw reconstruction response.
func parseResponse(raw string) (schema.Reconstruction, []string) {
	raw = llm.StripMarkdownFences(raw)

	var recon schema.Reconstruction
	if err := json.Unmarshal([]byte(raw), &recon); err != nil {
		fixed := llm.FixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &recon); err2 != nil {
			return schema.Reconstruction{}, []string{fmt.Sprintf("json parse: %v", err)}
		}
	}

	var problems []string
	if strings.TrimSpace(recon.Narrative) == "" {
		problems = append(problems, "narrative is empty")
	}
	if len(problems) > 0 {
		return schema.Reconstruction{}, problems
	}

	// Unidentifiable motivations are reported as "unknown", never dropped.
	for i := range recon.Motivations {
		m := &recon.Motivations[i]
		if m.Goal == "" {
			m.Goal = "unknown"
		}
		if m.Reason == "" {
			m.Reason = "unknown"
		}
		if m.Obstacle == "" {
			m.Obstacle = "unknown"
		}
	}

	if recon.Confidence < 0 || recon.Confidence > 1 {
		log.Info().Float64("confidence", recon.Confidence).
			Msg("reconstruct: clamping out-of-range confidence")
		if recon.Confidence < 0 {
			recon.Confidence = 0
		} else {
			recon.Confidence = 1
		}
	}
	return recon, nil
}

// systemPrompt tells the reader it is seeing the panels cold, because it is.
const systemPrompt = `You are a first-time reader of a webtoon. You know NOTHING about this story
except the panels shown to you.

Output ONLY valid JSON conforming to the schema below. No prose, no markdown,
no explanation outside the JSON.

Read the panels in order and reconstruct the story as you understand it.
For each character you can identify, infer their motivation; use "unknown"
for anything you cannot infer. List the elements you found unclear. Report
your overall confidence in your reading as a number from 0 to 1.

Output schema (JSON only):
{
  "narrative": "the story as you understood it",
  "motivations": [
    {"character": "Name", "goal": "...", "reason": "...", "obstacle": "..."}
  ],
  "unclear_elements": ["..."],
  "confidence": 0.8
}
`

// buildUserPrompt renders the view. Only View fields appear here; this
// function is the last line of the information barrier.
func buildUserPrompt(view View) string {
	var sb strings.Builder

	if len(view.CharacterNames) > 0 {
		sb.WriteString("CHARACTERS APPEARING: ")
		sb.WriteString(strings.Join(view.CharacterNames, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("PANELS:\n")
	for _, p := range view.Panels {
		fmt.Fprintf(&sb, "\nPanel %d [%s]:\n", p.Index, p.Framing)
		fmt.Fprintf(&sb, "  Visual: %s\n", p.Visual)
		for _, d := range p.Dialogue {
			fmt.Fprintf(&sb, "  %s: %q\n", d.Speaker, d.Line)
		}
	}

	sb.WriteString("\nReconstruct the story now.")
	return sb.String()
}
