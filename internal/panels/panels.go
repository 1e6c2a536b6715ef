// Package panels implements the structured converter: narrative to panel
// script in initial mode, and critique-guided revision of an existing script
// in revision mode. Revision changes how information is presented, never the
// underlying facts; that constraint is carried by instruction and policed by
// the evaluator, not enforced structurally here.
package panels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/schema"
	"github.com/dshills/panelcheck/internal/styleprofile"
)

// Converter turns narratives into panel scripts and revises them under
// critique.
type Converter struct {
	LLM     llm.Retryer
	Profile styleprofile.Profile

	// MinVisualLen is the minimum accepted visual description length. A
	// panel below it is a validation problem; a panel with an empty visual
	// fails the stage outright, since rendering requires one and there is
	// no safe default to fabricate.
	MinVisualLen int
}

// scriptResponse is the raw payload the LLM returns in both modes.
type scriptResponse struct {
	Panels []schema.PanelSpec `json:"panels"`
}

// Convert produces the initial panel script from ground truth.
func (c Converter) Convert(ctx context.Context, gt schema.GroundTruth) ([]schema.PanelSpec, error) {
	sysPrompt := c.buildSystemPrompt()
	userPrompt := buildConvertPrompt(gt)
	out, err := c.callAndValidate(ctx, sysPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("panels: convert: %w", err)
	}
	return out, nil
}

// Revise produces a new script from the current one and the evaluator's
// critique. The prior script, not the ground truth, is the revision input:
// revision is a presentation pass, so the facts it may draw on are the ones
// already on the page plus the critique's remedies.
func (c Converter) Revise(ctx context.Context, panels []schema.PanelSpec, critique string) ([]schema.PanelSpec, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("panels: revise: no panels to revise")
	}
	if strings.TrimSpace(critique) == "" {
		return nil, fmt.Errorf("panels: revise: critique is empty")
	}
	sysPrompt := c.buildSystemPrompt()
	userPrompt := buildRevisePrompt(panels, critique)
	out, err := c.callAndValidate(ctx, sysPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("panels: revise: %w", err)
	}
	return out, nil
}

// callAndValidate runs the shared call, normalize, validate, repair-once flow.
func (c Converter) callAndValidate(ctx context.Context, sysPrompt, userPrompt string) ([]schema.PanelSpec, error) {
	raw, err := c.LLM.Complete(ctx, sysPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	out, problems := c.parseResponse(raw)
	if len(problems) == 0 {
		return out, nil
	}

	repairPrompt := llm.BuildRepairPrompt(userPrompt, raw, problems)
	raw2, err := c.LLM.Complete(ctx, sysPrompt, repairPrompt)
	if err != nil {
		return nil, err
	}

	out2, problems2 := c.parseResponse(raw2)
	if len(problems2) == 0 {
		return out2, nil
	}
	return nil, llm.ErrInvalidModelOutput
}

// parseResponse parses, normalizes, and validates a raw script response.
// Normalization runs on the raw structure before validation so that safe
// defaults are in place when the contract is checked.
func (c Converter) parseResponse(raw string) ([]schema.PanelSpec, []string) {
	raw = llm.StripMarkdownFences(raw)

	var resp scriptResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		fixed := llm.FixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &resp); err2 != nil {
			return nil, []string{fmt.Sprintf("json parse: %v", err)}
		}
	}

	Normalize(resp.Panels)
	problems := Validate(resp.Panels, c.MinVisualLen)
	if len(problems) > 0 {
		return nil, problems
	}
	return resp.Panels, nil
}

// Normalize applies the documented default-fill policy in place:
//   - a missing or unrecognized framing tag becomes DefaultFraming
//   - a dialogue line with no speaker becomes "Narrator"
//   - indices are rewritten 1-based contiguous in sequence order
//
// Each fill is logged. Visual descriptions and dialogue text are never
// filled; fabricating plot-relevant content is not a normalization.
func Normalize(panels []schema.PanelSpec) {
	for i := range panels {
		p := &panels[i]
		if !schema.ValidFraming(p.Framing) {
			log.Info().Int("panel", i+1).Str("framing", string(p.Framing)).
				Msgf("panels: filling default framing %q", schema.DefaultFraming)
			p.Framing = schema.DefaultFraming
		}
		for j := range p.Dialogue {
			if strings.TrimSpace(p.Dialogue[j].Speaker) == "" {
				log.Info().Int("panel", i+1).Int("line", j+1).
					Msg("panels: filling default speaker Narrator")
				p.Dialogue[j].Speaker = "Narrator"
			}
		}
		p.Index = i + 1
	}
}

// Validate returns field-level problem messages for a panel script. An empty
// return means the script satisfies the panel contract: at least one panel,
// every visual non-empty and at least minVisualLen characters, and contiguous
// 1-based indices.
func Validate(panels []schema.PanelSpec, minVisualLen int) []string {
	var problems []string
	if len(panels) == 0 {
		problems = append(problems, "script has no panels")
		return problems
	}
	for i, p := range panels {
		if p.Index != i+1 {
			problems = append(problems, fmt.Sprintf("panels[%d].index is %d, want %d", i, p.Index, i+1))
		}
		visual := strings.TrimSpace(p.Visual)
		if visual == "" {
			problems = append(problems, fmt.Sprintf("panels[%d].visual is empty", i))
			continue
		}
		if n := utf8.RuneCountInString(visual); n < minVisualLen {
			problems = append(problems, fmt.Sprintf(
				"panels[%d].visual is %d characters, need at least %d; expand the scene description",
				i, n, minVisualLen))
		}
		for j, d := range p.Dialogue {
			if strings.TrimSpace(d.Line) == "" {
				problems = append(problems, fmt.Sprintf("panels[%d].dialogue[%d].line is empty", i, j))
			}
		}
	}
	return problems
}

// buildSystemPrompt assembles the converter system prompt, shared by both
// modes.
func (c Converter) buildSystemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are a webtoon panel artist and script adapter.\n\n")
	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")
	fmt.Fprintf(&sb, "Every panel MUST have a visual description of at least %d characters: "+
		"concrete, drawable detail: setting, characters present, posture, expression, "+
		"lighting. Dialogue is optional per panel.\n\n", c.MinVisualLen)

	if c.Profile.SystemPromptAddendum != "" {
		sb.WriteString(c.Profile.SystemPromptAddendum)
		sb.WriteString("\n\n")
	}

	sb.WriteString(scriptSchema)
	return sb.String()
}

// scriptSchema is the JSON schema fragment shown to the LLM.
const scriptSchema = `Output schema (JSON only):
{
  "panels": [
    {
      "index": 1,
      "visual": "detailed visual description of the panel",
      "dialogue": [{"speaker": "Name", "line": "..."}],
      "framing": "wide|medium|close-up|extreme-close-up|overhead"
    }
  ]
}
`

// buildConvertPrompt assembles the initial-mode user prompt. It carries the
// full ground truth: the converter is the trusted stage and needs everything.
func buildConvertPrompt(gt schema.GroundTruth) string {
	var sb strings.Builder
	sb.WriteString("NARRATIVE:\n")
	sb.WriteString(gt.Narrative)

	sb.WriteString("\n\nCHARACTER MOTIVATIONS:\n")
	for _, m := range gt.Motivations {
		fmt.Fprintf(&sb, "  - %s wants %s because %s; in the way: %s\n",
			m.Character, m.Goal, m.Reason, m.Obstacle)
	}

	sb.WriteString("\nCONFLICTS:\n")
	if len(gt.Conflicts) == 0 {
		sb.WriteString("  (none extracted)\n")
	}
	for _, c := range gt.Conflicts {
		fmt.Fprintf(&sb, "  - %s\n", c.Description)
	}

	sb.WriteString("\nConvert this narrative into a panel script now. " +
		"A reader seeing only the panels should be able to recover the story, " +
		"every character's motivation, and every conflict.")
	return sb.String()
}

// buildRevisePrompt assembles the revision-mode user prompt.
func buildRevisePrompt(panels []schema.PanelSpec, critique string) string {
	var sb strings.Builder
	sb.WriteString("CURRENT SCRIPT:\n")
	b, _ := json.MarshalIndent(scriptResponse{Panels: panels}, "", "  ")
	sb.Write(b)

	sb.WriteString("\n\nCRITIQUE:\n")
	sb.WriteString(critique)

	sb.WriteString("\n\nRevise the script to address every point in the critique. " +
		"Change ONLY how information is presented: visual cues, added or modified dialogue, " +
		"framing, panel order and count. Do NOT invent new plot events, change what happens, " +
		"or alter who wants what. Output the complete revised script.")
	return sb.String()
}
