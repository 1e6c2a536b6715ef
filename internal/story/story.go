// Package story implements the content generator: the single stage that turns
// a seed into the ground-truth narrative and its extracted facts. It runs
// exactly once per pipeline run and is never re-invoked during revision.
package story

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/schema"
	"github.com/dshills/panelcheck/internal/styleprofile"
)

// Generator produces ground truth from a seed.
type Generator struct {
	LLM     llm.Retryer
	Profile styleprofile.Profile
}

// Generate builds the prompt, calls the LLM, validates the response, and
// performs one repair attempt if validation fails.
//
// An empty conflict list is a data-quality condition, not a failure: the run
// proceeds and the evaluator will surface missing conflicts as plot gaps.
func (g Generator) Generate(ctx context.Context, seed string) (schema.GroundTruth, error) {
	if strings.TrimSpace(seed) == "" {
		return schema.GroundTruth{}, fmt.Errorf("story: seed is empty")
	}

	sysPrompt := buildSystemPrompt(g.Profile)
	userPrompt := buildUserPrompt(seed)

	raw, err := g.LLM.Complete(ctx, sysPrompt, userPrompt)
	if err != nil {
		return schema.GroundTruth{}, fmt.Errorf("story: generate: %w", err)
	}

	gt, problems := parseResponse(raw)
	if len(problems) == 0 {
		return finish(gt), nil
	}

	repairPrompt := llm.BuildRepairPrompt(userPrompt, raw, problems)
	raw2, err := g.LLM.Complete(ctx, sysPrompt, repairPrompt)
	if err != nil {
		return schema.GroundTruth{}, fmt.Errorf("story: repair: %w", err)
	}

	gt2, problems2 := parseResponse(raw2)
	if len(problems2) == 0 {
		return finish(gt2), nil
	}
	return schema.GroundTruth{}, llm.ErrInvalidModelOutput
}

// finish logs data-quality conditions that are tolerated rather than repaired.
func finish(gt schema.GroundTruth) schema.GroundTruth {
	if len(gt.Conflicts) == 0 {
		log.Warn().Msg("story: ground truth has no conflicts; evaluator will treat this as a plot gap")
	}
	return gt
}

// parseResponse parses and validates the raw LLM response. It returns the
// parsed ground truth and a list of problems; an empty list means valid.
func parseResponse(raw string) (schema.GroundTruth, []string) {
	raw = llm.StripMarkdownFences(raw)

	var gt schema.GroundTruth
	if err := json.Unmarshal([]byte(raw), &gt); err != nil {
		fixed := llm.FixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &gt); err2 != nil {
			return schema.GroundTruth{}, []string{fmt.Sprintf("json parse: %v", err)}
		}
	}

	var problems []string
	if strings.TrimSpace(gt.Narrative) == "" {
		problems = append(problems, "narrative is empty")
	}
	if len(gt.Motivations) == 0 {
		problems = append(problems, "motivations is empty; at least one named character with a motivation is required")
	}
	for i, m := range gt.Motivations {
		if m.Character == "" {
			problems = append(problems, fmt.Sprintf("motivations[%d].character is empty", i))
		}
		if m.Goal == "" {
			problems = append(problems, fmt.Sprintf("motivations[%d].goal is empty", i))
		}
		if m.Reason == "" {
			problems = append(problems, fmt.Sprintf("motivations[%d].reason is empty", i))
		}
		if m.Obstacle == "" {
			problems = append(problems, fmt.Sprintf("motivations[%d].obstacle is empty", i))
		}
	}
	for i, c := range gt.Conflicts {
		if c.Description == "" {
			problems = append(problems, fmt.Sprintf("conflicts[%d].description is empty", i))
		}
	}
	return gt, problems
}

// buildSystemPrompt assembles the generator system prompt.
func buildSystemPrompt(prof styleprofile.Profile) string {
	var sb strings.Builder

	sb.WriteString("You are a webtoon story writer.\n\n")
	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")
	sb.WriteString("Write a short, complete narrative with a beginning, middle, and end. " +
		"Then extract its facts: for EVERY named character, one motivation entry with a goal, " +
		"the underlying reason, and the obstacle in the way; and the list of conflicts " +
		"driving the story.\n\n")

	if prof.SystemPromptAddendum != "" {
		sb.WriteString(prof.SystemPromptAddendum)
		sb.WriteString("\n\n")
	}

	sb.WriteString(outputSchema)
	return sb.String()
}

// outputSchema is the JSON schema fragment shown to the LLM.
const outputSchema = `Output schema (JSON only):
{
  "narrative": "the full story text",
  "motivations": [
    {"character": "Name", "goal": "...", "reason": "...", "obstacle": "..."}
  ],
  "conflicts": [
    {"description": "...", "characters": ["Name", "Other"]}
  ]
}
`

// buildUserPrompt assembles the generator user prompt.
func buildUserPrompt(seed string) string {
	var sb strings.Builder
	sb.WriteString("SEED:\n")
	sb.WriteString(seed)
	sb.WriteString("\n\nWrite the narrative and extract its facts now.")
	return sb.String()
}
