// Package render produces output from a terminal schema.RunResult.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/panelcheck/internal/schema"
)

// RenderJSON produces a pretty-printed JSON representation of the result.
// The output round-trips through json.Unmarshal back to an equal RunResult.
func RenderJSON(result *schema.RunResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("render: nil result")
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a Markdown rendering of the final script and the
// iteration history, suitable for handing to an artist or posting for review.
// Every panel index present in the result will appear in the output.
func RenderMarkdown(result *schema.RunResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Webtoon Script\n\n")
	fmt.Fprintf(&sb, "**Run:** %s  \n", result.RunID)
	fmt.Fprintf(&sb, "**Status:** %s  \n", result.Status)
	if n := len(result.History); n > 0 {
		fmt.Fprintf(&sb, "**Final score:** %.1f/100 after %d iteration(s)\n\n",
			result.History[n-1].Score, n)
	} else {
		sb.WriteString("\n")
	}
	if result.Error != "" {
		fmt.Fprintf(&sb, "**Error:** %s\n\n", mdEscape(result.Error))
	}

	for _, p := range result.FinalPanels {
		fmt.Fprintf(&sb, "### Panel %d (%s)\n\n", p.Index, p.Framing)
		fmt.Fprintf(&sb, "%s\n\n", p.Visual)
		for _, d := range p.Dialogue {
			fmt.Fprintf(&sb, "> **%s:** %s\n", mdEscape(d.Speaker), mdEscape(d.Line))
		}
		if len(p.Dialogue) > 0 {
			sb.WriteString("\n")
		}
	}

	if len(result.History) > 0 {
		sb.WriteString("## Iteration History\n\n")
		sb.WriteString("| Iteration | Score | Gaps | Reader confidence |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, rec := range result.History {
			fmt.Fprintf(&sb, "| %d | %.1f | %d | %.2f |\n",
				rec.Iteration, rec.Score, rec.GapCount, rec.Confidence)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
