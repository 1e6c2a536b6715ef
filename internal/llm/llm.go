// Package llm handles LLM provider communication: the provider abstraction,
// transport-level retry, and the response sanitization every stage applies
// before parsing model output as JSON.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidModelOutput is returned when both the initial and repair
// responses for a stage call fail validation.
var ErrInvalidModelOutput = errors.New("llm: invalid model output after repair attempt")

// Provider is the interface for LLM backends. Implementations must be safe
// for concurrent use; every pipeline run shares one Provider.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures the stage calls made through Retryer.
type Options struct {
	MaxTokens   int
	Temperature float64
	// Retries is the number of additional attempts after a transport
	// failure. It covers timeouts and backend errors only; malformed output
	// is handled by the per-stage repair prompt, not by retrying.
	Retries int
}

// Retryer wraps a Provider with the bounded per-call retry policy. Stages
// call Complete through a Retryer so the policy lives in one place.
type Retryer struct {
	Provider Provider
	Opts     Options
}

// Complete issues the request, retrying up to Opts.Retries additional times on
// transport error. A canceled context is never retried.
func (r Retryer) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.Opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			log.Warn().Int("attempt", attempt+1).Err(lastErr).Msg("llm: retrying after backend failure")
		}
		start := time.Now()
		raw, err := r.Provider.Complete(ctx, systemPrompt, userPrompt, r.Opts.MaxTokens, r.Opts.Temperature)
		if err == nil {
			log.Debug().Dur("elapsed", time.Since(start)).Msg("llm: complete")
			return raw, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("llm: complete after %d attempts: %w", r.Opts.Retries+1, lastErr)
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences. The content group
// uses `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// StripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
// If only an opening fence is present (e.g., the response was truncated before
// the closing fence), the opening line is stripped so that the JSON content
// can still be parsed.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu). LLMs sometimes emit
// stray escapes inside JSON strings; this sanitizer converts them to properly
// double-escaped sequences so the JSON parser accepts the response.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// FixInvalidJSONEscapes replaces invalid JSON escape sequences in s with
// their correctly double-escaped equivalents.
func FixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// BuildRepairPrompt constructs the repair message sent after a response fails
// stage validation. It includes the original user prompt and the previous
// invalid response so the LLM has full context.
func BuildRepairPrompt(originalUserPrompt, previousResponse string, problems []string) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, p := range problems {
		fmt.Fprintf(&sb, "  - %s\n", p)
	}
	sb.WriteString("\nPlease output only the corrected JSON conforming to the schema. Do not repeat the error.")
	return sb.String()
}

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic", "":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}
