// Package pipeline implements the orchestrator for the quality-gated script
// pipeline: generate ground truth once, convert it to panels, then loop
// blind-reconstruct, evaluate, revise until the fidelity score clears the
// threshold or the iteration budget is exhausted.
//
// The orchestrator is the only component with full visibility into the run
// state, and the only place where the reconstructor's information-isolated
// view is constructed.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dshills/panelcheck/internal/config"
	"github.com/dshills/panelcheck/internal/fidelity"
	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/panels"
	"github.com/dshills/panelcheck/internal/reconstruct"
	"github.com/dshills/panelcheck/internal/schema"
	"github.com/dshills/panelcheck/internal/store"
	"github.com/dshills/panelcheck/internal/story"
	"github.com/dshills/panelcheck/internal/styleprofile"
)

// ErrIsolationBreach reports ground-truth data found in the reconstructor's
// view. It is a programming error in view construction, treated as fatal:
// it must never be caught and ignored, because a reconstructor that can see
// the ground truth makes every fidelity score meaningless.
var ErrIsolationBreach = errors.New("pipeline: ground truth leaked into reconstructor view")

// StoryGenerator produces ground truth from a seed. Called exactly once per run.
type StoryGenerator interface {
	Generate(ctx context.Context, seed string) (schema.GroundTruth, error)
}

// PanelConverter produces and revises panel scripts.
type PanelConverter interface {
	Convert(ctx context.Context, gt schema.GroundTruth) ([]schema.PanelSpec, error)
	Revise(ctx context.Context, panels []schema.PanelSpec, critique string) ([]schema.PanelSpec, error)
}

// Reader reconstructs a narrative from an isolated view.
type Reader interface {
	Reconstruct(ctx context.Context, view reconstruct.View) (schema.Reconstruction, error)
}

// Judge scores a reconstruction against ground truth.
type Judge interface {
	Evaluate(ctx context.Context, gt schema.GroundTruth, recon schema.Reconstruction) (schema.FidelityReport, error)
}

// Orchestrator drives the state machine connecting the four stages.
type Orchestrator struct {
	Story  StoryGenerator
	Panels PanelConverter
	Reader Reader
	Judge  Judge

	// Threshold is the fidelity score at which a run validates.
	Threshold float64

	// Results, when non-nil, receives each terminal RunResult keyed by run ID.
	Results store.Store

	// Truths, when non-nil, caches generated ground truth by seed so a
	// repeated seed skips the generator call. Opt-in: reuse means the run
	// scores a previously generated story rather than a fresh one.
	Truths store.Store
}

// New wires an Orchestrator with the real LLM-backed stages.
func New(cfg config.Config, provider llm.Provider, prof styleprofile.Profile, results store.Store) *Orchestrator {
	retryer := llm.Retryer{
		Provider: provider,
		Opts: llm.Options{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Retries:     cfg.Retries,
		},
	}
	return &Orchestrator{
		Story:     story.Generator{LLM: retryer, Profile: prof},
		Panels:    panels.Converter{LLM: retryer, Profile: prof, MinVisualLen: cfg.MinVisualLen},
		Reader:    reconstruct.Reconstructor{LLM: retryer},
		Judge:     fidelity.Evaluator{LLM: retryer},
		Threshold: cfg.Threshold,
		Results:   results,
	}
}

// Run executes one pipeline run to a terminal state. The returned State is
// always non-nil and always carries whatever history accumulated; the error
// is non-nil exactly when the run terminated with StatusError.
//
// The iteration ceiling is enforced purely by the counter: the worst case is
// maxIterations evaluator calls regardless of backend latency.
func (o *Orchestrator) Run(ctx context.Context, seed string, maxIterations int) (*State, error) {
	st := newState(uuid.NewString(), seed, maxIterations)

	if maxIterations < 1 {
		return o.fail(st, fmt.Errorf("pipeline: maxIterations must be at least 1, got %d", maxIterations))
	}
	log.Info().Str("run_id", st.runID).Int("max_iterations", maxIterations).Msg("pipeline: starting run")

	gt, cached := o.cachedTruth(seed)
	if cached {
		log.Info().Str("run_id", st.runID).Msg("pipeline: reusing cached ground truth for seed")
	} else {
		var err error
		gt, err = o.Story.Generate(ctx, seed)
		if err != nil {
			return o.fail(st, fmt.Errorf("pipeline: content generation: %w", err))
		}
		o.storeTruth(seed, gt)
	}
	st.setGroundTruth(gt)

	initial, err := o.Panels.Convert(ctx, gt)
	if err != nil {
		return o.fail(st, fmt.Errorf("pipeline: initial conversion: %w", err))
	}
	st.setPanels(initial)

	characterNames := gt.CharacterNames()

	// revised carries a pending revision into the next commit so that the
	// panels, the reconstruction they produced, and the report land together.
	var revised []schema.PanelSpec

	for {
		// Cancellation is checked once per loop turn; cancelling mid-stage
		// is best-effort via the ctx each stage call carries.
		if err := ctx.Err(); err != nil {
			return o.fail(st, fmt.Errorf("pipeline: run canceled: %w", err))
		}

		current := st.Panels()
		if revised != nil {
			current = revised
		}

		view := reconstruct.NewView(current, characterNames)
		if err := verifyIsolation(view, gt, current); err != nil {
			// Fatal precondition failure. Not retried, not downgraded.
			return o.fail(st, err)
		}

		recon, err := o.Reader.Reconstruct(ctx, view)
		if err != nil {
			return o.fail(st, fmt.Errorf("pipeline: reconstruction: %w", err))
		}

		report, err := o.Judge.Evaluate(ctx, gt, recon)
		if err != nil {
			return o.fail(st, fmt.Errorf("pipeline: evaluation: %w", err))
		}

		st.commitIteration(revised, recon, report)
		revised = nil

		snap := st.Snapshot()
		log.Info().Str("run_id", st.runID).Int("iteration", snap.Iteration).
			Float64("score", report.Score).Int("gaps", len(report.Gaps)).
			Msg("pipeline: iteration evaluated")

		if report.Passes(o.Threshold) {
			st.finish(schema.StatusValidated, "")
			o.persist(st)
			return st, nil
		}
		if snap.Iteration >= maxIterations {
			st.finish(schema.StatusMaxIterations, "")
			o.persist(st)
			return st, nil
		}

		st.advance()
		revised, err = o.Panels.Revise(ctx, st.Panels(), report.Critique)
		if err != nil {
			return o.fail(st, fmt.Errorf("pipeline: revision: %w", err))
		}
	}
}

// fail finishes the run in the error state, preserving partial history.
func (o *Orchestrator) fail(st *State, err error) (*State, error) {
	log.Error().Str("run_id", st.runID).Err(err).Msg("pipeline: run failed")
	st.finish(schema.StatusError, err.Error())
	o.persist(st)
	return st, err
}

// persist writes the terminal result to the injected store, if any.
func (o *Orchestrator) persist(st *State) {
	if o.Results == nil {
		return
	}
	result := st.Result()
	b, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: marshal result for store")
		return
	}
	if err := o.Results.Set("run:"+result.RunID, b); err != nil {
		log.Warn().Err(err).Msg("pipeline: persist result")
	}
}

// cachedTruth looks up ground truth for seed in the opt-in truth cache.
func (o *Orchestrator) cachedTruth(seed string) (schema.GroundTruth, bool) {
	if o.Truths == nil {
		return schema.GroundTruth{}, false
	}
	raw, ok := o.Truths.Get(truthKey(seed))
	if !ok {
		return schema.GroundTruth{}, false
	}
	var gt schema.GroundTruth
	if err := json.Unmarshal(raw, &gt); err != nil {
		log.Warn().Err(err).Msg("pipeline: discard corrupt cached ground truth")
		o.Truths.Delete(truthKey(seed))
		return schema.GroundTruth{}, false
	}
	return gt, true
}

// storeTruth writes freshly generated ground truth to the truth cache, if any.
func (o *Orchestrator) storeTruth(seed string, gt schema.GroundTruth) {
	if o.Truths == nil {
		return
	}
	b, err := json.Marshal(gt)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: marshal ground truth for cache")
		return
	}
	if err := o.Truths.Set(truthKey(seed), b); err != nil {
		log.Warn().Err(err).Msg("pipeline: cache ground truth")
	}
}

// truthKey hashes the seed so arbitrary-length seed text maps to a bounded key.
func truthKey(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return "truth:" + hex.EncodeToString(sum[:])
}

// verifyIsolation checks the one-way information barrier: the serialized view
// must contain no ground-truth text that is not also present in the panels it
// was copied from. Any hit means the view was built from the wrong source.
func verifyIsolation(view reconstruct.View, gt schema.GroundTruth, source []schema.PanelSpec) error {
	serialized, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("pipeline: serialize view: %w", err)
	}
	viewText := string(serialized)

	var sb strings.Builder
	for _, p := range source {
		sb.WriteString(p.Visual)
		sb.WriteByte('\n')
		for _, d := range p.Dialogue {
			sb.WriteString(d.Speaker)
			sb.WriteByte('\n')
			sb.WriteString(d.Line)
			sb.WriteByte('\n')
		}
	}
	panelText := sb.String()

	secrets := []string{gt.Narrative}
	for _, m := range gt.Motivations {
		secrets = append(secrets, m.Goal, m.Reason, m.Obstacle)
	}
	for _, c := range gt.Conflicts {
		secrets = append(secrets, c.Description)
	}

	for _, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		if strings.Contains(viewText, secret) && !strings.Contains(panelText, secret) {
			return fmt.Errorf("%w: %q", ErrIsolationBreach, truncate(secret, 60))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
