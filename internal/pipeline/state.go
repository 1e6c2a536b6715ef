package pipeline

import (
	"sync"
	"time"

	"github.com/dshills/panelcheck/internal/schema"
)

// State is the full run state, owned exclusively by the orchestrator for the
// duration of a run. Stages receive scoped copies and return plain results;
// every mutation happens here, and the per-iteration commit is atomic with
// respect to Snapshot and Result.
type State struct {
	mu sync.RWMutex

	runID         string
	seed          string
	maxIterations int

	groundTruth schema.GroundTruth
	hasTruth    bool

	panels         []schema.PanelSpec
	reconstruction schema.Reconstruction
	report         schema.FidelityReport

	iteration int
	terminal  bool
	status    schema.RunStatus
	errMsg    string

	history []schema.IterationRecord
}

func newState(runID, seed string, maxIterations int) *State {
	return &State{
		runID:         runID,
		seed:          seed,
		maxIterations: maxIterations,
		iteration:     1,
	}
}

// setGroundTruth records the ground truth. It is set exactly once per run.
func (s *State) setGroundTruth(gt schema.GroundTruth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasTruth {
		panic("pipeline: ground truth set twice")
	}
	s.groundTruth = gt
	s.hasTruth = true
}

// setPanels replaces the panel script wholesale. Used for the initial
// conversion; revised panels are committed together with their evaluation.
func (s *State) setPanels(panels []schema.PanelSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels = panels
}

// commitIteration atomically installs the results of one full iteration:
// the reconstruction, the fidelity report, and the history record. Panels are
// included when the iteration produced a revision. External readers never see
// one field updated without the others.
func (s *State) commitIteration(panels []schema.PanelSpec, recon schema.Reconstruction, report schema.FidelityReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if panels != nil {
		s.panels = panels
	}
	s.reconstruction = recon
	s.report = report
	s.history = append(s.history, schema.IterationRecord{
		Iteration:   s.iteration,
		Score:       report.Score,
		GapCount:    len(report.Gaps),
		Critique:    report.Critique,
		Confidence:  recon.Confidence,
		CompletedAt: time.Now().UTC(),
	})
}

// advance increments the iteration counter for the next loop turn.
func (s *State) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
}

// finish marks the run terminal.
func (s *State) finish(status schema.RunStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = true
	s.status = status
	s.errMsg = errMsg
}

// Progress is a point-in-time view of a running pipeline, safe to expose to
// a status-polling caller.
type Progress struct {
	RunID     string           `json:"run_id"`
	Iteration int              `json:"iteration"`
	LastScore float64          `json:"last_score"`
	GapCount  int              `json:"gap_count"`
	Terminal  bool             `json:"terminal"`
	Status    schema.RunStatus `json:"status,omitempty"`
}

// Snapshot returns the current progress. Because iteration results commit
// atomically, a snapshot never mixes fields from two iterations.
func (s *State) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := Progress{
		RunID:     s.runID,
		Iteration: s.iteration,
		Terminal:  s.terminal,
		Status:    s.status,
	}
	if n := len(s.history); n > 0 {
		p.LastScore = s.history[n-1].Score
		p.GapCount = s.history[n-1].GapCount
	}
	return p
}

// History returns a copy of the append-only iteration records.
func (s *State) History() []schema.IterationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.IterationRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Panels returns a deep copy of the current panel script.
func (s *State) Panels() []schema.PanelSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schema.ClonePanels(s.panels)
}

// GroundTruth returns the ground truth. Callers other than the orchestrator
// and the evaluator path must not forward it toward the reconstructor.
func (s *State) GroundTruth() schema.GroundTruth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groundTruth
}

// Result assembles the terminal contract. Valid only after the run finishes;
// before that, Status is empty.
func (s *State) Result() schema.RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]schema.IterationRecord, len(s.history))
	copy(history, s.history)
	return schema.RunResult{
		RunID:       s.runID,
		Seed:        s.seed,
		Status:      s.status,
		FinalPanels: schema.ClonePanels(s.panels),
		History:     history,
		Error:       s.errMsg,
	}
}
