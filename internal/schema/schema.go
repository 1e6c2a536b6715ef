// Package schema defines all canonical data types shared across the panelcheck
// pipeline: ground truth, panels, reconstructions, fidelity reports, and the
// terminal run result.
package schema

import "time"

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	StatusValidated     RunStatus = "validated"
	StatusMaxIterations RunStatus = "max_iterations_reached"
	StatusError         RunStatus = "error"
)

// GapCategory classifies an information gap by the kind of meaning lost.
type GapCategory string

const (
	GapPlot         GapCategory = "plot"
	GapMotivation   GapCategory = "motivation"
	GapEmotion      GapCategory = "emotion"
	GapRelationship GapCategory = "relationship"
	GapConflict     GapCategory = "conflict"
)

// GapSeverity ranks how badly a gap damages comprehension.
type GapSeverity string

const (
	SeverityCritical GapSeverity = "critical"
	SeverityMajor    GapSeverity = "major"
	SeverityMinor    GapSeverity = "minor"
)

// ScoreCategory is one weighted axis of the fidelity rubric.
type ScoreCategory string

const (
	CategoryPlotAccuracy        ScoreCategory = "plot_accuracy"
	CategoryMotivationClarity   ScoreCategory = "motivation_clarity"
	CategoryConflictRecognition ScoreCategory = "conflict_recognition"
	CategoryEmotionalBeats      ScoreCategory = "emotional_beats"
	CategoryCoherence           ScoreCategory = "coherence"
)

// ShotFraming tags a panel with its camera framing.
type ShotFraming string

const (
	ShotWide      ShotFraming = "wide"
	ShotMedium    ShotFraming = "medium"
	ShotCloseUp   ShotFraming = "close-up"
	ShotExtremeCU ShotFraming = "extreme-close-up"
	ShotOverhead  ShotFraming = "overhead"
)

// DefaultFraming is the documented default applied when the converter omits a
// framing tag. Framing is the one panel field with a safe default; visual
// descriptions and dialogue are never default-filled.
const DefaultFraming = ShotMedium

// ValidFraming reports whether s is a recognized framing tag.
func ValidFraming(s ShotFraming) bool {
	switch s {
	case ShotWide, ShotMedium, ShotCloseUp, ShotExtremeCU, ShotOverhead:
		return true
	}
	return false
}

// Motivation captures one character's goal, the reason behind it, and what
// stands in the way. The reconstructor reuses this type for inferred
// motivations, where any field may be "unknown".
type Motivation struct {
	Character string `json:"character"`
	Goal      string `json:"goal"`
	Reason    string `json:"reason"`
	Obstacle  string `json:"obstacle"`
}

// Conflict is one tension or opposition present in the narrative.
type Conflict struct {
	Description string   `json:"description"`
	Characters  []string `json:"characters,omitempty"`
}

// GroundTruth is the narrative artifact and its extracted facts. It is
// produced exactly once per run and must never reach the reconstructor.
type GroundTruth struct {
	Narrative   string       `json:"narrative"`
	Motivations []Motivation `json:"motivations"`
	Conflicts   []Conflict   `json:"conflicts"`
}

// CharacterNames returns the distinct character display names appearing in
// the ground-truth motivations, in first-seen order. Display names are the
// only ground-truth-derived data permitted in the reconstructor's view.
func (g GroundTruth) CharacterNames() []string {
	seen := make(map[string]bool, len(g.Motivations))
	var names []string
	for _, m := range g.Motivations {
		if m.Character == "" || seen[m.Character] {
			continue
		}
		seen[m.Character] = true
		names = append(names, m.Character)
	}
	return names
}

// DialogueLine is one spoken line within a panel.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Line    string `json:"line"`
}

// PanelSpec is one presentation unit: a visual description, its dialogue, and
// a framing tag. Index is 1-based and contiguous within a script.
type PanelSpec struct {
	Index    int            `json:"index"`
	Visual   string         `json:"visual"`
	Dialogue []DialogueLine `json:"dialogue"`
	Framing  ShotFraming    `json:"framing"`
}

// ClonePanels returns a deep copy of panels. The orchestrator clones before
// handing panels to any stage so no stage can mutate committed state.
func ClonePanels(panels []PanelSpec) []PanelSpec {
	if panels == nil {
		return nil
	}
	out := make([]PanelSpec, len(panels))
	for i, p := range panels {
		out[i] = p
		if p.Dialogue != nil {
			out[i].Dialogue = make([]DialogueLine, len(p.Dialogue))
			copy(out[i].Dialogue, p.Dialogue)
		}
	}
	return out
}

// Reconstruction is the blind reader's independent interpretation of a panel
// sequence. Confidence is self-reported, in [0,1], and advisory only.
type Reconstruction struct {
	Narrative       string       `json:"narrative"`
	Motivations     []Motivation `json:"motivations"`
	UnclearElements []string     `json:"unclear_elements"`
	Confidence      float64      `json:"confidence"`
}

// CategoryScore is the recovery fraction for one rubric axis as judged by the
// evaluator: Recovered of Total ground-truth elements survived translation.
type CategoryScore struct {
	Category  ScoreCategory `json:"category"`
	Recovered int           `json:"recovered"`
	Total     int           `json:"total"`
}

// Fraction returns the recovered fraction in [0,1]. A category with no
// ground-truth elements counts as fully recovered.
func (c CategoryScore) Fraction() float64 {
	if c.Total <= 0 {
		return 1.0
	}
	f := float64(c.Recovered) / float64(c.Total)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// InformationGap is one categorized, severity-ranked discrepancy between what
// the ground truth intended and what the reconstruction understood. Remedy is
// always a presentation change, never a plot change.
type InformationGap struct {
	Category   GapCategory `json:"category"`
	Severity   GapSeverity `json:"severity"`
	Original   string      `json:"original"`
	Understood string      `json:"understood"`
	Remedy     string      `json:"remedy"`
}

// FidelityReport is the evaluator's output for one iteration: the weighted
// score, the per-category recovery that produced it, the gaps, and a critique
// addressed to the converter's revision pass.
type FidelityReport struct {
	Score      float64          `json:"score"`
	Categories []CategoryScore  `json:"categories"`
	Gaps       []InformationGap `json:"gaps"`
	Critique   string           `json:"critique"`
}

// Passes reports whether the score clears the configured threshold.
func (r FidelityReport) Passes(threshold float64) bool {
	return r.Score >= threshold
}

// IterationRecord is an immutable snapshot appended to the run history after
// each evaluator call.
type IterationRecord struct {
	Iteration   int       `json:"iteration"`
	Score       float64   `json:"score"`
	GapCount    int       `json:"gap_count"`
	Critique    string    `json:"critique"`
	Confidence  float64   `json:"confidence"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunResult is the terminal contract returned to callers.
type RunResult struct {
	RunID       string            `json:"run_id"`
	Seed        string            `json:"seed"`
	Status      RunStatus         `json:"status"`
	FinalPanels []PanelSpec       `json:"final_panels"`
	History     []IterationRecord `json:"history"`
	Error       string            `json:"error,omitempty"`
}
