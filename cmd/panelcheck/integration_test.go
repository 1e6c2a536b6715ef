//go:build integration

package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dshills/panelcheck/internal/config"
	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/pipeline"
	"github.com/dshills/panelcheck/internal/schema"
	"github.com/dshills/panelcheck/internal/store"
	"github.com/dshills/panelcheck/internal/styleprofile"
)

// Runs one real pipeline run against the configured backend.
//
//	go test -tags integration ./cmd/panelcheck/
func TestPipeline_Integration(t *testing.T) {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		t.Skip("ANTHROPIC_API_KEY not set")
	}

	cfg := config.Default()
	provider, err := llm.NewProvider(cfg.Provider, cfg.Model)
	if err != nil {
		t.Fatal(err)
	}
	prof, err := styleprofile.Load("general")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	orch := pipeline.New(cfg, provider, prof, store.NewMemory(0))
	st, err := orch.Run(ctx, "a delivery driver finds a handwritten letter taped under a park bench", 2)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	result := st.Result()
	if result.Status != schema.StatusValidated && result.Status != schema.StatusMaxIterations {
		t.Errorf("unexpected terminal status %s", result.Status)
	}
	if len(result.FinalPanels) == 0 {
		t.Error("expected a non-empty final script")
	}
	if len(result.History) == 0 {
		t.Error("expected at least one iteration record")
	}
	t.Logf("status=%s score=%.1f iterations=%d panels=%d",
		result.Status, result.History[len(result.History)-1].Score,
		len(result.History), len(result.FinalPanels))
}
