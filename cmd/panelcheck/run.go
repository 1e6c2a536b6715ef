package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dshills/panelcheck/internal/config"
	"github.com/dshills/panelcheck/internal/llm"
	"github.com/dshills/panelcheck/internal/pipeline"
	"github.com/dshills/panelcheck/internal/render"
	"github.com/dshills/panelcheck/internal/runner"
	"github.com/dshills/panelcheck/internal/schema"
	"github.com/dshills/panelcheck/internal/store"
	"github.com/dshills/panelcheck/internal/styleprofile"
)

// runFlags holds all flags for the run and batch commands.
type runFlags struct {
	seed          string
	seedFile      string
	configFile    string
	profileName   string
	provider      string
	model         string
	maxIterations int
	threshold     float64
	format        string
	out           string

	// batch only
	seedsFile   string
	concurrency int
	rps         float64
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a fidelity-validated webtoon script from a seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.seed, "seed", "", "seed text (a post or free-text prompt)")
	cmd.Flags().StringVar(&flags.seedFile, "seed-file", "", "file containing the seed text")
	addSharedFlags(cmd, &flags)
	return cmd
}

func newBatchCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the pipeline over many seeds concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.seedsFile, "seeds-file", "", "file with one seed per line (required)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 4, "maximum simultaneous runs")
	cmd.Flags().Float64Var(&flags.rps, "rps", 1, "run starts per second (0 disables pacing)")
	addSharedFlags(cmd, &flags)
	return cmd
}

func addSharedFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.configFile, "config", "", "config file (optional)")
	cmd.Flags().StringVar(&flags.profileName, "profile", "general", "style profile: "+strings.Join(styleprofile.Names(), ", "))
	cmd.Flags().StringVar(&flags.provider, "provider", "", "LLM provider override: anthropic, openai, google")
	cmd.Flags().StringVar(&flags.model, "model", "", "model name override")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "iteration budget override")
	cmd.Flags().Float64Var(&flags.threshold, "threshold", 0, "fidelity threshold override")
	cmd.Flags().StringVar(&flags.format, "format", "markdown", "output format: json or markdown")
	cmd.Flags().StringVar(&flags.out, "out", "", "output file (default stdout)")
}

// buildOrchestrator resolves config, profile, and provider into a ready
// orchestrator plus the effective config.
func buildOrchestrator(flags runFlags) (*pipeline.Orchestrator, config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, config.Config{}, err
	}
	if flags.provider != "" {
		cfg.Provider = flags.provider
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.maxIterations > 0 {
		cfg.MaxIterations = flags.maxIterations
	}
	if flags.threshold > 0 {
		cfg.Threshold = flags.threshold
	}
	if err := cfg.Validate(); err != nil {
		return nil, config.Config{}, err
	}

	prof, err := styleprofile.Load(flags.profileName)
	if err != nil {
		return nil, config.Config{}, err
	}

	provider, err := llm.NewProvider(cfg.Provider, cfg.Model)
	if err != nil {
		return nil, config.Config{}, err
	}

	orch := pipeline.New(cfg, provider, prof, store.NewMemory(0))
	return orch, cfg, nil
}

func runOne(cmd *cobra.Command, flags runFlags) error {
	seed, err := resolveSeed(flags)
	if err != nil {
		return err
	}

	orch, cfg, err := buildOrchestrator(flags)
	if err != nil {
		return err
	}

	st, runErr := orch.Run(cmd.Context(), seed, cfg.MaxIterations)
	result := st.Result()
	if err := writeResult(&result, flags); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("run terminated with error: %w", runErr)
	}
	return nil
}

func runBatch(cmd *cobra.Command, flags runFlags) error {
	if flags.seedsFile == "" {
		return fmt.Errorf("--seeds-file is required")
	}
	data, err := os.ReadFile(flags.seedsFile)
	if err != nil {
		return fmt.Errorf("read seeds file: %w", err)
	}
	var seeds []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			seeds = append(seeds, line)
		}
	}
	if len(seeds) == 0 {
		return fmt.Errorf("seeds file %s contains no seeds", flags.seedsFile)
	}

	orch, cfg, err := buildOrchestrator(flags)
	if err != nil {
		return err
	}

	batch := runner.Batch{
		Orchestrator: orch,
		Concurrency:  flags.concurrency,
	}
	if flags.rps > 0 {
		batch.Limiter = rate.NewLimiter(rate.Limit(flags.rps), 1)
	}

	results, err := batch.Run(cmd.Context(), seeds, cfg.MaxIterations)
	if err != nil {
		return err
	}
	for i := range results {
		if err := writeResult(&results[i], flags); err != nil {
			return err
		}
	}
	return nil
}

func resolveSeed(flags runFlags) (string, error) {
	switch {
	case flags.seed != "" && flags.seedFile != "":
		return "", fmt.Errorf("--seed and --seed-file are mutually exclusive")
	case flags.seed != "":
		return flags.seed, nil
	case flags.seedFile != "":
		data, err := os.ReadFile(flags.seedFile)
		if err != nil {
			return "", fmt.Errorf("read seed file: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("seed file %s is empty", flags.seedFile)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("one of --seed or --seed-file is required")
	}
}

func writeResult(result *schema.RunResult, flags runFlags) error {
	var out []byte
	switch flags.format {
	case "json":
		b, err := render.RenderJSON(result)
		if err != nil {
			return err
		}
		out = append(b, '\n')
	case "markdown":
		out = []byte(render.RenderMarkdown(result))
	default:
		return fmt.Errorf("unknown format %q (want json or markdown)", flags.format)
	}

	if flags.out == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	f, err := os.OpenFile(flags.out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()
	_, err = f.Write(out)
	return err
}
