package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"testmend/internal/discovery"
	"testmend/internal/gateway"
	"testmend/internal/logging"
	"testmend/internal/openai"
	"testmend/internal/prompt"
	"testmend/internal/refactor"
	"testmend/internal/report"
	"testmend/internal/runner"
	"testmend/internal/store"
)

var refactorFlags struct {
	maxRounds     int
	review        bool
	keepMutated   bool
	parallel      int
	mutationCheck bool
}

var refactorCmd = &cobra.Command{
	Use:     "refactor",
	Aliases: []string{"run"},
	Short:   "Run the refactoring loop over the configured case list",
	Args:    cobra.NoArgs,
	RunE:    runRefactor,
}

func init() {
	flags := refactorCmd.Flags()
	flags.IntVar(&refactorFlags.maxRounds, "max-rounds", 0, "Override configured proposal round budget")
	flags.BoolVar(&refactorFlags.review, "review", false, "Append renamed rewrites instead of replacing originals")
	flags.BoolVar(&refactorFlags.keepMutated, "keep-mutated", false, "Leave passing rewrites in place instead of restoring")
	flags.IntVar(&refactorFlags.parallel, "parallel", 0, "Override configured parallel project limit")
	flags.BoolVar(&refactorFlags.mutationCheck, "mutation-check", false, "Compare mutation coverage of accepted rewrites against the originals")
}

func runRefactor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-rounds") {
		cfg.MaxRounds = refactorFlags.maxRounds
	}
	if cmd.Flags().Changed("review") {
		cfg.ReviewMode = refactorFlags.review
	}
	if cmd.Flags().Changed("keep-mutated") {
		cfg.KeepMutated = refactorFlags.keepMutated
	}
	if cmd.Flags().Changed("parallel") {
		cfg.ParallelProjects = refactorFlags.parallel
	}
	if cmd.Flags().Changed("mutation-check") {
		cfg.MutationCheck = refactorFlags.mutationCheck
	}
	if cfg.MaxRounds <= 0 || cfg.ParallelProjects <= 0 {
		return fmt.Errorf("max rounds and parallel limit must be positive")
	}
	logger := logging.New("cli")

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return fmt.Errorf("no API key: set %s (directly or via .env)", cfg.APIKeyEnv)
	}
	if len(cfg.Projects) == 0 {
		return fmt.Errorf("no projects configured in %s", rootFlags.configPath)
	}

	cases, skipped, err := discovery.LoadCases(cfg.CaseList)
	if err != nil {
		return err
	}
	for _, reason := range skipped {
		logger.Warn("case_list.row_skipped", "reason", reason)
	}
	if len(cases) == 0 {
		return fmt.Errorf("%s: no usable cases", cfg.CaseList)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var clientOpts []openai.Option
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ReasoningEffort != "" {
		clientOpts = append(clientOpts, openai.WithReasoningEffort(cfg.ReasoningEffort))
	}
	client := openai.NewClient(clientOpts...)
	if err := client.ValidateKey(ctx, apiKey); err != nil {
		return fmt.Errorf("API key check failed: %w", err)
	}

	gw := gateway.New(client, apiKey, cfg.Model, prompt.NewLibrary(),
		gateway.WithLogger(logging.New("gateway")))
	loop := refactor.NewLoop(gw,
		refactor.WithMaxRounds(cfg.MaxRounds),
		refactor.WithLogger(logging.New("loop")))
	run := runner.New(
		runner.WithTimeout(time.Duration(cfg.BuildTimeout)),
		runner.WithKeepMutated(cfg.KeepMutated),
		runner.WithLogger(logging.New("runner")))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	rep := report.NewWriter(cfg.OutputDir)

	pipeline := refactor.NewPipeline(loop, run, st, rep, cfg.DataDir, cfg.Model,
		refactor.WithParallelProjects(cfg.ParallelProjects),
		refactor.WithReviewMode(cfg.ReviewMode),
		refactor.WithMutationCheck(cfg.MutationCheck),
		refactor.WithPipelineLogger(logging.New("pipeline")))

	projects := make([]refactor.ProjectRef, 0, len(cfg.Projects))
	for _, proj := range cfg.Projects {
		projects = append(projects, refactor.ProjectRef{Name: proj.Name, Checkout: proj.Checkout})
	}

	summary, err := pipeline.Run(ctx, projects, cases)
	if err != nil {
		return err
	}
	if err := exportRun(st, rep, summary.Run.ID); err != nil {
		return err
	}
	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, summary store.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:    %s\n", summary.Run.ID)
	fmt.Fprintf(out, "Model:  %s\n", summary.Run.Model)
	fmt.Fprintf(out, "Cases:  %d\n", summary.Cases)
	fmt.Fprintf(out, "Cost:   $%.4f\n", summary.Run.TotalCost)
	outcomes := make([]string, 0, len(summary.Outcomes))
	for outcome := range summary.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(out, "  %-30s %d\n", outcome, summary.Outcomes[outcome])
	}
}
