package refactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"testmend/internal/diff"
	"testmend/internal/discovery"
	"testmend/internal/gateway"
	"testmend/internal/logging"
	"testmend/internal/report"
	"testmend/internal/runner"
	"testmend/internal/splice"
	"testmend/internal/store"
)

// ProjectRef binds a project name from the case list to its checkout on disk.
type ProjectRef struct {
	Name     string
	Checkout string
}

// Pipeline runs a whole case list: projects in parallel, cases within a
// project sequentially, every checkout mutation under that checkout's lease.
type Pipeline struct {
	loop     *Loop
	runner   *runner.Runner
	store    *store.Store
	report   *report.Writer
	dataDir  string
	model    string
	mode     splice.Mode
	parallel int
	mutation bool
	logger   *slog.Logger
}

type PipelineOption func(*Pipeline)

// WithParallelProjects caps how many project checkouts run concurrently.
func WithParallelProjects(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallel = n
		}
	}
}

// WithReviewMode appends renamed rewrites instead of replacing originals.
func WithReviewMode(review bool) PipelineOption {
	return func(p *Pipeline) {
		if review {
			p.mode = splice.Review
		} else {
			p.mode = splice.Replace
		}
	}
}

// WithMutationCheck runs a PIT mutation-score comparison for every rewrite
// that passes its scoped test run.
func WithMutationCheck(enabled bool) PipelineOption {
	return func(p *Pipeline) {
		p.mutation = enabled
	}
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(loop *Loop, run *runner.Runner, st *store.Store, rep *report.Writer, dataDir, model string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		loop:     loop,
		runner:   run,
		store:    st,
		report:   rep,
		dataDir:  dataDir,
		model:    model,
		mode:     splice.Replace,
		parallel: 1,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes the case list and returns the finished run's summary. Case
// failures are outcomes, not errors; Run itself fails only on storage
// problems, cancellation, or a restore that left a checkout dirty.
func (p *Pipeline) Run(ctx context.Context, projects []ProjectRef, cases []discovery.Case) (store.RunSummary, error) {
	checkouts := make(map[string]string, len(projects))
	for _, proj := range projects {
		checkouts[proj.Name] = proj.Checkout
	}
	byProject := make(map[string][]discovery.Case)
	var order []string
	for _, c := range cases {
		if _, ok := byProject[c.Project]; !ok {
			order = append(order, c.Project)
		}
		byProject[c.Project] = append(byProject[c.Project], c)
	}

	runID, err := p.store.BeginRun(p.model)
	if err != nil {
		return store.RunSummary{}, err
	}
	p.logger.Info("pipeline.run_started", "run_id", runID, "projects", len(order), "cases", len(cases))

	var mu sync.Mutex
	var totalCost float64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for _, name := range order {
		name := name
		projectCases := byProject[name]
		checkout, known := checkouts[name]
		g.Go(func() error {
			if !known {
				p.logger.Warn("pipeline.project_unknown", "project", name)
				p.recordSkipped(runID, projectCases)
				return nil
			}
			cost, err := p.runProject(gctx, runID, name, checkout, projectCases)
			mu.Lock()
			totalCost += cost
			mu.Unlock()
			return err
		})
	}
	runErr := g.Wait()
	if err := p.store.FinishRun(runID, totalCost); err != nil && runErr == nil {
		runErr = err
	}
	summary, err := p.store.Summary(runID)
	if err != nil && runErr == nil {
		runErr = err
	}
	p.logger.Info("pipeline.run_finished", "run_id", runID, "cases", summary.Cases, "total_cost_usd", totalCost)
	return summary, runErr
}

func (p *Pipeline) runProject(ctx context.Context, runID, name, checkout string, cases []discovery.Case) (float64, error) {
	if err := p.runner.CheckPreconditions(ctx, checkout); err != nil {
		p.logger.Error("pipeline.project_unusable", "project", name, "error", err.Error())
		p.recordSkipped(runID, cases)
		return 0, nil
	}
	lease := runner.NewLease()
	var cost float64
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return cost, err
		}
		caseCost, err := p.runCase(ctx, runID, checkout, lease, c)
		cost += caseCost
		if err != nil {
			return cost, err
		}
	}
	return cost, nil
}

func (p *Pipeline) runCase(ctx context.Context, runID, checkout string, lease *runner.Lease, c discovery.Case) (float64, error) {
	caseCtx, err := discovery.LoadContext(p.dataDir, c)
	if err != nil {
		p.logger.Warn("pipeline.case_skipped", "case", c.ID(), "error", err.Error())
		return 0, p.recordCase(runID, c, OutcomeSkipped, 0, 0)
	}

	result, loopErr := p.loop.Run(ctx, c, caseCtx)
	for _, attempt := range result.Attempts {
		if err := p.store.RecordAttempt(runID, attemptRecord(c, attempt)); err != nil {
			return result.Cost, err
		}
	}
	if err := p.report.WriteTranscript(c.Project, c.Class, c.Method, transcript(result.Attempts)); err != nil {
		p.logger.Warn("pipeline.transcript_failed", "case", c.ID(), "error", err.Error())
	}
	if loopErr != nil {
		if errors.Is(loopErr, context.Canceled) || errors.Is(loopErr, context.DeadlineExceeded) {
			return result.Cost, loopErr
		}
		p.logger.Error("pipeline.case_abandoned", "case", c.ID(), "error", loopErr.Error())
		return result.Cost, p.recordCase(runID, c, OutcomeGatewayError, len(result.Attempts), result.Cost)
	}

	outcome := result.Outcome
	if outcome == OutcomeAccepted {
		outcome, err = p.executeAccepted(ctx, runID, checkout, lease, c, result.Accepted)
		if err != nil {
			return result.Cost, err
		}
	}
	return result.Cost, p.recordCase(runID, c, outcome, len(result.Attempts), result.Cost)
}

// executeAccepted splices the accepted rewrite into the checkout and runs the
// scoped test under the checkout's lease. A restore mismatch is fatal for the
// whole run: the checkout can no longer be trusted.
func (p *Pipeline) executeAccepted(ctx context.Context, runID, checkout string, lease *runner.Lease, c discovery.Case, accepted *gateway.Candidate) (Outcome, error) {
	testFile, err := discovery.FindTestFile(checkout, c.Class)
	if err != nil {
		p.logger.Warn("pipeline.unintegrable", "case", c.ID(), "error", err.Error())
		return OutcomeUnintegrable, nil
	}
	original, err := os.ReadFile(testFile)
	if err != nil {
		return OutcomeUnintegrable, nil
	}
	mutated, err := splice.Apply(string(original), c.Method, accepted.Code, accepted.Imports, p.mode)
	if err != nil {
		p.logger.Warn("pipeline.unintegrable", "case", c.ID(), "error", err.Error())
		return OutcomeUnintegrable, nil
	}
	if err := p.report.WriteDiff(c.Project, c.Class, c.Method, diff.TextDiff(string(original), mutated)); err != nil {
		p.logger.Warn("pipeline.diff_failed", "case", c.ID(), "error", err.Error())
	}

	// In review mode the rewrite lives under a renamed declaration; the
	// scoped run must target that name or it would exercise the untouched
	// original.
	method := c.Method
	if p.mode == splice.Review {
		method = c.Method + splice.ReviewSuffix
	}
	release, err := lease.Acquire(ctx)
	if err != nil {
		return OutcomeAcceptedFailed, err
	}
	res, trialErr := p.runner.Trial(ctx, checkout, testFile, mutated, c.Class, method)
	if trialErr == nil && p.mutation && res.Class == runner.Passed {
		if mutationErr := p.compareMutation(ctx, runID, checkout, testFile, mutated, c, method); mutationErr != nil {
			var mismatch *runner.MismatchError
			if errors.As(mutationErr, &mismatch) {
				release()
				return OutcomeAcceptedFailed, fmt.Errorf("checkout left dirty after %s: %w", c.ID(), mutationErr)
			}
			// Advisory signal: the rewrite already passed its scoped run.
			p.logger.Warn("pipeline.mutation_check_failed", "case", c.ID(), "error", mutationErr.Error())
		}
	}
	release()
	if trialErr != nil {
		var mismatch *runner.MismatchError
		if errors.As(trialErr, &mismatch) {
			return OutcomeAcceptedFailed, fmt.Errorf("checkout left dirty after %s: %w", c.ID(), trialErr)
		}
		p.logger.Error("pipeline.execution_error", "case", c.ID(), "error", trialErr.Error())
		return OutcomeAcceptedFailed, nil
	}
	if err := p.store.RecordExecution(runID, store.ExecutionRecord{
		CaseID:   c.ID(),
		Outcome:  string(res.Class),
		Runs:     res.Runs,
		Failures: res.Failures,
		Errors:   res.Errors,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}); err != nil {
		return OutcomeAcceptedFailed, err
	}
	if res.Class == runner.Passed {
		return OutcomeAcceptedPassed, nil
	}
	return OutcomeAcceptedFailed, nil
}

// compareMutation runs the baseline-vs-rewrite PIT comparison and records it.
// Caller must hold the checkout's lease.
func (p *Pipeline) compareMutation(ctx context.Context, runID, checkout, testFile, mutated string, c discovery.Case, method string) error {
	cmp, err := p.runner.CompareMutation(ctx, checkout, testFile, mutated, c.Class, c.Method, method)
	if err != nil {
		return err
	}
	p.logger.Info("pipeline.mutation_compared",
		"case", c.ID(),
		"baseline_score", cmp.Baseline.Score,
		"rewrite_score", cmp.Refactored.Score,
		"verdict", cmp.Verdict())
	return p.store.RecordMutation(runID, store.MutationRecord{
		CaseID:         c.ID(),
		BaselineTotal:  cmp.Baseline.Total,
		BaselineKilled: cmp.Baseline.Killed,
		BaselineScore:  cmp.Baseline.Score,
		RewriteTotal:   cmp.Refactored.Total,
		RewriteKilled:  cmp.Refactored.Killed,
		RewriteScore:   cmp.Refactored.Score,
		Verdict:        cmp.Verdict(),
	})
}

func (p *Pipeline) recordSkipped(runID string, cases []discovery.Case) {
	for _, c := range cases {
		if err := p.recordCase(runID, c, OutcomeSkipped, 0, 0); err != nil {
			p.logger.Error("pipeline.record_failed", "case", c.ID(), "error", err.Error())
		}
	}
}

func (p *Pipeline) recordCase(runID string, c discovery.Case, outcome Outcome, rounds int, cost float64) error {
	p.logger.Info("pipeline.case_finished",
		"case", c.ID(), "issue", string(c.Kind), "outcome", string(outcome), "rounds", rounds, "cost_usd", cost)
	return p.store.RecordCase(runID, store.CaseRecord{
		CaseID:  c.ID(),
		Project: c.Project,
		Class:   c.Class,
		Method:  c.Method,
		Issue:   string(c.Kind),
		Outcome: string(outcome),
		Rounds:  rounds,
		Cost:    cost,
	})
}

func attemptRecord(c discovery.Case, a Attempt) store.AttemptRecord {
	rec := store.AttemptRecord{
		CaseID:           c.ID(),
		Round:            a.Round,
		ParseOK:          a.Proposal.Parsed(),
		PromptTokens:     a.Proposal.Usage.PromptTokens,
		CachedTokens:     a.Proposal.Usage.CachedPromptTokens,
		CompletionTokens: a.Proposal.Usage.CompletionTokens,
		Cost:             a.Proposal.Cost,
	}
	if a.Verdict != nil {
		rec.OriginalIssue = a.Verdict.OriginalIssueExists
		rec.NewIssue = a.Verdict.NewIssueExists
		rec.NewIssueKind = a.Verdict.NewIssueKind
		rec.FailClosed = a.Verdict.FailClosed
		rec.PromptTokens += a.Verdict.Usage.PromptTokens
		rec.CachedTokens += a.Verdict.Usage.CachedPromptTokens
		rec.CompletionTokens += a.Verdict.Usage.CompletionTokens
		rec.Cost += a.Verdict.Cost
	}
	return rec
}

func transcript(attempts []Attempt) []report.TranscriptEntry {
	var entries []report.TranscriptEntry
	for _, a := range attempts {
		entries = append(entries, report.TranscriptEntry{
			Heading: fmt.Sprintf("round %d proposal", a.Round),
			Body:    a.Proposal.Raw,
		})
		if a.Verdict != nil {
			entries = append(entries, report.TranscriptEntry{
				Heading: fmt.Sprintf("round %d verdict", a.Round),
				Body:    a.Verdict.Raw,
			})
		}
	}
	return entries
}
