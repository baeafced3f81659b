// Package refactor drives a detected issue case through propose, validate,
// integrate and execute until a rewrite is accepted or the round budget runs
// out, and classifies the terminal outcome.
package refactor

import (
	"context"
	"fmt"
	"log/slog"

	"testmend/internal/discovery"
	"testmend/internal/gateway"
	"testmend/internal/logging"
)

// State names a case's position in its lifecycle. States only move forward;
// a rejected round goes back to generating with the critique attached.
type State string

const (
	StatePending    State = "pending"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
)

// Outcome is the terminal classification of a case.
type Outcome string

const (
	// OutcomeAccepted is the loop-level acceptance before execution; the
	// pipeline refines it into passed or failed-execution.
	OutcomeAccepted Outcome = "accepted"

	OutcomeAcceptedPassed Outcome = "accepted_and_passed"
	OutcomeAcceptedFailed Outcome = "accepted_and_failed_execution"
	// OutcomeExhausted: the round budget ran out with parseable verdicts.
	OutcomeExhausted Outcome = "exhausted_unresolved"
	// OutcomeFailClosed: the budget ran out and the final verdict was an
	// unparseable reply treated as a rejection.
	OutcomeFailClosed Outcome = "validator_fail_closed"
	// OutcomeUnintegrable: an accepted rewrite could not be spliced into
	// the checkout.
	OutcomeUnintegrable Outcome = "unintegrable"
	// OutcomeGatewayError: a model call failed past the transport retry
	// budget; the case is abandoned, the run continues.
	OutcomeGatewayError Outcome = "gateway_error"
	// OutcomeSkipped: the case could not be attempted at all.
	OutcomeSkipped Outcome = "skipped"
)

const DefaultMaxRounds = 5

// Attempt is one propose/validate round. Verdict is nil when the proposal
// was malformed and never reached validation.
type Attempt struct {
	Round    int
	State    State
	Proposal gateway.Proposal
	Verdict  *gateway.Verdict
}

// LoopResult is a case's journey through the loop.
type LoopResult struct {
	Outcome  Outcome
	Accepted *gateway.Candidate
	Attempts []Attempt
	Cost     float64
}

type Loop struct {
	gw        *gateway.Gateway
	maxRounds int
	logger    *slog.Logger
}

type LoopOption func(*Loop)

func WithMaxRounds(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLoop(gw *gateway.Gateway, opts ...LoopOption) *Loop {
	l := &Loop{gw: gw, maxRounds: DefaultMaxRounds, logger: logging.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives one case until acceptance or exhaustion. A malformed proposal
// consumes its round; a rejected candidate is carried into the next round as
// a critique. Transport failures abort the case, not the run.
func (l *Loop) Run(ctx context.Context, c discovery.Case, caseCtx discovery.CaseContext) (LoopResult, error) {
	fw := discovery.DetectFramework(caseCtx.Imports)
	promptCtx := caseCtx.PromptContext()
	result := LoopResult{Outcome: OutcomeExhausted}
	var critiques []gateway.Critique

	for round := 1; round <= l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		l.logger.Info("loop.round_started",
			"case", c.ID(), "issue", string(c.Kind), "round", round, "round_max", l.maxRounds)

		proposal, err := l.gw.Propose(ctx, c.Kind, fw, promptCtx, critiques)
		result.Cost += proposal.Cost
		if err != nil {
			return result, fmt.Errorf("propose round %d: %w", round, err)
		}
		attempt := Attempt{Round: round, State: StateGenerating, Proposal: proposal}
		if !proposal.Parsed() {
			l.logger.Warn("loop.proposal_malformed", "case", c.ID(), "round", round, "reason", proposal.ParseErr)
			result.Attempts = append(result.Attempts, attempt)
			continue
		}

		attempt.State = StateValidating
		verdict, err := l.gw.Validate(ctx, c.Kind, proposal.Candidate,
			mergeImports(caseCtx.Imports, proposal.Candidate.Imports), promptCtx)
		result.Cost += verdict.Cost
		if err != nil {
			result.Attempts = append(result.Attempts, attempt)
			return result, fmt.Errorf("validate round %d: %w", round, err)
		}
		attempt.Verdict = &verdict
		result.Attempts = append(result.Attempts, attempt)

		if verdict.Clean() {
			candidate := proposal.Candidate
			result.Accepted = &candidate
			result.Outcome = OutcomeAccepted
			l.logger.Info("loop.accepted", "case", c.ID(), "round", round)
			return result, nil
		}
		l.logger.Info("loop.rejected",
			"case", c.ID(), "round", round,
			"original_issue", verdict.OriginalIssueExists,
			"new_issue", verdict.NewIssueExists,
			"new_issue_kind", verdict.NewIssueKind,
			"fail_closed", verdict.FailClosed)
		critiques = append(critiques, gateway.Critique{
			Round:     round,
			Candidate: proposal.Candidate,
			Verdict:   verdict,
		})
	}

	if last := lastVerdict(result.Attempts); last != nil && last.FailClosed {
		result.Outcome = OutcomeFailClosed
	}
	return result, nil
}

func lastVerdict(attempts []Attempt) *gateway.Verdict {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Verdict != nil {
			return attempts[i].Verdict
		}
	}
	return nil
}

func mergeImports(existing, added []string) []string {
	merged := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]bool, len(existing)+len(added))
	for _, imp := range append(append([]string{}, existing...), added...) {
		if imp == "" || seen[imp] {
			continue
		}
		seen[imp] = true
		merged = append(merged, imp)
	}
	return merged
}
