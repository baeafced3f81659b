// Package gateway drives the two model calls of a refactoring round: the
// proposal call that rewrites a test method and the adversarial issue check
// that judges the rewrite. Malformed replies are expected, frequent outcomes
// and are reported as tagged values, never as Go errors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"testmend/internal/llm"
	"testmend/internal/logging"
	"testmend/internal/openai"
	"testmend/internal/prompt"
	"testmend/internal/smell"
)

const (
	transientRetryMaxAttempts = 5
	transientRetryBaseDelay   = 10 * time.Second
	transientRetryMaxDelay    = 4 * time.Minute
)

// ChatClient is the narrow slice of the model client the gateway needs.
type ChatClient interface {
	Chat(ctx context.Context, apiKey, model string, messages []llm.Message) (string, llm.Usage, error)
}

type Gateway struct {
	client  ChatClient
	apiKey  string
	model   string
	prompts *prompt.Library
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSleep replaces the backoff sleeper; tests use this to skip real waits.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

func New(client ChatClient, apiKey, model string, prompts *prompt.Library, opts ...Option) *Gateway {
	g := &Gateway{
		client:  client,
		apiKey:  apiKey,
		model:   model,
		prompts: prompts,
		logger:  logging.Nop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Candidate is a parsed rewrite: one or more replacement methods, any extra
// import declarations, and the model's rationale.
type Candidate struct {
	Code      string
	Imports   []string
	Reasoning string
}

// Proposal is the tagged result of one proposal call. A non-empty ParseErr
// means the reply did not carry the required markers; the round is consumed
// but the run continues.
type Proposal struct {
	Candidate Candidate
	ParseErr  string
	Raw       string
	Usage     llm.Usage
	Cost      float64
}

func (p Proposal) Parsed() bool { return p.ParseErr == "" }

// Verdict is the issue checker's judgment of a candidate. FailClosed marks
// verdicts whose reply could not be parsed; such verdicts always report the
// original issue as still present.
type Verdict struct {
	OriginalIssueExists bool
	NewIssueExists      bool
	NewIssueKind        string
	Reasoning           string
	FailClosed          bool
	Raw                 string
	Usage               llm.Usage
	Cost                float64
}

// Clean reports whether the candidate may be accepted.
func (v Verdict) Clean() bool { return !v.OriginalIssueExists && !v.NewIssueExists }

// Critique carries a rejected round back into the next proposal as
// corrective context.
type Critique struct {
	Round     int
	Candidate Candidate
	Verdict   Verdict
}

// Propose asks the model for a rewrite of the case's method. Prior critiques
// are replayed into the conversation so the model corrects the named defect
// instead of retrying blindly. The returned error covers only transport
// failures that survived the retry budget; malformed replies come back as a
// Proposal with ParseErr set.
func (g *Gateway) Propose(ctx context.Context, kind smell.Kind, fw smell.Framework, caseCtx prompt.CaseContext, prior []Critique) (Proposal, error) {
	system, err := g.prompts.SystemPrompt("refactoring")
	if err != nil {
		return Proposal{}, err
	}
	user, err := g.prompts.RenderProposal(kind, fw, caseCtx)
	if err != nil {
		return Proposal{}, err
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	for _, critique := range prior {
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: renderCandidate(critique.Candidate)},
			llm.Message{Role: llm.RoleUser, Content: renderCritique(critique)},
		)
	}
	reply, usage, err := g.chatWithRetry(ctx, messages, "propose")
	cost := openai.Cost(g.model, usage)
	if err != nil {
		return Proposal{Usage: usage, Cost: cost}, err
	}
	proposal := parseProposal(reply)
	proposal.Usage = usage
	proposal.Cost = cost
	return proposal, nil
}

// Validate runs the adversarial issue check on a candidate. A reply that
// cannot be parsed fails closed: the verdict reports the original issue as
// still present.
func (g *Gateway) Validate(ctx context.Context, kind smell.Kind, candidate Candidate, allImports []string, caseCtx prompt.CaseContext) (Verdict, error) {
	system, err := g.prompts.SystemPrompt("issue_checking")
	if err != nil {
		return Verdict{}, err
	}
	user := g.prompts.RenderValidation(kind, candidate.Code, allImports, caseCtx)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	reply, usage, err := g.chatWithRetry(ctx, messages, "validate")
	cost := openai.Cost(g.model, usage)
	if err != nil {
		return Verdict{Usage: usage, Cost: cost}, err
	}
	verdict := parseVerdict(reply)
	verdict.Usage = usage
	verdict.Cost = cost
	return verdict, nil
}

func (g *Gateway) chatWithRetry(ctx context.Context, messages []llm.Message, phase string) (string, llm.Usage, error) {
	var total llm.Usage
	var lastErr error
	for attempt := 0; attempt <= transientRetryMaxAttempts; attempt++ {
		reply, usage, err := g.client.Chat(ctx, g.apiKey, g.model, messages)
		total.Add(usage)
		if err == nil {
			return reply, total, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == transientRetryMaxAttempts {
			return "", total, err
		}
		wait := backoffDuration(attempt + 1)
		g.logger.Warn("gateway.retrying",
			"phase", phase,
			"attempt", attempt+1,
			"retry_max", transientRetryMaxAttempts,
			"wait_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
		if err := g.sleep(ctx, wait); err != nil {
			return "", total, err
		}
	}
	return "", total, lastErr
}

func isTransient(err error) bool {
	return errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrUnavailable)
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	wait := transientRetryBaseDelay * time.Duration(1<<uint(attempt-1))
	if wait > transientRetryMaxDelay {
		return transientRetryMaxDelay
	}
	return wait
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func renderCandidate(c Candidate) string {
	imports := "None"
	if len(c.Imports) > 0 {
		imports = strings.Join(c.Imports, "\n")
	}
	return fmt.Sprintf("<%s>\n%s\n</%s>\n<%s>\n%s\n</%s>\n<%s>\n%s\n</%s>",
		tagCode, c.Code, tagCode,
		tagImports, imports, tagImports,
		tagReasoning, c.Reasoning, tagReasoning,
	)
}

func renderCritique(c Critique) string {
	var problems string
	switch {
	case c.Verdict.OriginalIssueExists && c.Verdict.NewIssueExists:
		problems = fmt.Sprintf("the original issue is still present and a new issue (%s) was introduced", c.Verdict.NewIssueKind)
	case c.Verdict.OriginalIssueExists:
		problems = "the original issue is still present"
	case c.Verdict.NewIssueExists:
		problems = fmt.Sprintf("a new issue (%s) was introduced", c.Verdict.NewIssueKind)
	default:
		problems = "the reviewer rejected the rewrite"
	}
	return fmt.Sprintf(
		"A reviewer examined your rewrite from round %d and found that %s.\nReviewer reasoning: %s\nProduce a corrected rewrite in the same output format.",
		c.Round, problems, c.Verdict.Reasoning,
	)
}
