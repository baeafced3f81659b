package refactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"testmend/internal/discovery"
	"testmend/internal/gateway"
	"testmend/internal/llm"
	"testmend/internal/prompt"
	"testmend/internal/smell"
)

// scriptedClient replays canned replies in call order: proposal, verdict,
// proposal, verdict, ...
type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedClient) Chat(_ context.Context, _, _ string, _ []llm.Message) (string, llm.Usage, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", llm.Usage{}, s.errs[i]
	}
	if i >= len(s.replies) {
		return "", llm.Usage{}, errors.New("script exhausted")
	}
	return s.replies[i], llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func proposalReply(code string) string {
	return "<Refactored Test Case Source Code>" + code + "</Refactored Test Case Source Code>" +
		"<Refactored Test Case Additional Import Packages>None</Refactored Test Case Additional Import Packages>" +
		"<Refactoring Reasoning>added assertion</Refactoring Reasoning>"
}

func verdictReply(originalExists, newExists bool) string {
	toWord := func(b bool) string {
		if b {
			return "true"
		}
		return "false"
	}
	return "<original issue type exists>" + toWord(originalExists) + "</original issue type exists>" +
		"<new issue type exists>" + toWord(newExists) + "</new issue type exists>" +
		"<new issue type>None</new issue type>" +
		"<reasoning>checked</reasoning>"
}

func newLoop(t *testing.T, client gateway.ChatClient, opts ...LoopOption) *Loop {
	t.Helper()
	gw := gateway.New(client, "key", "o4-mini", prompt.NewLibrary(),
		gateway.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return NewLoop(gw, opts...)
}

var testCase = discovery.Case{Project: "p", Class: "CartTest", Method: "addsItem", Kind: smell.MissingAssert}

var testCtx = discovery.CaseContext{
	ProjectName:   "p",
	TestClassName: "CartTest",
	TestCaseName:  "addsItem",
	Source:        "@Test public void addsItem() { cart.add(item); }",
	Imports:       []string{"org.junit.jupiter.api.Test"},
}

func TestLoopAcceptsFirstRound(t *testing.T) {
	client := &scriptedClient{replies: []string{
		proposalReply("rewrite one"),
		verdictReply(false, false),
	}}
	loop := newLoop(t, client)
	result, err := loop.Run(context.Background(), testCase, testCtx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if result.Accepted == nil || result.Accepted.Code != "rewrite one" {
		t.Fatalf("accepted = %+v", result.Accepted)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Verdict == nil {
		t.Fatalf("attempts = %+v", result.Attempts)
	}
}

func TestLoopRetriesAfterRejection(t *testing.T) {
	client := &scriptedClient{replies: []string{
		proposalReply("first"),
		verdictReply(true, false),
		proposalReply("second"),
		verdictReply(false, false),
	}}
	loop := newLoop(t, client)
	result, err := loop.Run(context.Background(), testCase, testCtx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeAccepted || result.Accepted.Code != "second" {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d", len(result.Attempts))
	}
}

func TestLoopExhaustsRoundBudget(t *testing.T) {
	client := &scriptedClient{replies: []string{
		proposalReply("a"), verdictReply(true, false),
		proposalReply("b"), verdictReply(true, false),
	}}
	loop := newLoop(t, client, WithMaxRounds(2))
	result, err := loop.Run(context.Background(), testCase, testCtx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if result.Accepted != nil {
		t.Fatal("exhausted case must not carry an accepted candidate")
	}
}

func TestLoopFailClosedTerminal(t *testing.T) {
	client := &scriptedClient{replies: []string{
		proposalReply("a"), verdictReply(true, false),
		proposalReply("b"), "no markers in this verdict",
	}}
	loop := newLoop(t, client, WithMaxRounds(2))
	result, err := loop.Run(context.Background(), testCase, testCtx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeFailClosed {
		t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeFailClosed)
	}
}

func TestLoopMalformedProposalConsumesRound(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"no markers at all",
	}}
	loop := newLoop(t, client, WithMaxRounds(1))
	result, err := loop.Run(context.Background(), testCase, testCtx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Verdict != nil {
		t.Fatalf("malformed proposal must not be validated: %+v", result.Attempts)
	}
}

func TestLoopAllProposalsMalformed(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"garbage 1", "garbage 2", "garbage 3", "garbage 4", "garbage 5",
	}}
	loop := newLoop(t, client)
	result, err := loop.Run(context.Background(), testCase, testCtx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeExhausted || result.Accepted != nil {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Attempts) != DefaultMaxRounds {
		t.Fatalf("attempts = %d, want %d", len(result.Attempts), DefaultMaxRounds)
	}
	for _, attempt := range result.Attempts {
		if attempt.Proposal.Parsed() || attempt.Verdict != nil {
			t.Fatalf("attempt %d should be a recorded parse failure: %+v", attempt.Round, attempt)
		}
	}
}

func TestLoopTransportErrorAbortsCase(t *testing.T) {
	client := &scriptedClient{errs: []error{llm.ErrUnauthorized}}
	loop := newLoop(t, client)
	_, err := loop.Run(context.Background(), testCase, testCtx)
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoopHonorsCancellation(t *testing.T) {
	client := &scriptedClient{replies: []string{
		proposalReply("a"), verdictReply(true, false),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := newLoop(t, client)
	if _, err := loop.Run(ctx, testCase, testCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestMergeImportsDedups(t *testing.T) {
	got := mergeImports([]string{"a.B", "c.D"}, []string{"c.D", "e.F", ""})
	if len(got) != 3 || got[2] != "e.F" {
		t.Fatalf("merged = %v", got)
	}
}
