package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"testmend/internal/llm"
	"testmend/internal/prompt"
	"testmend/internal/smell"
)

// scriptedClient replays canned replies and records every request.
type scriptedClient struct {
	replies []scriptedReply
	calls   [][]llm.Message
}

type scriptedReply struct {
	content string
	usage   llm.Usage
	err     error
}

func (s *scriptedClient) Chat(_ context.Context, _, _ string, messages []llm.Message) (string, llm.Usage, error) {
	s.calls = append(s.calls, messages)
	if len(s.replies) == 0 {
		return "", llm.Usage{}, errors.New("script exhausted")
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next.content, next.usage, next.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func wellFormedProposal(code string) string {
	return "<Refactored Test Case Source Code>" + code + "</Refactored Test Case Source Code>" +
		"<Refactored Test Case Additional Import Packages>None</Refactored Test Case Additional Import Packages>" +
		"<Refactoring Reasoning>done</Refactoring Reasoning>"
}

func newTestGateway(client ChatClient) *Gateway {
	return New(client, "key", "o4-mini", prompt.NewLibrary(), WithSleep(noSleep))
}

func TestProposeParsesReply(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{content: wellFormedProposal("rewritten"), usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
	}}
	g := newTestGateway(client)
	proposal, err := g.Propose(context.Background(), smell.MissingAssert, smell.JUnit5, prompt.CaseContext{Source: "src"}, nil)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !proposal.Parsed() || proposal.Candidate.Code != "rewritten" {
		t.Fatalf("proposal = %+v", proposal)
	}
	if proposal.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v", proposal.Usage)
	}
	if proposal.Cost <= 0 {
		t.Fatal("cost must be recorded for priced models")
	}
}

func TestProposeMalformedReplyIsNotAnError(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{content: "no markers at all", usage: llm.Usage{TotalTokens: 7}},
	}}
	g := newTestGateway(client)
	proposal, err := g.Propose(context.Background(), smell.MissingAssert, smell.JUnit5, prompt.CaseContext{}, nil)
	if err != nil {
		t.Fatalf("malformed reply must not surface as error: %v", err)
	}
	if proposal.Parsed() {
		t.Fatal("expected ParseErr")
	}
	if proposal.Usage.TotalTokens != 7 {
		t.Fatal("usage must be recorded even for malformed replies")
	}
}

func TestProposeRetriesTransientErrors(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{err: llm.ErrRateLimited},
		{err: llm.ErrUnavailable},
		{content: wellFormedProposal("ok")},
	}}
	g := newTestGateway(client)
	proposal, err := g.Propose(context.Background(), smell.MissingAssert, smell.JUnit5, prompt.CaseContext{}, nil)
	if err != nil {
		t.Fatalf("propose after retries: %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(client.calls))
	}
	if proposal.Candidate.Code != "ok" {
		t.Fatalf("candidate = %q", proposal.Candidate.Code)
	}
}

func TestProposeDoesNotRetryAuthErrors(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{err: llm.ErrUnauthorized},
	}}
	g := newTestGateway(client)
	_, err := g.Propose(context.Background(), smell.MissingAssert, smell.JUnit5, prompt.CaseContext{}, nil)
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("auth errors must not retry, got %d calls", len(client.calls))
	}
}

func TestProposeThreadsCritiques(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{content: wellFormedProposal("second try")},
	}}
	g := newTestGateway(client)
	critique := Critique{
		Round:     1,
		Candidate: Candidate{Code: "first try"},
		Verdict: Verdict{
			OriginalIssueExists: true,
			Reasoning:           "still no assertion on the result",
		},
	}
	if _, err := g.Propose(context.Background(), smell.MissingAssert, smell.JUnit5, prompt.CaseContext{}, []Critique{critique}); err != nil {
		t.Fatalf("propose: %v", err)
	}
	messages := client.calls[0]
	if len(messages) != 4 {
		t.Fatalf("expected system+user+assistant+critique, got %d messages", len(messages))
	}
	if messages[2].Role != llm.RoleAssistant || !strings.Contains(messages[2].Content, "first try") {
		t.Fatalf("assistant replay missing: %+v", messages[2])
	}
	if messages[3].Role != llm.RoleUser || !strings.Contains(messages[3].Content, "still no assertion") {
		t.Fatalf("critique message missing: %+v", messages[3])
	}
	if !strings.Contains(messages[3].Content, "round 1") {
		t.Fatalf("critique must name the round: %q", messages[3].Content)
	}
}

func TestValidateFailClosedOnGarbage(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{content: "sure, looks good"},
	}}
	g := newTestGateway(client)
	verdict, err := g.Validate(context.Background(), smell.MissingAssert, Candidate{Code: "x"}, nil, prompt.CaseContext{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !verdict.FailClosed || !verdict.OriginalIssueExists {
		t.Fatalf("verdict must fail closed: %+v", verdict)
	}
}

func TestValidateCleanVerdict(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{content: "<original issue type exists>false</original issue type exists>" +
			"<new issue type exists>false</new issue type exists>" +
			"<new issue type>None</new issue type>" +
			"<reasoning>assertion added</reasoning>"},
	}}
	g := newTestGateway(client)
	verdict, err := g.Validate(context.Background(), smell.MissingAssert, Candidate{Code: "x"}, nil, prompt.CaseContext{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !verdict.Clean() {
		t.Fatalf("verdict should be clean: %+v", verdict)
	}
}

func TestBackoffDurationCaps(t *testing.T) {
	if backoffDuration(1) != transientRetryBaseDelay {
		t.Fatalf("first wait = %v", backoffDuration(1))
	}
	if backoffDuration(2) != 2*transientRetryBaseDelay {
		t.Fatalf("second wait = %v", backoffDuration(2))
	}
	if backoffDuration(30) != transientRetryMaxDelay {
		t.Fatalf("wait must cap at %v, got %v", transientRetryMaxDelay, backoffDuration(30))
	}
}

func TestChatRetryHonorsCancellation(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{err: llm.ErrRateLimited},
		{content: wellFormedProposal("never reached")},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	g := New(client, "key", "o4-mini", prompt.NewLibrary(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	_, err := g.Propose(ctx, smell.MissingAssert, smell.JUnit5, prompt.CaseContext{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
