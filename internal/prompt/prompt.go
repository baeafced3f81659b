// Package prompt holds the embedded prompt templates and renders the user
// prompts for the refactoring and issue-checking model calls.
package prompt

import (
	"embed"
	"fmt"
	"strings"

	"testmend/internal/smell"
)

//go:embed templates/system/*.md templates/refactoring/*.md
var templateFS embed.FS

// Library serves prompt text by role and issue kind.
type Library struct{}

func NewLibrary() *Library {
	return &Library{}
}

// SystemPrompt returns the system prompt by name ("refactoring" or
// "issue_checking").
func (l *Library) SystemPrompt(name string) (string, error) {
	data, err := templateFS.ReadFile("templates/system/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("system prompt %q not found: %w", name, err)
	}
	return string(data), nil
}

// Strategy returns the issue-specific refactoring strategy text.
func (l *Library) Strategy(kind smell.Kind) (string, error) {
	data, err := templateFS.ReadFile("templates/refactoring/" + kind.Slug() + ".md")
	if err != nil {
		return "", fmt.Errorf("refactoring strategy for %q not found: %w", kind, err)
	}
	return string(data), nil
}

// CaseContext carries everything about the test method the prompts embed.
type CaseContext struct {
	Source          string
	Imports         []string
	ProductionImpls []string
	BeforeMethods   []string
	AfterMethods    []string
	BeforeAll       []string
	AfterAll        []string
}

// RenderProposal builds the user prompt for one refactoring round. The tag
// layout is load-bearing: the reply parser expects the model to mirror the
// output markers named in the system prompt.
func (l *Library) RenderProposal(kind smell.Kind, fw smell.Framework, ctx CaseContext) (string, error) {
	strategy, err := l.Strategy(kind)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<Issue Type>%s</Issue Type>\n", kind)
	fmt.Fprintf(&b, "<Test Framework>%s</Test Framework>\n", fw)
	fmt.Fprintf(&b, "<Test Case Source Code>%s</Test Case Source Code>\n", ctx.Source)
	fmt.Fprintf(&b, "<Test Case Import Packages>%s</Test Case Import Packages>\n", strings.Join(ctx.Imports, ", "))
	fmt.Fprintf(&b, "<Production Function Implementations>%s</Production Function Implementations>\n", strings.Join(ctx.ProductionImpls, ", "))
	fmt.Fprintf(&b, "<Test Case Before Methods>%s</Test Case Before Methods>\n", strings.Join(ctx.BeforeMethods, ", "))
	fmt.Fprintf(&b, "<Test Case After Methods>%s</Test Case After Methods>\n", strings.Join(ctx.AfterMethods, ", "))
	fmt.Fprintf(&b, "<Test Case Before All Methods>%s</Test Case Before All Methods>\n", strings.Join(ctx.BeforeAll, ", "))
	fmt.Fprintf(&b, "<Test Case After All Methods>%s</Test Case After All Methods>\n", strings.Join(ctx.AfterAll, ", "))
	fmt.Fprintf(&b, "<Framework Idioms>%s</Framework Idioms>\n", FrameworkHints(fw))
	fmt.Fprintf(&b, "<Refactoring Prompt>%s</Refactoring Prompt>", strategy)
	return b.String(), nil
}

// RenderValidation builds the user prompt for the adversarial issue check of
// a candidate rewrite.
func (l *Library) RenderValidation(kind smell.Kind, candidate string, allImports []string, ctx CaseContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<original issue type>%s</original issue type>\n", kind)
	fmt.Fprintf(&b, "<Test Case Source Code>%s</Test Case Source Code>\n", candidate)
	fmt.Fprintf(&b, "<Test Case Import Packages>%s</Test Case Import Packages>\n", strings.Join(allImports, ", "))
	fmt.Fprintf(&b, "<Production Function Implementations>%s</Production Function Implementations>\n", strings.Join(ctx.ProductionImpls, ", "))
	fmt.Fprintf(&b, "<Test Case Before Methods>%s</Test Case Before Methods>\n", strings.Join(ctx.BeforeMethods, ", "))
	fmt.Fprintf(&b, "<Test Case After Methods>%s</Test Case After Methods>\n", strings.Join(ctx.AfterMethods, ", "))
	fmt.Fprintf(&b, "<Test Case Before All Methods>%s</Test Case Before All Methods>\n", strings.Join(ctx.BeforeAll, ", "))
	fmt.Fprintf(&b, "<Test Case After All Methods>%s</Test Case After All Methods>", strings.Join(ctx.AfterAll, ", "))
	return b.String()
}

// FrameworkHints names the skip and exception-assertion idioms of the given
// framework so the model does not mix conventions.
func FrameworkHints(fw smell.Framework) string {
	switch fw {
	case smell.JUnit4:
		return "Preconditions: use org.junit.Assume.assumeTrue/assumeFalse to skip, never fail. " +
			"Expected exceptions: use @Test(expected = X.class) or ExpectedException rule. " +
			"Assertions: org.junit.Assert static imports."
	case smell.JUnit5:
		return "Preconditions: use org.junit.jupiter.api.Assumptions.assumeTrue/assumeFalse to skip, never fail. " +
			"Expected exceptions: use org.junit.jupiter.api.Assertions.assertThrows. " +
			"Assertions: org.junit.jupiter.api.Assertions static imports."
	case smell.TestNG:
		return "Preconditions: throw org.testng.SkipException to skip, never fail. " +
			"Expected exceptions: use @Test(expectedExceptions = X.class) or Assert.assertThrows. " +
			"Assertions: org.testng.Assert static imports."
	default:
		return ""
	}
}
