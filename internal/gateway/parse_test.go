package gateway

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseProposalWellFormed(t *testing.T) {
	reply := `Some preamble the model added.
<Refactored Test Case Source Code>
@Test
public void testFoo() {
    assertEquals(1, counter.get());
}
</Refactored Test Case Source Code>
<Refactored Test Case Additional Import Packages>
static org.junit.jupiter.api.Assertions.assertEquals, java.util.List
</Refactored Test Case Additional Import Packages>
<Refactoring Reasoning>
Added the missing assertion.
</Refactoring Reasoning>`

	got := parseProposal(reply)
	if !got.Parsed() {
		t.Fatalf("unexpected parse error: %s", got.ParseErr)
	}
	wantImports := []string{"static org.junit.jupiter.api.Assertions.assertEquals", "java.util.List"}
	if diff := cmp.Diff(wantImports, got.Candidate.Imports); diff != "" {
		t.Fatalf("imports mismatch (-want +got):\n%s", diff)
	}
	if got.Candidate.Reasoning != "Added the missing assertion." {
		t.Fatalf("reasoning = %q", got.Candidate.Reasoning)
	}
}

func TestParseProposalTagVariants(t *testing.T) {
	// Models drift into underscores and different casing.
	reply := `<refactored_test_case_source_code>code here</refactored_test_case_source_code>
<Refactored test case additional import packages>None</Refactored test case additional import packages>`
	got := parseProposal(reply)
	if !got.Parsed() {
		t.Fatalf("variant tags should parse, got error: %s", got.ParseErr)
	}
	if got.Candidate.Code != "code here" {
		t.Fatalf("code = %q", got.Candidate.Code)
	}
	if len(got.Candidate.Imports) != 0 {
		t.Fatalf("None imports should be dropped, got %v", got.Candidate.Imports)
	}
}

func TestParseProposalMissingCode(t *testing.T) {
	got := parseProposal("I cannot rewrite this test.")
	if got.Parsed() {
		t.Fatal("expected parse error for missing markers")
	}
	if got.Raw == "" {
		t.Fatal("raw reply must be retained for the audit trail")
	}
}

func TestParseVerdict(t *testing.T) {
	reply := `<original issue type exists>false</original issue type exists>
<new issue type exists>true</new issue type exists>
<new issue type>multiple acts</new issue type>
<reasoning>The rewrite chained two service calls.</reasoning>`
	got := parseVerdict(reply)
	if got.FailClosed {
		t.Fatal("well-formed verdict must not fail closed")
	}
	if got.OriginalIssueExists {
		t.Fatal("original issue should be resolved")
	}
	if !got.NewIssueExists || got.NewIssueKind != "multiple acts" {
		t.Fatalf("new issue = %v %q", got.NewIssueExists, got.NewIssueKind)
	}
}

func TestParseVerdictFailsClosed(t *testing.T) {
	got := parseVerdict("Looks fine to me!")
	if !got.FailClosed {
		t.Fatal("unparseable verdict must fail closed")
	}
	if !got.OriginalIssueExists {
		t.Fatal("fail-closed verdict must report the issue as present")
	}
	if got.Clean() {
		t.Fatal("fail-closed verdict can never be clean")
	}
}

func TestParseVerdictNoneNewKind(t *testing.T) {
	reply := `<original issue type exists>false</original issue type exists>
<new issue type exists>false</new issue type exists>
<new issue type>None</new issue type>`
	got := parseVerdict(reply)
	if !got.Clean() {
		t.Fatalf("verdict should be clean: %+v", got)
	}
	if got.NewIssueKind != "" {
		t.Fatalf("None must map to empty kind, got %q", got.NewIssueKind)
	}
}

func TestParseBoolTable(t *testing.T) {
	trueWords := []string{"true", "Yes", "1", "exists", "PRESENT", "probably"}
	for _, word := range trueWords {
		if !parseBool(word) {
			t.Fatalf("parseBool(%q) should fail closed to true", word)
		}
	}
	falseWords := []string{"false", "No", "0", "not exists", "absent", "none"}
	for _, word := range falseWords {
		if parseBool(word) {
			t.Fatalf("parseBool(%q) = true, want false", word)
		}
	}
}
