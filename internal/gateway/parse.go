package gateway

import "strings"

const (
	tagCode      = "Refactored Test Case Source Code"
	tagImports   = "Refactored Test Case Additional Import Packages"
	tagReasoning = "Refactoring Reasoning"

	tagOriginalExists = "original issue type exists"
	tagNewExists      = "new issue type exists"
	tagNewKind        = "new issue type"
	tagVerdictReason  = "reasoning"
)

func parseProposal(reply string) Proposal {
	code := extractTagged(reply, tagCode)
	if code == "" {
		return Proposal{
			ParseErr: "reply missing refactored source code section",
			Raw:      reply,
		}
	}
	return Proposal{
		Candidate: Candidate{
			Code:      code,
			Imports:   splitImports(extractTagged(reply, tagImports)),
			Reasoning: extractTagged(reply, tagReasoning),
		},
		Raw: reply,
	}
}

func parseVerdict(reply string) Verdict {
	originalRaw := extractTagged(reply, tagOriginalExists)
	newRaw := extractTagged(reply, tagNewExists)
	if originalRaw == "" && newRaw == "" {
		// No usable markers: fail closed, the issue is presumed present.
		return Verdict{
			OriginalIssueExists: true,
			FailClosed:          true,
			Raw:                 reply,
		}
	}
	verdict := Verdict{
		OriginalIssueExists: true,
		NewIssueExists:      false,
		Raw:                 reply,
	}
	if originalRaw != "" {
		verdict.OriginalIssueExists = parseBool(originalRaw)
	}
	if newRaw != "" {
		verdict.NewIssueExists = parseBool(newRaw)
	}
	if kind := extractTagged(reply, tagNewKind); kind != "" && !isNoneWord(kind) {
		verdict.NewIssueKind = kind
	}
	verdict.Reasoning = extractTagged(reply, tagVerdictReason)
	return verdict
}

// extractTagged pulls the content between <tag> and </tag>. Models drift on
// tag spelling, so matching falls back through case-insensitive and
// space/underscore variants before giving up.
func extractTagged(text, tag string) string {
	if content, ok := extractExact(text, tag); ok {
		return content
	}
	if content, ok := extractFold(text, tag); ok {
		return content
	}
	variants := []string{
		strings.ReplaceAll(tag, " ", "_"),
		strings.ReplaceAll(tag, " ", ""),
		strings.ReplaceAll(tag, "_", " "),
	}
	for _, variant := range variants {
		if variant == tag {
			continue
		}
		if content, ok := extractFold(text, variant); ok {
			return content
		}
	}
	return ""
}

func extractExact(text, tag string) (string, bool) {
	start := "<" + tag + ">"
	end := "</" + tag + ">"
	startIdx := strings.Index(text, start)
	if startIdx < 0 {
		return "", false
	}
	startIdx += len(start)
	endIdx := strings.Index(text[startIdx:], end)
	if endIdx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[startIdx : startIdx+endIdx]), true
}

func extractFold(text, tag string) (string, bool) {
	start := strings.ToLower("<" + tag + ">")
	end := strings.ToLower("</" + tag + ">")
	lower := strings.ToLower(text)
	startIdx := strings.Index(lower, start)
	if startIdx < 0 {
		return "", false
	}
	startIdx += len(start)
	endIdx := strings.Index(lower[startIdx:], end)
	if endIdx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[startIdx : startIdx+endIdx]), true
}

// parseBool maps the model's phrasing onto a boolean, defaulting to true
// (issue exists) when the phrasing is not recognized.
func parseBool(raw string) bool {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "false", "no", "0", "not exists", "absent", "none":
		return false
	case "true", "yes", "1", "exists", "present":
		return true
	default:
		return true
	}
}

func splitImports(raw string) []string {
	if raw == "" {
		return nil
	}
	var imports []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, ",", "\n"), "\n") {
		cleaned := strings.TrimSpace(line)
		if cleaned == "" || isNoneWord(cleaned) {
			continue
		}
		imports = append(imports, cleaned)
	}
	return imports
}

func isNoneWord(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n/a", "empty":
		return true
	}
	return false
}
