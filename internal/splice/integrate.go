package splice

import (
	"fmt"
	"strings"
)

// Mode selects how a rewrite lands in the source file.
type Mode int

const (
	// Replace swaps the original method for the rewrite.
	Replace Mode = iota
	// Review keeps the original and appends the rewrite under a renamed
	// signature for side-by-side inspection.
	Review
)

// ReviewSuffix is appended to the method name in Review mode.
const ReviewSuffix = "_refactored"

// Apply integrates a rewritten method and its extra imports into a
// compilation unit and returns the updated source. The failure modes of
// LocateMethod pass through unchanged so callers can classify them.
func Apply(source, method, rewrite string, imports []string, mode Mode) (string, error) {
	loc, err := LocateMethod(source, method)
	if err != nil {
		return "", err
	}
	rewrite = strings.TrimRight(rewrite, " \t\r\n")
	var out string
	switch mode {
	case Replace:
		out = source[:loc.Start] + indentLike(source, loc, rewrite) + source[loc.End:]
	case Review:
		renamed := renameDeclaration(rewrite, method, method+ReviewSuffix)
		indent := lineIndent(source, loc.Start)
		block := "\n\n" + indent + "// ===== Proposed rewrite of " + method + "; review before replacing the original. =====\n" +
			indentLike(source, loc, renamed) + "\n" +
			indent + "// ===== End of proposed rewrite of " + method + ". ====="
		out = source[:loc.End] + block + source[loc.End:]
	default:
		return "", fmt.Errorf("unknown integration mode %d", mode)
	}
	return InsertImports(out, imports), nil
}

// renameDeclaration renames the method's declaration inside a rewrite
// snippet. Call sites of other methods are left alone; if no declaration is
// found the snippet is returned unchanged rather than guessed at.
func renameDeclaration(snippet, from, to string) string {
	mask := codeMask(snippet)
	for idx := 0; ; {
		rel := strings.Index(snippet[idx:], from)
		if rel < 0 {
			return snippet
		}
		pos := idx + rel
		idx = pos + len(from)
		if !isDeclarationName(snippet, mask, pos, len(from)) {
			continue
		}
		open := nextCodeIndex(snippet, mask, pos+len(from))
		if open < 0 || snippet[open] != '(' {
			continue
		}
		closeParen := matchDelims(snippet, mask, open, '(', ')')
		if closeParen < 0 {
			continue
		}
		if declarationBodyOpen(snippet, mask, closeParen+1) < 0 {
			continue
		}
		return snippet[:pos] + to + snippet[pos+len(from):]
	}
}

// indentLike reindents a rewrite whose first line arrives unindented so it
// sits at the original method's depth. Rewrites that already carry leading
// indentation are trusted as-is.
func indentLike(source string, loc Location, rewrite string) string {
	if strings.HasPrefix(rewrite, " ") || strings.HasPrefix(rewrite, "\t") {
		return rewrite
	}
	indent := lineIndent(source, loc.Start)
	if indent == "" {
		return rewrite
	}
	lines := strings.Split(rewrite, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

func lineIndent(source string, at int) string {
	start := strings.LastIndexByte(source[:at], '\n') + 1
	end := start
	for end < len(source) && (source[end] == ' ' || source[end] == '\t') {
		end++
	}
	return source[start:end]
}
