// Package diff renders line diffs of a test file before and after a rewrite,
// for review previews and restore-mismatch reports.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is how many unchanged lines are kept around each change.
const contextLines = 3

// TextDiff renders a compact line diff: changed lines prefixed with - or +,
// nearby unchanged lines with two spaces, long unchanged runs collapsed.
func TextDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	for i, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			writePrefixed(&b, "-", lines)
		case diffmatchpatch.DiffInsert:
			writePrefixed(&b, "+", lines)
		case diffmatchpatch.DiffEqual:
			writePrefixed(&b, " ", collapseContext(lines, i == 0, i == len(diffs)-1))
		}
	}
	return b.String()
}

// Changed reports whether before and after differ at all; cheaper than
// rendering when only the answer matters.
func Changed(before, after string) bool {
	return before != after
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writePrefixed(b *strings.Builder, prefix string, lines []string) {
	for _, line := range lines {
		b.WriteString(prefix)
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}

// collapseContext keeps the edges of an unchanged run and elides the middle.
// Runs at the very start keep only their tail; runs at the very end only
// their head.
func collapseContext(lines []string, atStart, atEnd bool) []string {
	keepHead, keepTail := contextLines, contextLines
	if atStart {
		keepHead = 0
	}
	if atEnd {
		keepTail = 0
	}
	if len(lines) <= keepHead+keepTail+1 {
		if atStart && len(lines) > keepTail {
			return lines[len(lines)-keepTail:]
		}
		if atEnd && len(lines) > keepHead {
			return lines[:keepHead]
		}
		return lines
	}
	out := make([]string, 0, keepHead+keepTail+1)
	out = append(out, lines[:keepHead]...)
	out = append(out, "...")
	out = append(out, lines[len(lines)-keepTail:]...)
	return out
}
