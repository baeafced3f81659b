// Package splice edits Java compilation units textually: it locates a test
// method by name with a lexical brace scanner, swaps in a rewritten body, and
// merges import declarations. It never parses Java; the scanner only has to
// be exact about what is code and what is string, character, comment, or
// text-block content.
package splice

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMethodNotFound  = errors.New("method not found")
	ErrAmbiguousMethod = errors.New("method declared more than once")
	ErrUnbalanced      = errors.New("unbalanced braces")
)

// Location is the half-open byte range [Start, End) of a method declaration,
// including the annotation lines directly above it.
type Location struct {
	Start int
	End   int
}

// LocateMethod finds the single declaration of method in src. Two or more
// declarations (overloads) are ambiguous and refused; a body whose closing
// brace is never found is reported as unbalanced.
func LocateMethod(src, method string) (Location, error) {
	mask := codeMask(src)
	var locs []Location
	for idx := 0; ; {
		rel := strings.Index(src[idx:], method)
		if rel < 0 {
			break
		}
		pos := idx + rel
		idx = pos + len(method)
		if !isDeclarationName(src, mask, pos, len(method)) {
			continue
		}
		open := nextCodeIndex(src, mask, pos+len(method))
		if open < 0 || src[open] != '(' {
			continue
		}
		closeParen := matchDelims(src, mask, open, '(', ')')
		if closeParen < 0 {
			continue
		}
		bodyOpen := declarationBodyOpen(src, mask, closeParen+1)
		if bodyOpen < 0 {
			// A call site or an abstract declaration.
			continue
		}
		bodyClose := matchDelims(src, mask, bodyOpen, '{', '}')
		if bodyClose < 0 {
			return Location{}, fmt.Errorf("%w in body of %s", ErrUnbalanced, method)
		}
		locs = append(locs, Location{Start: expandStart(src, pos), End: bodyClose + 1})
	}
	switch len(locs) {
	case 0:
		return Location{}, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	case 1:
		return locs[0], nil
	default:
		return Location{}, fmt.Errorf("%w: %s has %d declarations", ErrAmbiguousMethod, method, len(locs))
	}
}

type scanState int

const (
	stCode scanState = iota
	stString
	stChar
	stLineComment
	stBlockComment
	stTextBlock
)

// codeMask marks which bytes of src are code. Bytes inside string, character
// and text-block literals, and inside comments, are masked out along with
// their delimiters, so brace counting over the mask cannot be fooled by a
// literal "{" or a commented-out "}".
func codeMask(src string) []bool {
	mask := make([]bool, len(src))
	state := stCode
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch state {
		case stCode:
			switch {
			case c == '"' && strings.HasPrefix(src[i:], `"""`):
				state = stTextBlock
				i += 2
			case c == '"':
				state = stString
			case c == '\'':
				state = stChar
			case c == '/' && i+1 < len(src) && src[i+1] == '/':
				state = stLineComment
				i++
			case c == '/' && i+1 < len(src) && src[i+1] == '*':
				state = stBlockComment
				i++
			default:
				mask[i] = true
			}
		case stString:
			if c == '\\' {
				i++
			} else if c == '"' || c == '\n' {
				state = stCode
			}
		case stChar:
			if c == '\\' {
				i++
			} else if c == '\'' || c == '\n' {
				state = stCode
			}
		case stLineComment:
			if c == '\n' {
				state = stCode
				mask[i] = true
			}
		case stBlockComment:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				state = stCode
				i++
			}
		case stTextBlock:
			if c == '\\' {
				i++
			} else if c == '"' && strings.HasPrefix(src[i:], `"""`) {
				state = stCode
				i += 2
			}
		}
	}
	return mask
}

// isDeclarationName rules out qualified calls (x.method) and longer
// identifiers that merely contain the name.
func isDeclarationName(src string, mask []bool, pos, nameLen int) bool {
	if !mask[pos] {
		return false
	}
	if pos > 0 && (isIdentByte(src[pos-1]) || src[pos-1] == '.') {
		return false
	}
	after := pos + nameLen
	if after < len(src) && isIdentByte(src[after]) {
		return false
	}
	return true
}

// declarationBodyOpen walks from the parameter list's closing paren across an
// optional throws clause to the opening brace. Anything else (a semicolon, an
// operator) means this was not a concrete declaration.
func declarationBodyOpen(src string, mask []bool, from int) int {
	for i := from; i < len(src); i++ {
		if !mask[i] {
			continue
		}
		c := src[i]
		switch {
		case c == '{':
			return i
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		case isIdentByte(c) || c == '.' || c == ',' || c == '<' || c == '>':
		default:
			return -1
		}
	}
	return -1
}

// matchDelims returns the index of the delimiter closing the one at open,
// counting only unmasked bytes, or -1 when it never closes.
func matchDelims(src string, mask []bool, open int, oc, cc byte) int {
	depth := 0
	for i := open; i < len(src); i++ {
		if !mask[i] {
			continue
		}
		switch src[i] {
		case oc:
			depth++
		case cc:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// expandStart moves the range start to the beginning of the signature line,
// then absorbs contiguous annotation lines above it.
func expandStart(src string, sigPos int) int {
	start := strings.LastIndexByte(src[:sigPos], '\n') + 1
	for {
		prevNewline := start - 1
		if prevNewline < 0 {
			break
		}
		prevStart := strings.LastIndexByte(src[:prevNewline], '\n') + 1
		if !strings.HasPrefix(strings.TrimSpace(src[prevStart:prevNewline]), "@") {
			break
		}
		start = prevStart
	}
	return start
}

func nextCodeIndex(src string, mask []bool, from int) int {
	for i := from; i < len(src); i++ {
		if !mask[i] {
			continue
		}
		switch src[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return i
	}
	return -1
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
