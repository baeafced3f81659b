package splice

import (
	"sort"
	"strings"
)

// ExtractImports returns the import declarations of a compilation unit
// without the "import" keyword or semicolon; the "static" prefix is kept.
func ExtractImports(source string) []string {
	var imports []string
	for _, line := range strings.Split(source, "\n") {
		if decl, ok := importDecl(line); ok {
			imports = append(imports, decl)
		}
	}
	return imports
}

// InsertImports merges additional import declarations into a compilation
// unit. Declarations already present, or satisfied by an existing wildcard
// import, are dropped. New statics sort before new regular imports, each
// group alphabetically. The insertion point is after the last existing
// import, falling back to after the package declaration, then to the top.
func InsertImports(source string, additions []string) string {
	existing := ExtractImports(source)
	var statics, regular []string
	seen := map[string]bool{}
	for _, raw := range additions {
		decl := normalizeImport(raw)
		if decl == "" || seen[decl] {
			continue
		}
		seen[decl] = true
		if satisfied(existing, decl) {
			continue
		}
		if strings.HasPrefix(decl, "static ") {
			statics = append(statics, decl)
		} else {
			regular = append(regular, decl)
		}
	}
	if len(statics) == 0 && len(regular) == 0 {
		return source
	}
	sort.Strings(statics)
	sort.Strings(regular)
	var block strings.Builder
	for _, decl := range append(statics, regular...) {
		block.WriteString("import " + decl + ";\n")
	}

	lines := strings.Split(source, "\n")
	insertAfter := -1
	packageLine := -1
	for i, line := range lines {
		if _, ok := importDecl(line); ok {
			insertAfter = i
		}
		trimmed := strings.TrimSpace(line)
		if packageLine < 0 && strings.HasPrefix(trimmed, "package ") && strings.HasSuffix(trimmed, ";") {
			packageLine = i
		}
	}
	stmt := strings.TrimRight(block.String(), "\n")
	switch {
	case insertAfter >= 0:
		lines = insertLine(lines, insertAfter+1, stmt)
	case packageLine >= 0:
		lines = insertLine(lines, packageLine+1, "")
		lines = insertLine(lines, packageLine+2, stmt)
	default:
		lines = insertLine(lines, 0, stmt)
	}
	return strings.Join(lines, "\n")
}

func importDecl(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "import ") || !strings.HasSuffix(trimmed, ";") {
		return "", false
	}
	decl := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "import "), ";"))
	return normalizeSpaces(decl), decl != ""
}

// normalizeImport accepts the loose shapes models emit: a bare package path,
// a full "import x.y.Z;" statement, or a static member reference.
func normalizeImport(raw string) string {
	decl := strings.TrimSpace(raw)
	decl = strings.TrimPrefix(decl, "import ")
	decl = strings.TrimSuffix(decl, ";")
	return normalizeSpaces(strings.TrimSpace(decl))
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// satisfied reports whether decl is already imported, either exactly or
// through a wildcard covering its package (or, for statics, its class).
func satisfied(existing []string, decl string) bool {
	for _, have := range existing {
		if have == decl {
			return true
		}
		if !strings.HasSuffix(have, ".*") {
			continue
		}
		prefix := strings.TrimSuffix(have, "*")
		if strings.HasPrefix(decl, prefix) && !strings.Contains(decl[len(prefix):], ".") {
			return true
		}
	}
	return false
}

func insertLine(lines []string, at int, line string) []string {
	lines = append(lines, "")
	copy(lines[at+1:], lines[at:])
	lines[at] = line
	return lines
}
