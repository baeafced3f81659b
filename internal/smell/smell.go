// Package smell defines the fixed enumerations of structural test-code
// defects and the test frameworks whose idioms affect how a defect is fixed.
package smell

import (
	"fmt"
	"strings"
)

// Kind is one category of structural test-code defect.
type Kind string

const (
	MissingAssert       Kind = "missing assert"
	AssertPrecondition  Kind = "assert pre-condition"
	ArrangeQuit         Kind = "arrange & quit"
	MultipleAAA         Kind = "multiple aaa"
	MultipleActs        Kind = "multiple acts"
	ObscureAssert       Kind = "obscure assert"
	SuppressedException Kind = "suppressed exception"
)

// Kinds lists every known issue kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		MissingAssert,
		AssertPrecondition,
		ArrangeQuit,
		MultipleAAA,
		MultipleActs,
		ObscureAssert,
		SuppressedException,
	}
}

// ParseKind normalizes a raw issue label into a Kind. Labels arrive from
// detection CSVs in mixed case, sometimes bracketed, sometimes as a
// comma-separated combination; the first listed issue is the primary one.
func ParseKind(raw string) (Kind, error) {
	primary := raw
	if idx := strings.Index(primary, ","); idx >= 0 {
		primary = primary[:idx]
	}
	primary = strings.Trim(strings.TrimSpace(primary), "[]")
	primary = strings.ToLower(strings.TrimSpace(primary))
	for _, kind := range Kinds() {
		if string(kind) == primary {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown issue kind %q", raw)
}

// Slug returns the filesystem-safe name used for prompt template lookup.
func (k Kind) Slug() string {
	slug := strings.ReplaceAll(string(k), " & ", " ")
	slug = strings.ReplaceAll(slug, "-", "")
	return strings.ReplaceAll(strings.TrimSpace(slug), " ", "_")
}

// Framework is a test framework whose skip and exception-assertion idioms
// differ from the others.
type Framework string

const (
	JUnit4 Framework = "junit4"
	JUnit5 Framework = "junit5"
	TestNG Framework = "testng"
)

// Frameworks lists every supported framework.
func Frameworks() []Framework {
	return []Framework{JUnit4, JUnit5, TestNG}
}

// ParseFramework normalizes a raw framework label.
func ParseFramework(raw string) (Framework, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	switch normalized {
	case "junit4", "junit":
		return JUnit4, nil
	case "junit5", "jupiter", "junitjupiter":
		return JUnit5, nil
	case "testng":
		return TestNG, nil
	}
	return "", fmt.Errorf("unknown test framework %q", raw)
}
