package smell

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		raw  string
		want Kind
	}{
		{"missing assert", MissingAssert},
		{"Missing Assert", MissingAssert},
		{"[assert pre-condition]", AssertPrecondition},
		{"multiple aaa, missing assert", MultipleAAA},
		{" arrange & quit ", ArrangeQuit},
		{"[suppressed exception], obscure assert", SuppressedException},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.raw)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseKind(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseKindUnknown(t *testing.T) {
	if _, err := ParseKind("flaky network"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestKindSlug(t *testing.T) {
	cases := map[Kind]string{
		MissingAssert:       "missing_assert",
		AssertPrecondition:  "assert_precondition",
		ArrangeQuit:         "arrange_quit",
		MultipleAAA:         "multiple_aaa",
		MultipleActs:        "multiple_acts",
		ObscureAssert:       "obscure_assert",
		SuppressedException: "suppressed_exception",
	}
	for kind, want := range cases {
		if got := kind.Slug(); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", kind, got, want)
		}
	}
}

func TestParseFramework(t *testing.T) {
	cases := []struct {
		raw  string
		want Framework
	}{
		{"junit4", JUnit4},
		{"JUnit", JUnit4},
		{"JUnit 5", JUnit5},
		{"jupiter", JUnit5},
		{"TestNG", TestNG},
	}
	for _, tc := range cases {
		got, err := ParseFramework(tc.raw)
		if err != nil {
			t.Fatalf("ParseFramework(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseFramework(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
	if _, err := ParseFramework("pytest"); err == nil {
		t.Fatal("expected error for unsupported framework")
	}
}
