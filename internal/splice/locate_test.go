package splice

import (
	"errors"
	"strings"
	"testing"
)

const trickySource = `package com.example;

import org.junit.jupiter.api.Test;

public class SampleTest {

    @Test
    public void target() {
        String weird = "{ not a real brace";
        char close = '}';
        Runnable r = () -> {
            if (ready()) { run(); }
        };
        // stray } in a comment
        /* and a { in a block comment */
        String block = """
            { "json": "}" }
            """;
    }

    @Test
    public void other() throws Exception {
        target();
    }
}
`

func TestLocateMethodSkipsLiteralsAndComments(t *testing.T) {
	loc, err := LocateMethod(trickySource, "target")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	got := trickySource[loc.Start:loc.End]
	if !strings.HasPrefix(strings.TrimSpace(got), "@Test") {
		t.Fatalf("range must start at the annotation, got:\n%s", got)
	}
	if !strings.Contains(got, "not a real brace") {
		t.Fatal("range must contain the method body")
	}
	if strings.Contains(got, "other()") {
		t.Fatalf("range leaked into the next method:\n%s", got)
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "}") {
		t.Fatalf("range must end at the closing brace, got:\n%s", got)
	}
}

func TestLocateMethodIgnoresCallSites(t *testing.T) {
	// other() calls target(); the call must not make target ambiguous.
	loc, err := LocateMethod(trickySource, "other")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if !strings.Contains(trickySource[loc.Start:loc.End], "throws Exception") {
		t.Fatal("throws clause must stay inside the located range")
	}
}

func TestLocateMethodNotFound(t *testing.T) {
	_, err := LocateMethod(trickySource, "missing")
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("err = %v, want ErrMethodNotFound", err)
	}
}

func TestLocateMethodAmbiguousOverloads(t *testing.T) {
	src := `class C {
    void check() { }
    void check(int n) { }
}`
	_, err := LocateMethod(src, "check")
	if !errors.Is(err, ErrAmbiguousMethod) {
		t.Fatalf("err = %v, want ErrAmbiguousMethod", err)
	}
}

func TestLocateMethodUnbalancedBody(t *testing.T) {
	src := `class C {
    void broken() {
        if (true) {
    }
`
	_, err := LocateMethod(src, "broken")
	if !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("err = %v, want ErrUnbalanced", err)
	}
}

func TestLocateMethodRejectsQualifiedAndLongerNames(t *testing.T) {
	src := `class C {
    void run() {
        this.target();
        targetExtra();
    }
    void target() { }
}`
	loc, err := LocateMethod(src, "target")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if strings.Contains(src[loc.Start:loc.End], "this.target") {
		t.Fatal("located the call site instead of the declaration")
	}
}

func TestLocateMethodEscapedQuotes(t *testing.T) {
	src := `class C {
    void quoted() {
        String s = "a \" { b";
        char c = '\'';
    }
}`
	loc, err := LocateMethod(src, "quoted")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(src[loc.Start:loc.End]), "}") {
		t.Fatal("escaped quotes confused the scanner")
	}
}
