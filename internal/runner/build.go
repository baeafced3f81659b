package runner

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Tool is the build system driving a checkout's tests.
type Tool string

const (
	Maven  Tool = "maven"
	Gradle Tool = "gradle"
)

var ErrNoBuildTool = errors.New("no supported build tool found")

// DetectTool inspects a checkout root for a Maven or Gradle build file.
func DetectTool(dir string) (Tool, error) {
	if _, err := os.Stat(filepath.Join(dir, "pom.xml")); err == nil {
		return Maven, nil
	}
	for _, name := range []string{"build.gradle", "build.gradle.kts"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return Gradle, nil
		}
	}
	return "", ErrNoBuildTool
}

// testCommand builds the scoped single-test invocation for a tool. Maven is
// told to keep going past test failures so the surefire summary is always
// printed; Gradle is invoked through the checkout's own wrapper.
func testCommand(tool Tool, checkout, class, method string) (string, []string) {
	switch tool {
	case Gradle:
		return filepath.Join(checkout, "gradlew"),
			[]string{"test", "--tests", class + "." + method}
	default:
		return "mvn", []string{
			"clean", "test",
			"-Dtest=" + class + "#" + method,
			"-DfailIfNoTests=false",
			"-Dmaven.test.failure.ignore=true",
			"-Drat.skip=true",
		}
	}
}

// OutcomeClass classifies one scoped test run.
type OutcomeClass string

const (
	// Passed: the build succeeded and every executed test passed.
	Passed OutcomeClass = "passed"
	// Failed: the build succeeded but a test failed or errored, or no
	// test ran at all.
	Failed OutcomeClass = "failed"
	// BuildError: the build itself did not succeed (compile error, timeout).
	BuildError OutcomeClass = "build_error"
)

// Result is the parsed outcome of one scoped test run.
type Result struct {
	Class    OutcomeClass
	Runs     int
	Failures int
	Errors   int
	TimedOut bool
	Duration time.Duration
	Output   string
}

var (
	surefireSummaryPattern = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+)`)
	gradleSummaryPattern   = regexp.MustCompile(`(\d+) tests? completed, (\d+) failed`)
)

// parseResult classifies a finished invocation. Maven is told to keep
// building past test failures, so its exit code says nothing and the surefire
// summary decides. Gradle stops at the first failing task, so its exit code
// decides and the output only separates failing tests from a broken build.
func parseResult(tool Tool, output string, exitErr error) Result {
	if tool == Gradle {
		return parseGradleResult(output, exitErr)
	}
	return parseMavenResult(output)
}

// parseMavenResult reads the surefire output. The last summary line wins:
// Maven prints per-class summaries first and the aggregate last.
func parseMavenResult(output string) Result {
	res := Result{Output: output}
	if !strings.Contains(output, "BUILD SUCCESS") {
		res.Class = BuildError
		return res
	}
	matches := surefireSummaryPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		res.Class = Failed
		return res
	}
	last := matches[len(matches)-1]
	res.Runs, _ = strconv.Atoi(last[1])
	res.Failures, _ = strconv.Atoi(last[2])
	res.Errors, _ = strconv.Atoi(last[3])
	if res.Runs > 0 && res.Failures == 0 && res.Errors == 0 {
		res.Class = Passed
	} else {
		res.Class = Failed
	}
	return res
}

// parseGradleResult classifies by exit code. A passing run prints no test
// summary at all, only BUILD SUCCESSFUL; a failing run may print a
// "N tests completed, M failed" line alongside its failure banner.
func parseGradleResult(output string, exitErr error) Result {
	res := Result{Output: output}
	if matches := gradleSummaryPattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		res.Runs, _ = strconv.Atoi(last[1])
		res.Failures, _ = strconv.Atoi(last[2])
	}
	switch {
	case exitErr == nil && strings.Contains(output, "BUILD SUCCESSFUL"):
		res.Class = Passed
	case strings.Contains(output, "There were failing tests") || res.Failures > 0:
		res.Class = Failed
	default:
		res.Class = BuildError
	}
	return res
}
