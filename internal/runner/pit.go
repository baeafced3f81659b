package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// MutationScore is the parsed outcome of one PIT mutation-coverage run.
type MutationScore struct {
	Total  int
	Killed int
	Score  float64 // percent of mutants killed
	Output string
}

// MutationComparison pairs the pristine method's mutation score with the
// rewrite's, as a behavioral-quality signal beyond plain pass/fail.
type MutationComparison struct {
	Baseline   MutationScore
	Refactored MutationScore
}

// mutationVerdictThreshold is the score delta, in percentage points, below
// which a change is considered noise.
const mutationVerdictThreshold = 5.0

// Verdict classifies the rewrite's score against the baseline.
func (c MutationComparison) Verdict() string {
	delta := c.Refactored.Score - c.Baseline.Score
	switch {
	case delta > mutationVerdictThreshold:
		return "improved"
	case delta < -mutationVerdictThreshold:
		return "degraded"
	default:
		return "unchanged"
	}
}

var pitSummaryPattern = regexp.MustCompile(`Generated (\d+) mutations Killed (\d+) \((\d+)%\)`)

// pitCommand builds the mutation-coverage invocation scoped to one test
// method. The target class glob mirrors the scoped test run: mutants are
// seeded only in classes the flagged test plausibly covers.
func pitCommand(tool Tool, checkout, class, method string) (string, []string) {
	target := class + "." + method
	switch tool {
	case Gradle:
		return filepath.Join(checkout, "gradlew"), []string{
			"pitest",
			"-PtargetClasses=" + class + "*",
			"-PtargetTests=" + target,
		}
	default:
		return "mvn", []string{
			"org.pitest:pitest-maven:mutationCoverage",
			"-DtargetClasses=" + class + "*",
			"-DtargetTests=" + target,
			"-DoutputFormats=XML,HTML",
			"-DwithHistory=false",
		}
	}
}

func parsePitScore(output string) (MutationScore, error) {
	matches := pitSummaryPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return MutationScore{}, fmt.Errorf("no mutation statistics in output")
	}
	last := matches[len(matches)-1]
	score := MutationScore{Output: output}
	score.Total, _ = strconv.Atoi(last[1])
	score.Killed, _ = strconv.Atoi(last[2])
	if score.Total > 0 {
		score.Score = 100 * float64(score.Killed) / float64(score.Total)
	}
	return score, nil
}

// RunMutationCoverage runs PIT for one test method and parses its console
// statistics. PIT reruns the scoped tests once per mutant, so it gets twice
// the plain test-run budget.
func (r *Runner) RunMutationCoverage(ctx context.Context, checkout, class, method string) (MutationScore, error) {
	tool, err := DetectTool(checkout)
	if err != nil {
		return MutationScore{}, err
	}
	name, args := pitCommand(tool, checkout, class, method)
	tctx, cancel := context.WithTimeout(ctx, 2*r.timeout)
	defer cancel()
	started := time.Now()
	output, runErr := r.run(tctx, checkout, name, args...)
	if runErr != nil && len(output) == 0 {
		return MutationScore{}, fmt.Errorf("run %s: %w", name, runErr)
	}
	score, err := parsePitScore(string(output))
	if err != nil {
		return MutationScore{}, fmt.Errorf("mutation coverage for %s.%s: %w", class, method, err)
	}
	r.logger.Info("runner.mutation_finished",
		"class", class,
		"method", method,
		"mutants", score.Total,
		"killed", score.Killed,
		"score", score.Score,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return score, nil
}

// CompareMutation scores the pristine method, splices the rewrite in, scores
// the rewritten method, and restores the file on every exit path.
func (r *Runner) CompareMutation(ctx context.Context, checkout, testFile, mutated, class, originalMethod, rewrittenMethod string) (cmp MutationComparison, err error) {
	baseline, err := r.RunMutationCoverage(ctx, checkout, class, originalMethod)
	if err != nil {
		return cmp, err
	}
	cmp.Baseline = baseline

	snap, err := Capture(testFile)
	if err != nil {
		return cmp, fmt.Errorf("snapshot %s: %w", testFile, err)
	}
	info, statErr := os.Stat(testFile)
	if statErr != nil {
		return cmp, statErr
	}
	defer func() {
		if restoreErr := snap.Restore(); restoreErr != nil {
			r.logger.Error("runner.restore_failed", "file", testFile, "error", restoreErr.Error())
			if err == nil {
				err = restoreErr
			}
		}
	}()
	if err := atomicWrite(testFile, []byte(mutated), info.Mode().Perm()); err != nil {
		return cmp, fmt.Errorf("write mutation: %w", err)
	}
	refactored, err := r.RunMutationCoverage(ctx, checkout, class, rewrittenMethod)
	if err != nil {
		return cmp, err
	}
	cmp.Refactored = refactored
	return cmp, nil
}
