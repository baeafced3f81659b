// Package runner executes a scoped build-tool test run against a mutated
// checkout and guarantees the checkout is byte-identical afterwards. The
// restore runs on every exit path; keeping an accepted rewrite on disk is an
// explicit opt-in.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"testmend/internal/logging"
)

const defaultBuildTimeout = 15 * time.Minute

// commandFunc runs an external command in dir and returns its combined
// output. Injected so tests never shell out.
type commandFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

type Runner struct {
	timeout     time.Duration
	keepMutated bool
	run         commandFunc
	logger      *slog.Logger
}

type Option func(*Runner)

func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithKeepMutated leaves a rewrite on disk after a passing trial instead of
// restoring the original.
func WithKeepMutated(keep bool) Option {
	return func(r *Runner) { r.keepMutated = keep }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunCommand replaces the external command executor.
func WithRunCommand(run commandFunc) Option {
	return func(r *Runner) {
		if run != nil {
			r.run = run
		}
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{
		timeout: defaultBuildTimeout,
		run:     runCommand,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckPreconditions refuses checkouts that are not git work trees or have
// no supported build tool. The git requirement is the operator's escape
// hatch: whatever this process does to the tree, git can undo.
func (r *Runner) CheckPreconditions(ctx context.Context, checkout string) error {
	if info, err := os.Stat(checkout); err != nil || !info.IsDir() {
		return fmt.Errorf("checkout %s is not a directory", checkout)
	}
	out, err := r.run(ctx, checkout, "git", "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("checkout %s is not a git work tree", checkout)
	}
	if _, err := DetectTool(checkout); err != nil {
		return fmt.Errorf("checkout %s: %w", checkout, err)
	}
	return nil
}

// RunScopedTest runs exactly one test method through the checkout's build
// tool. A timeout or non-zero exit is a test outcome, not a Go error; only a
// command that could not run at all is an error.
func (r *Runner) RunScopedTest(ctx context.Context, checkout, class, method string) (Result, error) {
	tool, err := DetectTool(checkout)
	if err != nil {
		return Result{Class: BuildError}, err
	}
	name, args := testCommand(tool, checkout, class, method)
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := time.Now()
	output, runErr := r.run(tctx, checkout, name, args...)
	res := parseResult(tool, string(output), runErr)
	res.Duration = time.Since(started)
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		res.Class = BuildError
		res.TimedOut = true
		runErr = nil
	}
	if runErr != nil && len(output) == 0 {
		return res, fmt.Errorf("run %s: %w", name, runErr)
	}
	r.logger.Info("runner.test_finished",
		"tool", string(tool),
		"class", class,
		"method", method,
		"outcome", string(res.Class),
		"tests_run", res.Runs,
		"failures", res.Failures,
		"errors", res.Errors,
		"timed_out", res.TimedOut,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

// Trial writes a mutated test file into the checkout, runs the scoped test,
// and restores the original bytes on every exit path. With keepMutated set,
// a passing trial leaves the mutation in place.
func (r *Runner) Trial(ctx context.Context, checkout, testFile, mutated, class, method string) (res Result, err error) {
	snap, err := Capture(testFile)
	if err != nil {
		return Result{Class: BuildError}, fmt.Errorf("snapshot %s: %w", testFile, err)
	}
	info, statErr := os.Stat(testFile)
	if statErr != nil {
		return Result{Class: BuildError}, statErr
	}
	restored := false
	restore := func() {
		if restored {
			return
		}
		restored = true
		if restoreErr := snap.Restore(); restoreErr != nil {
			r.logger.Error("runner.restore_failed", "file", testFile, "error", restoreErr.Error())
			if err == nil {
				err = restoreErr
			}
		}
	}
	defer restore()

	if err := atomicWrite(testFile, []byte(mutated), info.Mode().Perm()); err != nil {
		return Result{Class: BuildError}, fmt.Errorf("write mutation: %w", err)
	}
	res, err = r.RunScopedTest(ctx, checkout, class, method)
	if err == nil && r.keepMutated && res.Class == Passed {
		restored = true
		return res, nil
	}
	restore()
	return res, err
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
