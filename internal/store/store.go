// Package store persists run, case, attempt and execution records in a
// SQLite database so finished runs can be inspected and re-exported without
// keeping anything in memory.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Run is one invocation of the refactoring pipeline.
type Run struct {
	ID         string
	Model      string
	StartedAt  time.Time
	FinishedAt *time.Time
	TotalCost  float64
}

// CaseRecord is the terminal outcome of one case within a run.
type CaseRecord struct {
	CaseID  string
	Project string
	Class   string
	Method  string
	Issue   string
	Outcome string
	Rounds  int
	Cost    float64
}

// AttemptRecord is one propose/validate round of a case.
type AttemptRecord struct {
	CaseID           string
	Round            int
	ParseOK          bool
	OriginalIssue    bool
	NewIssue         bool
	NewIssueKind     string
	FailClosed       bool
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
	Cost             float64
}

// ExecutionRecord is one scoped build-tool test run of an accepted rewrite.
type ExecutionRecord struct {
	CaseID   string
	Outcome  string
	Runs     int
	Failures int
	Errors   int
	TimedOut bool
	Duration time.Duration
}

// MutationRecord compares mutation scores of the original method and its
// accepted rewrite. Scores are percentages of mutants killed.
type MutationRecord struct {
	CaseID         string
	BaselineTotal  int
	BaselineKilled int
	BaselineScore  float64
	RewriteTotal   int
	RewriteKilled  int
	RewriteScore   float64
	Verdict        string
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one connection
	// pool entry; the pipeline writes from several goroutines.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total_cost REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		project TEXT NOT NULL,
		class TEXT NOT NULL,
		method TEXT NOT NULL,
		issue TEXT NOT NULL,
		outcome TEXT NOT NULL,
		rounds INTEGER NOT NULL,
		cost REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		parse_ok INTEGER NOT NULL,
		original_issue INTEGER NOT NULL,
		new_issue INTEGER NOT NULL,
		new_issue_kind TEXT,
		fail_closed INTEGER NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		cached_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		tests_run INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		timed_out INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS mutations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		baseline_total INTEGER NOT NULL,
		baseline_killed INTEGER NOT NULL,
		baseline_score REAL NOT NULL,
		rewrite_total INTEGER NOT NULL,
		rewrite_killed INTEGER NOT NULL,
		rewrite_score REAL NOT NULL,
		verdict TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_cases_run ON cases(run_id);
	CREATE INDEX IF NOT EXISTS idx_mutations_run ON mutations(run_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_run_case ON attempts(run_id, case_id);
	CREATE INDEX IF NOT EXISTS idx_executions_run_case ON executions(run_id, case_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts a new run and returns its id.
func (s *Store) BeginRun(model string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, model, started_at) VALUES (?, ?, ?)`,
		id, model, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) FinishRun(runID string, totalCost float64) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, total_cost = ? WHERE id = ?`,
		time.Now().UTC(), totalCost, runID,
	)
	return err
}

func (s *Store) RecordCase(runID string, rec CaseRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO cases (run_id, case_id, project, class, method, issue, outcome, rounds, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.CaseID, rec.Project, rec.Class, rec.Method, rec.Issue,
		rec.Outcome, rec.Rounds, rec.Cost, time.Now().UTC(),
	)
	return err
}

func (s *Store) RecordAttempt(runID string, rec AttemptRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO attempts (run_id, case_id, round, parse_ok, original_issue, new_issue,
		 new_issue_kind, fail_closed, prompt_tokens, cached_tokens, completion_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.CaseID, rec.Round, rec.ParseOK, rec.OriginalIssue, rec.NewIssue,
		rec.NewIssueKind, rec.FailClosed, rec.PromptTokens, rec.CachedTokens,
		rec.CompletionTokens, rec.Cost, time.Now().UTC(),
	)
	return err
}

func (s *Store) RecordExecution(runID string, rec ExecutionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO executions (run_id, case_id, outcome, tests_run, failures, errors, timed_out, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.CaseID, rec.Outcome, rec.Runs, rec.Failures, rec.Errors,
		rec.TimedOut, rec.Duration.Milliseconds(), time.Now().UTC(),
	)
	return err
}

func (s *Store) RecordMutation(runID string, rec MutationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO mutations (run_id, case_id, baseline_total, baseline_killed, baseline_score,
		 rewrite_total, rewrite_killed, rewrite_score, verdict, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.CaseID, rec.BaselineTotal, rec.BaselineKilled, rec.BaselineScore,
		rec.RewriteTotal, rec.RewriteKilled, rec.RewriteScore, rec.Verdict, time.Now().UTC(),
	)
	return err
}

// MutationRecords lists a run's mutation comparisons in insertion order.
func (s *Store) MutationRecords(runID string) ([]MutationRecord, error) {
	rows, err := s.db.Query(
		`SELECT case_id, baseline_total, baseline_killed, baseline_score,
		 rewrite_total, rewrite_killed, rewrite_score, verdict
		 FROM mutations WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []MutationRecord
	for rows.Next() {
		var rec MutationRecord
		if err := rows.Scan(&rec.CaseID, &rec.BaselineTotal, &rec.BaselineKilled, &rec.BaselineScore,
			&rec.RewriteTotal, &rec.RewriteKilled, &rec.RewriteScore, &rec.Verdict); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CaseRecords lists a run's cases in insertion order.
func (s *Store) CaseRecords(runID string) ([]CaseRecord, error) {
	rows, err := s.db.Query(
		`SELECT case_id, project, class, method, issue, outcome, rounds, cost
		 FROM cases WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []CaseRecord
	for rows.Next() {
		var rec CaseRecord
		if err := rows.Scan(&rec.CaseID, &rec.Project, &rec.Class, &rec.Method,
			&rec.Issue, &rec.Outcome, &rec.Rounds, &rec.Cost); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AttemptRecords lists a case's attempts in round order.
func (s *Store) AttemptRecords(runID, caseID string) ([]AttemptRecord, error) {
	rows, err := s.db.Query(
		`SELECT case_id, round, parse_ok, original_issue, new_issue, new_issue_kind,
		 fail_closed, prompt_tokens, cached_tokens, completion_tokens, cost
		 FROM attempts WHERE run_id = ? AND case_id = ? ORDER BY round`, runID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var kind sql.NullString
		if err := rows.Scan(&rec.CaseID, &rec.Round, &rec.ParseOK, &rec.OriginalIssue,
			&rec.NewIssue, &kind, &rec.FailClosed, &rec.PromptTokens,
			&rec.CachedTokens, &rec.CompletionTokens, &rec.Cost); err != nil {
			return nil, err
		}
		rec.NewIssueKind = kind.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RunSummary aggregates a run's case outcomes.
type RunSummary struct {
	Run      Run
	Cases    int
	Outcomes map[string]int
}

func (s *Store) Summary(runID string) (RunSummary, error) {
	summary := RunSummary{Outcomes: map[string]int{}}
	var finished sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, model, started_at, finished_at, total_cost FROM runs WHERE id = ?`, runID,
	).Scan(&summary.Run.ID, &summary.Run.Model, &summary.Run.StartedAt, &finished, &summary.Run.TotalCost)
	if err != nil {
		return RunSummary{}, err
	}
	if finished.Valid {
		summary.Run.FinishedAt = &finished.Time
	}
	rows, err := s.db.Query(
		`SELECT outcome, COUNT(*) FROM cases WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return RunSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return RunSummary{}, err
		}
		summary.Outcomes[outcome] = count
		summary.Cases += count
	}
	return summary, rows.Err()
}

// LatestRunID returns the most recently started run.
func (s *Store) LatestRunID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}
