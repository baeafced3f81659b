// Package report writes the human-facing artifacts of a run: per-case chat
// transcripts, rewrite previews, and CSV exports of results and token usage.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"testmend/internal/store"
)

// Writer places run artifacts under one output directory.
type Writer struct {
	outDir string
}

func NewWriter(outDir string) *Writer {
	return &Writer{outDir: outDir}
}

// TranscriptEntry is one model reply in a case's transcript.
type TranscriptEntry struct {
	Heading string
	Body    string
}

// WriteTranscript writes a case's raw model replies under
// <project>_chat_history/<class>-<method>.log.
func (w *Writer) WriteTranscript(project, class, method string, entries []TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dir := filepath.Join(w.outDir, project+"_chat_history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "===== %s =====\n", entry.Heading)
		b.WriteString(strings.TrimRight(entry.Body, "\n"))
		b.WriteString("\n\n")
	}
	return os.WriteFile(filepath.Join(dir, class+"-"+method+".log"), []byte(b.String()), 0o644)
}

// WriteDiff writes the before/after preview of an accepted rewrite under
// <project>_previews/<class>-<method>.diff.
func (w *Writer) WriteDiff(project, class, method, diffText string) error {
	if strings.TrimSpace(diffText) == "" {
		return nil
	}
	dir := filepath.Join(w.outDir, project+"_previews")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, class+"-"+method+".diff"), []byte(diffText), 0o644)
}

// ExportResults writes one row per case.
func (w *Writer) ExportResults(name string, records []store.CaseRecord) error {
	return w.writeCSV(name,
		[]string{"case_id", "project", "class_name", "test_case_name", "issue_type", "outcome", "rounds", "cost_usd"},
		len(records), func(i int) []string {
			rec := records[i]
			return []string{
				rec.CaseID, rec.Project, rec.Class, rec.Method, rec.Issue,
				rec.Outcome, strconv.Itoa(rec.Rounds), formatCost(rec.Cost),
			}
		})
}

// ExportUsage writes one row per attempt with its token counts and cost.
func (w *Writer) ExportUsage(name string, records []store.AttemptRecord) error {
	return w.writeCSV(name,
		[]string{"case_id", "round", "parse_ok", "prompt_tokens", "cached_tokens", "completion_tokens", "cost_usd"},
		len(records), func(i int) []string {
			rec := records[i]
			return []string{
				rec.CaseID, strconv.Itoa(rec.Round), strconv.FormatBool(rec.ParseOK),
				strconv.Itoa(rec.PromptTokens), strconv.Itoa(rec.CachedTokens),
				strconv.Itoa(rec.CompletionTokens), formatCost(rec.Cost),
			}
		})
}

// ExportMutation writes one row per mutation-coverage comparison.
func (w *Writer) ExportMutation(name string, records []store.MutationRecord) error {
	return w.writeCSV(name,
		[]string{"case_id", "baseline_mutants", "baseline_killed", "baseline_score", "rewrite_mutants", "rewrite_killed", "rewrite_score", "verdict"},
		len(records), func(i int) []string {
			rec := records[i]
			return []string{
				rec.CaseID,
				strconv.Itoa(rec.BaselineTotal), strconv.Itoa(rec.BaselineKilled),
				strconv.FormatFloat(rec.BaselineScore, 'f', 2, 64),
				strconv.Itoa(rec.RewriteTotal), strconv.Itoa(rec.RewriteKilled),
				strconv.FormatFloat(rec.RewriteScore, 'f', 2, 64),
				rec.Verdict,
			}
		})
}

func (w *Writer) writeCSV(name string, header []string, n int, row func(int) []string) error {
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(w.outDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCost(cost float64) string {
	return strconv.FormatFloat(cost, 'f', 6, 64)
}
