package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"testmend/internal/discovery"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Validate the case list and its context files",
	Args:  cobra.NoArgs,
	RunE:  runCases,
}

func runCases(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cases, skipped, err := discovery.LoadCases(cfg.CaseList)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	byIssue := map[string]int{}
	byProject := map[string]int{}
	var missingContext []string
	for _, c := range cases {
		byIssue[string(c.Kind)]++
		byProject[c.Project]++
		if _, err := discovery.LoadContext(cfg.DataDir, c); err != nil {
			missingContext = append(missingContext, c.ID())
		}
	}

	fmt.Fprintf(out, "Cases:  %d usable, %d skipped\n", len(cases), len(skipped))
	fmt.Fprintln(out, "By issue:")
	for _, issue := range sortedKeys(byIssue) {
		fmt.Fprintf(out, "  %-25s %d\n", issue, byIssue[issue])
	}
	fmt.Fprintln(out, "By project:")
	for _, project := range sortedKeys(byProject) {
		fmt.Fprintf(out, "  %-25s %d\n", project, byProject[project])
	}
	for _, reason := range skipped {
		fmt.Fprintf(out, "skipped: %s\n", reason)
	}
	if len(missingContext) > 0 {
		fmt.Fprintf(out, "%d cases have no usable context under %s:\n", len(missingContext), cfg.DataDir)
		for _, id := range missingContext {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return fmt.Errorf("%d cases missing context", len(missingContext))
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
