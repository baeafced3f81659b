// Package discovery loads the refactoring worklist: a CSV of detected issue
// cases and, per case, a JSON context file with the test method's source and
// surroundings as extracted by the detection stage.
package discovery

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"testmend/internal/prompt"
	"testmend/internal/smell"
)

// Case is one row of the worklist: a single test method in a project with a
// detected issue.
type Case struct {
	Project string
	Class   string
	Method  string
	Kind    smell.Kind
}

// ID is the stable per-case identifier used for context files, transcripts
// and stored records.
func (c Case) ID() string {
	return c.Project + "_" + c.Class + "_" + c.Method
}

// CaseContext is the detection stage's extract for one case. Field names
// match the JSON the detector writes.
type CaseContext struct {
	ProjectName     string   `json:"projectName"`
	TestClassName   string   `json:"testClassName"`
	TestCaseName    string   `json:"testCaseName"`
	Source          string   `json:"testCaseSourceCode"`
	Imports         []string `json:"importedPackages"`
	ProductionImpls []string `json:"productionFunctionImplementations"`
	BeforeMethods   []string `json:"beforeMethods"`
	AfterMethods    []string `json:"afterMethods"`
	BeforeAll       []string `json:"beforeAllMethods"`
	AfterAll        []string `json:"afterAllMethods"`
}

// PromptContext converts the extract into the prompt package's shape.
func (c CaseContext) PromptContext() prompt.CaseContext {
	return prompt.CaseContext{
		Source:          c.Source,
		Imports:         c.Imports,
		ProductionImpls: c.ProductionImpls,
		BeforeMethods:   c.BeforeMethods,
		AfterMethods:    c.AfterMethods,
		BeforeAll:       c.BeforeAll,
		AfterAll:        c.AfterAll,
	}
}

// LoadCases reads the worklist CSV. Rows whose issue label is unknown are
// returned as skipped reasons instead of failing the whole list.
func LoadCases(path string) ([]Case, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s: empty case list", path)
	}
	columns, err := headerIndex(records[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	var cases []Case
	var skipped []string
	for i, record := range records[1:] {
		row := i + 2
		get := func(name string) string {
			idx := columns[name]
			if idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		kind, err := smell.ParseKind(get("issue_type"))
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("row %d: %v", row, err))
			continue
		}
		c := Case{
			Project: get("project"),
			Class:   get("class_name"),
			Method:  get("test_case_name"),
			Kind:    kind,
		}
		if c.Project == "" || c.Class == "" || c.Method == "" {
			skipped = append(skipped, fmt.Sprintf("row %d: missing project, class or method", row))
			continue
		}
		cases = append(cases, c)
	}
	return cases, skipped, nil
}

var requiredColumns = []string{"project", "class_name", "test_case_name", "issue_type"}

func headerIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("case list missing column %q", name)
		}
	}
	return columns, nil
}

// LoadContext reads the per-case extract from dataDir.
func LoadContext(dataDir string, c Case) (CaseContext, error) {
	path := filepath.Join(dataDir, c.ID()+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return CaseContext{}, fmt.Errorf("case context: %w", err)
	}
	var ctx CaseContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return CaseContext{}, fmt.Errorf("case context %s: %w", path, err)
	}
	if ctx.Source == "" {
		return CaseContext{}, fmt.Errorf("case context %s: no test case source", path)
	}
	return ctx, nil
}

// DetectFramework infers the test framework from the class's imports,
// defaulting to JUnit 4 when nothing newer shows up.
func DetectFramework(imports []string) smell.Framework {
	for _, imp := range imports {
		if strings.Contains(imp, "org.junit.jupiter") {
			return smell.JUnit5
		}
	}
	for _, imp := range imports {
		if strings.Contains(imp, "org.testng") {
			return smell.TestNG
		}
	}
	return smell.JUnit4
}

var ErrTestFileNotFound = errors.New("test file not found")

// FindTestFile locates <class>.java under a checkout, preferring the test
// source tree. Two candidates in the test tree are ambiguous and refused.
func FindTestFile(root, class string) (string, error) {
	want := class + ".java"
	var testTree, other []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != want {
			return nil
		}
		if strings.Contains(filepath.ToSlash(path), "/src/test/") {
			testTree = append(testTree, path)
		} else {
			other = append(other, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	switch {
	case len(testTree) == 1:
		return testTree[0], nil
	case len(testTree) > 1:
		return "", fmt.Errorf("class %s matches %d files under src/test", class, len(testTree))
	case len(other) == 1:
		return other[0], nil
	case len(other) > 1:
		return "", fmt.Errorf("class %s matches %d files", class, len(other))
	}
	return "", fmt.Errorf("%w: %s under %s", ErrTestFileNotFound, want, root)
}
