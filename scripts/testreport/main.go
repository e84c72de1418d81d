// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Command testreport merges `go test -json` output with the TestPurpose
// annotations in the test sources and writes JSON, Markdown and HTML
// reports.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// TestMetadata holds the annotations parsed from a test's doc comment.
type TestMetadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT or IT
}

// GoTestEvent is one line of `go test -json`.
type GoTestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// Result is the merged outcome of one test.
type Result struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Package     string       `json:"package"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// Summary is the whole report.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Results     []Result  `json:"results"`
}

// PassRate returns the share of passed tests in percent.
func (s Summary) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total) * 100
}

// categories maps test case id prefixes to report sections, in report order.
var categories = []struct{ prefix, name string }{
	{"ORC", "Orchestrator"},
	{"LCK", "Orchestrator"},
	{"MOD", "Orchestrator"},
	{"CAT", "Orchestrator"},
	{"QUO", "Quota"},
	{"BIL", "Quota"},
	{"CTR", "Backends"},
	{"HYP", "Backends"},
	{"HBK", "Backups"},
	{"ARC", "Backups"},
	{"BCK", "Backups"},
	{"STO", "Storage"},
	{"PGS", "Database"},
	{"API", "API"},
	{"AUT", "API"},
	{"HCT", "CLI"},
	{"AUD", "Platform"},
	{"CFG", "Platform"},
	{"ID", "Platform"},
	{"RPT", "Tooling"},
}

func categoryOf(caseID string) string {
	prefix, _, _ := strings.Cut(caseID, "-")
	for _, c := range categories {
		if c.prefix == prefix {
			return c.name
		}
	}
	return "Other"
}

func categoryOrder() []string {
	var order []string
	seen := map[string]bool{}
	for _, c := range categories {
		if !seen[c.name] {
			seen[c.name] = true
			order = append(order, c.name)
		}
	}
	return append(order, "Other")
}

func typeOf(scope string) string {
	if strings.Contains(scope, "Integration") {
		return "IT"
	}
	return "UT"
}

type options struct {
	input       string
	outJSON     string
	outMD       string
	outHTML     string
	title       string
	root        string
	includeCats []string
	excludeCats []string
	testType    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "testreport",
		Short:        "Build test reports from go test -json output",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := build(opts)
			if err != nil {
				return err
			}
			if err := write(opts, summary); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tests: %d passed, %d failed, %d skipped\n",
				summary.Total, summary.Passed, summary.Failed, summary.Skipped)
			// Fail the CI step when any test failed.
			if summary.Failed > 0 {
				return fmt.Errorf("%d tests failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "Path to go test -json output")
	cmd.Flags().StringVar(&opts.outJSON, "out-json", "", "Path for the JSON report")
	cmd.Flags().StringVar(&opts.outMD, "out-md", "", "Path for the Markdown report")
	cmd.Flags().StringVar(&opts.outHTML, "out-html", "", "Path for the HTML report")
	cmd.Flags().StringVar(&opts.title, "title", "Test Report", "Report title")
	cmd.Flags().StringVar(&opts.root, "root", ".", "Module root to scan for annotations")
	cmd.Flags().StringSliceVar(&opts.includeCats, "categories", nil, "Only include these categories")
	cmd.Flags().StringSliceVar(&opts.excludeCats, "exclude-categories", nil, "Exclude these categories")
	cmd.Flags().StringVar(&opts.testType, "type", "", "Only include this test type (UT, IT)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func build(opts *options) (Summary, error) {
	meta, err := scanMetadata(opts.root)
	if err != nil {
		return Summary{}, err
	}
	f, err := os.Open(opts.input)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open test output: %w", err)
	}
	defer f.Close()

	results, err := mergeResults(f, meta)
	if err != nil {
		return Summary{}, err
	}
	return summarize(filter(results, opts), time.Now()), nil
}

func modulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("no module directive in %s/go.mod", root)
}

// scanMetadata parses every _test.go file under root and returns the
// annotations keyed by "<import path>.<TestName>".
func scanMetadata(root string) (map[string]TestMetadata, error) {
	mod, err := modulePath(root)
	if err != nil {
		return nil, err
	}

	out := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, p, nil, parser.ParseComments)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		pkg := mod
		if rel != "." {
			pkg = path.Join(mod, filepath.ToSlash(rel))
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			m := parseAnnotations(fn.Doc)
			m.Name = fn.Name.Name
			m.Package = pkg
			m.Category = categoryOf(m.TestCaseID)
			m.Type = typeOf(m.Scope)
			out[pkg+"."+fn.Name.Name] = m
		}
		return nil
	})
	return out, err
}

func parseAnnotations(doc *ast.CommentGroup) TestMetadata {
	var m TestMetadata
	if doc == nil {
		return m
	}
	fields := map[string]*string{
		"TestPurpose:":  &m.Purpose,
		"Scope:":        &m.Scope,
		"Security:":     &m.Security,
		"Expected:":     &m.Expected,
		"Test Case ID:": &m.TestCaseID,
	}
	for _, c := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		for key, dst := range fields {
			if v, ok := strings.CutPrefix(text, key); ok {
				*dst = strings.TrimSpace(v)
			}
		}
	}
	return m
}

// mergeResults folds test events into one result per test. Annotated tests
// with no events are reported as "not run". Subtests inherit their
// parent's annotations.
func mergeResults(r io.Reader, meta map[string]TestMetadata) ([]Result, error) {
	states := make(map[string]*Result, len(meta))
	for key, m := range meta {
		states[key] = &Result{Name: m.Name, Package: m.Package, Status: "not run", Annotations: m}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Test == "" {
			continue
		}

		key := ev.Package + "." + ev.Test
		res, ok := states[key]
		if !ok {
			parent, _, _ := strings.Cut(ev.Test, "/")
			m, found := meta[ev.Package+"."+parent]
			if !found {
				m = TestMetadata{Category: "Other", Type: "UT"}
			}
			m.Name = ev.Test
			m.Package = ev.Package
			res = &Result{Name: ev.Test, Package: ev.Package, Annotations: m}
			states[key] = res
		}

		switch ev.Action {
		case "pass", "fail":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "" || res.Status == "not run" || res.Status == "fail" {
				res.Failure += ev.Output
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test output: %w", err)
	}

	list := make([]Result, 0, len(states))
	for _, res := range states {
		if res.Status != "fail" {
			res.Failure = ""
		}
		list = append(list, *res)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].Annotations.TestCaseID, list[j].Annotations.TestCaseID
		if a != b {
			return a < b
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

func filter(results []Result, opts *options) []Result {
	has := func(list []string, v string) bool {
		for _, s := range list {
			if strings.TrimSpace(s) == v {
				return true
			}
		}
		return false
	}

	out := results[:0:0]
	for _, r := range results {
		cat := r.Annotations.Category
		if len(opts.includeCats) > 0 && !has(opts.includeCats, cat) {
			continue
		}
		if has(opts.excludeCats, cat) {
			continue
		}
		if opts.testType != "" && !strings.EqualFold(r.Annotations.Type, opts.testType) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func summarize(results []Result, now time.Time) Summary {
	s := Summary{GeneratedAt: now, Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

func write(opts *options, s Summary) error {
	if opts.outJSON != "" {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		if err := writeFile(opts.outJSON, data); err != nil {
			return err
		}
	}
	if opts.outMD != "" {
		if err := writeFile(opts.outMD, []byte(renderMarkdown(s, opts.title))); err != nil {
			return err
		}
	}
	if opts.outHTML != "" {
		data, err := renderHTML(s, opts.title)
		if err != nil {
			return err
		}
		if err := writeFile(opts.outHTML, data); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

type section struct {
	Name  string
	Tests []Result
}

func sections(s Summary) []section {
	byCat := make(map[string][]Result)
	for _, r := range s.Results {
		byCat[r.Annotations.Category] = append(byCat[r.Annotations.Category], r)
	}
	var out []section
	for _, name := range categoryOrder() {
		if tests := byCat[name]; len(tests) > 0 {
			out = append(out, section{Name: name, Tests: tests})
		}
	}
	return out
}

func statusIcon(status string) string {
	switch status {
	case "pass":
		return "✅"
	case "fail":
		return "❌"
	case "skip":
		return "⏭️"
	}
	return "⚪"
}

func renderMarkdown(s Summary, title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# CZ7 Host %s\n\n", title)
	fmt.Fprintf(&sb, "**Generated:** %s  \n", s.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	status := "✅ PASSED"
	if s.Failed > 0 {
		status = "❌ FAILED"
	}
	fmt.Fprintf(&sb, "**Status:** %s\n\n", status)

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|-------|--------|--------|---------|-----------|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %.1f%% |\n\n", s.Total, s.Passed, s.Failed, s.Skipped, s.PassRate())

	sb.WriteString("## Results by Category\n\n")
	for _, sec := range sections(s) {
		fmt.Fprintf(&sb, "### %s\n\n", sec.Name)
		sb.WriteString("| ID | Test | Type | Status | Purpose | Security |\n")
		sb.WriteString("|----|------|------|--------|---------|----------|\n")
		for _, t := range sec.Tests {
			mark := t.Annotations.Security
			if mark != "" {
				mark = "**" + mark + "**"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, t.Annotations.Type, statusIcon(t.Status),
				strings.ReplaceAll(t.Annotations.Purpose, "|", `\|`), mark)
		}
		sb.WriteString("\n")
	}

	if s.Failed > 0 {
		sb.WriteString("## Failure Details\n\n")
		for _, t := range s.Results {
			if t.Status == "fail" {
				fmt.Fprintf(&sb, "### %s (%s)\n```\n%s\n```\n\n", t.Name, t.Package, t.Failure)
			}
		}
	}
	return sb.String()
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"icon": statusIcon,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>CZ7 Host - {{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; padding: 2rem; }
.container { max-width: 1100px; margin: 0 auto; background: white; padding: 2rem; border-radius: 8px; }
.badge { padding: 0.2rem 0.7rem; border-radius: 9999px; font-weight: 600; }
.pass { background: #dcfce7; color: #166534; }
.fail { background: #fee2e2; color: #991b1b; }
table { width: 100%; border-collapse: collapse; margin-bottom: 1.5rem; }
th { text-align: left; background: #f1f5f9; padding: 0.6rem; }
td { padding: 0.6rem; border-bottom: 1px solid #e2e8f0; font-size: 0.875rem; vertical-align: top; }
td.id { font-family: ui-monospace, monospace; color: #64748b; }
.security { color: #b45309; font-weight: 600; }
pre { background: #0f172a; color: #f8fafc; padding: 1rem; overflow-x: auto; font-size: 0.75rem; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Title}}</h1>
<p>Generated at {{.S.GeneratedAt.Format "2006-01-02 15:04:05 MST"}} |
{{if gt .S.Failed 0}}<span class="badge fail">FAILED</span>{{else}}<span class="badge pass">PASSED</span>{{end}}</p>
<p>Total {{.S.Total}} · Passed {{.S.Passed}} · Failed {{.S.Failed}} · Skipped {{.S.Skipped}} · Pass rate {{printf "%.1f" .S.PassRate}}%</p>
{{range .Sections}}
<h2>{{.Name}}</h2>
<table>
<thead><tr><th>ID</th><th>Test</th><th>Type</th><th>Status</th><th>Purpose</th><th>Security</th></tr></thead>
<tbody>
{{range .Tests}}<tr>
<td class="id">{{.Annotations.TestCaseID}}</td><td><code>{{.Name}}</code></td><td>{{.Annotations.Type}}</td>
<td>{{icon .Status}}</td><td>{{.Annotations.Purpose}}</td><td class="security">{{.Annotations.Security}}</td>
</tr>{{end}}
</tbody>
</table>
{{end}}
{{if gt .S.Failed 0}}<h2>Failure Details</h2>
{{range .S.Results}}{{if eq .Status "fail"}}<h3>{{.Name}}</h3><pre>{{.Failure}}</pre>{{end}}{{end}}
{{end}}
</div>
</body>
</html>
`))

func renderHTML(s Summary, title string) ([]byte, error) {
	var buf bytes.Buffer
	err := htmlReport.Execute(&buf, struct {
		Title    string
		S        Summary
		Sections []section
	}{title, s, sections(s)})
	return buf.Bytes(), err
}
