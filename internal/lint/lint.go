// Package lint statically audits a trik package before install or publish.
// It proves a manifest cannot leak free-form strings to the agent, checks the
// package layout, and scans same-runtime source for forbidden capabilities.
// The linter is a pure function of the files under the target directory; it
// performs no network I/O.
package lint

import (
	"os"
	"path/filepath"

	"github.com/Molefas/trikhub/internal/manifest"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule identifiers.
const (
	RuleValidManifest              = "valid-manifest"
	RuleNoFreeStringsInAgentData   = "no-free-strings-in-agent-data"
	RuleTemplateFieldsExist        = "template-fields-exist"
	RuleHasResponseTemplates       = "has-response-templates"
	RuleDefaultTemplateRecommended = "default-template-recommended"
	RuleManifestCompleteness       = "manifest-completeness"
	RuleEntryPointExists           = "entry-point-exists"
	RuleNoForbiddenImports         = "no-forbidden-imports"
	RuleNoDynamicCode              = "no-dynamic-code"
	RuleUndeclaredToolUsage        = "undeclared-tool-usage"
	RuleNoDirectEnvAccess          = "no-direct-env-access"
)

// Diagnostic is one linter finding.
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// Options controls a lint run.
type Options struct {
	// WarningsAsErrors promotes warnings when computing the pass/fail outcome.
	WarningsAsErrors bool
	// SkipRules suppresses the named rules entirely.
	SkipRules []string
	// CheckEntryPoint asserts the compiled entry artifact is present. Used by
	// publish.
	CheckEntryPoint bool
}

// Result is the outcome of a lint run.
type Result struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	// ManifestPath is the manifest that was audited, relative to the target.
	ManifestPath string `json:"manifestPath,omitempty"`
}

// HasErrors reports whether the run failed under the given options.
func (r *Result) HasErrors(warningsAsErrors bool) bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
		if warningsAsErrors && d.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// packageLayout locates the manifest within a trik package directory.
// Same-runtime packages keep manifest.json at the root; cross-runtime
// packages keep it inside a package subdirectory identified by a neighbouring
// build-system file.
type packageLayout struct {
	manifestPath string // absolute
	manifestDir  string // absolute
	sameRuntime  bool
}

func locateManifest(dir string) (*packageLayout, bool) {
	rootManifest := filepath.Join(dir, "manifest.json")
	if fileExists(rootManifest) {
		return &packageLayout{
			manifestPath: rootManifest,
			manifestDir:  dir,
			sameRuntime:  true,
		}, true
	}

	hasBuildFile := fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "setup.py"))
	if !hasBuildFile {
		return nil, false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "" || name[0] == '.' || name[0] == '_' {
			continue
		}
		sub := filepath.Join(dir, name, "manifest.json")
		if fileExists(sub) {
			return &packageLayout{
				manifestPath: sub,
				manifestDir:  filepath.Join(dir, name),
				sameRuntime:  false,
			}, true
		}
	}
	return nil, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Run lints the trik package at dir and returns the collected diagnostics.
func Run(dir string, opts Options) (*Result, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	skip := make(map[string]bool, len(opts.SkipRules))
	for _, rule := range opts.SkipRules {
		skip[rule] = true
	}
	emit := func(d Diagnostic) {
		if !skip[d.Rule] {
			result.Diagnostics = append(result.Diagnostics, d)
		}
	}

	layout, ok := locateManifest(dir)
	if !ok {
		emit(Diagnostic{
			Rule:     RuleValidManifest,
			Severity: SeverityError,
			Message:  "manifest.json not found at package root or in a package subdirectory",
			File:     "manifest.json",
		})
		return result, nil
	}
	rel, _ := filepath.Rel(dir, layout.manifestPath)
	result.ManifestPath = rel

	raw, err := os.ReadFile(layout.manifestPath)
	if err != nil {
		emit(Diagnostic{
			Rule:     RuleValidManifest,
			Severity: SeverityError,
			Message:  "cannot read manifest: " + err.Error(),
			File:     rel,
		})
		return result, nil
	}

	issues := manifest.Validate(raw)
	for _, issue := range issues {
		emit(manifestIssueDiagnostic(issue, rel))
	}
	if hasStructural(issues) {
		// Nothing reliable to audit beyond a broken manifest.
		return result, nil
	}

	m, parseIssues := manifest.Parse(raw)
	if m == nil {
		for _, issue := range parseIssues {
			emit(manifestIssueDiagnostic(issue, rel))
		}
		return result, nil
	}

	for _, d := range completenessDiagnostics(raw, m, rel) {
		emit(d)
	}
	for _, d := range defaultTemplateDiagnostics(m, rel) {
		emit(d)
	}
	if opts.CheckEntryPoint {
		for _, d := range entryPointDiagnostics(m, layout) {
			emit(d)
		}
	}
	if layout.sameRuntime && m.Entry.EffectiveRuntime() == manifest.RuntimeNode {
		diags, err := sourceDiagnostics(dir, m)
		if err != nil {
			return nil, err
		}
		for _, d := range diags {
			emit(d)
		}
	}

	return result, nil
}

func hasStructural(issues []manifest.Issue) bool {
	for _, issue := range issues {
		if issue.Kind == manifest.KindStructural {
			return true
		}
	}
	return false
}

// manifestIssueDiagnostic maps a manifest validation issue to its lint rule.
func manifestIssueDiagnostic(issue manifest.Issue, file string) Diagnostic {
	d := Diagnostic{
		Severity: SeverityError,
		Message:  issue.String(),
		File:     file,
	}
	switch issue.Kind {
	case manifest.KindFreeString:
		d.Rule = RuleNoFreeStringsInAgentData
	case manifest.KindTemplateField:
		d.Rule = RuleTemplateFieldsExist
	case manifest.KindMissingTemplates:
		d.Rule = RuleHasResponseTemplates
	default:
		d.Rule = RuleValidManifest
	}
	return d
}
