package lint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseManifest() map[string]any {
	return map[string]any{
		"schemaVersion": 1,
		"id":            "@demo/search",
		"name":          "Demo Search",
		"description":   "Searches demo articles",
		"version":       "1.0.0",
		"author":        "demo",
		"repository":    "https://example.com/demo/search",
		"license":       "MIT",
		"actions": map[string]any{
			"search": map[string]any{
				"responseMode": "template",
				"inputSchema":  map[string]any{"type": "object"},
				"agentDataSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"count": map[string]any{"type": "integer"},
					},
				},
				"responseTemplates": map[string]any{
					"success": map[string]any{"text": "Found {{count}} results."},
				},
			},
		},
		"capabilities": map[string]any{
			"tools":                   []string{"web-search"},
			"canRequestClarification": false,
		},
		"limits": map[string]any{
			"maxExecutionTimeMs": 30000,
			"maxLlmCalls":        5,
			"maxToolCalls":       10,
		},
		"entry": map[string]any{
			"module":  "dist/graph.js",
			"export":  "graph",
			"runtime": "node",
		},
	}
}

func writeTrik(t *testing.T, m map[string]any, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	raw, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0644))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func rulesOf(result *Result) []string {
	rules := make([]string, 0, len(result.Diagnostics))
	for _, d := range result.Diagnostics {
		rules = append(rules, d.Rule)
	}
	return rules
}

func TestRunCleanManifest(t *testing.T) {
	dir := writeTrik(t, baseManifest(), nil)
	result, err := Run(dir, Options{})
	require.NoError(t, err)
	assert.False(t, result.HasErrors(false))
	assert.Equal(t, "manifest.json", result.ManifestPath)
}

func TestRunMissingManifest(t *testing.T) {
	result, err := Run(t.TempDir(), Options{})
	require.NoError(t, err)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, RuleValidManifest, result.Diagnostics[0].Rule)
	assert.True(t, result.HasErrors(false))
}

func TestRunFreeStringRule(t *testing.T) {
	m := baseManifest()
	schema := m["actions"].(map[string]any)["search"].(map[string]any)["agentDataSchema"].(map[string]any)
	schema["properties"].(map[string]any)["title"] = map[string]any{"type": "string"}

	result, err := Run(writeTrik(t, m, nil), Options{})
	require.NoError(t, err)
	assert.Contains(t, rulesOf(result), RuleNoFreeStringsInAgentData)
	assert.True(t, result.HasErrors(false))

	// the finding names the offending path
	for _, d := range result.Diagnostics {
		if d.Rule == RuleNoFreeStringsInAgentData {
			assert.Contains(t, d.Message, "agentDataSchema.properties.title")
		}
	}
}

func TestRunTemplateFieldRule(t *testing.T) {
	m := baseManifest()
	action := m["actions"].(map[string]any)["search"].(map[string]any)
	action["responseTemplates"].(map[string]any)["success"] = map[string]any{"text": "Found {{missing}}."}

	result, err := Run(writeTrik(t, m, nil), Options{})
	require.NoError(t, err)
	assert.Contains(t, rulesOf(result), RuleTemplateFieldsExist)
}

func TestRunStructuralShortCircuits(t *testing.T) {
	m := baseManifest()
	delete(m, "limits")
	result, err := Run(writeTrik(t, m, nil), Options{})
	require.NoError(t, err)
	for _, d := range result.Diagnostics {
		assert.Equal(t, RuleValidManifest, d.Rule)
	}
	assert.True(t, result.HasErrors(false))
}

func TestRunCompleteness(t *testing.T) {
	m := baseManifest()
	delete(m, "author")
	m["limits"].(map[string]any)["maxExecutionTimeMs"] = 600000

	result, err := Run(writeTrik(t, m, nil), Options{})
	require.NoError(t, err)

	var infos, warns int
	for _, d := range result.Diagnostics {
		if d.Rule != RuleManifestCompleteness {
			continue
		}
		switch d.Severity {
		case SeverityInfo:
			infos++
		case SeverityWarning:
			warns++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 1, warns)
	assert.False(t, result.HasErrors(false))
	assert.True(t, result.HasErrors(true))
}

func TestRunDefaultTemplateRecommended(t *testing.T) {
	m := baseManifest()
	action := m["actions"].(map[string]any)["search"].(map[string]any)
	action["agentDataSchema"].(map[string]any)["properties"].(map[string]any)["template"] = map[string]any{
		"type": "string", "enum": []string{"found", "none"},
	}
	action["responseTemplates"] = map[string]any{
		"found": map[string]any{"text": "Found {{count}}."},
		"none":  map[string]any{"text": "Nothing."},
	}

	result, err := Run(writeTrik(t, m, nil), Options{})
	require.NoError(t, err)
	assert.Contains(t, rulesOf(result), RuleDefaultTemplateRecommended)
}

func TestRunEntryPointExists(t *testing.T) {
	m := baseManifest()

	t.Run("missing artifact", func(t *testing.T) {
		result, err := Run(writeTrik(t, m, nil), Options{CheckEntryPoint: true})
		require.NoError(t, err)
		assert.Contains(t, rulesOf(result), RuleEntryPointExists)
		assert.True(t, result.HasErrors(false))
	})

	t.Run("present artifact", func(t *testing.T) {
		dir := writeTrik(t, m, map[string]string{"dist/graph.js": "export const graph = {};"})
		result, err := Run(dir, Options{CheckEntryPoint: true})
		require.NoError(t, err)
		assert.False(t, result.HasErrors(false))
	})
}

func TestRunSourceRules(t *testing.T) {
	m := baseManifest()
	src := `import fs from "fs";
const cp = require("child_process");
eval("dangerous()");
const f = new Function("x", "return x");
invokeTool("web-search", {});
invokeTool("undeclared-tool", {});
const key = process.env.API_KEY;
`
	dir := writeTrik(t, m, map[string]string{"src/index.js": src})
	result, err := Run(dir, Options{})
	require.NoError(t, err)

	rules := rulesOf(result)
	assert.Contains(t, rules, RuleNoForbiddenImports)
	assert.Contains(t, rules, RuleNoDynamicCode)
	assert.Contains(t, rules, RuleUndeclaredToolUsage)
	assert.Contains(t, rules, RuleNoDirectEnvAccess)

	// declared tool does not fire the undeclared rule
	undeclared := 0
	for _, d := range result.Diagnostics {
		if d.Rule == RuleUndeclaredToolUsage {
			undeclared++
			assert.Contains(t, d.Message, "undeclared-tool")
			assert.Equal(t, 6, d.Line)
		}
	}
	assert.Equal(t, 1, undeclared)
}

func TestRunSkipRules(t *testing.T) {
	m := baseManifest()
	schema := m["actions"].(map[string]any)["search"].(map[string]any)["agentDataSchema"].(map[string]any)
	schema["properties"].(map[string]any)["title"] = map[string]any{"type": "string"}

	result, err := Run(writeTrik(t, m, nil), Options{SkipRules: []string{RuleNoFreeStringsInAgentData}})
	require.NoError(t, err)
	assert.NotContains(t, rulesOf(result), RuleNoFreeStringsInAgentData)
}

func TestRunPythonPackageLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project]\nname = \"demo\"\n"), 0644))

	m := baseManifest()
	m["entry"] = map[string]any{"module": "graph.py", "export": "graph", "runtime": "python"}
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	pkgDir := filepath.Join(dir, "demo_search")
	require.NoError(t, os.MkdirAll(pkgDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "manifest.json"), raw, 0644))

	result, err := Run(dir, Options{})
	require.NoError(t, err)
	assert.False(t, result.HasErrors(false))
	assert.Equal(t, filepath.Join("demo_search", "manifest.json"), result.ManifestPath)
}

func TestWriteReportFormats(t *testing.T) {
	result := &Result{Diagnostics: []Diagnostic{
		{Rule: RuleValidManifest, Severity: SeverityError, Message: "broken", File: "manifest.json"},
	}}

	for _, format := range []Format{FormatText, FormatJSON, FormatYAML} {
		var buf testWriter
		require.NoError(t, WriteReport(&buf, result, format))
		assert.Contains(t, buf.String(), "broken")
	}
}

type testWriter struct {
	data []byte
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *testWriter) String() string { return string(w.data) }
