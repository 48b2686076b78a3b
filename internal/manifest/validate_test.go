package manifest

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validManifest returns a minimal valid manifest with one template action.
func validManifest() map[string]any {
	return map[string]any{
		"schemaVersion": 1,
		"id":            "@demo/search",
		"name":          "Demo Search",
		"description":   "Searches demo articles",
		"version":       "1.2.0",
		"actions": map[string]any{
			"search": map[string]any{
				"description":  "Search articles",
				"responseMode": "template",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"q": map[string]any{"type": "string"},
					},
					"required": []string{"q"},
				},
				"agentDataSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"template": map[string]any{"type": "string", "enum": []string{"success", "empty"}},
						"count":    map[string]any{"type": "integer"},
					},
				},
				"responseTemplates": map[string]any{
					"success": map[string]any{"text": "Found {{count}} results."},
					"empty":   map[string]any{"text": "No results."},
				},
			},
		},
		"capabilities": map[string]any{
			"tools":                   []string{},
			"canRequestClarification": false,
		},
		"limits": map[string]any{
			"maxExecutionTimeMs": 30000,
			"maxLlmCalls":        5,
			"maxToolCalls":       10,
		},
		"entry": map[string]any{
			"module":  "graph",
			"export":  "graph",
			"runtime": "go",
		},
	}
}

func marshal(t *testing.T, m map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestValidateAcceptsValidManifest(t *testing.T) {
	issues := Validate(marshal(t, validManifest()))
	assert.Empty(t, issues)
}

func TestValidateStructural(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"missing id", func(m map[string]any) { delete(m, "id") }},
		{"wrong schema version", func(m map[string]any) { m["schemaVersion"] = 2 }},
		{"bad version shape", func(m map[string]any) { m["version"] = "1.2" }},
		{"no actions", func(m map[string]any) { m["actions"] = map[string]any{} }},
		{"missing entry module", func(m map[string]any) {
			m["entry"] = map[string]any{"export": "graph"}
		}},
		{"bad runtime", func(m map[string]any) {
			m["entry"] = map[string]any{"module": "graph", "export": "graph", "runtime": "ruby"}
		}},
		{"missing limits", func(m map[string]any) { delete(m, "limits") }},
		{"bad response mode", func(m map[string]any) {
			m["actions"].(map[string]any)["search"].(map[string]any)["responseMode"] = "raw"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			issues := Validate(marshal(t, m))
			assert.NotEmpty(t, issues)
		})
	}
}

func TestValidateModeAgreement(t *testing.T) {
	t.Run("template without agentDataSchema", func(t *testing.T) {
		m := validManifest()
		action := m["actions"].(map[string]any)["search"].(map[string]any)
		delete(action, "agentDataSchema")
		issues := Validate(marshal(t, m))
		require.NotEmpty(t, issues)
		assert.Contains(t, issues[0].Message, "agentDataSchema")
	})

	t.Run("template without responseTemplates", func(t *testing.T) {
		m := validManifest()
		action := m["actions"].(map[string]any)["search"].(map[string]any)
		delete(action, "responseTemplates")
		issues := Validate(marshal(t, m))
		require.NotEmpty(t, issues)
		assert.Contains(t, issues[0].Message, "responseTemplates")
	})

	t.Run("passthrough without userContentSchema", func(t *testing.T) {
		m := validManifest()
		m["actions"].(map[string]any)["read"] = map[string]any{
			"responseMode": "passthrough",
			"inputSchema":  map[string]any{"type": "object"},
		}
		issues := Validate(marshal(t, m))
		require.NotEmpty(t, issues)
		assert.Contains(t, issues[0].Message, "userContentSchema")
	})

	t.Run("passthrough with userContentSchema is valid", func(t *testing.T) {
		m := validManifest()
		m["actions"].(map[string]any)["read"] = map[string]any{
			"responseMode": "passthrough",
			"inputSchema":  map[string]any{"type": "object"},
			"userContentSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"contentType": map[string]any{"type": "string"},
					"content":     map[string]any{"type": "string"},
				},
			},
		}
		assert.Empty(t, Validate(marshal(t, m)))
	})
}

func TestValidateConstrainedStrings(t *testing.T) {
	withAgentProp := func(prop map[string]any) []byte {
		m := validManifest()
		action := m["actions"].(map[string]any)["search"].(map[string]any)
		schema := action["agentDataSchema"].(map[string]any)
		schema["properties"].(map[string]any)["title"] = prop
		raw, _ := json.Marshal(m)
		return raw
	}

	valid := []map[string]any{
		{"type": "string", "enum": []string{"a", "b"}},
		{"type": "string", "const": "fixed"},
		{"type": "string", "pattern": "^[a-z]+$"},
		{"type": "string", "format": "uuid"},
		{"type": "string", "format": "date-time"},
		{"type": "string", "format": "id"},
		{"type": "string", "format": "url"},
		{"type": []string{"string", "null"}, "enum": []any{"a", nil}},
		{"type": "integer"},
	}
	for i, prop := range valid {
		t.Run(fmt.Sprintf("valid_%d", i), func(t *testing.T) {
			assert.Empty(t, Validate(withAgentProp(prop)))
		})
	}

	invalid := []map[string]any{
		{"type": "string"},
		{"type": "string", "enum": []string{}},
		{"type": "string", "format": "hostname"},
		{"type": "string", "maxLength": 10},
		{"type": []string{"string", "integer"}},
	}
	for i, prop := range invalid {
		t.Run(fmt.Sprintf("invalid_%d", i), func(t *testing.T) {
			issues := Validate(withAgentProp(prop))
			require.NotEmpty(t, issues)
			assert.Contains(t, issues[0].Path, "agentDataSchema.properties.title")
		})
	}
}

func TestValidateNestedStringLeaves(t *testing.T) {
	m := validManifest()
	action := m["actions"].(map[string]any)["search"].(map[string]any)
	action["agentDataSchema"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{"type": "string", "enum": []string{"success", "empty"}},
			"count":    map[string]any{"type": "integer"},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string", "format": "id"},
						"label": map[string]any{"type": "string"},
					},
				},
			},
		},
		"$defs": map[string]any{
			"tag": map[string]any{"type": "string"},
		},
	}
	issues := Validate(marshal(t, m))
	require.Len(t, issues, 2)

	paths := []string{issues[0].Path, issues[1].Path}
	assert.Contains(t, paths[0]+paths[1], "items.properties.label")
	assert.Contains(t, paths[0]+paths[1], "$defs.tag")
}

func TestValidateTemplatePlaceholderClosure(t *testing.T) {
	m := validManifest()
	action := m["actions"].(map[string]any)["search"].(map[string]any)
	action["responseTemplates"].(map[string]any)["success"] = map[string]any{
		"text": "Found {{count}} of {{total}} results.",
	}
	issues := Validate(marshal(t, m))
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Message, "{{total}}")
	assert.Contains(t, issues[0].Path, "responseTemplates.success")
}

func TestValidateCollectsAllSecurityIssues(t *testing.T) {
	m := validManifest()
	actions := m["actions"].(map[string]any)
	search := actions["search"].(map[string]any)
	schema := search["agentDataSchema"].(map[string]any)
	schema["properties"].(map[string]any)["a"] = map[string]any{"type": "string"}
	schema["properties"].(map[string]any)["b"] = map[string]any{"type": "string"}

	issues := Validate(marshal(t, m))
	assert.Len(t, issues, 2)
}

func TestParseAppliesDefaults(t *testing.T) {
	m := validManifest()
	m["capabilities"].(map[string]any)["session"] = map[string]any{"enabled": true}
	m["capabilities"].(map[string]any)["storage"] = map[string]any{"enabled": true}

	parsed, issues := Parse(marshal(t, m))
	require.Empty(t, issues)
	require.NotNil(t, parsed)

	assert.Equal(t, DefaultMaxDurationMs, parsed.Capabilities.Session.MaxDurationMs)
	assert.Equal(t, DefaultMaxHistoryEntries, parsed.Capabilities.Session.MaxHistoryEntries)
	assert.Equal(t, DefaultMaxSizeBytes, parsed.Capabilities.Storage.MaxSizeBytes)
	assert.True(t, parsed.Capabilities.Storage.Persistent)
}

func TestParsePreservesExplicitCaps(t *testing.T) {
	m := validManifest()
	m["capabilities"].(map[string]any)["session"] = map[string]any{
		"enabled":           true,
		"maxHistoryEntries": 3,
	}
	parsed, issues := Parse(marshal(t, m))
	require.Empty(t, issues)
	assert.Equal(t, 3, parsed.Capabilities.Session.MaxHistoryEntries)
	assert.Equal(t, DefaultMaxDurationMs, parsed.Capabilities.Session.MaxDurationMs)
}

func TestEffectiveRuntimeDefaultsToHost(t *testing.T) {
	e := Entry{Module: "graph", Export: "graph"}
	assert.Equal(t, RuntimeGo, e.EffectiveRuntime())

	e.Runtime = RuntimePython
	assert.Equal(t, RuntimePython, e.EffectiveRuntime())
}

func TestFingerprintStableUnderKeyOrder(t *testing.T) {
	a := []byte(`{"id":"@demo/x","name":"x"}`)
	b := []byte(`{"name":"x","id":"@demo/x"}`)
	c := []byte(`{"name":"y","id":"@demo/x"}`)

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	fc, err := Fingerprint(c)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
}

func TestFromYAML(t *testing.T) {
	jsonIn := []byte(`{"id": "@demo/x"}`)
	out, err := FromYAML(jsonIn)
	require.NoError(t, err)
	assert.Equal(t, jsonIn, out)

	yamlIn := []byte("id: \"@demo/x\"\nname: Demo\n")
	out, err = FromYAML(yamlIn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"@demo/x","name":"Demo"}`, string(out))
}

func TestTemplateFields(t *testing.T) {
	fields := TemplateFields("Found {{count}} results for {{query}}.")
	assert.Equal(t, []string{"count", "query"}, fields)
	assert.Empty(t, TemplateFields("No placeholders here."))
}
