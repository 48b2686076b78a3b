package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// safeStringFormats is the closed list of formats that constrain a string
// leaf tightly enough to be agent-visible.
var safeStringFormats = map[string]bool{
	"id":        true,
	"date":      true,
	"date-time": true,
	"time":      true,
	"uuid":      true,
	"email":     true,
	"uri":       true,
	"url":       true,
}

var templateTokenRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// securityIssues runs the mode-agreement and agent-visibility checks over
// every action. Unlike structural validation these are collected, not
// short-circuited, so the linter can report them all.
func securityIssues(m *Manifest) []Issue {
	var issues []Issue

	actionNames := make([]string, 0, len(m.Actions))
	for name := range m.Actions {
		actionNames = append(actionNames, name)
	}
	sort.Strings(actionNames)

	for _, name := range actionNames {
		action := m.Actions[name]
		base := "actions." + name

		switch action.ResponseMode {
		case "template":
			if len(action.AgentDataSchema) == 0 {
				issues = append(issues, Issue{Kind: KindModeAgreement, Path: base, Message: "template mode requires agentDataSchema"})
				continue
			}
			if len(action.ResponseTemplates) == 0 {
				issues = append(issues, Issue{Kind: KindMissingTemplates, Path: base, Message: "template mode requires responseTemplates"})
			}
			issues = append(issues, agentDataIssues(base, action)...)
		case "passthrough":
			if len(action.UserContentSchema) == 0 {
				issues = append(issues, Issue{Kind: KindModeAgreement, Path: base, Message: "passthrough mode requires userContentSchema"})
			}
		}
	}
	return issues
}

// agentDataIssues walks an action's agentDataSchema asserting the
// constrained-string predicate on every string-typed leaf, then checks that
// every template placeholder resolves to a declared property.
func agentDataIssues(base string, action *Action) []Issue {
	var issues []Issue

	var schema map[string]any
	if err := json.Unmarshal(action.AgentDataSchema, &schema); err != nil {
		return []Issue{{Kind: KindStructural, Path: base + ".agentDataSchema", Message: "not a JSON object: " + err.Error()}}
	}

	walkSchema(schema, base+".agentDataSchema", &issues)

	props, _ := schema["properties"].(map[string]any)
	templateIDs := make([]string, 0, len(action.ResponseTemplates))
	for id := range action.ResponseTemplates {
		templateIDs = append(templateIDs, id)
	}
	sort.Strings(templateIDs)
	for _, id := range templateIDs {
		tpl := action.ResponseTemplates[id]
		for _, match := range templateTokenRe.FindAllStringSubmatch(tpl.Text, -1) {
			field := match[1]
			if _, ok := props[field]; !ok {
				issues = append(issues, Issue{
					Kind:    KindTemplateField,
					Path:    fmt.Sprintf("%s.responseTemplates.%s", base, id),
					Message: fmt.Sprintf("placeholder {{%s}} does not match any agentDataSchema property", field),
				})
			}
		}
	}
	return issues
}

// walkSchema recursively visits a JSON Schema node and its children through
// properties, items, $defs, and additionalProperties.
func walkSchema(node map[string]any, path string, issues *[]Issue) {
	if nodeAllowsString(node) && !isConstrainedString(node) {
		*issues = append(*issues, Issue{
			Kind:    KindFreeString,
			Path:    path,
			Message: "unconstrained string in agent-visible data: require enum, const, pattern, or a safe format",
		})
	}

	if props, ok := node["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if child, ok := props[name].(map[string]any); ok {
				walkSchema(child, path+".properties."+name, issues)
			}
		}
	}

	switch items := node["items"].(type) {
	case map[string]any:
		walkSchema(items, path+".items", issues)
	case []any:
		for i, item := range items {
			if child, ok := item.(map[string]any); ok {
				walkSchema(child, fmt.Sprintf("%s.items.%d", path, i), issues)
			}
		}
	}

	if defs, ok := node["$defs"].(map[string]any); ok {
		names := make([]string, 0, len(defs))
		for name := range defs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if child, ok := defs[name].(map[string]any); ok {
				walkSchema(child, path+".$defs."+name, issues)
			}
		}
	}

	if ap, ok := node["additionalProperties"].(map[string]any); ok {
		walkSchema(ap, path+".additionalProperties", issues)
	}
}

// nodeAllowsString reports whether the node's type admits string values.
func nodeAllowsString(node map[string]any) bool {
	switch t := node["type"].(type) {
	case string:
		return t == "string"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "string" {
				return true
			}
		}
	}
	return false
}

// isConstrainedString is the constrained-string predicate: a non-empty enum,
// a const, a pattern, or a format from the safe list.
func isConstrainedString(node map[string]any) bool {
	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		return true
	}
	if _, ok := node["const"]; ok {
		return true
	}
	if pattern, ok := node["pattern"].(string); ok && pattern != "" {
		return true
	}
	if format, ok := node["format"].(string); ok && safeStringFormats[format] {
		return true
	}
	return false
}

// TemplateFields returns the placeholder names used in a template text.
func TemplateFields(text string) []string {
	matches := templateTokenRe.FindAllStringSubmatch(text, -1)
	fields := make([]string, 0, len(matches))
	for _, m := range matches {
		fields = append(fields, m[1])
	}
	return fields
}
