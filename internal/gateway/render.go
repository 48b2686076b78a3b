package gateway

import (
	"fmt"
	"regexp"

	"github.com/Molefas/trikhub/internal/manifest"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// selectTemplate picks the response template for a template-mode result.
// A field named "template" in the agent data selects the entry; otherwise
// the entry named "success" is used if present; otherwise a single entry is
// unambiguous. Anything else cannot be resolved.
func selectTemplate(action *manifest.Action, agentData map[string]any) (manifest.ResponseTemplate, bool) {
	if id, ok := agentData["template"].(string); ok {
		tpl, found := action.ResponseTemplates[id]
		return tpl, found
	}
	if tpl, ok := action.ResponseTemplates["success"]; ok {
		return tpl, true
	}
	if len(action.ResponseTemplates) == 1 {
		for _, tpl := range action.ResponseTemplates {
			return tpl, true
		}
	}
	return manifest.ResponseTemplate{}, false
}

// renderTemplate substitutes {{name}} placeholders with the string form of
// the corresponding agent-data field. Placeholders for absent fields are
// preserved literally; with the template closure invariant holding, that only
// happens for dynamically missing optional fields.
func renderTemplate(text string, agentData map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		name := placeholderRe.FindStringSubmatch(token)[1]
		value, ok := agentData[name]
		if !ok || value == nil {
			return token
		}
		return fmt.Sprint(value)
	})
}
