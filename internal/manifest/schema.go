package manifest

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the structural schema every manifest must satisfy. Mode
// agreement between responseMode and the mode-specific fields is checked
// separately so the diagnostics carry usable paths.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "schemaVersion": {"const": 1},
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+"},
    "actions": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "responseMode": {"type": "string", "enum": ["template", "passthrough"]},
          "inputSchema": {"type": "object"},
          "agentDataSchema": {"type": "object"},
          "userContentSchema": {"type": "object"},
          "responseTemplates": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "properties": {
                "text": {"type": "string"},
                "condition": {"type": "string"}
              },
              "required": ["text"]
            }
          },
          "inputTransform": {"type": "string"}
        },
        "required": ["responseMode", "inputSchema"]
      }
    },
    "capabilities": {
      "type": "object",
      "properties": {
        "tools": {"type": "array", "items": {"type": "string"}},
        "canRequestClarification": {"type": "boolean"},
        "session": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "maxDurationMs": {"type": "number", "minimum": 0},
            "maxHistoryEntries": {"type": "number", "minimum": 0}
          },
          "required": ["enabled"]
        },
        "storage": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "maxSizeBytes": {"type": "number", "minimum": 0},
            "persistent": {"type": "boolean"}
          },
          "required": ["enabled"]
        }
      },
      "required": ["tools", "canRequestClarification"]
    },
    "limits": {
      "type": "object",
      "properties": {
        "maxExecutionTimeMs": {"type": "number", "minimum": 0},
        "maxLlmCalls": {"type": "number", "minimum": 0},
        "maxToolCalls": {"type": "number", "minimum": 0}
      },
      "required": ["maxExecutionTimeMs", "maxLlmCalls", "maxToolCalls"]
    },
    "entry": {
      "type": "object",
      "properties": {
        "module": {"type": "string", "minLength": 1},
        "export": {"type": "string", "minLength": 1},
        "runtime": {"type": "string", "enum": ["go", "node", "python"]}
      },
      "required": ["module", "export"]
    },
    "config": {
      "type": "object",
      "properties": {
        "required": {"$ref": "#/$defs/configRequirements"},
        "optional": {"$ref": "#/$defs/configRequirements"}
      }
    },
    "author": {"type": "string"},
    "repository": {"type": "string"},
    "license": {"type": "string"}
  },
  "required": ["schemaVersion", "id", "name", "description", "version", "actions", "capabilities", "limits", "entry"],
  "$defs": {
    "configRequirements": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "key": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "default": {"type": "string"}
        },
        "required": ["key", "description"]
      }
    }
  }
}`

var compiledManifestSchema = jsonschema.MustCompileString("trikhub://manifest-schema", manifestSchema)

// structuralIssues validates the decoded manifest document against the
// structural schema and flattens the validator's error tree into issues.
func structuralIssues(doc any) []Issue {
	err := compiledManifestSchema.Validate(doc)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Kind: KindStructural, Message: err.Error()}}
	}
	var issues []Issue
	flattenValidationError(verr, &issues)
	if len(issues) == 0 {
		issues = append(issues, Issue{Kind: KindStructural, Path: instancePath(verr.InstanceLocation), Message: verr.Message})
	}
	return issues
}

// flattenValidationError collects leaf causes, which carry the most specific
// instance locations.
func flattenValidationError(verr *jsonschema.ValidationError, issues *[]Issue) {
	if len(verr.Causes) == 0 {
		*issues = append(*issues, Issue{
			Kind:    KindStructural,
			Path:    instancePath(verr.InstanceLocation),
			Message: verr.Message,
		})
		return
	}
	for _, cause := range verr.Causes {
		flattenValidationError(cause, issues)
	}
}

// instancePath converts a JSON-pointer instance location to dotted form.
func instancePath(loc string) string {
	trimmed := strings.TrimPrefix(loc, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
