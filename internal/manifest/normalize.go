package manifest

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	sigsyaml "sigs.k8s.io/yaml"
)

// Capability and content defaults applied during normalisation.
const (
	DefaultMaxDurationMs     = int64(30 * 60 * 1000)
	DefaultMaxHistoryEntries = 20
	DefaultMaxSizeBytes      = int64(100 * 1024 * 1024)
)

// FromYAML converts a YAML manifest document to JSON. JSON input passes
// through unchanged.
func FromYAML(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return raw, nil
	}
	return sigsyaml.YAMLToJSON(raw)
}

// ApplyDefaults injects defaults for omitted capability fields into the raw
// document, leaving everything else byte-identical.
func ApplyDefaults(raw []byte) ([]byte, error) {
	out := raw
	var err error

	type fill struct {
		guard string // capability block that must exist
		path  string
		value any
	}
	fills := []fill{
		{"capabilities.session", "capabilities.session.maxDurationMs", DefaultMaxDurationMs},
		{"capabilities.session", "capabilities.session.maxHistoryEntries", DefaultMaxHistoryEntries},
		{"capabilities.storage", "capabilities.storage.maxSizeBytes", DefaultMaxSizeBytes},
		{"capabilities.storage", "capabilities.storage.persistent", true},
	}

	for _, f := range fills {
		if !gjson.GetBytes(out, f.guard).Exists() {
			continue
		}
		if gjson.GetBytes(out, f.path).Exists() {
			continue
		}
		out, err = sjson.SetBytes(out, f.path, f.value)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
