package manifest

import (
	"encoding/json"

	"github.com/Masterminds/semver/v3"
)

// Validate checks a raw manifest document. Structural failures short-circuit;
// mode-agreement and agent-visibility failures are collected so callers can
// report them all. An empty result means the manifest is loadable.
func Validate(raw []byte) []Issue {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Issue{{Kind: KindStructural, Message: "invalid JSON: " + err.Error()}}
	}

	if issues := structuralIssues(doc); len(issues) > 0 {
		return issues
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return []Issue{{Kind: KindStructural, Message: "cannot decode manifest: " + err.Error()}}
	}

	var issues []Issue
	if _, err := semver.NewVersion(m.Version); err != nil {
		issues = append(issues, Issue{Kind: KindStructural, Path: "version", Message: "not a valid semantic version: " + err.Error()})
	}
	issues = append(issues, securityIssues(&m)...)
	return issues
}

// Parse validates and decodes a raw manifest document, applying defaults for
// omitted session and storage capability fields. Returns the collected issues when the
// manifest is invalid.
func Parse(raw []byte) (*Manifest, []Issue) {
	normalized, err := ApplyDefaults(raw)
	if err != nil {
		return nil, []Issue{{Kind: KindStructural, Message: err.Error()}}
	}

	if issues := Validate(normalized); len(issues) > 0 {
		return nil, issues
	}

	var m Manifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, []Issue{{Kind: KindStructural, Message: "cannot decode manifest: " + err.Error()}}
	}
	return &m, nil
}
