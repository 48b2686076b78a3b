// Package manifest defines the trik manifest model and its validation. A
// manifest is the single source of truth for a trik's contract: its actions,
// schemas, capabilities, limits, and entry point. Validation enforces the
// agent-visible constraint: no string leaf in an agentDataSchema may be
// unconstrained, so free-form text can never reach the agent's reasoning
// layer through a template action.
package manifest

import (
	"encoding/json"

	"github.com/Molefas/trikhub/pkg/api"
)

// SchemaVersion is the only supported manifest schema version.
const SchemaVersion = 1

// Runtime identifies the execution runtime of a trik's entry point.
type Runtime string

const (
	// RuntimeGo runs in-process on the gateway host.
	RuntimeGo Runtime = "go"
	// RuntimeNode runs in a Node.js worker subprocess.
	RuntimeNode Runtime = "node"
	// RuntimePython runs in a Python worker subprocess.
	RuntimePython Runtime = "python"
)

// HostRuntime is the runtime an entry defaults to when the manifest declares
// none.
const HostRuntime = RuntimeGo

// Manifest is the trik manifest. Immutable once loaded.
type Manifest struct {
	SchemaVersion int                `json:"schemaVersion"`
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Version       string             `json:"version"`
	Actions       map[string]*Action `json:"actions"`
	Capabilities  Capabilities       `json:"capabilities"`
	Limits        Limits             `json:"limits"`
	Entry         Entry              `json:"entry"`
	Config        *ConfigSpec        `json:"config,omitempty"`
	Author        string             `json:"author,omitempty"`
	Repository    string             `json:"repository,omitempty"`
	License       string             `json:"license,omitempty"`
}

// Action defines one invocable operation on a trik.
type Action struct {
	Description  string           `json:"description,omitempty"`
	ResponseMode api.ResponseMode `json:"responseMode"`
	InputSchema  json.RawMessage  `json:"inputSchema"`

	// Template mode: constrained agent-visible schema plus response templates.
	AgentDataSchema   json.RawMessage              `json:"agentDataSchema,omitempty"`
	ResponseTemplates map[string]ResponseTemplate  `json:"responseTemplates,omitempty"`

	// Passthrough mode: user-only content schema; the agent never sees values.
	UserContentSchema json.RawMessage `json:"userContentSchema,omitempty"`

	// Optional JS function applied to the input before validation.
	InputTransform string `json:"inputTransform,omitempty"`
}

// ResponseTemplate holds the text of one response template. Placeholders use
// {{name}} syntax and resolve against agentDataSchema properties.
type ResponseTemplate struct {
	Text      string `json:"text"`
	Condition string `json:"condition,omitempty"`
}

// SessionCapabilities enables multi-turn sessions for a trik.
type SessionCapabilities struct {
	Enabled           bool  `json:"enabled"`
	MaxDurationMs     int64 `json:"maxDurationMs,omitempty"`
	MaxHistoryEntries int   `json:"maxHistoryEntries,omitempty"`
}

// StorageCapabilities enables persistent storage for a trik.
type StorageCapabilities struct {
	Enabled      bool  `json:"enabled"`
	MaxSizeBytes int64 `json:"maxSizeBytes,omitempty"`
	Persistent   bool  `json:"persistent,omitempty"`
}

// Capabilities declares what a trik may do.
type Capabilities struct {
	Tools                   []string             `json:"tools"`
	CanRequestClarification bool                 `json:"canRequestClarification"`
	Session                 *SessionCapabilities `json:"session,omitempty"`
	Storage                 *StorageCapabilities `json:"storage,omitempty"`
}

// Limits bounds trik execution.
type Limits struct {
	MaxExecutionTimeMs int64 `json:"maxExecutionTimeMs"`
	MaxLLMCalls        int   `json:"maxLlmCalls"`
	MaxToolCalls       int   `json:"maxToolCalls"`
}

// Entry locates a trik's executable artifact.
type Entry struct {
	Module  string  `json:"module"`
	Export  string  `json:"export"`
	Runtime Runtime `json:"runtime,omitempty"`
}

// EffectiveRuntime returns the declared runtime, defaulting to the host.
func (e Entry) EffectiveRuntime() Runtime {
	if e.Runtime == "" {
		return HostRuntime
	}
	return e.Runtime
}

// ConfigRequirement declares one configuration key a trik uses.
type ConfigRequirement struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Default     string `json:"default,omitempty"`
}

// ConfigSpec lists a trik's configuration requirements.
type ConfigSpec struct {
	Required []ConfigRequirement `json:"required,omitempty"`
	Optional []ConfigRequirement `json:"optional,omitempty"`
}

// DeclaredConfigKeys returns every key the manifest declares, required first.
func (m *Manifest) DeclaredConfigKeys() []ConfigRequirement {
	if m.Config == nil {
		return nil
	}
	keys := make([]ConfigRequirement, 0, len(m.Config.Required)+len(m.Config.Optional))
	keys = append(keys, m.Config.Required...)
	keys = append(keys, m.Config.Optional...)
	return keys
}

// SessionEnabled reports whether the manifest enables sessions.
func (m *Manifest) SessionEnabled() bool {
	return m.Capabilities.Session != nil && m.Capabilities.Session.Enabled
}

// StorageEnabled reports whether the manifest enables storage.
func (m *Manifest) StorageEnabled() bool {
	return m.Capabilities.Storage != nil && m.Capabilities.Storage.Enabled
}

// IssueKind classifies a validation finding so callers (the linter) can
// attribute it to a rule.
type IssueKind string

const (
	KindStructural       IssueKind = "structural"
	KindModeAgreement    IssueKind = "mode-agreement"
	KindMissingTemplates IssueKind = "missing-templates"
	KindFreeString       IssueKind = "free-string"
	KindTemplateField    IssueKind = "template-field"
)

// Issue is one validation finding, located by a dotted path into the
// manifest document.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Path    string    `json:"path"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}
