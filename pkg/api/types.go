// Package api defines the public wire types of the trik gateway: tool
// definitions, skill invocation inputs and outputs, and the tagged result
// union returned by Execute. These types cross the gateway boundary and are
// JSON-stable; the internal packages build on them.
package api

import (
	"context"
	"encoding/json"
)

// ResponseMode selects how an action's output reaches the caller.
type ResponseMode string

const (
	// ResponseModeTemplate returns constrained structured data plus rendered text.
	ResponseModeTemplate ResponseMode = "template"
	// ResponseModePassthrough returns an opaque receipt reference; the content
	// itself bypasses the agent.
	ResponseModePassthrough ResponseMode = "passthrough"
)

// ErrorCode identifies a gateway failure class.
type ErrorCode string

const (
	ErrorCodeTrikNotFound           ErrorCode = "TRIK_NOT_FOUND"
	ErrorCodeActionNotFound         ErrorCode = "ACTION_NOT_FOUND"
	ErrorCodeInvalidParams          ErrorCode = "INVALID_PARAMS"
	ErrorCodeSchemaValidationFailed ErrorCode = "SCHEMA_VALIDATION_FAILED"
	ErrorCodeExecutionTimeout       ErrorCode = "EXECUTION_TIMEOUT"
	ErrorCodeWorkerNotReady         ErrorCode = "WORKER_NOT_READY"
	ErrorCodeStorageError           ErrorCode = "STORAGE_ERROR"
	ErrorCodeInternalError          ErrorCode = "INTERNAL_ERROR"
)

// ToolDefinition is the computed tool surface entry for one trik action.
// Name is "{trikID}:{actionName}".
type ToolDefinition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	ResponseMode ResponseMode    `json:"responseMode"`
}

// PassthroughContent is free-form output that flows to the end user without
// the agent reading it.
type PassthroughContent struct {
	ContentType string         `json:"contentType"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DeliveryReceipt is returned to the caller alongside redeemed passthrough
// content. It carries only non-content metadata.
type DeliveryReceipt struct {
	Delivered   bool           `json:"delivered"`
	ContentType string         `json:"contentType"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ClarificationQuestion is a question a trik poses back to the user before it
// can complete an action.
type ClarificationQuestion struct {
	QuestionID   string   `json:"questionId"`
	QuestionText string   `json:"questionText"`
	QuestionType string   `json:"questionType"` // text, multiple_choice, boolean
	Options      []string `json:"options,omitempty"`
	Required     bool     `json:"required,omitempty"`
}

// SessionHistoryEntry records one completed invocation in a session.
// Passthrough content is never recorded.
type SessionHistoryEntry struct {
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
	Input     any    `json:"input"`
	AgentData any    `json:"agentData,omitempty"`
}

// SessionContext is the view of a session passed to skill code.
type SessionContext struct {
	SessionID string                `json:"sessionId"`
	History   []SessionHistoryEntry `json:"history"`
}

// ConfigContext exposes per-trik configuration values to skill code. Only
// keys declared in the trik's manifest are visible.
type ConfigContext interface {
	Get(key string) (string, bool)
	Has(key string) bool
	Keys() []string
}

// StorageContext exposes per-trik persistent storage to skill code. All
// operations are scoped to the owning trik's namespace.
type StorageContext interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttlMs int64) error
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	GetMany(ctx context.Context, keys []string) (map[string]any, error)
	SetMany(ctx context.Context, entries map[string]any) error
}

// SkillInput is the single argument passed to a skill's entry point.
type SkillInput struct {
	Action  string          `json:"action"`
	Input   any             `json:"input"`
	Session *SessionContext `json:"session,omitempty"`
	Config  ConfigContext   `json:"-"`
	Storage StorageContext  `json:"-"`
}

// SkillOutput is the result a skill returns from an invocation.
type SkillOutput struct {
	ResponseMode           ResponseMode            `json:"responseMode,omitempty"`
	AgentData              map[string]any          `json:"agentData,omitempty"`
	UserContent            *PassthroughContent     `json:"userContent,omitempty"`
	NeedsClarification     bool                    `json:"needsClarification,omitempty"`
	ClarificationQuestions []ClarificationQuestion `json:"clarificationQuestions,omitempty"`
	EndSession             bool                    `json:"endSession,omitempty"`
}

// Graph is the contract implemented by an in-process skill entry point.
type Graph interface {
	Invoke(ctx context.Context, input *SkillInput) (*SkillOutput, error)
}

// GraphFunc adapts a function to the Graph interface.
type GraphFunc func(ctx context.Context, input *SkillInput) (*SkillOutput, error)

func (f GraphFunc) Invoke(ctx context.Context, input *SkillInput) (*SkillOutput, error) {
	return f(ctx, input)
}

// GatewayResult is the tagged union returned by Execute. Exactly one shape is
// populated:
//
//   - template success: Success, ResponseMode=template, AgentData, TemplateText
//   - passthrough success: Success, ResponseMode=passthrough, UserContentRef
//   - clarification: Success, NeedsClarification, Questions
//   - error: !Success, Code, Error
type GatewayResult struct {
	Success      bool         `json:"success"`
	ResponseMode ResponseMode `json:"responseMode,omitempty"`

	AgentData    map[string]any `json:"agentData,omitempty"`
	TemplateText string         `json:"templateText,omitempty"`

	UserContentRef string         `json:"userContentRef,omitempty"`
	ContentType    string         `json:"contentType,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	NeedsClarification bool                    `json:"needsClarification,omitempty"`
	Questions          []ClarificationQuestion `json:"questions,omitempty"`

	Code  ErrorCode `json:"code,omitempty"`
	Error string    `json:"error,omitempty"`

	SessionID string `json:"sessionId,omitempty"`
}

// TemplateResult builds a template-mode success result.
func TemplateResult(agentData map[string]any, templateText string) *GatewayResult {
	return &GatewayResult{
		Success:      true,
		ResponseMode: ResponseModeTemplate,
		AgentData:    agentData,
		TemplateText: templateText,
	}
}

// PassthroughResult builds a passthrough-mode success result. The content
// itself never appears here, only the receipt reference and metadata.
func PassthroughResult(ref, contentType string, metadata map[string]any) *GatewayResult {
	return &GatewayResult{
		Success:        true,
		ResponseMode:   ResponseModePassthrough,
		UserContentRef: ref,
		ContentType:    contentType,
		Metadata:       metadata,
	}
}

// ClarificationResult builds a clarification result.
func ClarificationResult(questions []ClarificationQuestion) *GatewayResult {
	return &GatewayResult{
		Success:            true,
		NeedsClarification: true,
		Questions:          questions,
	}
}

// ErrorResult builds an error result.
func ErrorResult(code ErrorCode, msg string) *GatewayResult {
	return &GatewayResult{
		Success: false,
		Code:    code,
		Error:   msg,
	}
}

// HealthStatus is the worker health report.
type HealthStatus struct {
	Status  string  `json:"status"` // ok or error
	Runtime string  `json:"runtime"`
	Version string  `json:"version,omitempty"`
	Uptime  float64 `json:"uptime,omitempty"`
}
