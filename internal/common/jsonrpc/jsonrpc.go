// Package jsonrpc implements the JSON-RPC 2.0 profile spoken on the worker
// channel: newline-delimited messages, string UUID ids, and the custom error
// codes of the worker protocol. Requests carry method + params; responses
// carry exactly one of result or error. Messages violating these invariants
// are rejected by the parser without disrupting the channel.
package jsonrpc

import (
	stdjson "encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/Molefas/trikhub/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is the JSON-RPC protocol version.
const Version = "2.0"

// MethodType names a JSON-RPC method.
type MethodType string

// Methods sent from the gateway to a worker.
const (
	MethodInvoke   MethodType = "invoke"
	MethodHealth   MethodType = "health"
	MethodShutdown MethodType = "shutdown"
)

// Methods sent from a worker back to the gateway while an invoke is
// outstanding.
const (
	MethodStorageGet     MethodType = "storage.get"
	MethodStorageSet     MethodType = "storage.set"
	MethodStorageDelete  MethodType = "storage.delete"
	MethodStorageList    MethodType = "storage.list"
	MethodStorageGetMany MethodType = "storage.getMany"
	MethodStorageSetMany MethodType = "storage.setMany"
)

// IsStorageMethod reports whether m is a worker-to-gateway storage proxy call.
func IsStorageMethod(m MethodType) bool {
	switch m {
	case MethodStorageGet, MethodStorageSet, MethodStorageDelete,
		MethodStorageList, MethodStorageGetMany, MethodStorageSetMany:
		return true
	}
	return false
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Method  MethodType        `json:"method"`
	Params  types.NullableAny `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Either Result or Error is set, never
// both. Result is a pointer so error responses omit the key entirely.
type Response struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      string             `json:"id"`
	Result  *types.NullableAny `json:"result,omitempty"`
	Error   *ErrorObject       `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObject) String() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Worker protocol error codes.
const (
	ErrCodeTrikNotFound           = 1001
	ErrCodeActionNotFound         = 1002
	ErrCodeExecutionTimeout       = 1003
	ErrCodeSchemaValidationFailed = 1004
	ErrCodeWorkerNotReady         = 1005
	ErrCodeStorageError           = 1006
)

// ConstructRequest creates an encoded request line (without the trailing
// newline). Returns an error if params cannot be serialised.
func ConstructRequest(id string, method MethodType, params any) ([]byte, error) {
	p, err := types.NullableAnyFrom(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  p,
	})
}

// ConstructSuccessResponse creates an encoded success response line.
func ConstructSuccessResponse(id string, result any) ([]byte, error) {
	r, err := types.NullableAnyFrom(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Response{
		JSONRPC: Version,
		ID:      id,
		Result:  &r,
	})
}

// ConstructErrorResponse creates an encoded error response line.
func ConstructErrorResponse(id string, code int, message string, data any) ([]byte, error) {
	return json.Marshal(Response{
		JSONRPC: Version,
		ID:      id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// Message is the result of parsing one line off the channel. Exactly one of
// Request or Response is non-nil.
type Message struct {
	Request  *Request
	Response *Response
}

// probe is the minimal shape needed to classify and validate a line.
type probe struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      *string            `json:"id"`
	Method  *string            `json:"method"`
	Result  stdjson.RawMessage `json:"result"`
	Error   *ErrorObject       `json:"error"`
}

// ParseMessage parses a single line into a request or a response. It enforces
// the protocol invariants: version 2.0, a string id, and for responses
// exactly one of result or error. A failure here is a parse-error diagnostic;
// the channel itself stays usable.
func ParseMessage(line []byte) (*Message, error) {
	var p probe
	if err := stdjson.Unmarshal(line, &p); err != nil {
		return nil, fmt.Errorf("malformed JSON-RPC message: %w", err)
	}
	if p.JSONRPC != Version {
		return nil, errors.New("invalid JSON-RPC version")
	}
	if p.ID == nil || *p.ID == "" {
		return nil, errors.New("message id must be a non-empty string")
	}

	if p.Method != nil {
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("malformed JSON-RPC request: %w", err)
		}
		if req.Method == "" {
			return nil, errors.New("request method must be a non-empty string")
		}
		return &Message{Request: &req}, nil
	}

	if p.Result == nil && p.Error == nil {
		return nil, errors.New("message must be a request or a response")
	}
	if p.Result != nil && p.Error != nil {
		return nil, errors.New("response must have either result or error, not both")
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed JSON-RPC response: %w", err)
	}
	if resp.Result == nil && resp.Error == nil {
		// "result": null decodes the pointer to nil; restore an explicit
		// null value so callers can rely on Result for success responses
		resp.Result = &types.NullableAny{}
	}
	return &Message{Response: &resp}, nil
}
