package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/common/apperrors"
	"github.com/Molefas/trikhub/internal/common/jsruntime"
	"github.com/Molefas/trikhub/internal/gateway/runners"
	"github.com/Molefas/trikhub/internal/gateway/sessionstore"
	"github.com/Molefas/trikhub/internal/gateway/storage"
	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// ExecuteOptions carries per-invocation options.
type ExecuteOptions struct {
	// SessionID resumes an existing session when the trik has sessions
	// enabled. A missing or expired id starts a fresh session.
	SessionID string
}

// transformTimeout bounds a manifest-declared input transform.
const transformTimeout = 100 * time.Millisecond

// Execute runs one action invocation through the gateway state machine:
// validate input, resolve session, dispatch, validate output, then render a
// template or mint a passthrough receipt. Every failure surfaces as a typed
// error result; no errors cross this boundary as exceptions.
func (g *Gateway) Execute(ctx context.Context, trikID, actionName string, input any, opts ExecuteOptions) *api.GatewayResult {
	g.mu.RLock()
	loaded, ok := g.triks[trikID]
	g.mu.RUnlock()
	if !ok {
		return api.ErrorResult(api.ErrorCodeTrikNotFound, fmt.Sprintf("trik %q is not loaded", trikID))
	}

	m := loaded.manifest
	action, ok := m.Actions[actionName]
	if !ok {
		names := make([]string, 0, len(m.Actions))
		for name := range m.Actions {
			names = append(names, name)
		}
		return api.ErrorResult(api.ErrorCodeActionNotFound,
			fmt.Sprintf("action %q not found; available: %s", actionName, strings.Join(names, ", ")))
	}

	// VALIDATE_INPUT
	input, verr := g.prepareInput(ctx, loaded, actionName, action, input)
	if verr != nil {
		return verr
	}

	// RESOLVE_SESSION
	var session *sessionstore.Session
	if m.SessionEnabled() {
		if opts.SessionID != "" {
			session, _ = g.sessions.Get(opts.SessionID)
		}
		if session == nil {
			session = g.sessions.Create(trikID, m.Capabilities.Session)
		}
	}

	inv := &runners.Invocation{
		TrikID:   trikID,
		TrikPath: loaded.path,
		Action:   actionName,
		Input:    input,
		Config:   g.configs.ForTrik(m),
		Timeout:  time.Duration(m.Limits.MaxExecutionTimeMs) * time.Millisecond,
	}
	if session != nil {
		inv.Session = session.Context()
	}
	if m.StorageEnabled() {
		inv.Storage = g.storage.ForTrik(trikID, m.Capabilities.Storage)
	}

	// DISPATCH
	output, derr := g.dispatch(ctx, loaded, inv)
	if derr != nil {
		return dispatchErrorResult(derr)
	}

	// Clarification bypasses output validation: the trik is asking the user
	// a question, not producing data.
	if output.NeedsClarification {
		if g.config.OnClarificationNeeded != nil {
			g.config.OnClarificationNeeded(trikID, output.ClarificationQuestions)
		}
		result := api.ClarificationResult(output.ClarificationQuestions)
		if session != nil {
			result.SessionID = session.SessionID
		}
		return result
	}

	// VALIDATE_OUTPUT and channel split
	effectiveMode := output.ResponseMode
	if effectiveMode == "" {
		effectiveMode = action.ResponseMode
	}

	var result *api.GatewayResult
	switch effectiveMode {
	case api.ResponseModePassthrough:
		result = g.finishPassthrough(trikID, actionName, action, output)
	default:
		result = g.finishTemplate(trikID, actionName, action, output)
	}
	if !result.Success {
		return result
	}

	// Side effects only after the failure point: history is appended and
	// endSession honoured only for successful invocations.
	if session != nil {
		// history entries are normalised to decoded-JSON types so skill code
		// sees the same shapes regardless of runtime
		entry := api.SessionHistoryEntry{
			Timestamp: time.Now().UnixMilli(),
			Action:    actionName,
			Input:     toJSONValue(input),
		}
		if effectiveMode == api.ResponseModeTemplate {
			entry.AgentData = toJSONValue(output.AgentData)
		}
		g.sessions.AppendHistory(session.SessionID, entry)

		if output.EndSession {
			g.sessions.Delete(session.SessionID)
		} else {
			result.SessionID = session.SessionID
		}
	}
	return result
}

// prepareInput applies the action's input transform (when declared) and
// validates the result against the input schema.
func (g *Gateway) prepareInput(ctx context.Context, loaded *loadedTrik, actionName string, action *manifest.Action, input any) (any, *api.GatewayResult) {
	if fn, ok := loaded.transforms[actionName]; ok {
		inputMap, isMap := toJSONValue(input).(map[string]any)
		if !isMap {
			return nil, api.ErrorResult(api.ErrorCodeInvalidParams, "input must be an object")
		}
		transformed, terr := fn.Run(ctx, inputMap, jsruntime.Options{Timeout: transformTimeout})
		if terr != nil {
			return nil, api.ErrorResult(api.ErrorCodeInvalidParams, "input transform failed: "+terr.Error())
		}
		input = transformed
	}

	schemaID := loaded.manifest.ID + ":" + actionName + ":input"
	if issues := g.validator.Validate(schemaID, action.InputSchema, toJSONValue(input)); len(issues) > 0 {
		return nil, api.ErrorResult(api.ErrorCodeInvalidParams, "invalid input: "+joinIssues(issues))
	}
	return input, nil
}

// dispatch routes the invocation to the in-process runner or the runtime's
// worker.
func (g *Gateway) dispatch(ctx context.Context, loaded *loadedTrik, inv *runners.Invocation) (*api.SkillOutput, apperrors.Error) {
	if loaded.runtime == manifest.HostRuntime {
		return g.inproc.InvokeGraph(ctx, loaded.graph, inv)
	}

	worker, werr := g.workerFor(loaded.runtime)
	if werr != nil {
		return nil, werr
	}
	return worker.Invoke(ctx, inv)
}

// finishPassthrough validates user content and mints the receipt reference.
// The content itself never appears in the returned result.
func (g *Gateway) finishPassthrough(trikID, actionName string, action *manifest.Action, output *api.SkillOutput) *api.GatewayResult {
	if output.UserContent == nil {
		return api.ErrorResult(api.ErrorCodeSchemaValidationFailed, "passthrough mode requires userContent")
	}

	if len(action.UserContentSchema) > 0 {
		schemaID := trikID + ":" + actionName + ":userContent"
		if issues := g.validator.Validate(schemaID, action.UserContentSchema, toJSONValue(output.UserContent)); len(issues) > 0 {
			// the content is discarded, never stored
			return api.ErrorResult(api.ErrorCodeSchemaValidationFailed, "invalid userContent: "+joinIssues(issues))
		}
	}

	ref := g.contents.Put(trikID, actionName, *output.UserContent)
	return api.PassthroughResult(ref, output.UserContent.ContentType, output.UserContent.Metadata)
}

// finishTemplate validates agent data and renders the selected template.
func (g *Gateway) finishTemplate(trikID, actionName string, action *manifest.Action, output *api.SkillOutput) *api.GatewayResult {
	if output.AgentData == nil {
		return api.ErrorResult(api.ErrorCodeSchemaValidationFailed, "template mode requires agentData")
	}

	agentData, ok := toJSONValue(output.AgentData).(map[string]any)
	if !ok {
		return api.ErrorResult(api.ErrorCodeSchemaValidationFailed, "agentData must be an object")
	}

	if len(action.AgentDataSchema) > 0 {
		schemaID := trikID + ":" + actionName + ":agentData"
		if issues := g.validator.Validate(schemaID, action.AgentDataSchema, agentData); len(issues) > 0 {
			return api.ErrorResult(api.ErrorCodeSchemaValidationFailed, "invalid agentData: "+joinIssues(issues))
		}
	}

	tpl, found := selectTemplate(action, agentData)
	if !found {
		return api.ErrorResult(api.ErrorCodeInternalError,
			fmt.Sprintf("no response template resolvable for action %q", actionName))
	}

	return api.TemplateResult(agentData, renderTemplate(tpl.Text, agentData))
}

// dispatchErrorResult maps runner errors to the gateway error taxonomy.
func dispatchErrorResult(err apperrors.Error) *api.GatewayResult {
	switch {
	case errors.Is(err, runners.ErrExecutionTimeout):
		return api.ErrorResult(api.ErrorCodeExecutionTimeout, err.Error())
	case errors.Is(err, runners.ErrTrikNotFound):
		return api.ErrorResult(api.ErrorCodeTrikNotFound, err.Error())
	case errors.Is(err, runners.ErrActionNotFound):
		return api.ErrorResult(api.ErrorCodeActionNotFound, err.Error())
	case errors.Is(err, runners.ErrWorkerNotReady):
		return api.ErrorResult(api.ErrorCodeWorkerNotReady, err.Error())
	case errors.Is(err, runners.ErrChannelTerminated):
		return api.ErrorResult(api.ErrorCodeExecutionTimeout, "worker channel terminated: "+err.Error())
	case errors.Is(err, storage.ErrStorage):
		return api.ErrorResult(api.ErrorCodeStorageError, err.Error())
	default:
		log.Error().Err(err).Msg("dispatch failed")
		return api.ErrorResult(api.ErrorCodeInternalError, err.Error())
	}
}

// toJSONValue round-trips a value through JSON so schema validation always
// sees decoded-JSON types, regardless of whether the value came off the wire
// or from in-process Go code.
func toJSONValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func joinIssues(issues []manifest.Issue) string {
	msgs := make([]string, 0, len(issues))
	for _, issue := range issues {
		msgs = append(msgs, issue.String())
	}
	return strings.Join(msgs, "; ")
}
