package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/gateway"
	"github.com/Molefas/trikhub/internal/gateway/versions"
)

// NewMCPServer exposes the gateway's tool surface over the Model Context
// Protocol. Template results surface their rendered text; passthrough
// results surface only the receipt reference, preserving passthrough opacity
// for MCP clients too.
func NewMCPServer(g *gateway.Gateway) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"trikhub-gateway",
		versions.Version,
		mcpserver.WithToolCapabilities(true),
	)

	for _, tool := range g.GetToolDefinitions() {
		srv.AddTool(mcp.Tool{
			Name:           tool.Name,
			Description:    tool.Description,
			RawInputSchema: tool.InputSchema,
		}, mcpToolHandler(g, tool.Name))
	}
	return srv
}

func mcpToolHandler(g *gateway.Gateway, toolName string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		trikID, action, ok := gateway.ResolveTool(toolName)
		if !ok {
			return mcpErrorResult("invalid tool name: " + toolName), nil
		}

		input, _ := req.Params.Arguments.(map[string]any)
		result := g.Execute(ctx, trikID, action, input, gateway.ExecuteOptions{})
		if !result.Success {
			return mcpErrorResult(fmt.Sprintf("%s: %s", result.Code, result.Error)), nil
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("cannot encode mcp tool result")
			return mcpErrorResult("cannot encode result"), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{Type: "text", Text: string(encoded)},
			},
		}, nil
	}
}

func mcpErrorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}

// MountMCP attaches the MCP message endpoint to the facade's router.
func (s *Server) MountMCP() {
	srv := NewMCPServer(s.gateway)
	s.Router.Post("/api/v1/mcp", func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "invalid JSON"}`)
			return
		}
		resp := srv.HandleMessage(r.Context(), raw)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
