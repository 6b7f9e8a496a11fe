// Package mcp exposes the operator commands as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"

	mcpapi "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fpt/framebridge/internal/bridge"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

// Dispatcher runs operator commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req bridge.Request) bridge.Response
}

type toolSpec struct {
	name        string
	action      string
	description string
}

var toolSpecs = []toolSpec{
	{"get_stats", bridge.ActionGetStats, "Ask the embedded worker for its statistics. Fails with iframe not found when no target frame is claimed."},
	{"toggle", bridge.ActionToggle, "Flip the cleaner on or off and forward the new state to the embedded worker."},
	{"hide_now", bridge.ActionHideNow, "Ask the embedded worker to hide matching elements immediately and report how many it hid."},
	{"get_debug_info", bridge.ActionGetDebugInfo, "Report the target frame, detector settings, last search outcome and injection state."},
	{"rediscover", bridge.ActionRediscover, "Drop the current target frame and search for it again."},
}

// Server is an MCP server whose tools forward to a Dispatcher.
type Server struct {
	mcp    *server.MCPServer
	logger *pkgLogger.Logger
}

// NewServer registers one tool per operator command.
func NewServer(name, version string, d Dispatcher, logger *pkgLogger.Logger) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(name, version, server.WithToolCapabilities(false), server.WithRecovery()),
		logger: logger.WithComponent("mcp"),
	}
	for _, spec := range toolSpecs {
		s.mcp.AddTool(mcpapi.NewTool(spec.name, mcpapi.WithDescription(spec.description)), s.handler(d, spec))
	}
	return s
}

// ToolNames lists the registered tool names.
func ToolNames() []string {
	names := make([]string, len(toolSpecs))
	for i, spec := range toolSpecs {
		names[i] = spec.name
	}
	return names
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "MCP server ready on stdio", "tools", ToolNames())
	return server.ServeStdio(s.mcp)
}

func (s *Server) handler(d Dispatcher, spec toolSpec) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpapi.CallToolRequest) (*mcpapi.CallToolResult, error) {
		resp := d.Dispatch(ctx, bridge.Request{Action: spec.action})
		data, err := json.Marshal(resp)
		if err != nil {
			return mcpapi.NewToolResultError(err.Error()), nil
		}
		s.logger.DebugWithIntention(pkgLogger.IntentionCommand, "MCP tool called", "tool", spec.name, "success", resp.Success)
		return mcpapi.NewToolResultText(string(data)), nil
	}
}
