// Package mcpserver exposes the gateway's guarded shell execution as MCP
// tools, so MCP-speaking hosts get the same pipeline the WebSocket RPC
// surface enforces.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/clawgate/internal/hooks"
	"github.com/nextlevelbuilder/clawgate/internal/runner"
	"github.com/nextlevelbuilder/clawgate/internal/security"
)

// Deps are the MCP surface's collaborators.
type Deps struct {
	Exec       *runner.GuardedExec
	Classifier *security.Classifier
}

// New builds the MCP server with the shell and classify tools registered.
func New(version string, deps Deps) *server.MCPServer {
	s := server.NewMCPServer("clawgate", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	shellTool := mcp.NewTool("shell",
		mcp.WithDescription("Run a shell command through the security pipeline in the caller's sandbox."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line to execute")),
		mcp.WithString("user_id", mcp.Description("Caller identity for policy, audit and sandbox scoping")),
		mcp.WithString("channel_id", mcp.Description("Originating channel, if any")),
	)
	s.AddTool(shellTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		call := hooks.CallContext{
			UserID:    req.GetString("user_id", "unknown"),
			ChannelID: req.GetString("channel_id", ""),
		}

		out, err := deps.Exec.Run(ctx, call, command)
		var blocked runner.ErrBlocked
		switch {
		case errors.As(err, &blocked):
			return mcp.NewToolResultError(blocked.Reason), nil
		case err != nil:
			slog.Warn("mcp.shell.failed", "user_id", call.UserID, "error", err)
			if out != "" {
				return mcp.NewToolResultError(out + "\n" + err.Error()), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	})

	classifyTool := mcp.NewTool("classify_command",
		mcp.WithDescription("Classify a shell command into its security tier without executing it."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line to classify")),
	)
	s.AddTool(classifyTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cls := deps.Classifier.Classify(command)
		b, err := json.Marshal(cls)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	})

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
