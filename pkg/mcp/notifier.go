package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// RunNotifier pushes notifications about a run to the session driving it.
type RunNotifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements RunNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the MCP server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session that owns the run.
// Best-effort: returns nil if no session is registered.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil // caller not connected, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send — not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
