package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const instructions = "Marketplace tools for AI agents. Search and inspect products, " +
	"and with a read_write API key place orders paid from the key owner's Nostr identity. " +
	"Every tool result carries _meta.responseTimeMs and _meta.dataSource " +
	"(\"live\" from the marketplace or \"cached_db\" from the gateway's snapshot)."

// newSessionServer creates the protocol server for one session with every
// tool and resource registered. Tool handlers read the session's key and
// collaborators from the request context, never from captured state.
func newSessionServer(name, version string, hooks *server.Hooks) *server.MCPServer {
	srv := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)
	registerTools(srv)
	registerResources(srv)
	return srv
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
		IdempotentHint:  boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
