package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Data sources reported in _meta.dataSource.
const (
	sourceLive  = "live"
	sourceCache = "cached_db"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

type toolMeta struct {
	ResponseTimeMs int64  `json:"responseTimeMs"`
	DataSource     string `json:"dataSource"`
}

func metaSince(start time.Time, source string) toolMeta {
	return toolMeta{ResponseTimeMs: time.Since(start).Milliseconds(), DataSource: source}
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// successWithMeta adds _meta to payload and returns it as a tool result.
func successWithMeta(payload map[string]any, start time.Time, source string) (*mcp.CallToolResult, error) {
	payload["_meta"] = metaSince(start, source)
	return successJSON(payload)
}

// errorWithMeta returns {error, details, _meta} as a tool result flagged
// isError. The session stays usable and the caller can correct itself.
func errorWithMeta(message, details string, start time.Time, source string) (*mcp.CallToolResult, error) {
	payload := struct {
		Error   string   `json:"error"`
		Details string   `json:"details,omitempty"`
		Meta    toolMeta `json:"_meta"`
	}{message, details, metaSince(start, source)}

	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error: %w", err)
	}
	return mcp.NewToolResultError(string(b)), nil
}

// toolError returns a plain tool-level error result for argument problems.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
