package mcp

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultMaxToolOutputLength caps tool output handed back to callers.
const DefaultMaxToolOutputLength = 50000

// ToolCallback is the callable surface a connected MCP server exposes per
// tool. Call returns the flattened text output, truncated to the configured
// limit with a [TRUNCATED: ...] marker.
type ToolCallback struct {
	Name        string
	Description string
	InputSchema any
	ServerName  string
	Call        func(ctx context.Context, args map[string]any) (string, error)
}

// flattenResult joins the text content blocks of a tool result. A result
// flagged IsError becomes an error string instead of output.
func flattenResult(result *mcpsdk.CallToolResult) (string, error) {
	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool error: %s", sb.String())
	}
	return sb.String(), nil
}

// truncateToolOutput cuts content to maxChars at the last line boundary
// before the limit, avoiding mid-line splits in JSON or log output, and
// appends a trailing marker. Multi-byte UTF-8 characters are never split.
func truncateToolOutput(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: tool output exceeded limit. Original size: %d chars, limit: %d chars]",
		len(content), maxChars,
	)
}
