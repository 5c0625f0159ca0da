package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ErrUnsupportedTransport is returned for transport types the manager cannot
// open. HTTP server definitions are accepted but not connectable yet.
var ErrUnsupportedTransport = errors.New("unsupported transport")

// buildTransport creates an MCP SDK transport from the server definition.
func buildTransport(server *models.McpServer, timeout time.Duration) (mcpsdk.Transport, error) {
	switch server.Transport {
	case models.TransportStdio:
		return buildStdioTransport(server)
	case models.TransportSSE:
		return buildSSETransport(server, timeout)
	case models.TransportHTTP:
		return nil, fmt.Errorf("%w: HTTP transport is not supported for server %q", ErrUnsupportedTransport, server.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, server.Transport)
	}
}

func buildStdioTransport(server *models.McpServer) (*mcpsdk.CommandTransport, error) {
	command := server.Command()
	if command == "" {
		return nil, fmt.Errorf("stdio transport requires config[\"command\"] for server %q", server.Name)
	}
	// Path-like commands must exist on disk before we try to spawn them.
	// Bare names resolve through PATH at spawn time.
	if strings.Contains(command, "/") {
		if _, err := os.Stat(command); err != nil {
			return nil, fmt.Errorf("stdio command %q for server %q: %w", command, server.Name, err)
		}
	}
	cmd := exec.Command(command, server.Args()...)
	cmd.Env = os.Environ()
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func buildSSETransport(server *models.McpServer, timeout time.Duration) (*mcpsdk.SSEClientTransport, error) {
	endpoint := server.URL()
	if endpoint == "" {
		return nil, fmt.Errorf("SSE transport requires config[\"url\"] for server %q", server.Name)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("SSE url for server %q: %w", server.Name, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("SSE url for server %q must be an absolute http/https URL, got %q", server.Name, endpoint)
	}
	transport := &mcpsdk.SSEClientTransport{Endpoint: endpoint}
	if timeout > 0 {
		transport.HTTPClient = &http.Client{Timeout: timeout}
	}
	return transport, nil
}
