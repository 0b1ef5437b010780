// Package outbound defines the outbound port interfaces for talking to
// upstream MCP servers.
package outbound

import "context"

// MCPCaller is the outbound port for issuing JSON-RPC calls to an upstream
// MCP endpoint. The HTTP adapter implements it; tests substitute fakes.
type MCPCaller interface {
	// Call sends one JSON-RPC request and decodes the result into out.
	// out may be nil when the result is irrelevant.
	Call(ctx context.Context, endpoint, method string, params, out any) error
}
