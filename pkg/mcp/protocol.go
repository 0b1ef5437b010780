// Package mcp provides the JSON-RPC 2.0 message types and MCP protocol
// constants used when talking to upstream MCP servers.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the MCP protocol revision the proxy speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC methods used by the capability snapshotter.
const (
	MethodInitialize            = "initialize"
	MethodToolsList             = "tools/list"
	MethodResourcesList         = "resources/list"
	MethodResourceTemplatesList = "resources/templates/list"
	MethodPromptsList           = "prompts/list"
)

// CodeMethodNotFound is the JSON-RPC error code for an unimplemented method.
// Upstreams that do not support a capability family answer list calls with
// this code; callers treat the family as empty rather than failing.
const CodeMethodNotFound = -32601

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request envelope with the protocol version set.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set on a valid response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsResponse reports whether the envelope carries a result or an error.
// SSE streams interleave server-initiated requests and notifications with
// the actual response; those have neither field.
func (r *Response) IsResponse() bool {
	return r.Result != nil || r.Error != nil
}

// RPCError is a JSON-RPC error object. It implements the error interface so
// upstream errors can be wrapped and inspected with errors.As.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether err is a JSON-RPC "Method not found"
// error from the upstream.
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeMethodNotFound
}

// ProtocolError indicates a response that violates the JSON-RPC or SSE
// framing rules: a non-JSON body, a bad envelope, or a stream that closed
// without carrying a response.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// InitializeParams is the params object for the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

// ClientCapabilities advertises what the snapshotting client supports.
type ClientCapabilities struct {
	Roots    RootsCapability `json:"roots"`
	Sampling struct{}        `json:"sampling"`
}

// RootsCapability signals whether the client emits roots/list_changed.
type RootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ClientInfo identifies the client in the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListParams carries the pagination cursor for the list methods.
// The first page omits the cursor entirely.
type ListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResult is the common shape of the four capability list results.
// Only the field matching the called method is populated by the server;
// NextCursor continues pagination when non-empty.
type ListResult struct {
	Tools             []map[string]any `json:"tools"`
	Resources         []map[string]any `json:"resources"`
	ResourceTemplates []map[string]any `json:"resourceTemplates"`
	Prompts           []map[string]any `json:"prompts"`
	NextCursor        string           `json:"nextCursor"`
}
