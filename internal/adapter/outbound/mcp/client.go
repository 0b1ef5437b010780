// Package mcp provides the HTTP client used to interrogate upstream MCP
// servers over the Streamable HTTP transport.
package mcp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/mcp-warden/pkg/mcp"
)

const (
	// maxResponseBodySize caps the response body read from an upstream.
	// Prevents OOM from a malicious upstream sending unbounded responses.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	defaultTimeout = 30 * time.Second
)

// UpstreamError reports a transport-level failure talking to an upstream:
// a connection error or a non-2xx HTTP status.
type UpstreamError struct {
	Status int // 0 when the request never got a response
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream returned http %d", e.Status)
	}
	return "upstream unreachable: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client issues single JSON-RPC calls to an upstream MCP endpoint. Request
// ids are drawn from a process-wide monotonic counter so concurrent checks
// against different upstreams never reuse an id.
type Client struct {
	httpClient *http.Client
	sessionID  atomic.Value // string
}

var requestID atomic.Int64

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, used by tests and by
// callers that need custom transport settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient returns a client with sane transport defaults: 30s timeout,
// TLS 1.2 minimum, bounded idle connections.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends one JSON-RPC request to endpoint and decodes result into out
// (which may be nil when the caller ignores the result). A JSON-RPC error
// object from the upstream is returned as *mcp.RPCError; transport failures
// as *UpstreamError; malformed bodies as *mcp.ProtocolError.
func (c *Client) Call(ctx context.Context, endpoint, method string, params, out any) error {
	req := mcp.NewRequest(requestID.Add(1), method, params)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("MCP-Protocol-Version", mcp.ProtocolVersion)
	if sid, _ := c.sessionID.Load().(string); sid != "" {
		httpReq.Header.Set("Mcp-Session-Id", sid)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &UpstreamError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.sessionID.Store(sid)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &UpstreamError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	var envelope *mcp.Response
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		envelope, err = responseFromStream(respBody)
	default:
		envelope, err = responseFromJSON(respBody)
	}
	if err != nil {
		return err
	}

	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &mcp.ProtocolError{Reason: "result does not match expected shape: " + err.Error()}
		}
	}
	return nil
}

func responseFromJSON(body []byte) (*mcp.Response, error) {
	var envelope mcp.Response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &mcp.ProtocolError{Reason: "invalid JSON body: " + err.Error()}
	}
	if envelope.JSONRPC != "2.0" {
		return nil, &mcp.ProtocolError{Reason: "missing jsonrpc 2.0 envelope"}
	}
	if !envelope.IsResponse() {
		return nil, &mcp.ProtocolError{Reason: "envelope carries neither result nor error"}
	}
	return &envelope, nil
}

// responseFromStream extracts the JSON-RPC response from an SSE body.
// Events are framed on blank lines; the data of an event is the
// concatenation of its "data:" lines joined with "\n". Events that decode
// to notifications or server-initiated requests are skipped.
func responseFromStream(body []byte) (*mcp.Response, error) {
	for _, event := range bytes.Split(body, []byte("\n\n")) {
		data := eventData(event)
		if len(data) == 0 {
			continue
		}
		var envelope mcp.Response
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if envelope.JSONRPC != "2.0" || !envelope.IsResponse() {
			continue
		}
		return &envelope, nil
	}
	return nil, &mcp.ProtocolError{Reason: "event stream ended without a response"}
}

func eventData(event []byte) []byte {
	var parts [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		rest, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		parts = append(parts, bytes.TrimPrefix(rest, []byte(" ")))
	}
	return bytes.Join(parts, []byte("\n"))
}
