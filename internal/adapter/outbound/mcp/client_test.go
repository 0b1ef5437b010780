package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wardenlabs/mcp-warden/pkg/mcp"
)

func TestCall_JSONResponse(t *testing.T) {
	var gotMethod string
	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("MCP-Protocol-Version")
		var req mcp.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotMethod = req.Method
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", "sess-1")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"read"}]}}`))
	}))
	defer srv.Close()

	c := NewClient()
	var res mcp.ListResult
	if err := c.Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, &res); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotMethod != mcp.MethodToolsList {
		t.Errorf("upstream saw method %q", gotMethod)
	}
	if gotVersion != mcp.ProtocolVersion {
		t.Errorf("protocol version header = %q", gotVersion)
	}
	if len(res.Tools) != 1 || res.Tools[0]["name"] != "read" {
		t.Errorf("tools = %v", res.Tools)
	}
	if sid, _ := c.sessionID.Load().(string); sid != "sess-1" {
		t.Errorf("session id = %q, want sess-1", sid)
	}
}

func TestCall_SessionIDEchoedBack(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Mcp-Session-Id", "sess-9")
		} else if got := r.Header.Get("Mcp-Session-Id"); got != "sess-9" {
			t.Errorf("second call session id = %q, want sess-9", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	c := NewClient()
	for i := 0; i < 2; i++ {
		if err := c.Call(t.Context(), srv.URL, mcp.MethodInitialize, nil, nil); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
}

func TestCall_SSEResponse(t *testing.T) {
	// The stream interleaves a notification and a server-initiated request
	// before the actual response; multi-line data must be rejoined with \n.
	body := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":99,\"method\":\"sampling/createMessage\"}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":1,\n" +
		"data: \"result\":{\"prompts\":[{\"name\":\"sum\"}]}}\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	var res mcp.ListResult
	if err := NewClient().Call(t.Context(), srv.URL, mcp.MethodPromptsList, nil, &res); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res.Prompts) != 1 || res.Prompts[0]["name"] != "sum" {
		t.Errorf("prompts = %v", res.Prompts)
	}
}

func TestCall_SSEWithoutResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n"))
	}))
	defer srv.Close()

	err := NewClient().Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, nil)
	var protoErr *mcp.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

func TestCall_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
	}))
	defer srv.Close()

	err := NewClient().Call(t.Context(), srv.URL, mcp.MethodPromptsList, nil, nil)
	if !mcp.IsMethodNotFound(err) {
		t.Fatalf("err = %v, want method-not-found", err)
	}
}

func TestCall_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient().Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, nil)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if upErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", upErr.Status)
	}
}

func TestCall_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := NewClient().Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, nil)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if upErr.Status != 0 {
		t.Errorf("status = %d, want 0 for connection failure", upErr.Status)
	}
}

func TestCall_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	err := NewClient().Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, nil)
	var protoErr *mcp.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

func TestCall_EnvelopeWithoutResultOrError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1}`))
	}))
	defer srv.Close()

	c := NewClient()

	// Callers that ignore the result (initialize) must still see the
	// failure; an empty envelope is not a successful empty surface.
	err := c.Call(t.Context(), srv.URL, mcp.MethodInitialize, nil, nil)
	var protoErr *mcp.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("out=nil: err = %v, want ProtocolError", err)
	}

	var res mcp.ListResult
	err = c.Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, &res)
	if !errors.As(err, &protoErr) {
		t.Fatalf("out set: err = %v, want ProtocolError", err)
	}
	if len(res.Tools) != 0 {
		t.Errorf("tools = %v, want none decoded", res.Tools)
	}
}

func TestCall_RequestIDsMonotonic(t *testing.T) {
	var ids []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.Request
		json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	c := NewClient()
	for i := 0; i < 3; i++ {
		if err := c.Call(t.Context(), srv.URL, mcp.MethodToolsList, nil, nil); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not increasing: %v", ids)
		}
	}
}
