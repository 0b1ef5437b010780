package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNewRequest_Encoding(t *testing.T) {
	req := NewRequest(7, MethodToolsList, ListParams{Cursor: "abc"})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
	}
	if decoded["method"] != MethodToolsList {
		t.Errorf("method = %v, want %s", decoded["method"], MethodToolsList)
	}
	params, ok := decoded["params"].(map[string]any)
	if !ok {
		t.Fatalf("params missing or wrong type: %v", decoded["params"])
	}
	if params["cursor"] != "abc" {
		t.Errorf("cursor = %v, want abc", params["cursor"])
	}
}

func TestNewRequest_OmitsNilParams(t *testing.T) {
	req := NewRequest(1, MethodPromptsList, nil)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["params"]; present {
		t.Error("params should be omitted when nil")
	}
}

func TestResponse_IsResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"result", `{"jsonrpc":"2.0","id":1,"result":{}}`, true},
		{"error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, true},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/progress"}`, false},
		{"request", `{"jsonrpc":"2.0","id":2,"method":"sampling/createMessage"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			if err := json.Unmarshal([]byte(tt.raw), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := resp.IsResponse(); got != tt.want {
				t.Errorf("IsResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMethodNotFound(t *testing.T) {
	notFound := &RPCError{Code: CodeMethodNotFound, Message: "Method not found"}
	if !IsMethodNotFound(notFound) {
		t.Error("direct -32601 not recognized")
	}
	if !IsMethodNotFound(fmt.Errorf("call prompts/list: %w", notFound)) {
		t.Error("wrapped -32601 not recognized")
	}
	if IsMethodNotFound(&RPCError{Code: -32602, Message: "Invalid params"}) {
		t.Error("-32602 misclassified as method-not-found")
	}
	if IsMethodNotFound(errors.New("plain error")) {
		t.Error("plain error misclassified")
	}
}

func TestListResult_NextCursor(t *testing.T) {
	raw := `{"tools":[{"name":"read"}],"nextCursor":"page2"}`
	var res ListResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0]["name"] != "read" {
		t.Errorf("tools = %v", res.Tools)
	}
	if res.NextCursor != "page2" {
		t.Errorf("nextCursor = %q, want page2", res.NextCursor)
	}
}
