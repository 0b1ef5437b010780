package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	"github.com/wardenlabs/mcp-warden/internal/domain/routes"
)

func newGateway(t *testing.T, rts []routes.Route) *httptest.Server {
	t.Helper()
	registry := routes.NewRegistry()
	registry.Reload(rts)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(registry, logger, httpadapter.NewMetrics(prometheus.NewRegistry()))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestProxy_ForwardsPost(t *testing.T) {
	var gotBody string
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeader = r.Header.Get("Mcp-Session-Id")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", "sess-7")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer upstream.Close()

	gw := newGateway(t, []routes.Route{{Name: "files", UpstreamURL: upstream.URL, Enabled: true}})

	req, _ := http.NewRequest(http.MethodPost, gw.URL+"/files/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`))
	req.Header.Set("Mcp-Session-Id", "sess-7")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proxy request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gotBody != `{"jsonrpc":"2.0","id":1,"method":"tools/call"}` {
		t.Errorf("upstream body = %q", gotBody)
	}
	if gotHeader != "sess-7" {
		t.Errorf("session header not forwarded: %q", gotHeader)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "sess-7" {
		t.Errorf("response session header = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"jsonrpc":"2.0","id":1,"result":{}}` {
		t.Errorf("body = %q", body)
	}
}

func TestProxy_UnknownService404(t *testing.T) {
	gw := newGateway(t, nil)
	resp, err := http.Post(gw.URL+"/nope/mcp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProxy_DisabledService403(t *testing.T) {
	gw := newGateway(t, []routes.Route{{Name: "files", UpstreamURL: "http://unused", Enabled: false}})
	resp, err := http.Post(gw.URL+"/files/mcp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestProxy_UnreachableUpstream502(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	gw := newGateway(t, []routes.Route{{Name: "files", UpstreamURL: dead.URL, Enabled: true}})
	resp, err := http.Post(gw.URL+"/files/mcp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestProxy_StreamsSSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"))
	}))
	defer upstream.Close()

	gw := newGateway(t, []routes.Route{{Name: "files", UpstreamURL: upstream.URL, Enabled: true}})
	resp, err := http.Post(gw.URL+"/files/mcp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "data: ") {
		t.Errorf("SSE payload altered: %q", body)
	}
}

func TestProxy_GetAndDeleteForwarded(t *testing.T) {
	var methods []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	gw := newGateway(t, []routes.Route{{Name: "files", UpstreamURL: upstream.URL, Enabled: true}})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req, _ := http.NewRequest(method, gw.URL+"/files/mcp", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("%s status = %d, want 202", method, resp.StatusCode)
		}
	}
	if len(methods) != 2 || methods[0] != http.MethodGet || methods[1] != http.MethodDelete {
		t.Errorf("upstream saw methods %v", methods)
	}
}

func TestProxy_StripsHopHeaders(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Keep-Alive")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	gw := newGateway(t, []routes.Route{{Name: "files", UpstreamURL: upstream.URL, Enabled: true}})
	req, _ := http.NewRequest(http.MethodPost, gw.URL+"/files/mcp", strings.NewReader("{}"))
	req.Header.Set("Keep-Alive", "timeout=5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if gotConnection != "" {
		t.Errorf("hop header crossed the proxy: %q", gotConnection)
	}
}
