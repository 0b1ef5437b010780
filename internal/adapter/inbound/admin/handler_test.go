package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	mcpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/outbound/mcp"
	"github.com/wardenlabs/mcp-warden/internal/adapter/outbound/sqlite"
	"github.com/wardenlabs/mcp-warden/internal/domain/routes"
	"github.com/wardenlabs/mcp-warden/internal/service"
	"github.com/wardenlabs/mcp-warden/pkg/mcp"
)

const testPassword = "hunter2"

// fakeUpstream serves a minimal MCP server advertising the given tools.
func fakeUpstream(t *testing.T, tools *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("upstream decode: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case mcp.MethodInitialize:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":%q}}`, req.ID, mcp.ProtocolVersion)
		case mcp.MethodToolsList:
			result, _ := json.Marshal(map[string]any{"tools": *tools})
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"Method not found"}}`, req.ID)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T) (*httptest.Server, *routes.Registry) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := routes.NewRegistry()
	metrics := httpadapter.NewMetrics(prometheus.NewRegistry())
	snap := service.NewSnapshotter(mcpadapter.NewClient(), logger)
	adminSvc := service.NewAdminService(store, registry, snap, logger, metrics, "http://proxy:8080", 5)

	api := httptest.NewServer(NewHandler(adminSvc, logger, testPassword).Routes())
	t.Cleanup(api.Close)
	return api, registry
}

func doJSON(t *testing.T, method, url string, body any, auth bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if auth {
		req.SetBasicAuth("admin", testPassword)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createService(t *testing.T, api, upstreamURL, name string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, api+"/api/admin/services", map[string]any{
		"name":                    name,
		"upstream_url":            upstreamURL,
		"check_frequency_minutes": 15,
	}, true)
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("create %s: status %d: %s", name, resp.StatusCode, body)
	}
}

func TestAdminAPI_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodGet, api.URL+"/api/admin/services", nil, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAdminAPI_ServiceLifecycle(t *testing.T) {
	tools := []map[string]any{{"name": "read"}}
	upstream := fakeUpstream(t, &tools)
	api, registry := newTestAPI(t)

	createService(t, api.URL, upstream.URL, "files")

	// The service shows up with its approval baseline.
	resp := doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	svc := decode[map[string]any](t, resp)
	if svc["latest_snapshot_status"] != "user_approved" {
		t.Errorf("latest_snapshot_status = %v", svc["latest_snapshot_status"])
	}
	if hash, _ := svc["latest_approved_hash"].(string); hash == "" {
		t.Error("latest_approved_hash missing")
	}
	if _, ok := registry.UpstreamFor("files"); !ok {
		t.Error("registry does not route the created service")
	}

	// Client config points through the proxy.
	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files/client-config", nil, true)
	cfg := decode[struct {
		Config map[string]map[string]string `json:"config"`
	}](t, resp)
	if cfg.Config["files"]["url"] != "http://proxy:8080/files/mcp" {
		t.Errorf("client config url = %q", cfg.Config["files"]["url"])
	}

	// Delete and verify 404 afterward.
	resp = doJSON(t, http.MethodDelete, api.URL+"/api/admin/services/files", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", resp.StatusCode)
	}
}

func TestAdminAPI_ErrorMapping(t *testing.T) {
	tools := []map[string]any{{"name": "read"}}
	upstream := fakeUpstream(t, &tools)
	api, _ := newTestAPI(t)

	// Bad name: 400.
	resp := doJSON(t, http.MethodPost, api.URL+"/api/admin/services", map[string]any{
		"name": "bad name!", "upstream_url": upstream.URL,
	}, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad name: status %d, want 400", resp.StatusCode)
	}

	// Unreachable upstream: 502.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()
	resp = doJSON(t, http.MethodPost, api.URL+"/api/admin/services", map[string]any{
		"name": "down", "upstream_url": dead.URL,
	}, true)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("unreachable upstream: status %d, want 502", resp.StatusCode)
	}

	// Duplicate: 409.
	createService(t, api.URL, upstream.URL, "files")
	resp = doJSON(t, http.MethodPost, api.URL+"/api/admin/services", map[string]any{
		"name": "files", "upstream_url": upstream.URL,
	}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate: status %d, want 409", resp.StatusCode)
	}

	// Unknown service: 404.
	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/nope/diff", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown service diff: status %d, want 404", resp.StatusCode)
	}
}

func TestAdminAPI_URLChangeApproveDiff(t *testing.T) {
	toolsA := []map[string]any{{"name": "read"}}
	toolsB := []map[string]any{{"name": "read"}, {"name": "erase"}}
	upstreamA := fakeUpstream(t, &toolsA)
	upstreamB := fakeUpstream(t, &toolsB)
	api, registry := newTestAPI(t)

	createService(t, api.URL, upstreamA.URL, "files")

	// URL change disables the service even though the upstream is healthy.
	resp := doJSON(t, http.MethodPatch, api.URL+"/api/admin/services/files", map[string]any{
		"upstream_url": upstreamB.URL,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: status %d", resp.StatusCode)
	}
	svc := decode[map[string]any](t, resp)
	if svc["enabled"] != false {
		t.Error("service still enabled after URL change")
	}
	if _, ok := registry.UpstreamFor("files"); ok {
		t.Error("registry routes a disabled service")
	}

	// The diff shows the new tool pending approval.
	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files/diff", nil, true)
	diff := decode[struct {
		Diff *struct {
			Changed  bool `json:"changed"`
			Families map[string]struct {
				Added []string `json:"added"`
			} `json:"families"`
		} `json:"diff"`
	}](t, resp)
	if diff.Diff == nil || !diff.Diff.Changed {
		t.Fatalf("diff = %+v, want changed", diff.Diff)
	}
	if added := diff.Diff.Families["tools"].Added; len(added) != 1 || added[0] != "erase" {
		t.Errorf("tools added = %v", added)
	}

	// Approve re-enables and routes to the new upstream.
	resp = doJSON(t, http.MethodPost, api.URL+"/api/admin/services/files/approve", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d", resp.StatusCode)
	}
	if got, ok := registry.UpstreamFor("files"); !ok || got != upstreamB.URL {
		t.Errorf("registry after approve = %q, %v", got, ok)
	}

	// Snapshot history: url-change snapshot plus the original baseline.
	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files/snapshots?limit=5", nil, true)
	snaps := decode[[]map[string]any](t, resp)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0]["approved_status"] != "user_approved" {
		t.Errorf("latest snapshot status = %v after approve", snaps[0]["approved_status"])
	}

	// Audit trail recorded the mutations.
	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/audit", nil, true)
	audit := decode[[]map[string]any](t, resp)
	if len(audit) < 3 {
		t.Errorf("audit entries = %d, want create+update+approve", len(audit))
	}
}

func TestAdminAPI_SnapshotEndpoints(t *testing.T) {
	tools := []map[string]any{{"name": "read"}}
	upstream := fakeUpstream(t, &tools)
	api, _ := newTestAPI(t)

	createService(t, api.URL, upstream.URL, "files")

	resp := doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files/snapshots/latest", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest: status %d", resp.StatusCode)
	}
	latest := decode[map[string]any](t, resp)
	if latest["snapshot_json"] == "" {
		t.Error("latest snapshot missing document")
	}

	id := int64(latest["id"].(float64))
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/admin/services/files/snapshots/%d", api.URL, id), nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("by id: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files/snapshots/999", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing snapshot: status %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, api.URL+"/api/admin/services/files/snapshots?limit=zero", nil, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: status %d, want 400", resp.StatusCode)
	}
}
