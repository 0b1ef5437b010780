// Package service contains the application services: capability
// snapshotting, scheduled checks, route polling, and admin operations.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenlabs/mcp-warden/internal/domain/catalog"
	"github.com/wardenlabs/mcp-warden/internal/port/outbound"
	"github.com/wardenlabs/mcp-warden/pkg/fingerprint"
	"github.com/wardenlabs/mcp-warden/pkg/mcp"
)

// maxListPages bounds the pagination walk so a misbehaving upstream that
// returns cursors forever cannot wedge a check.
const maxListPages = 1000

// Snapshotter captures the capability surface of an upstream MCP server
// and reduces it to a canonical fingerprint.
type Snapshotter struct {
	caller outbound.MCPCaller
	logger *slog.Logger
	tracer trace.Tracer
	opts   []fingerprint.Option
}

// NewSnapshotter builds a snapshotter. fpOpts are forwarded to
// fingerprint.Compute on every capture.
func NewSnapshotter(caller outbound.MCPCaller, logger *slog.Logger, fpOpts ...fingerprint.Option) *Snapshotter {
	return &Snapshotter{
		caller: caller,
		logger: logger,
		tracer: otel.Tracer("mcp-warden/snapshotter"),
		opts:   fpOpts,
	}
}

// Snapshot performs the full capture sequence against endpoint: the
// initialize handshake, then the four capability list walks. An upstream
// answering a list method with Method-not-found contributes an empty family;
// resource templates additionally tolerate any error, since servers commonly
// omit that method without signalling -32601. Transport failures on the
// handshake or on tools, resources, or prompts abort the snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context, endpoint string) (*catalog.SnapshotResult, error) {
	ctx, span := s.tracer.Start(ctx, "snapshot",
		trace.WithAttributes(attribute.String("upstream.endpoint", endpoint)))
	defer span.End()

	if err := s.initialize(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	tools, err := s.listFamily(ctx, endpoint, mcp.MethodToolsList)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	resources, err := s.listFamily(ctx, endpoint, mcp.MethodResourcesList)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	templates := s.listTemplates(ctx, endpoint)
	prompts, err := s.listFamily(ctx, endpoint, mcp.MethodPromptsList)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}

	canonical, hash, err := fingerprint.Compute(tools, resources, templates, prompts, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	span.SetAttributes(attribute.String("snapshot.hash", hash))

	return &catalog.SnapshotResult{
		CanonicalJSON:     canonical,
		Hash:              hash,
		Tools:             tools,
		Resources:         resources,
		ResourceTemplates: templates,
		Prompts:           prompts,
	}, nil
}

func (s *Snapshotter) initialize(ctx context.Context, endpoint string) error {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo:      mcp.ClientInfo{Name: "mcp-warden", Version: "1.0"},
	}
	return s.caller.Call(ctx, endpoint, mcp.MethodInitialize, params, nil)
}

// listFamily walks one paginated list method to exhaustion. Method-not-found
// means the upstream does not implement the family; the family is empty.
func (s *Snapshotter) listFamily(ctx context.Context, endpoint, method string) ([]map[string]any, error) {
	var items []map[string]any
	cursor := ""
	for page := 0; page < maxListPages; page++ {
		var params any
		if cursor != "" {
			params = mcp.ListParams{Cursor: cursor}
		}
		var res mcp.ListResult
		if err := s.caller.Call(ctx, endpoint, method, params, &res); err != nil {
			if mcp.IsMethodNotFound(err) {
				return []map[string]any{}, nil
			}
			return nil, err
		}
		items = append(items, familyItems(method, &res)...)
		if res.NextCursor == "" {
			return items, nil
		}
		cursor = res.NextCursor
	}
	return nil, &mcp.ProtocolError{Reason: "pagination did not terminate for " + method}
}

// listTemplates fetches resource templates with a single call. Any failure
// yields an empty family; older servers answer this method with arbitrary
// errors rather than -32601.
func (s *Snapshotter) listTemplates(ctx context.Context, endpoint string) []map[string]any {
	var res mcp.ListResult
	if err := s.caller.Call(ctx, endpoint, mcp.MethodResourceTemplatesList, nil, &res); err != nil {
		s.logger.Debug("resource templates unavailable", "endpoint", endpoint, "error", err)
		return []map[string]any{}
	}
	if res.ResourceTemplates == nil {
		return []map[string]any{}
	}
	return res.ResourceTemplates
}

func familyItems(method string, res *mcp.ListResult) []map[string]any {
	switch method {
	case mcp.MethodToolsList:
		return res.Tools
	case mcp.MethodResourcesList:
		return res.Resources
	case mcp.MethodPromptsList:
		return res.Prompts
	}
	return nil
}
