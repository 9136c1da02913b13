package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"triage-ai/internal/domain"
	"triage-ai/internal/infra/config"
	"triage-ai/internal/infra/tracer"
)

// defaultCallTimeout bounds a single MCP tool call when no timeout is configured.
const defaultCallTimeout = 2000 * time.Second

// MCPBridge manages connections to MCP servers and exposes their tools as domain.Tool instances.
// The tool list is discovered once at construction.
type MCPBridge struct {
	servers []mcpServerConn
	tools   []domain.Tool
	logger  *slog.Logger

	callTimeout time.Duration
	limiter     *rate.Limiter
	dial        dialFunc

	closeOnce sync.Once
	closeErr  error
}

type mcpServerConn struct {
	name   string
	prefix bool
	client mcpClient
}

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

type dialFunc func(ctx context.Context, srv config.MCPServer) (mcpClient, error)

// BridgeOption configures an MCPBridge.
type BridgeOption func(*MCPBridge)

// WithCallTimeout sets the per-call timeout for tool execution.
func WithCallTimeout(d time.Duration) BridgeOption {
	return func(b *MCPBridge) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithCallLimiter throttles tool calls across all servers.
func WithCallLimiter(l *rate.Limiter) BridgeOption {
	return func(b *MCPBridge) { b.limiter = l }
}

// NewMCPBridge connects to all configured MCP servers, discovers their tools
// and wraps them. Any failure closes the servers opened so far and returns an
// error wrapping domain.ErrBridgeConnect.
func NewMCPBridge(ctx context.Context, servers []config.MCPServer, logger *slog.Logger, opts ...BridgeOption) (*MCPBridge, error) {
	return newMCPBridge(ctx, servers, dialServer, logger, opts...)
}

func newMCPBridge(ctx context.Context, servers []config.MCPServer, dial dialFunc, logger *slog.Logger, opts ...BridgeOption) (*MCPBridge, error) {
	b := &MCPBridge{
		logger:      logger,
		callTimeout: defaultCallTimeout,
		dial:        dial,
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, srv := range servers {
		c, err := b.dial(ctx, srv)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mcp server %q: %w: %w", srv.Name, domain.ErrBridgeConnect, err)
		}
		b.logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
		b.servers = append(b.servers, mcpServerConn{name: srv.Name, prefix: srv.PrefixTools, client: c})
	}

	if err := b.discoverTools(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("discover tools: %w: %w", domain.ErrBridgeConnect, err)
	}

	return b, nil
}

// newMCPBridgeWithClients creates an MCPBridge with pre-built clients (for testing).
func newMCPBridgeWithClients(ctx context.Context, servers []mcpServerConn, logger *slog.Logger, opts ...BridgeOption) (*MCPBridge, error) {
	b := &MCPBridge{
		servers:     servers,
		logger:      logger,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.discoverTools(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func dialServer(ctx context.Context, srv config.MCPServer) (mcpClient, error) {
	var c mcpClient

	switch srv.Transport {
	case "stdio", "":
		sc, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
		c = sc
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		hc := mcpclient.NewClient(t)
		if err := hc.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = hc
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "triage-ai",
		Version: "1.0.0",
	}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err := ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}
	return c, nil
}

func (b *MCPBridge) discoverTools(ctx context.Context) error {
	seen := make(map[string]string)

	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return fmt.Errorf("%s: %w", srv.name, err)
		}

		for _, t := range result.Tools {
			adapter := newMCPToolAdapter(srv, t, b.callTimeout, b.logger)
			if owner, dup := seen[adapter.Name()]; dup {
				return fmt.Errorf("tool %q from %s collides with %s: %w", adapter.Name(), srv.name, owner, domain.ErrDuplicate)
			}
			seen[adapter.Name()] = srv.name

			b.tools = append(b.tools, WithRateLimit(adapter, b.limiter))
			b.logger.Debug("mcp tool discovered",
				"server", srv.name,
				"tool", t.Name,
				"full_name", adapter.Name())
		}

		b.logger.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
	}
	return nil
}

// Tools returns all discovered MCP tools as domain.Tool instances.
func (b *MCPBridge) Tools() []domain.Tool {
	out := make([]domain.Tool, len(b.tools))
	copy(out, b.tools)
	return out
}

// Close shuts down all MCP server connections. Only the first call has any
// effect; later calls return the first call's result.
func (b *MCPBridge) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		for _, srv := range b.servers {
			if err := srv.client.Close(); err != nil {
				b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", srv.name, err))
			}
		}
		b.closeErr = errors.Join(errs...)
		b.logger.Info("mcp bridge closed", "servers", len(b.servers))
	})
	return b.closeErr
}

// mcpToolAdapter wraps a single MCP tool as a domain.Tool.
type mcpToolAdapter struct {
	serverName string
	client     mcpClient
	mcpTool    mcp.Tool
	fullName   string
	timeout    time.Duration
	logger     *slog.Logger
}

func newMCPToolAdapter(srv mcpServerConn, t mcp.Tool, timeout time.Duration, logger *slog.Logger) *mcpToolAdapter {
	name := sanitizeName(t.Name)
	if srv.prefix {
		name = sanitizeName(srv.name) + "_" + name
	}
	return &mcpToolAdapter{
		serverName: srv.name,
		client:     srv.client,
		mcpTool:    t,
		fullName:   name,
		timeout:    timeout,
		logger:     logger,
	}
}

func (a *mcpToolAdapter) Name() string {
	return a.fullName
}

func (a *mcpToolAdapter) Description() string {
	desc := a.mcpTool.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %q from server %q", a.mcpTool.Name, a.serverName)
	}
	return desc
}

func (a *mcpToolAdapter) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if a.mcpTool.InputSchema.Properties != nil || a.mcpTool.InputSchema.Required != nil {
		if data, err := json.Marshal(a.mcpTool.InputSchema); err == nil {
			params = data
		}
	}

	return domain.ToolSchema{
		Name:        a.fullName,
		Description: a.Description(),
		Parameters:  params,
	}
}

// Execute forwards the call to the MCP server. A transport failure is
// returned as an error wrapping domain.ErrToolFailure; an isError result from
// the server is returned as an error ToolResult.
func (a *mcpToolAdapter) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "mcp.call_tool",
		trace.WithAttributes(
			tracer.StringAttr("mcp.server", a.serverName),
			tracer.StringAttr("mcp.tool", a.mcpTool.Name),
		),
	)
	defer span.End()

	var args map[string]any
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return &domain.ToolResult{
				Content: fmt.Sprintf("invalid arguments: %v", err),
				IsError: true,
			}, nil
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = a.mcpTool.Name
	callReq.Params.Arguments = args

	a.logger.Debug("mcp tool call",
		"server", a.serverName,
		"tool", a.mcpTool.Name,
		"full_name", a.fullName)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	result, err := a.client.CallTool(callCtx, callReq)
	if err != nil {
		tracer.RecordError(span, err)
		a.logger.Error("mcp tool call failed",
			"server", a.serverName,
			"tool", a.mcpTool.Name,
			"duration", time.Since(start),
			"error", err)
		return nil, fmt.Errorf("mcp %s/%s: %w: %w", a.serverName, a.mcpTool.Name, domain.ErrToolFailure, err)
	}

	content := extractMCPContent(result)
	if result.IsError {
		tracer.RecordError(span, errors.New(content))
	} else {
		tracer.SetOK(span)
	}
	a.logger.Info("mcp tool call completed",
		"tool", a.fullName,
		"duration", time.Since(start),
		"is_error", result.IsError)

	return &domain.ToolResult{
		Content: content,
		IsError: result.IsError,
	}, nil
}

// extractMCPContent converts MCP CallToolResult content to a string.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that aren't valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// envSlice converts a map of env vars to KEY=VALUE slices.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
