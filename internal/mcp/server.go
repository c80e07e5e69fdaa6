// Package mcp adapts the gateway to the Model Context Protocol. It owns
// nothing but the tool surface: every decision, dispatch, and record
// happens in the gateway. Policy denials become tool results with
// IsError set; auth and rate-limit failures become protocol errors.
package mcp

import (
	"context"
	"net"
	"net/http"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/buildgate/buildgate/internal/gateway"
)

// Server wraps the MCP SDK server around a gateway.
type Server struct {
	gw        *gateway.Gateway
	mcpServer *mcpsdk.Server
	version   string
}

// New creates an MCP server exposing the gateway's tools.
func New(gw *gateway.Gateway, version string) *Server {
	s := &Server{gw: gw, version: version}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "buildgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// RunStdio serves on stdio transport. Blocks until ctx is cancelled.
// Stdio callers are the local process; the bearer token is read from
// the BUILDGATE_TOKEN environment variable.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport. The caller's address
// and Authorization header travel with the request context into the gate
// chain.
func (s *Server) HTTPHandler() http.Handler {
	inner := mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return s.mcpServer }, nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := WithCaller(r.Context(), Caller{
			IP:         ip,
			AuthHeader: r.Header.Get("Authorization"),
			ClientID:   r.Header.Get("X-Client-ID"),
		})
		inner.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Caller identifies who is invoking a tool and how they authenticated.
type Caller struct {
	IP         string
	AuthHeader string
	ClientID   string
}

type callerKey struct{}

// WithCaller attaches caller identity to the context for tool handlers.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	// No transport metadata means stdio.
	c := Caller{ClientID: "stdio"}
	if token := os.Getenv("BUILDGATE_TOKEN"); token != "" {
		c.AuthHeader = "Bearer " + token
	}
	return c
}

func (s *Server) request(ctx context.Context, inv gateway.Invocation) gateway.Request {
	c := callerFrom(ctx)
	return gateway.Request{
		CallerIP:   c.IP,
		AuthHeader: c.AuthHeader,
		ClientID:   c.ClientID,
		Invocation: inv,
	}
}

// registerTools adds all buildgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "run_command",
		Description: "Execute an allowlisted command on the build host. Denied commands return a validation error with the reason.",
	}, s.handleRunCommand)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "run_script",
		Description: "Run a script from an approved directory, optionally with an argument string.",
	}, s.handleRunScript)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "run_remote",
		Description: "Run an allowlisted command on a remote build agent over SSH.",
	}, s.handleRunRemote)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "check_policy",
		Description: "Check whether a command, path, script, or IP would pass policy without executing anything (dry-run).",
	}, s.handleCheckPolicy)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rate_limit_admin",
		Description: "Inspect or override a caller's rate-limit standing (status, block, unblock).",
	}, s.handleRateLimitAdmin)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "execution_history",
		Description: "List recent executions, newest first, optionally filtered to one caller.",
	}, s.handleHistory)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "server_status",
		Description: "Report server version, uptime, config hash, and the caller's rate-limit standing.",
	}, s.handleServerStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "health_check",
		Description: "Liveness probe. Requires no authentication.",
	}, s.handleHealth)
}
