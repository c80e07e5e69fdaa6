package mcp

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/gateway"
	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/model"
)

const testToken = "secret-token"

func newTestServer(t *testing.T, opts gateway.Options) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Token = testToken
	gw := gateway.New(cfg, "sha256:testhash", opts)
	return New(gw, "test")
}

func callerCtx(t *testing.T) context.Context {
	t.Helper()
	return WithCaller(context.Background(), Caller{
		IP:         "10.0.0.5",
		AuthHeader: "Bearer " + testToken,
	})
}

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives sh")
	}
}

func errorText(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected error content")
	}
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestRunCommandAllowed(t *testing.T) {
	requireUnixShell(t)
	s := newTestServer(t, gateway.Options{})

	result, out, err := s.handleRunCommand(callerCtx(t), &mcpsdk.CallToolRequest{}, RunCommandInput{
		Command: "echo hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success, got error result")
	}
	if !out.Allowed || out.Result == nil {
		t.Fatalf("expected allowed response with result, got %+v", out)
	}
	if !strings.Contains(out.Result.Stdout, "hello") {
		t.Fatalf("expected stdout to contain 'hello', got %q", out.Result.Stdout)
	}
}

func TestRunCommandBlocked(t *testing.T) {
	s := newTestServer(t, gateway.Options{})

	result, out, err := s.handleRunCommand(callerCtx(t), &mcpsdk.CallToolRequest{}, RunCommandInput{
		Command: "rm -rf /",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for blocked command")
	}
	if out.Allowed {
		t.Fatal("expected allowed=false")
	}
	if out.Kind != model.KindDangerousPattern {
		t.Fatalf("expected dangerous_pattern, got %q", out.Kind)
	}
	text := errorText(t, result)
	if !strings.HasPrefix(text, "Validation error: ") {
		t.Fatalf("expected validation error prefix, got %q", text)
	}
}

func TestAuthFailureIsProtocolError(t *testing.T) {
	s := newTestServer(t, gateway.Options{})
	ctx := WithCaller(context.Background(), Caller{IP: "10.0.0.5"})

	result, _, err := s.handleRunCommand(ctx, &mcpsdk.CallToolRequest{}, RunCommandInput{
		Command: "echo hello",
	})
	if err == nil {
		t.Fatal("expected protocol error for missing token")
	}
	if result != nil {
		t.Fatalf("expected no tool result, got %+v", result)
	}
	if !strings.Contains(err.Error(), "auth_missing") {
		t.Errorf("expected auth_missing in error, got %q", err.Error())
	}
}

func TestHealthCheckNeedsNoAuth(t *testing.T) {
	s := newTestServer(t, gateway.Options{})

	_, out, err := s.handleHealth(context.Background(), &mcpsdk.CallToolRequest{}, HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != "ok" || out.Version != "test" {
		t.Fatalf("unexpected health output %+v", out)
	}
}

func TestCheckPolicyProbes(t *testing.T) {
	s := newTestServer(t, gateway.Options{})
	ctx := callerCtx(t)

	_, out, err := s.handleCheckPolicy(ctx, &mcpsdk.CallToolRequest{}, CheckPolicyInput{
		Kind: "command", Value: "echo hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Allowed {
		t.Fatalf("expected echo to pass, got %+v", out)
	}

	_, out, err = s.handleCheckPolicy(ctx, &mcpsdk.CallToolRequest{}, CheckPolicyInput{
		Kind: "command", Value: "rm -rf /",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Allowed || out.Kind != string(model.KindDangerousPattern) {
		t.Fatalf("expected dangerous_pattern verdict, got %+v", out)
	}

	_, out, err = s.handleCheckPolicy(ctx, &mcpsdk.CallToolRequest{}, CheckPolicyInput{
		Kind: "ip", Value: "169.254.1.5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Allowed || out.Kind != string(model.KindIPRangeBlocked) {
		t.Fatalf("expected ip_range_blocked verdict, got %+v", out)
	}
}

func TestRateLimitAdminBlockAndUnblock(t *testing.T) {
	s := newTestServer(t, gateway.Options{})
	ctx := callerCtx(t)

	_, out, err := s.handleRateLimitAdmin(ctx, &mcpsdk.CallToolRequest{}, RateLimitAdminInput{
		Action: "block", ClientID: "10.9.9.9", DurationS: 600,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Blocked || out.BlockExpiresAt == "" {
		t.Fatalf("expected blocked standing, got %+v", out)
	}
	if _, err := time.Parse(time.RFC3339, out.BlockExpiresAt); err != nil {
		t.Errorf("expected RFC3339 expiry, got %q", out.BlockExpiresAt)
	}

	_, out, err = s.handleRateLimitAdmin(ctx, &mcpsdk.CallToolRequest{}, RateLimitAdminInput{
		Action: "unblock", ClientID: "10.9.9.9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Blocked {
		t.Fatalf("expected unblocked standing, got %+v", out)
	}
}

func TestRateLimitAdminRejectsUnknownAction(t *testing.T) {
	s := newTestServer(t, gateway.Options{})

	result, _, err := s.handleRateLimitAdmin(callerCtx(t), &mcpsdk.CallToolRequest{}, RateLimitAdminInput{
		Action: "obliterate", ClientID: "10.9.9.9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for unknown action")
	}
	if !strings.Contains(errorText(t, result), "unknown action") {
		t.Errorf("expected action hint in %q", errorText(t, result))
	}
}

func TestHistoryDisabled(t *testing.T) {
	s := newTestServer(t, gateway.Options{})

	_, _, err := s.handleHistory(callerCtx(t), &mcpsdk.CallToolRequest{}, HistoryInput{})
	if err == nil {
		t.Fatal("expected error when history is disabled")
	}
	if !strings.Contains(err.Error(), "history_db") {
		t.Errorf("expected config hint in error, got %q", err.Error())
	}
}

func TestHistoryReturnsRows(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	s := newTestServer(t, gateway.Options{History: store})

	ctx := callerCtx(t)
	if err := store.Record(ctx, history.Execution{
		ID:      "e-1",
		Client:  "10.0.0.5",
		Tool:    "run_command",
		Status:  "completed",
		Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	_, out, err := s.handleHistory(ctx, &mcpsdk.CallToolRequest{}, HistoryInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Count != 1 || len(out.Executions) != 1 {
		t.Fatalf("expected one row, got %+v", out)
	}
	if out.Executions[0].ID != "e-1" {
		t.Errorf("unexpected row %+v", out.Executions[0])
	}
}

func TestServerStatusReportsCaller(t *testing.T) {
	s := newTestServer(t, gateway.Options{})
	ctx := callerCtx(t)

	_, out, err := s.handleServerStatus(ctx, &mcpsdk.CallToolRequest{}, StatusInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Version != "test" || out.ConfigHash != "sha256:testhash" {
		t.Fatalf("unexpected status %+v", out)
	}
	if !out.AuthEnabled {
		t.Error("expected auth enabled")
	}
}

func TestStdioCallerDefaults(t *testing.T) {
	c := callerFrom(context.Background())
	if c.ClientID != "stdio" {
		t.Fatalf("expected stdio client, got %q", c.ClientID)
	}
	if c.AuthHeader != "" {
		t.Fatalf("expected no auth header without env token, got %q", c.AuthHeader)
	}

	t.Setenv("BUILDGATE_TOKEN", "env-token")
	c = callerFrom(context.Background())
	if c.AuthHeader != "Bearer env-token" {
		t.Fatalf("expected env token header, got %q", c.AuthHeader)
	}
}

func TestToolRegistration(t *testing.T) {
	s := newTestServer(t, gateway.Options{})
	if s.mcpServer == nil {
		t.Fatal("expected MCP server to be initialized")
	}
}
