package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/buildgate/buildgate/internal/gateway"
	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/model"
)

// --- Input/Output types ---

// RunCommandInput defines parameters for the run_command tool.
type RunCommandInput struct {
	Command   string            `json:"command" jsonschema:"command line to execute"`
	Dir       string            `json:"dir,omitempty" jsonschema:"working directory, must be under an allowed root"`
	Env       map[string]string `json:"env,omitempty" jsonschema:"extra environment variables for the child process"`
	TimeoutMS int               `json:"timeout_ms,omitempty" jsonschema:"execution timeout in milliseconds"`
}

// RunScriptInput defines parameters for the run_script tool.
type RunScriptInput struct {
	Script    string `json:"script" jsonschema:"path to the script file"`
	Args      string `json:"args,omitempty" jsonschema:"argument string appended to the script invocation"`
	Dir       string `json:"dir,omitempty" jsonschema:"working directory, must be under an allowed root"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"execution timeout in milliseconds"`
}

// RunRemoteInput defines parameters for the run_remote tool.
type RunRemoteInput struct {
	Host       string `json:"host" jsonschema:"remote host name or IP"`
	Port       int    `json:"port,omitempty" jsonschema:"SSH port, default 22"`
	Username   string `json:"username" jsonschema:"SSH username"`
	Password   string `json:"password" jsonschema:"SSH password"`
	Command    string `json:"command" jsonschema:"command to run on the remote host"`
	PowerShell bool   `json:"powershell,omitempty" jsonschema:"wrap the command in powershell -Command"`
	TimeoutMS  int    `json:"timeout_ms,omitempty" jsonschema:"execution timeout in milliseconds"`
}

// CheckPolicyInput defines parameters for the check_policy tool.
type CheckPolicyInput struct {
	Kind  string `json:"kind" jsonschema:"what to probe: command, path, script, or ip"`
	Value string `json:"value" jsonschema:"the command, path, or address to test"`
}

// CheckPolicyOutput is the dry-run verdict. A denied probe is still a
// successful check.
type CheckPolicyOutput struct {
	Allowed bool   `json:"allowed"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// RateLimitAdminInput defines parameters for the rate_limit_admin tool.
type RateLimitAdminInput struct {
	Action    string `json:"action" jsonschema:"status, block, or unblock"`
	ClientID  string `json:"client_id" jsonschema:"client identifier to act on"`
	DurationS int    `json:"duration_seconds,omitempty" jsonschema:"block duration in seconds, 0 applies the default penalty"`
}

// RateLimitAdminOutput reports the client's standing after the action.
type RateLimitAdminOutput struct {
	ClientID       string `json:"client_id"`
	Action         string `json:"action"`
	Known          bool   `json:"known"`
	Blocked        bool   `json:"blocked"`
	Requests       int    `json:"requests"`
	BlockExpiresAt string `json:"block_expires_at,omitempty"`
}

// HistoryInput defines parameters for the execution_history tool.
type HistoryInput struct {
	Limit    int    `json:"limit,omitempty" jsonschema:"max rows to return, newest first (default 50, cap 500)"`
	ClientID string `json:"client_id,omitempty" jsonschema:"filter to one caller"`
}

// HistoryOutput lists recent executions.
type HistoryOutput struct {
	Executions []history.Execution `json:"executions"`
	Count      int                 `json:"count"`
}

// StatusInput is empty; server_status takes no parameters.
type StatusInput struct{}

// HealthInput is empty; health_check takes no parameters.
type HealthInput struct{}

// HealthOutput is the liveness probe response.
type HealthOutput struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// --- Handlers ---

func (s *Server) handleRunCommand(ctx context.Context, req *mcpsdk.CallToolRequest, input RunCommandInput) (*mcpsdk.CallToolResult, gateway.Response, error) {
	resp := s.gw.AuthorizeAndRun(ctx, s.request(ctx, gateway.Invocation{
		Tool:      gateway.ToolRunCommand,
		Command:   input.Command,
		Dir:       input.Dir,
		Env:       input.Env,
		TimeoutMS: input.TimeoutMS,
	}))
	return finish(resp)
}

func (s *Server) handleRunScript(ctx context.Context, req *mcpsdk.CallToolRequest, input RunScriptInput) (*mcpsdk.CallToolResult, gateway.Response, error) {
	resp := s.gw.AuthorizeAndRun(ctx, s.request(ctx, gateway.Invocation{
		Tool:      gateway.ToolRunScript,
		Script:    input.Script,
		Args:      input.Args,
		Dir:       input.Dir,
		TimeoutMS: input.TimeoutMS,
	}))
	return finish(resp)
}

func (s *Server) handleRunRemote(ctx context.Context, req *mcpsdk.CallToolRequest, input RunRemoteInput) (*mcpsdk.CallToolResult, gateway.Response, error) {
	resp := s.gw.AuthorizeAndRun(ctx, s.request(ctx, gateway.Invocation{
		Tool:       gateway.ToolRunRemote,
		Host:       input.Host,
		Port:       input.Port,
		Username:   input.Username,
		Password:   input.Password,
		Command:    input.Command,
		PowerShell: input.PowerShell,
		TimeoutMS:  input.TimeoutMS,
	}))
	return finish(resp)
}

func (s *Server) handleCheckPolicy(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckPolicyInput) (*mcpsdk.CallToolResult, CheckPolicyOutput, error) {
	if result, err := s.gate(ctx, gateway.ToolCheckPolicy); result != nil || err != nil {
		return result, CheckPolicyOutput{}, err
	}

	if err := s.gw.Check(input.Kind, input.Value); err != nil {
		v := asViolation(err)
		return nil, CheckPolicyOutput{
			Allowed: false,
			Kind:    string(v.Kind),
			Message: v.Message,
		}, nil
	}
	return nil, CheckPolicyOutput{Allowed: true}, nil
}

func (s *Server) handleRateLimitAdmin(ctx context.Context, req *mcpsdk.CallToolRequest, input RateLimitAdminInput) (*mcpsdk.CallToolResult, RateLimitAdminOutput, error) {
	if result, err := s.gate(ctx, gateway.ToolRateLimit); result != nil || err != nil {
		return result, RateLimitAdminOutput{}, err
	}

	if input.ClientID == "" {
		return validationError("client_id is required"), RateLimitAdminOutput{}, nil
	}

	limiter := s.gw.Limiter()
	switch input.Action {
	case "status":
	case "block":
		limiter.Block(input.ClientID, time.Duration(input.DurationS)*time.Second)
	case "unblock":
		limiter.Unblock(input.ClientID)
	default:
		return validationError(fmt.Sprintf(
			"unknown action %q, want status, block, or unblock", input.Action)), RateLimitAdminOutput{}, nil
	}

	st := limiter.Status(input.ClientID)
	out := RateLimitAdminOutput{
		ClientID: input.ClientID,
		Action:   input.Action,
		Known:    st.Known,
		Blocked:  st.Blocked,
		Requests: st.Requests,
	}
	if st.Blocked {
		out.BlockExpiresAt = st.BlockExpiry.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleHistory(ctx context.Context, req *mcpsdk.CallToolRequest, input HistoryInput) (*mcpsdk.CallToolResult, HistoryOutput, error) {
	if result, err := s.gate(ctx, gateway.ToolHistory); result != nil || err != nil {
		return result, HistoryOutput{}, err
	}

	store := s.gw.History()
	if store == nil {
		return nil, HistoryOutput{}, fmt.Errorf("execution history is disabled; set history_db in the config")
	}

	var (
		rows []history.Execution
		err  error
	)
	if input.ClientID != "" {
		rows, err = store.RecentByClient(ctx, input.ClientID, input.Limit)
	} else {
		rows, err = store.Recent(ctx, input.Limit)
	}
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("query history: %w", err)
	}
	return nil, HistoryOutput{Executions: rows, Count: len(rows)}, nil
}

func (s *Server) handleServerStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, gateway.ServerStatus, error) {
	if result, err := s.gate(ctx, gateway.ToolStatus); result != nil || err != nil {
		return result, gateway.ServerStatus{}, err
	}
	gwReq := s.request(ctx, gateway.Invocation{Tool: gateway.ToolStatus})
	return nil, s.gw.Status(ctx, gwReq.Client()), nil
}

func (s *Server) handleHealth(ctx context.Context, req *mcpsdk.CallToolRequest, input HealthInput) (*mcpsdk.CallToolResult, HealthOutput, error) {
	return nil, HealthOutput{Status: "ok", Version: s.version}, nil
}

// --- Response mapping ---

// finish maps a gateway response onto the MCP result contract: 401 and
// 429 are protocol errors, policy denials are IsError tool results, and
// everything else is a plain result.
func finish(resp gateway.Response) (*mcpsdk.CallToolResult, gateway.Response, error) {
	if resp.Status == 401 || resp.Status == 429 {
		return nil, gateway.Response{}, fmt.Errorf("%s: %s", resp.Kind, resp.Message)
	}
	if !resp.Allowed {
		return validationError(resp.Message), resp, nil
	}
	return nil, resp, nil
}

// gate runs the transport gates for a read-only tool. A non-nil result
// or error means the caller may not proceed.
func (s *Server) gate(ctx context.Context, tool string) (*mcpsdk.CallToolResult, error) {
	resp := s.gw.Gate(s.request(ctx, gateway.Invocation{Tool: tool}))
	if resp == nil {
		return nil, nil
	}
	if resp.Status == 401 || resp.Status == 429 {
		return nil, fmt.Errorf("%s: %s", resp.Kind, resp.Message)
	}
	return validationError(resp.Message), nil
}

func validationError(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "Validation error: " + message},
		},
	}
}

func asViolation(err error) *model.Violation {
	var v *model.Violation
	if errors.As(err, &v) {
		return v
	}
	return model.NewViolation(model.KindInvalidInput, "%s", err.Error())
}
