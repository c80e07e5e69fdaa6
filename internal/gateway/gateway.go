// Package gateway chains every gate in front of the dispatchers: token
// auth, rate limiting, caller allowlist, then command, path, and network
// policy. Requests that survive all gates are executed and recorded; all
// others get a uniform denial envelope. A request-level failure never
// kills the process and never mutates configuration or client state
// beyond its own rate-limit window.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildgate/buildgate/internal/alert"
	"github.com/buildgate/buildgate/internal/audit"
	"github.com/buildgate/buildgate/internal/auth"
	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/dispatch"
	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/model"
	"github.com/buildgate/buildgate/internal/policy"
	"github.com/buildgate/buildgate/internal/ratelimit"
)

// Tool names exposed over MCP. ToolHealth bypasses auth and rate limiting
// by fixed name; everything else goes through the full gate chain.
const (
	ToolRunCommand  = "run_command"
	ToolRunScript   = "run_script"
	ToolRunRemote   = "run_remote"
	ToolCheckPolicy = "check_policy"
	ToolRateLimit   = "rate_limit_admin"
	ToolHistory     = "execution_history"
	ToolStatus      = "server_status"
	ToolHealth      = "health_check"
)

// Invocation is one tool call, transport-agnostic.
type Invocation struct {
	Tool       string
	Command    string
	Script     string
	Args       string
	Dir        string
	Env        map[string]string
	Host       string
	Port       int
	Username   string
	Password   string
	PowerShell bool
	TimeoutMS  int
}

// Request is what a transport hands to the gateway: who is calling, how
// they authenticated, and what they want to run.
type Request struct {
	CallerIP   string
	AuthHeader string
	ClientID   string
	Invocation Invocation
}

// Client is the identity used for rate limiting, audit, and history.
func (r Request) Client() string {
	if r.ClientID != "" {
		return r.ClientID
	}
	if r.CallerIP != "" {
		return r.CallerIP
	}
	return "unknown"
}

// Response is the uniform envelope. Status is 200 for everything decided
// by policy (allow or deny), 401 for auth failures, 429 for rate limits.
type Response struct {
	Status        int              `json:"-"`
	Allowed       bool             `json:"allowed"`
	Kind          model.Kind       `json:"kind,omitempty"`
	Message       string           `json:"message,omitempty"`
	RetryAfter    int              `json:"retry_after,omitempty"`
	Remaining     int              `json:"remaining"`
	Result        *dispatch.Result `json:"result,omitempty"`
	CorrelationID string           `json:"correlation_id"`
}

// Options carries the optional sinks. Nil fields disable that sink.
type Options struct {
	Audit   *audit.Log
	History *history.Store
	Alerts  *alert.Dispatcher
	Drift   func() bool
	Version string
}

// Gateway owns the gate chain and the dispatchers.
type Gateway struct {
	cfg        *config.Config
	configHash string
	auth       *auth.Authenticator
	limiter    *ratelimit.Limiter
	commands   *policy.CommandPolicy
	paths      *policy.PathPolicy
	network    *policy.NetworkPolicy
	local      *dispatch.Local
	remote     *dispatch.Remote
	auditLog   *audit.Log
	store      *history.Store
	alerts     *alert.Dispatcher
	drift      func() bool
	version    string
	started    time.Time
}

// New builds a Gateway from an immutable config snapshot.
func New(cfg *config.Config, configHash string, opts Options) *Gateway {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	drift := opts.Drift
	if drift == nil {
		drift = func() bool { return false }
	}
	return &Gateway{
		cfg:        cfg,
		configHash: configHash,
		auth:       auth.New(cfg.Auth.Token),
		limiter: ratelimit.New(cfg.RateLimit.Requests,
			time.Duration(cfg.RateLimit.WindowMS)*time.Millisecond),
		commands: policy.NewCommandPolicy(cfg.Commands),
		paths:    policy.NewPathPolicy(cfg.Paths),
		network:  policy.NewNetworkPolicy(cfg.AllowedIPs, cfg.Remote),
		local:    dispatch.NewLocal(),
		remote:   dispatch.NewRemote(cfg.Remote),
		auditLog: opts.Audit,
		store:    opts.History,
		alerts:   opts.Alerts,
		drift:    drift,
		version:  version,
		started:  time.Now(),
	}
}

// Limiter exposes the rate limiter for the sweeper and admin tooling.
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// History exposes the execution store for query tooling. May be nil.
func (g *Gateway) History() *history.Store {
	return g.store
}

// Gate runs the transport gates (auth, rate limit, caller allowlist)
// without dispatching anything. Nil means the request may proceed.
// Read-only tools use this before doing their own work.
func (g *Gateway) Gate(req Request) *Response {
	resp, _ := g.runGates(req, uuid.NewString())
	return resp
}

// AuthorizeAndRun takes a request through the full gate chain, dispatches
// it when every gate passes, and records the outcome.
func (g *Gateway) AuthorizeAndRun(ctx context.Context, req Request) Response {
	corr := uuid.NewString()
	inv := req.Invocation

	if inv.Tool == ToolHealth {
		return Response{Status: 200, Allowed: true, Message: "ok", CorrelationID: corr}
	}

	resp, remaining := g.runGates(req, corr)
	if resp != nil {
		return *resp
	}
	return g.validateAndDispatch(ctx, req, corr, remaining)
}

// runGates applies auth, rate limiting, and the caller allowlist, in that
// order. It returns the denial response, or nil plus the caller's
// remaining rate-limit budget.
func (g *Gateway) runGates(req Request, corr string) (*Response, int) {
	if req.Invocation.Tool == ToolHealth {
		return nil, 0
	}

	if err := g.auth.Authorize(req.AuthHeader); err != nil {
		return g.deny(req, corr, 401, toViolation(err)), 0
	}

	decision := g.limiter.Admit(req.Client())
	if !decision.Allowed {
		secs := int(decision.RetryAfter.Seconds())
		v := model.NewViolation(model.KindRateLimited,
			"rate limit exceeded, retry in %d seconds", secs)
		v.RetryAfter = decision.RetryAfter
		return g.deny(req, corr, 429, v), 0
	}

	if req.CallerIP != "" {
		if err := g.network.CallerAllowed(req.CallerIP); err != nil {
			return g.deny(req, corr, 200, toViolation(err)), 0
		}
	}

	return nil, decision.Remaining
}

func (g *Gateway) validateAndDispatch(ctx context.Context, req Request, corr string, remaining int) Response {
	inv := req.Invocation
	timeout := g.resolveTimeout(inv)

	var result *dispatch.Result
	switch inv.Tool {
	case ToolRunCommand:
		approved, err := g.commands.Validate(inv.Command)
		if err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		if inv.Dir != "" {
			if err := g.paths.Validate(inv.Dir); err != nil {
				return *g.deny(req, corr, 200, toViolation(err))
			}
		}
		env, err := buildEnv(inv.Env)
		if err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		g.auditAllow(req, corr)
		result = g.local.Run(ctx, dispatch.Spec{
			Command: approved,
			Dir:     inv.Dir,
			Env:     env,
			Timeout: timeout,
		})

	case ToolRunScript:
		if err := g.paths.ValidateScript(inv.Script); err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		args, err := g.validateScriptArgs(inv.Args)
		if err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		if inv.Dir != "" {
			if err := g.paths.Validate(inv.Dir); err != nil {
				return *g.deny(req, corr, 200, toViolation(err))
			}
		}
		command, err := dispatch.ScriptCommand(inv.Script, args)
		if err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		g.auditAllow(req, corr)
		result = g.local.Run(ctx, dispatch.Spec{
			Command: command,
			Dir:     inv.Dir,
			Timeout: timeout,
		})

	case ToolRunRemote:
		if err := g.network.ValidateRemoteTarget(inv.Host); err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		if err := dispatch.ValidateCredentials(inv.Username, inv.Password); err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		approved, err := g.commands.Validate(inv.Command)
		if err != nil {
			return *g.deny(req, corr, 200, toViolation(err))
		}
		if inv.PowerShell {
			approved = dispatch.WrapPowerShell(approved)
		}
		g.auditAllow(req, corr)
		result = g.remote.Run(ctx, dispatch.RemoteSpec{
			Host:     inv.Host,
			Port:     inv.Port,
			User:     inv.Username,
			Password: inv.Password,
			Command:  approved,
			Timeout:  timeout,
		})

	default:
		v := model.NewViolation(model.KindInvalidInput, "unknown tool %q", inv.Tool)
		return *g.deny(req, corr, 200, v)
	}

	g.recordExecution(ctx, req, corr, result)

	return Response{
		Status:        200,
		Allowed:       true,
		Remaining:     remaining,
		Result:        result,
		CorrelationID: corr,
	}
}

// Check runs one offline policy probe; used by check_policy and the CLI.
func (g *Gateway) Check(kind, value string) error {
	switch kind {
	case "command":
		_, err := g.commands.Validate(value)
		return err
	case "path":
		return g.paths.Validate(value)
	case "script":
		return g.paths.ValidateScript(value)
	case "ip":
		_, err := policy.ValidateIP(value)
		return err
	default:
		return model.NewViolation(model.KindInvalidInput,
			"unknown check kind %q, want command, path, script, or ip", kind)
	}
}

var envNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// buildEnv turns caller-supplied variables into sorted KEY=VALUE pairs.
// Names must be plain identifiers; values must be free of NUL bytes.
func buildEnv(env map[string]string) ([]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	pairs := make([]string, 0, len(env))
	for name, value := range env {
		if !envNameRE.MatchString(name) {
			return nil, model.NewViolation(model.KindInvalidInput,
				"environment variable name %q is not a valid identifier", name)
		}
		if strings.ContainsRune(value, 0) {
			return nil, model.NewViolation(model.KindInvalidInput,
				"environment variable %s contains a NUL byte", name)
		}
		pairs = append(pairs, name+"="+value)
	}
	sort.Strings(pairs)
	return pairs, nil
}

// validateScriptArgs sanitizes the argument string for a script run. Args
// are not a command chain, so only the length, control-byte, and
// dangerous-pattern rules apply.
func (g *Gateway) validateScriptArgs(args string) (string, error) {
	if args == "" {
		return "", nil
	}
	if max := g.cfg.Commands.MaxLength; max > 0 && len(args) > max {
		return "", model.NewViolation(model.KindTooLong,
			"script arguments are %d bytes, limit is %d", len(args), max)
	}
	if class, ok := policy.MatchDangerous(args); ok {
		return "", model.NewViolation(model.KindDangerousPattern,
			"script arguments match blocked pattern %s", class)
	}
	return policy.StripControlBytes(args), nil
}

func (g *Gateway) resolveTimeout(inv Invocation) time.Duration {
	ms := g.cfg.Timeouts.DefaultMS
	if t, ok := g.cfg.Timeouts.PerTool[inv.Tool]; ok && t > 0 {
		ms = t
	}
	if inv.TimeoutMS > 0 {
		ms = inv.TimeoutMS
	}
	if max := g.cfg.Timeouts.MaxMS; max > 0 && ms > max {
		ms = max
	}
	if ms <= 0 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

// deny writes the audit entry, fires matching alerts, and builds the
// denial envelope.
func (g *Gateway) deny(req Request, corr string, status int, v *model.Violation) *Response {
	g.record(audit.Entry{
		CorrelationID: corr,
		Client:        req.Client(),
		Tool:          req.Invocation.Tool,
		Resource:      resourceOf(req.Invocation),
		Decision:      model.Deny,
		Kind:          v.Kind,
		Reason:        v.Message,
		ConfigHash:    g.configHash,
	})
	g.alerts.Dispatch(alert.Event{
		Timestamp:     time.Now().UTC().Format(audit.TimestampFormat),
		CorrelationID: corr,
		Client:        req.Client(),
		Tool:          req.Invocation.Tool,
		Resource:      resourceOf(req.Invocation),
		Decision:      string(model.Deny),
		Kind:          string(v.Kind),
		Reason:        v.Message,
		ConfigHash:    g.configHash,
	})

	return &Response{
		Status:        status,
		Kind:          v.Kind,
		Message:       v.Message,
		RetryAfter:    int(v.RetryAfter.Seconds()),
		CorrelationID: corr,
	}
}

func (g *Gateway) auditAllow(req Request, corr string) {
	g.record(audit.Entry{
		CorrelationID: corr,
		Client:        req.Client(),
		Tool:          req.Invocation.Tool,
		Resource:      resourceOf(req.Invocation),
		Decision:      model.Allow,
		ConfigHash:    g.configHash,
	})
}

func (g *Gateway) recordExecution(ctx context.Context, req Request, corr string, result *dispatch.Result) {
	if g.store != nil {
		// History failures do not fail the request.
		_ = g.store.Record(ctx, history.Execution{
			ID:            result.ID,
			CorrelationID: corr,
			Client:        req.Client(),
			Tool:          req.Invocation.Tool,
			Resource:      resourceOf(req.Invocation),
			Status:        string(result.Status),
			ExitCode:      result.ExitCode,
			Success:       result.Success,
			DurationMS:    result.DurationMS,
			StdoutBytes:   len(result.Stdout),
			StderrBytes:   len(result.Stderr),
		})
	}

	if result.Status == dispatch.StatusTimedOut {
		g.alerts.Dispatch(alert.Event{
			Timestamp:     time.Now().UTC().Format(audit.TimestampFormat),
			CorrelationID: corr,
			Client:        req.Client(),
			Tool:          req.Invocation.Tool,
			Resource:      resourceOf(req.Invocation),
			Decision:      string(model.Allow),
			Reason:        result.Message,
			ConfigHash:    g.configHash,
			Type:          "timed_out",
		})
	}
}

// record writes an audit entry. Audit failures do not fail the request.
func (g *Gateway) record(entry audit.Entry) {
	if g.auditLog == nil {
		return
	}
	_ = g.auditLog.Record(entry)
}

func resourceOf(inv Invocation) string {
	switch inv.Tool {
	case ToolRunCommand:
		return inv.Command
	case ToolRunScript:
		return inv.Script
	case ToolRunRemote:
		return strings.TrimSpace(inv.Host + " " + inv.Command)
	default:
		return ""
	}
}

func toViolation(err error) *model.Violation {
	var v *model.Violation
	if errors.As(err, &v) {
		return v
	}
	return model.NewViolation(model.KindInvalidInput, "%s", fmt.Sprint(err))
}
