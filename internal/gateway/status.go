package gateway

import (
	"context"
	"time"
)

// RateStatus is the caller's rate-limit standing as reported by
// server_status.
type RateStatus struct {
	Known    bool `json:"known"`
	Blocked  bool `json:"blocked"`
	Requests int  `json:"requests"`
	Limit    int  `json:"limit"`
}

// ServerStatus is the server_status tool payload.
type ServerStatus struct {
	Version         string     `json:"version"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
	ConfigHash      string     `json:"config_hash"`
	AuthEnabled     bool       `json:"auth_enabled"`
	DevMode         bool       `json:"dev_mode"`
	EnterpriseMode  bool       `json:"enterprise_mode"`
	RestartRequired bool       `json:"restart_required"`
	ActiveClients   int        `json:"active_clients"`
	Executions      int64      `json:"executions"`
	Caller          RateStatus `json:"caller_rate_limit"`
}

// Status reports the server's runtime state plus the asking client's
// rate-limit standing.
func (g *Gateway) Status(ctx context.Context, client string) ServerStatus {
	st := g.limiter.Status(client)
	out := ServerStatus{
		Version:        g.version,
		UptimeSeconds:  int64(time.Since(g.started).Seconds()),
		ConfigHash:     g.configHash,
		AuthEnabled:    g.auth.Enabled(),
		DevMode:        g.commands.DevMode(),
		EnterpriseMode: g.cfg.Paths.EnterpriseMode,
		ActiveClients:  g.limiter.Len(),
		Caller: RateStatus{
			Known:    st.Known,
			Blocked:  st.Blocked,
			Requests: st.Requests,
			Limit:    g.cfg.RateLimit.Requests,
		},
	}
	if g.drift != nil {
		out.RestartRequired = g.drift()
	}
	if g.store != nil {
		if n, err := g.store.Count(ctx); err == nil {
			out.Executions = n
		}
	}
	return out
}
