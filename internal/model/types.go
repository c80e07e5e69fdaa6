package model

import (
	"fmt"
	"time"
)

// Kind classifies why a request was refused or an execution failed.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindTooLong           Kind = "too_long"
	KindDangerousPattern  Kind = "dangerous_pattern"
	KindCommandNotAllowed Kind = "command_not_allowed"
	KindPathTraversal     Kind = "path_traversal"
	KindPathNotAllowed    Kind = "path_not_allowed"
	KindInvalidIPFormat   Kind = "invalid_ip_format"
	KindIPRangeBlocked    Kind = "ip_range_blocked"
	KindAuthMissing       Kind = "auth_missing"
	KindAuthInvalid       Kind = "auth_invalid"
	KindRateLimited       Kind = "rate_limited"
	KindExecutionTimeout  Kind = "execution_timeout"
	KindSpawnFailure      Kind = "spawn_failure"
	KindRemoteConnection  Kind = "remote_connection_failure"
)

// Decision is the gate outcome recorded in audit entries and alerts.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Violation is a refusal carrying its taxonomy kind. Policy checks return
// it as an error; the gateway folds it into the response envelope.
type Violation struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // set only for KindRateLimited
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// NewViolation builds a Violation with a formatted message.
func NewViolation(kind Kind, format string, args ...any) *Violation {
	return &Violation{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// TransportDenial reports whether a kind must be refused at the transport
// layer (JSON-RPC error / HTTP status) instead of a normal result envelope.
// Only authentication and admission failures qualify.
func TransportDenial(kind Kind) bool {
	switch kind {
	case KindAuthMissing, KindAuthInvalid, KindRateLimited:
		return true
	}
	return false
}
