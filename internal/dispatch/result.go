// Package dispatch executes approved commands, locally or over SSH.
// Execution failures are encoded in the Result, never returned as errors:
// by the time a command reaches this package every gate has passed, and
// the caller always gets an auditable outcome.
package dispatch

import (
	"github.com/google/uuid"

	"github.com/buildgate/buildgate/internal/model"
)

// Status describes how an execution ended.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusTimedOut         Status = "timed_out"
	StatusSpawnFailed      Status = "spawn_failed"
	StatusConnectionFailed Status = "connection_failed"
)

// Result captures the outcome of one execution.
type Result struct {
	ID          string     `json:"execution_id"`
	Status      Status     `json:"status"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
	ExitCode    int        `json:"exit_code"`
	Success     bool       `json:"success"`
	DurationMS  int64      `json:"duration_ms"`
	FailureKind model.Kind `json:"failure_kind,omitempty"`
	Message     string     `json:"message,omitempty"`
}

func newResult() *Result {
	return &Result{ID: uuid.NewString(), Status: StatusCompleted, ExitCode: 0}
}

func (r *Result) fail(status Status, kind model.Kind, message string) *Result {
	r.Status = status
	r.ExitCode = -1
	r.Success = false
	r.FailureKind = kind
	r.Message = message
	return r
}
