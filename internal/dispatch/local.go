package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/buildgate/buildgate/internal/model"
)

// Local runs approved command text on this host through the platform shell.
type Local struct {
	shell []string
}

// NewLocal picks the shell for the current platform.
func NewLocal() *Local {
	if runtime.GOOS == "windows" {
		return &Local{shell: []string{"cmd", "/c"}}
	}
	return &Local{shell: []string{"sh", "-c"}}
}

// Spec describes one local execution. Env entries are KEY=VALUE pairs
// appended to the parent environment, so later entries win.
type Spec struct {
	Command string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Run executes command text with the given timeout. A zero timeout means
// no deadline beyond the caller's context. Output captured before a
// timeout is preserved in the Result.
func (d *Local) Run(ctx context.Context, spec Spec) *Result {
	res := newResult()

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	argv := append(append([]string{}, d.shell...), spec.Command)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.DurationMS = time.Since(start).Milliseconds()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.fail(StatusTimedOut, model.KindExecutionTimeout,
			fmt.Sprintf("command exceeded the %s timeout", spec.Timeout))
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res.fail(StatusSpawnFailed, model.KindSpawnFailure, err.Error())
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			res.ExitCode = status.ExitStatus()
		} else {
			res.ExitCode = exitErr.ExitCode()
		}
	}

	res.Success = res.Status == StatusCompleted && res.ExitCode == 0
	return res
}

// ScriptCommand composes the interpreter invocation for a script path.
// The extension decides the interpreter; args is appended verbatim and
// must already be validated.
func ScriptCommand(path, args string) (string, error) {
	var invocation string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ps1":
		invocation = "powershell -NoProfile -ExecutionPolicy Bypass -File " + quotePath(path)
	case ".bat", ".cmd":
		invocation = "cmd /c " + quotePath(path)
	case ".sh":
		invocation = "sh " + quotePath(path)
	default:
		return "", model.NewViolation(model.KindPathNotAllowed,
			"no interpreter for %q scripts", filepath.Ext(path))
	}
	if strings.TrimSpace(args) != "" {
		invocation += " " + args
	}
	return invocation, nil
}

func quotePath(path string) string {
	if strings.ContainsAny(path, " \t") {
		return `"` + path + `"`
	}
	return path
}
