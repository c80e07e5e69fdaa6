package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/model"
	"github.com/buildgate/buildgate/internal/policy"
)

var usernameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,31}$`)

// ValidateCredentials rejects malformed remote credentials before any
// connection attempt, so a bad username never reaches the wire.
func ValidateCredentials(user, password string) error {
	if !usernameRE.MatchString(user) {
		return model.NewViolation(model.KindInvalidInput,
			"remote username must start with a letter or underscore and stay within 32 characters")
	}
	if len(password) == 0 || len(password) > 128 {
		return model.NewViolation(model.KindInvalidInput,
			"remote password must be 1 to 128 bytes")
	}
	return nil
}

// Remote runs approved command text on another host over SSH. Each call
// opens one connection and one session; nothing is pooled.
type Remote struct {
	connectTimeout time.Duration
}

// NewRemote builds a Remote dispatcher from configuration.
func NewRemote(cfg config.RemoteConfig) *Remote {
	ct := time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	if ct <= 0 {
		ct = 10 * time.Second
	}
	return &Remote{connectTimeout: ct}
}

// RemoteSpec describes one remote execution.
type RemoteSpec struct {
	Host     string
	Port     int
	User     string
	Password string
	Command  string
	Timeout  time.Duration
}

// Run executes one remote command and reports the outcome. Connection
// problems and timeouts come back as Result statuses, not errors.
func (d *Remote) Run(ctx context.Context, spec RemoteSpec) *Result {
	res := newResult()
	start := time.Now()
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	port := spec.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(spec.Host, strconv.Itoa(port))

	// Build agents are short-lived; host keys are not pinned.
	clientCfg := &ssh.ClientConfig{
		User:            spec.User,
		Auth:            []ssh.AuthMethod{ssh.Password(spec.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.connectTimeout,
	}

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return res.fail(StatusConnectionFailed, model.KindRemoteConnection,
			fmt.Sprintf("connecting to %s: %v", addr, err))
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return res.fail(StatusConnectionFailed, model.KindRemoteConnection,
			fmt.Sprintf("opening session on %s: %v", addr, err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(spec.Command) }()

	select {
	case <-runCtx.Done():
		// Closing the connection unblocks session.Run; wait for it so the
		// output buffers are no longer being written when we read them.
		client.Close()
		<-errCh
		res.fail(StatusTimedOut, model.KindExecutionTimeout,
			fmt.Sprintf("remote command exceeded the %s timeout", spec.Timeout))
	case err := <-errCh:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
			} else {
				res.fail(StatusConnectionFailed, model.KindRemoteConnection,
					fmt.Sprintf("running on %s: %v", addr, err))
			}
		}
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Success = res.Status == StatusCompleted && res.ExitCode == 0
	return res
}

// WrapPowerShell embeds command text into a powershell invocation for
// Windows agents whose SSH login shell is cmd.exe.
func WrapPowerShell(command string) string {
	return "powershell -NoProfile -Command '" + policy.QuoteSingle(command) + "'"
}
