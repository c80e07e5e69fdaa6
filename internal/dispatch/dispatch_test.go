package dispatch

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/model"
)

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives sh")
	}
}

func TestLocalRunCapturesOutput(t *testing.T) {
	requireUnixShell(t)
	res := NewLocal().Run(context.Background(), Spec{Command: "echo hello", Timeout: 5 * time.Second})
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Message)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("expected stdout %q, got %q", "hello\n", res.Stdout)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Errorf("expected success with exit 0, got success=%v exit=%d", res.Success, res.ExitCode)
	}
	if res.ID == "" {
		t.Error("expected an execution id")
	}
}

func TestLocalRunAppendsEnv(t *testing.T) {
	requireUnixShell(t)
	res := NewLocal().Run(context.Background(), Spec{
		Command: "echo $BUILD_TAG",
		Env:     []string{"BUILD_TAG=rel-42"},
		Timeout: 5 * time.Second,
	})
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Message)
	}
	if res.Stdout != "rel-42\n" {
		t.Errorf("expected the injected variable in stdout, got %q", res.Stdout)
	}
}

func TestLocalRunSeparatesStreams(t *testing.T) {
	requireUnixShell(t)
	res := NewLocal().Run(context.Background(), Spec{Command: "echo out && echo err 1>&2", Timeout: 5 * time.Second})
	if res.Stdout != "out\n" {
		t.Errorf("expected stdout %q, got %q", "out\n", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Errorf("expected stderr %q, got %q", "err\n", res.Stderr)
	}
}

func TestLocalRunNonZeroExit(t *testing.T) {
	requireUnixShell(t)
	res := NewLocal().Run(context.Background(), Spec{Command: "exit 3", Timeout: 5 * time.Second})
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
	if res.Success {
		t.Error("expected success=false for non-zero exit")
	}
}

func TestLocalRunTimeoutKeepsPartialOutput(t *testing.T) {
	requireUnixShell(t)
	res := NewLocal().Run(context.Background(), Spec{Command: "echo early && sleep 5", Timeout: 50 * time.Millisecond})
	if res.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Status)
	}
	if res.FailureKind != model.KindExecutionTimeout {
		t.Errorf("expected failure kind %s, got %s", model.KindExecutionTimeout, res.FailureKind)
	}
	if !strings.Contains(res.Stdout, "early") {
		t.Errorf("expected partial stdout preserved, got %q", res.Stdout)
	}
	if res.Success || res.ExitCode != -1 {
		t.Errorf("expected failure with exit -1, got success=%v exit=%d", res.Success, res.ExitCode)
	}
	if res.DurationMS > 4000 {
		t.Errorf("expected the timeout to cut execution short, took %dms", res.DurationMS)
	}
}

func TestLocalRunSpawnFailure(t *testing.T) {
	d := &Local{shell: []string{"/nonexistent/buildgate-shell", "-c"}}
	res := d.Run(context.Background(), Spec{Command: "echo hi", Timeout: time.Second})
	if res.Status != StatusSpawnFailed {
		t.Fatalf("expected spawn_failed, got %s", res.Status)
	}
	if res.FailureKind != model.KindSpawnFailure {
		t.Errorf("expected failure kind %s, got %s", model.KindSpawnFailure, res.FailureKind)
	}
	if res.Message == "" {
		t.Error("expected a failure message")
	}
}

func TestScriptCommand(t *testing.T) {
	cases := map[string]string{
		`C:\builds\scripts\deploy.ps1`: `powershell -NoProfile -ExecutionPolicy Bypass -File C:\builds\scripts\deploy.ps1`,
		`C:\builds\scripts\night.bat`:  `cmd /c C:\builds\scripts\night.bat`,
		"/srv/builds/scripts/run.sh":   "sh /srv/builds/scripts/run.sh",
	}
	for path, want := range cases {
		got, err := ScriptCommand(path, "")
		if err != nil {
			t.Errorf("ScriptCommand(%q): unexpected error: %v", path, err)
			continue
		}
		if got != want {
			t.Errorf("ScriptCommand(%q): expected %q, got %q", path, want, got)
		}
	}
}

func TestScriptCommandQuotesAndArgs(t *testing.T) {
	got, err := ScriptCommand("/srv/builds/my scripts/run.sh", "-v --target rel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `sh "/srv/builds/my scripts/run.sh" -v --target rel`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestScriptCommandUnknownExtension(t *testing.T) {
	_, err := ScriptCommand("/srv/builds/scripts/run.py", "")
	if err == nil {
		t.Fatal("expected an error for unknown extension")
	}
}

func TestValidateCredentials(t *testing.T) {
	if err := ValidateCredentials("builder", "hunter2"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateCredentials("svc_build-01", "pw"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := []struct{ user, pass string }{
		{"", "pw"},
		{"1leading", "pw"},
		{"has space", "pw"},
		{"semi;colon", "pw"},
		{strings.Repeat("a", 33), "pw"},
		{"builder", ""},
		{"builder", strings.Repeat("p", 129)},
	}
	for _, c := range bad {
		err := ValidateCredentials(c.user, c.pass)
		if err == nil {
			t.Errorf("ValidateCredentials(%q, len %d): expected an error", c.user, len(c.pass))
			continue
		}
		var v *model.Violation
		if !errors.As(err, &v) || v.Kind != model.KindInvalidInput {
			t.Errorf("expected invalid_input violation, got %v", err)
		}
	}
}

func TestRemoteRunConnectionFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	d := NewRemote(config.RemoteConfig{ConnectTimeoutMS: 500})
	res := d.Run(context.Background(), RemoteSpec{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		User:     "builder",
		Password: "pw",
		Command:  "echo hi",
		Timeout:  time.Second,
	})
	if res.Status != StatusConnectionFailed {
		t.Fatalf("expected connection_failed, got %s", res.Status)
	}
	if res.FailureKind != model.KindRemoteConnection {
		t.Errorf("expected failure kind %s, got %s", model.KindRemoteConnection, res.FailureKind)
	}
	if res.ExitCode != -1 || res.Success {
		t.Errorf("expected exit -1 without success, got exit=%d success=%v", res.ExitCode, res.Success)
	}
}

func TestWrapPowerShell(t *testing.T) {
	got := WrapPowerShell("Write-Output 'hi there'")
	want := `powershell -NoProfile -Command 'Write-Output ''hi there'''`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
