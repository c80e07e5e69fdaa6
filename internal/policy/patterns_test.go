package policy

import "testing"

func TestMatchDangerousClassifications(t *testing.T) {
	cases := map[string]string{
		`rm -rf /srv/builds/old`:                    "recursive_delete",
		`rm -fr .`:                                  "recursive_delete",
		`del /s /f C:\projects`:                     "recursive_delete",
		`rmdir /s /q C:\temp`:                       "recursive_delete",
		`Remove-Item C:\data -Recurse`:              "recursive_delete",
		`format d: /q`:                              "disk_format",
		`mkfs.ext4 /dev/sdb1`:                       "disk_format",
		`diskpart /s wipe.txt`:                      "disk_format",
		`shutdown /s /t 0`:                          "system_shutdown",
		`sudo reboot`:                               "system_shutdown",
		`Stop-Computer -Force`:                      "system_shutdown",
		`net user backdoor hunter2 /add`:            "account_creation",
		`net localgroup administrators evil /add`:   "account_creation",
		`useradd -m intruder`:                       "account_creation",
		`reg add HKLM\Software\Run /v x /d evil`:    "registry_edit",
		`regedit /s payload.reg`:                    "registry_edit",
		`schtasks /create /tn job /tr evil.exe`:     "scheduled_task",
		`at 03:00 backdoor.bat`:                     "scheduled_task",
		`wmic /node:host process call create "cmd"`: "remote_process",
		`psexec \\target cmd.exe`:                   "remote_process",
	}
	for command, want := range cases {
		got, ok := MatchDangerous(command)
		if !ok {
			t.Errorf("MatchDangerous(%q): expected a match", command)
			continue
		}
		if got != want {
			t.Errorf("MatchDangerous(%q): expected %s, got %s", command, want, got)
		}
	}
}

func TestMatchDangerousIsCaseInsensitive(t *testing.T) {
	if _, ok := MatchDangerous(`RM -RF /`); !ok {
		t.Error("expected uppercase variant to match")
	}
	if _, ok := MatchDangerous(`ShUtDoWn /r`); !ok {
		t.Error("expected mixed-case variant to match")
	}
}

func TestMatchDangerousCleanCommands(t *testing.T) {
	for _, command := range []string{
		"git status",
		"echo hello world",
		"dotnet build -c Release",
		"msbuild solution.sln /t:Build",
		"echo formatting is fine",
		"git log --format=oneline",
		"del file.txt",
	} {
		if class, ok := MatchDangerous(command); ok {
			t.Errorf("MatchDangerous(%q): expected no match, got %s", command, class)
		}
	}
}

func TestMatchDangerousBacktick(t *testing.T) {
	class, ok := MatchDangerous("echo `whoami`")
	if !ok || class != "command_substitution" {
		t.Errorf("expected command_substitution, got %q ok=%v", class, ok)
	}
}

func TestMatchDangerousBacktickInSingleLineQuote(t *testing.T) {
	if _, ok := MatchDangerous("echo '`whoami`'"); !ok {
		t.Error("expected backtick in a single-line quote to match")
	}
}

func TestMatchDangerousBacktickInMultilineQuoteExempt(t *testing.T) {
	command := "echo \"first line\nuse `code` fences\nlast line\""
	if class, ok := MatchDangerous(command); ok {
		t.Errorf("expected multi-line quoted backtick to be exempt, got %s", class)
	}
}

func TestMatchDangerousBacktickOutsideMultilineQuote(t *testing.T) {
	command := "echo `whoami` \"first\nsecond\""
	if _, ok := MatchDangerous(command); !ok {
		t.Error("expected backtick outside the quoted block to match")
	}
}
