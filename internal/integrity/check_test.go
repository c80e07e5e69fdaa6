package integrity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashSelfIsStable(t *testing.T) {
	first, err := HashSelf()
	if err != nil {
		t.Fatal(err)
	}
	second, err := HashSelf()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("hash changed between calls: %s vs %s", first, second)
	}
	if len(first) != 64 || !isHex(first) {
		t.Fatalf("expected sha256 hex digest, got %q", first)
	}
}

func TestVerifyPassesWithoutExpectedHash(t *testing.T) {
	oldPaths := ChecksumPaths
	ChecksumPaths = []string{filepath.Join(t.TempDir(), "absent.sha256")}
	defer func() { ChecksumPaths = oldPaths }()

	if err := Verify(); err != nil {
		t.Fatalf("expected dev-mode pass, got %v", err)
	}
}

func TestVerifyPassesWithMatchingChecksumFile(t *testing.T) {
	self, err := HashSelf()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "binary.sha256")
	if err := os.WriteFile(path, []byte(self+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	oldPaths := ChecksumPaths
	ChecksumPaths = []string{path}
	defer func() { ChecksumPaths = oldPaths }()

	if err := Verify(); err != nil {
		t.Fatalf("expected pass with matching checksum, got %v", err)
	}
}

func TestVerifyRejectsMismatchAndRecordsTamper(t *testing.T) {
	wrong := strings.Repeat("ab", 32)
	path := filepath.Join(t.TempDir(), "binary.sha256")
	if err := os.WriteFile(path, []byte(wrong), 0644); err != nil {
		t.Fatal(err)
	}

	oldPaths, oldDir := ChecksumPaths, TamperLogDir
	ChecksumPaths = []string{path}
	TamperLogDir = t.TempDir()
	defer func() { ChecksumPaths, TamperLogDir = oldPaths, oldDir }()

	err := Verify()
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("unexpected error %v", err)
	}

	data, err := os.ReadFile(filepath.Join(TamperLogDir, "tamper.jsonl"))
	if err != nil {
		t.Fatalf("expected tamper log: %v", err)
	}
	var event TamperEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatal(err)
	}
	if event.Type != "binary_tamper" || event.ExpectedHash != wrong {
		t.Errorf("unexpected tamper event %+v", event)
	}
}

func TestLoadChecksumFileIgnoresGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.sha256")
	if err := os.WriteFile(path, []byte("not a hash at all"), 0644); err != nil {
		t.Fatal(err)
	}

	oldPaths := ChecksumPaths
	ChecksumPaths = []string{path}
	defer func() { ChecksumPaths = oldPaths }()

	if got := loadChecksumFile(); got != "" {
		t.Fatalf("expected garbage to be ignored, got %q", got)
	}
}
