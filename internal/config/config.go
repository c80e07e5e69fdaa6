package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/buildgate/buildgate/internal/alert"
)

// ServerConfig holds transport settings for the serve command.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// AuthConfig holds the bearer secret. Set once at boot, immutable after.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// RateLimitConfig bounds per-client admission.
type RateLimitConfig struct {
	Requests int `yaml:"requests"`
	WindowMS int `yaml:"window_ms"`
}

// CommandsConfig drives command validation.
type CommandsConfig struct {
	MaxLength     int      `yaml:"max_length"`
	BaseAllowlist []string `yaml:"base_allowlist"`
	DevMode       bool     `yaml:"dev_mode"`
	DevAllowlist  []string `yaml:"dev_allowlist"`
}

// ScriptDirs is the script-file directory allowlist. It unmarshals from a
// YAML sequence or from a single semicolon-delimited scalar, the legacy
// convention for this particular list.
type ScriptDirs []string

// UnmarshalYAML accepts both forms.
func (d *ScriptDirs) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		var dirs []string
		for _, part := range strings.Split(raw, ";") {
			if p := strings.TrimSpace(part); p != "" {
				dirs = append(dirs, p)
			}
		}
		*d = dirs
		return nil
	case yaml.SequenceNode:
		var dirs []string
		if err := value.Decode(&dirs); err != nil {
			return err
		}
		*d = dirs
		return nil
	default:
		return fmt.Errorf("script_dirs: expected string or sequence, got %v", value.Kind)
	}
}

// PathsConfig drives working-directory and script-path validation.
type PathsConfig struct {
	AllowedRoots     []string   `yaml:"allowed_roots"`
	EnterpriseMode   bool       `yaml:"enterprise_mode"`
	EnterpriseRoots  []string   `yaml:"enterprise_roots"`
	CrossPlatform    bool       `yaml:"cross_platform"`
	ScriptDirs       ScriptDirs `yaml:"script_dirs"`
	ScriptExtensions []string   `yaml:"script_extensions"`
}

// RemoteConfig drives SSH target validation and connection behavior.
type RemoteConfig struct {
	AllowLoopback    bool `yaml:"allow_loopback"`
	ConnectTimeoutMS int  `yaml:"connect_timeout_ms"`
}

// TimeoutsConfig bounds execution time. PerTool overrides the default for
// a named tool; requests may lower but never exceed MaxMS.
type TimeoutsConfig struct {
	DefaultMS int            `yaml:"default_ms"`
	MaxMS     int            `yaml:"max_ms"`
	PerTool   map[string]int `yaml:"per_tool"`
}

// Config is the full boot-time configuration. Loaded once; the running
// process never mutates it.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Auth       AuthConfig           `yaml:"auth"`
	RateLimit  RateLimitConfig      `yaml:"rate_limit"`
	AllowedIPs []string             `yaml:"allowed_ips"`
	Commands   CommandsConfig       `yaml:"commands"`
	Paths      PathsConfig          `yaml:"paths"`
	Remote     RemoteConfig         `yaml:"remote"`
	Timeouts   TimeoutsConfig       `yaml:"timeouts"`
	AuditLog   string               `yaml:"audit_log"`
	HistoryDB  string               `yaml:"history_db"`
	Alerts     []alert.WebhookConfig `yaml:"alerts"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Listen: "127.0.0.1:8721"},
		Auth:   AuthConfig{Token: ""},
		RateLimit: RateLimitConfig{
			Requests: 30,
			WindowMS: 60000,
		},
		Commands: CommandsConfig{
			MaxLength: 8192,
			BaseAllowlist: []string{
				"echo", "dir", "ls", "type", "cat", "where", "whoami", "hostname",
				"git", "dotnet", "msbuild", "nuget",
				"python", "pip", "node", "npm", "npx",
				"go", "cargo", "rustc", "mvn", "gradle", "java", "javac",
				"docker", "make", "cmake", "ctest",
			},
		},
		Paths: PathsConfig{
			AllowedRoots:     []string{"/srv/builds", "/tmp/buildgate"},
			ScriptExtensions: []string{".ps1", ".bat"},
		},
		Remote: RemoteConfig{
			AllowLoopback:    false,
			ConnectTimeoutMS: 10000,
		},
		Timeouts: TimeoutsConfig{
			DefaultMS: 60000,
			MaxMS:     600000,
		},
	}
}

// DefaultPath returns ~/.buildgate/config.yaml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".buildgate", "config.yaml")
}

// Load reads configuration from a YAML file. Empty path falls back to
// DefaultPath. A missing file returns defaults. Invalid YAML is an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw YAML
// bytes on disk as "sha256:<hex>". When no file exists (defaults used), the
// hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return DefaultConfig(), HashBytes(nil), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), HashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, HashBytes(data), nil
}

// HashBytes returns "sha256:<hex>" of the given bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// HashFile returns the hash of a file's current contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// DefaultConfigYAML returns a commented YAML string for the init command.
func DefaultConfigYAML() string {
	return `# buildgate configuration
# Generated by: buildgate init
#
# The file is read once at startup. Edits on disk are detected and reported
# but take effect only after a restart.

server:
  # Listen address for "buildgate serve" (streamable HTTP MCP transport).
  # "buildgate mcp" (stdio) ignores this.
  listen: "127.0.0.1:8721"

auth:
  # Bearer token required on every call except health_check.
  # Empty or "change-me" disables authentication.
  token: "change-me"

rate_limit:
  # Sliding window per caller. A caller exceeding the limit is blocked
  # for 5 minutes.
  requests: 30
  window_ms: 60000

# Caller IP allowlist: bare IPv4/IPv6 addresses and IPv4 CIDR prefixes.
# Empty list admits every caller.
allowed_ips: []
#  - 127.0.0.1
#  - ::1
#  - 10.20.0.0/16

commands:
  max_length: 8192
  # First token of a command (case-insensitive, .exe/.cmd/etc. stripped)
  # must be in this list when dev_mode is off.
  base_allowlist:
    - echo
    - dir
    - ls
    - type
    - cat
    - where
    - whoami
    - hostname
    - git
    - dotnet
    - msbuild
    - nuget
    - python
    - pip
    - node
    - npm
    - npx
    - go
    - cargo
    - rustc
    - mvn
    - gradle
    - java
    - javac
    - docker
    - make
    - cmake
    - ctest
  # dev_mode permits chained commands (&&, ||, |, >, >>); every segment
  # is still validated against base_allowlist + dev_allowlist.
  dev_mode: false
  dev_allowlist: []

paths:
  # Working directories must start with one of these roots.
  allowed_roots:
    - /srv/builds
    - /tmp/buildgate
  #  - 'C:\builds\'
  # Enterprise mode adds a second list supporting a trailing * wildcard.
  enterprise_mode: false
  enterprise_roots: []
  #  - 'D:\teams\*'
  # Cross-platform mode normalizes to forward slashes and collapses
  # duplicate separators before the root check.
  cross_platform: false
  # Script files may only live in these directories. Accepts a YAML list
  # or the legacy semicolon-delimited string form:
  # script_dirs: "C:\scripts;C:\ci\scripts"
  script_dirs: []
  script_extensions:
    - .ps1
    - .bat

remote:
  # Whether 127.0.0.1/::1 may be used as an SSH target.
  allow_loopback: false
  connect_timeout_ms: 10000

timeouts:
  default_ms: 60000
  max_ms: 600000
  # Per-tool overrides, e.g.:
  # per_tool:
  #   run_remote: 120000
  per_tool: {}

# Hash-chained JSONL audit log. Empty disables.
audit_log: ""

# SQLite execution history database. Empty disables.
history_db: ""

# Webhook alerts on denied or timed-out requests.
alerts: []
#  - url: https://hooks.example.com/buildgate
#    format: generic        # generic | slack
#    events: [deny, timed_out]
#    headers: {}
`
}
