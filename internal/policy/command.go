// Package policy decides what commands, paths, and addresses may be used.
// All checks are pure functions over configuration parsed once at boot.
package policy

import (
	"strings"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/model"
)

// SegmentKind tags a chain segment as command text or a chaining operator.
type SegmentKind string

const (
	SegmentCommand  SegmentKind = "command"
	SegmentOperator SegmentKind = "operator"
)

// Segment is one element of a tokenized command chain.
type Segment struct {
	Kind SegmentKind
	Text string
}

// chainOperators in match order: two-character operators first so "&&" is
// never read as two commands glued by stray ampersands.
var chainOperators = []string{"&&", "||", ">>", "|", ">"}

// CommandPolicy validates raw command text.
type CommandPolicy struct {
	maxLength int
	devMode   bool
	base      map[string]struct{}
	dev       map[string]struct{}
}

// NewCommandPolicy builds a CommandPolicy from configuration.
func NewCommandPolicy(cfg config.CommandsConfig) *CommandPolicy {
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = 8192
	}
	p := &CommandPolicy{
		maxLength: maxLength,
		devMode:   cfg.DevMode,
		base:      make(map[string]struct{}, len(cfg.BaseAllowlist)),
		dev:       make(map[string]struct{}, len(cfg.DevAllowlist)),
	}
	for _, c := range cfg.BaseAllowlist {
		p.base[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, c := range cfg.DevAllowlist {
		p.dev[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return p
}

// DevMode reports whether chained commands are permitted.
func (p *CommandPolicy) DevMode() bool {
	return p.devMode
}

// Validate runs the full command check and returns the approved text:
// control bytes stripped, case preserved. The dangerous-pattern check runs
// on the raw input in every mode.
func (p *CommandPolicy) Validate(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", model.NewViolation(model.KindInvalidInput, "command is empty")
	}
	if len(text) > p.maxLength {
		return "", model.NewViolation(model.KindTooLong,
			"command is %d bytes, limit is %d", len(text), p.maxLength)
	}
	if class, ok := MatchDangerous(text); ok {
		return "", model.NewViolation(model.KindDangerousPattern,
			"command matches blocked pattern %s", class)
	}

	sanitized := StripControlBytes(text)
	segments := TokenizeChain(sanitized)

	if !p.devMode {
		if len(segments) > 1 {
			return "", model.NewViolation(model.KindCommandNotAllowed,
				"chained commands are not permitted; enable dev mode for &&, ||, |, >, >>")
		}
		if err := p.checkSegment(segments[0].Text); err != nil {
			return "", err
		}
		return sanitized, nil
	}

	for _, seg := range segments {
		if seg.Kind != SegmentCommand {
			continue
		}
		if err := p.checkSegment(seg.Text); err != nil {
			return "", err
		}
	}
	return sanitized, nil
}

func (p *CommandPolicy) checkSegment(text string) error {
	head := LeadingToken(text)
	if head == "" {
		return model.NewViolation(model.KindInvalidInput, "empty command segment")
	}
	if _, ok := p.base[head]; ok {
		return nil
	}
	if p.devMode {
		if _, ok := p.dev[head]; ok {
			return nil
		}
	}
	return model.NewViolation(model.KindCommandNotAllowed,
		"command %q is not in the allowlist", head)
}

// TokenizeChain splits sanitized text into an alternating sequence of
// Command and Operator segments in one linear scan. Operators inside single
// or double quotes are command text. Always returns at least one segment.
func TokenizeChain(s string) []Segment {
	var segments []Segment
	var quote byte
	start := 0

	flushCommand := func(end int) {
		segments = append(segments, Segment{Kind: SegmentCommand, Text: strings.TrimSpace(s[start:end])})
	}

	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			i++
		case c == '\'' || c == '"':
			quote = c
			i++
		default:
			matched := ""
			for _, op := range chainOperators {
				if strings.HasPrefix(s[i:], op) {
					matched = op
					break
				}
			}
			if matched == "" {
				i++
				continue
			}
			flushCommand(i)
			segments = append(segments, Segment{Kind: SegmentOperator, Text: matched})
			i += len(matched)
			start = i
		}
	}
	flushCommand(len(s))
	return segments
}

// LeadingToken returns the first whitespace-delimited token, lowercased,
// with a recognized executable extension stripped (msbuild.exe -> msbuild).
func LeadingToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	tok := strings.ToLower(fields[0])
	for _, ext := range []string{".exe", ".bat", ".cmd", ".com", ".ps1", ".sh"} {
		if strings.HasSuffix(tok, ext) {
			return strings.TrimSuffix(tok, ext)
		}
	}
	return tok
}

// StripControlBytes removes NUL and other control bytes, keeping tab,
// newline, and carriage return so multi-line quoted blocks survive.
func StripControlBytes(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// QuoteSingle doubles embedded single quotes, the escaping convention for
// embedding text into a single-quoted shell string.
func QuoteSingle(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
