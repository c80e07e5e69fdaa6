package policy

import (
	"regexp"
	"strings"
)

// patternRule pairs a compiled expression with the classification reported
// when it matches. The table is fixed and checked in every mode.
type patternRule struct {
	Classification string
	expr           string
	re             *regexp.Regexp
}

var dangerousPatterns = compilePatterns([]patternRule{
	{Classification: "recursive_delete", expr: `\brm\s+-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r`},
	{Classification: "recursive_delete", expr: `\bdel\s+(/[a-z]+\s+)*/[sfq]\b`},
	{Classification: "recursive_delete", expr: `\brmdir\s+(/[a-z]+\s+)*/s\b`},
	{Classification: "recursive_delete", expr: `\bremove-item\b.*-recurse`},
	{Classification: "disk_format", expr: `\bformat\s+[a-z]:`},
	{Classification: "disk_format", expr: `\bmkfs(\.[a-z0-9]+)?\b`},
	{Classification: "disk_format", expr: `\bdiskpart\b`},
	{Classification: "system_shutdown", expr: `\bshutdown\b`},
	{Classification: "system_shutdown", expr: `\breboot\b`},
	{Classification: "system_shutdown", expr: `\bhalt\b|\bpoweroff\b`},
	{Classification: "system_shutdown", expr: `\b(restart|stop)-computer\b`},
	{Classification: "account_creation", expr: `\bnet\s+user\s+.*/add\b`},
	{Classification: "account_creation", expr: `\bnet\s+localgroup\s+administrators\s+.*/add\b`},
	{Classification: "account_creation", expr: `\buseradd\b|\badduser\b`},
	{Classification: "registry_edit", expr: `\breg\s+(add|delete|import)\b`},
	{Classification: "registry_edit", expr: `\bregedit\b`},
	{Classification: "scheduled_task", expr: `\bschtasks\s+(/[a-z]+\s+)*/create\b`},
	{Classification: "scheduled_task", expr: `\bat\s+\d{1,2}:\d{2}\b`},
	{Classification: "remote_process", expr: `\bwmic\b.*\bprocess\s+call\s+create\b`},
	{Classification: "remote_process", expr: `\binvoke-wmimethod\b|\bwin32_process\b`},
	{Classification: "remote_process", expr: `\bpsexec\b`},
})

func compilePatterns(rules []patternRule) []patternRule {
	for i := range rules {
		rules[i].re = regexp.MustCompile(`(?i)` + rules[i].expr)
	}
	return rules
}

// MatchDangerous returns the classification of the first table entry the
// command matches. The check runs on the raw text, before any tokenization,
// so a dangerous segment buried in a chain is still caught.
func MatchDangerous(command string) (string, bool) {
	for _, rule := range dangerousPatterns {
		if rule.re.MatchString(command) {
			return rule.Classification, true
		}
	}
	if backtickOutsideMultilineQuote(command) {
		return "command_substitution", true
	}
	return "", false
}

// backtickOutsideMultilineQuote reports whether the command embeds a
// backtick anywhere except inside a quoted block that spans multiple lines,
// the sole recognized exemption.
func backtickOutsideMultilineQuote(s string) bool {
	if !strings.ContainsRune(s, '`') {
		return false
	}

	type quoteRun struct {
		start, end int // rune offsets, end exclusive; end==len for unterminated
		multiline  bool
	}

	var runs []quoteRun
	runes := []rune(s)
	var quote rune
	start := -1
	for i, r := range runes {
		switch {
		case quote == 0 && (r == '\'' || r == '"'):
			quote = r
			start = i
		case quote != 0 && r == quote:
			runs = append(runs, quoteRun{start: start, end: i + 1})
			quote = 0
		}
	}
	if quote != 0 {
		runs = append(runs, quoteRun{start: start, end: len(runes)})
	}
	for ri := range runs {
		for i := runs[ri].start; i < runs[ri].end; i++ {
			if runes[i] == '\n' {
				runs[ri].multiline = true
				break
			}
		}
	}

	inMultilineQuote := func(pos int) bool {
		for _, run := range runs {
			if pos >= run.start && pos < run.end {
				return run.multiline
			}
		}
		return false
	}

	for i, r := range runes {
		if r == '`' && !inMultilineQuote(i) {
			return true
		}
	}
	return false
}
