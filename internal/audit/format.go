package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.CorrelationID
	if label == "" {
		label = result.Client
	}
	if label == "" {
		label = "all"
	}

	if len(result.Entries) == 0 {
		return fmt.Sprintf("Session: %s | No entries found.\n", label)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Session: %s | %s–%s UTC\n", label, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		decision := strings.ToUpper(string(e.Decision))
		tool := truncate(e.Tool, 16)
		resource := truncate(e.Resource, 40)

		tag := ""
		if e.Kind != "" {
			tag = "  [" + string(e.Kind) + "]"
		}

		b.WriteString(fmt.Sprintf("%-10s %-6s %-16s %-40s%s\n",
			ts, decision, tool, resource, tag))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.DenyCount))
	}
	if len(parts) == 0 {
		parts = append(parts, "no decisions")
	}

	line := "Summary: " + strings.Join(parts, ", ")
	if len(s.KindCounts) > 0 {
		kinds := make([]string, 0, len(s.KindCounts))
		for kind, n := range s.KindCounts {
			kinds = append(kinds, fmt.Sprintf("%s x%d", kind, n))
		}
		sort.Strings(kinds)
		line += " | " + strings.Join(kinds, ", ")
	}
	return line + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
