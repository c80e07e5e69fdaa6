package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/buildgate/buildgate/internal/model"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter selects entries for session replay. Empty string fields
// and zero times mean no constraint.
type ReplayFilter struct {
	CorrelationID string
	Client        string
	From          time.Time
	To            time.Time
}

// ReplaySummary aggregates the decisions of a replayed session.
type ReplaySummary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	DenyCount      int            `json:"deny_count"`
	KindCounts     map[string]int `json:"kind_counts,omitempty"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	Client        string        `json:"client,omitempty"`
	Entries       []Entry       `json:"entries"`
	Summary       ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		CorrelationID: filter.CorrelationID,
		Client:        filter.Client,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}

		if filter.CorrelationID != "" && entry.CorrelationID != filter.CorrelationID {
			continue
		}
		if filter.Client != "" && entry.Client != filter.Client {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++

	switch entry.Decision {
	case model.Allow:
		s.AllowCount++
	case model.Deny:
		s.DenyCount++
	}

	if entry.Kind != "" {
		if s.KindCounts == nil {
			s.KindCounts = make(map[string]int)
		}
		s.KindCounts[string(entry.Kind)]++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
