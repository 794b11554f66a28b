// Package scanner parses a single JSONL session file into an
// IndexedMetadata summary, one line at a time and without loading the
// file into memory.
package scanner

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nstogner/operative/pkg/session"
)

// maxLineSize bounds a single JSONL line. A longer line is not skipped: the
// scan stops and Scan returns bufio.ErrTooLong instead of growing the buffer
// without limit.
const maxLineSize = 10 * 1024 * 1024

const fallbackSummaryMaxLen = 100

// rawEntry is the subset of a JSONL line's shape the scanner cares about.
type rawEntry struct {
	Type        string          `json:"type"`
	IsSidechain bool            `json:"isSidechain"`
	Timestamp   string          `json:"timestamp"`
	CWD         string          `json:"cwd"`
	DurationMs  int64           `json:"durationMs"`
	Summary     string          `json:"summary"`
	Message     json.RawMessage `json:"message"`
}

// Scan reads path line by line and produces an IndexedMetadata summary, or
// nil if the file contributes no user/assistant messages and no summary.
// mtimeMs is the file's modification time in milliseconds, recorded
// verbatim as LastScannedAtMs.
func Scan(path string, mtimeMs int64) (*session.IndexedMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return scan(f, path, mtimeMs)
}

func scan(r io.Reader, path string, mtimeMs int64) (*session.IndexedMetadata, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		messageCount    int
		totalDurationMs int64
		model           string
		projectPath     string
		summary         string
		fallbackSummary string
		haveSummary     bool
		haveFallback    bool
		firstTimestamp  time.Time
		lastTimestamp   time.Time
	)

	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var e rawEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// Malformed or truncated lines are tolerated silently: the
			// writer may be mid-write.
			continue
		}

		if e.IsSidechain {
			continue
		}

		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			if firstTimestamp.IsZero() {
				firstTimestamp = ts
			}
			lastTimestamp = ts
		}

		if projectPath == "" && e.CWD != "" {
			projectPath = e.CWD
		}

		switch e.Type {
		case string(session.MessageTypeUser), string(session.MessageTypeAssistant):
			messageCount++
			totalDurationMs += e.DurationMs

			var payload session.MessagePayload
			if len(e.Message) > 0 {
				_ = json.Unmarshal(e.Message, &payload)
			}
			if model == "" && payload.Model != "" {
				model = payload.Model
			}

			if !haveFallback && e.Type == string(session.MessageTypeUser) {
				if text := payload.Text(); text != "" {
					fallbackSummary = truncateSummary(text)
					haveFallback = true
				}
			}

		case "summary":
			summary = e.Summary
			haveSummary = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if messageCount == 0 && !haveSummary {
		return nil, nil
	}

	finalSummary := summary
	if !haveSummary {
		finalSummary = fallbackSummary
	}

	if model == "" {
		model = session.DefaultModel
	}

	return &session.IndexedMetadata{
		Summary:         finalSummary,
		ProjectPath:     projectPath,
		FilePath:        path,
		MessageCount:    messageCount,
		TotalDurationMs: totalDurationMs,
		Model:           model,
		FirstTimestamp:  firstTimestamp,
		LastTimestamp:   lastTimestamp,
		LastScannedAtMs: mtimeMs,
	}, nil
}

// truncateSummary clamps s to fallbackSummaryMaxLen characters, replacing
// newlines with spaces, appending an ellipsis when truncated.
func truncateSummary(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= fallbackSummaryMaxLen {
		return s
	}
	return string(r[:fallbackSummaryMaxLen]) + "..."
}
