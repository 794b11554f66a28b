package scanner

import (
	"strings"
	"testing"
)

func TestScanBasicSession(t *testing.T) {
	input := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","cwd":"/p","message":{"content":"hi"},"durationMs":100}
{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2024-01-01T00:00:01Z","message":{"model":"m-1","content":"ok"},"durationMs":200}
`
	got, err := scan(strings.NewReader(input), "/p/a.jsonl", 1234)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got == nil {
		t.Fatal("scan returned nil, want a record")
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}
	if got.TotalDurationMs != 300 {
		t.Errorf("TotalDurationMs = %d, want 300", got.TotalDurationMs)
	}
	if got.Model != "m-1" {
		t.Errorf("Model = %q, want %q", got.Model, "m-1")
	}
	if got.ProjectPath != "/p" {
		t.Errorf("ProjectPath = %q, want %q", got.ProjectPath, "/p")
	}
	if got.Summary != "hi" {
		t.Errorf("Summary = %q, want %q", got.Summary, "hi")
	}
}

func TestScanSidechainIgnored(t *testing.T) {
	input := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","cwd":"/p","message":{"content":"hi"},"durationMs":100}
{"type":"assistant","uuid":"a1","timestamp":"2024-01-01T00:00:01Z","message":{"model":"m-1","content":"ok"},"durationMs":200}
{"type":"assistant","isSidechain":true,"uuid":"a2","timestamp":"2024-01-01T00:00:02Z","message":{"model":"other","content":"internal"},"durationMs":999}
`
	got, err := scan(strings.NewReader(input), "/p/a.jsonl", 1234)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2 (sidechain must not count)", got.MessageCount)
	}
	if got.TotalDurationMs != 300 {
		t.Errorf("TotalDurationMs = %d, want 300", got.TotalDurationMs)
	}
}

func TestScanSummaryOverridesFallback(t *testing.T) {
	input := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","cwd":"/p","message":{"content":"hi"},"durationMs":100}
{"type":"assistant","uuid":"a1","timestamp":"2024-01-01T00:00:01Z","message":{"model":"m-1","content":"ok"},"durationMs":200}
{"type":"summary","summary":"S"}
`
	got, err := scan(strings.NewReader(input), "/p/a.jsonl", 1234)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got.Summary != "S" {
		t.Errorf("Summary = %q, want %q", got.Summary, "S")
	}
}

func TestScanOnlySidechainReturnsNil(t *testing.T) {
	input := `{"type":"assistant","isSidechain":true,"uuid":"a1","timestamp":"2024-01-01T00:00:01Z","message":{"content":"internal"}}
`
	got, err := scan(strings.NewReader(input), "/p/a.jsonl", 1234)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got != nil {
		t.Errorf("scan = %+v, want nil", got)
	}
}

func TestScanTruncatesFallbackSummary(t *testing.T) {
	long := strings.Repeat("x", 150)
	input := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","message":{"content":"` + long + `"}}
`
	got, err := scan(strings.NewReader(input), "/p/a.jsonl", 1234)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len([]rune(got.Summary)) != 103 { // 100 chars + "..."
		t.Errorf("Summary len = %d, want 103", len([]rune(got.Summary)))
	}
	if !strings.HasSuffix(got.Summary, "...") {
		t.Errorf("Summary = %q, want ellipsis suffix", got.Summary)
	}
}

func TestScanToleratesMalformedLines(t *testing.T) {
	input := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","message":{"content":"hi"}}
not json at all
{"type":"assistant","uuid":"a1","timestamp":"2024-01-01T00:00:01Z","message":{"content":"ok"}}
{"incomplete tail
`
	got, err := scan(strings.NewReader(input), "/p/a.jsonl", 1234)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}
}
