package format

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/datasets"
)

func intPtr(n int) *int { return &n }
func floatPtr(f float64) *float64 { return &f }

// helper to build a sample list
func sampleList() datasets.List {
	return datasets.List{
		{
			ID:          "1f0c2d3e-aaaa-4bbb-8ccc-000000000001",
			Filename:    "plant-a.csv",
			Status:      datasets.StatusReady,
			RowCount:    intPtr(15),
			ColumnCount: intPtr(5),
			UploadedAt:  time.Date(2025, 1, 2, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:       "2a9d8e7f-aaaa-4bbb-8ccc-000000000002",
			Filename: "plant-b.csv",
			Status:   datasets.StatusProcessing,
		},
	}
}

func sampleSummary() *datasets.Summary {
	return &datasets.Summary{
		TotalCount: 15,
		Averages: map[string]*float64{
			"Flowrate":    floatPtr(119.8),
			"Pressure":    floatPtr(6.1066),
			"Temperature": nil,
		},
		TypeDistribution: map[string]int{"Pump": 4, "Valve": 6, "Compressor": 4},
	}
}

func samplePreview() *analytics.Preview {
	return &analytics.Preview{
		Columns: []string{"Equipment Name", "Type", "Flowrate"},
		Rows: []map[string]any{
			{"Equipment Name": "Pump-1", "Type": "Pump", "Flowrate": 120.5},
			{"Equipment Name": "Valve-1", "Type": "Valve", "Flowrate": nil},
		},
		Limit:    50,
		Returned: 2,
	}
}

func plain() *ConsoleFormatter {
	f := NewConsoleFormatter()
	f.EnableColors = false // deterministic output for assertions
	return f
}

func TestRenderDatasets(t *testing.T) {
	var buf bytes.Buffer
	list := sampleList()
	if err := plain().RenderDatasets(list, list[1].ID, &buf); err != nil {
		t.Fatalf("RenderDatasets returned error: %v", err)
	}
	out := buf.String()

	expectContains(t, out, "FILENAME", "filename header missing")
	expectContains(t, out, "plant-a.csv", "first dataset missing")
	expectContains(t, out, "processing", "status missing")
	expectContains(t, out, "15", "row count missing")
	expectContains(t, out, "*", "selection marker missing")
	expectContains(t, out, "2 of at most 5 datasets", "footer missing")
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected ANSI color sequences found when colors disabled")
	}
}

func TestStatusCell(t *testing.T) {
	f := plain()
	tests := []struct {
		status datasets.Status
		want   string
	}{
		{datasets.StatusReady, "ready"},
		{datasets.StatusProcessing, "processing"},
		{datasets.StatusError, "error"},
		{"archived", "archived (unknown)"},
		{"", "-"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := f.statusCell(tt.status); got != tt.want {
				t.Errorf("statusCell(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestRenderDatasetsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := plain().RenderDatasets(nil, "", &buf); err != nil {
		t.Fatalf("RenderDatasets returned error: %v", err)
	}
	expectContains(t, buf.String(), "No datasets uploaded yet.", "empty message missing")
}

func TestRenderDatasetsColors(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter()
	f.EnableColors = true
	if err := f.RenderDatasets(sampleList(), "", &buf); err != nil {
		t.Fatalf("RenderDatasets returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("expected ANSI color sequences but none found")
	}
	if !strings.Contains(stripANSI(out), "ready") {
		t.Errorf("expected ready status in output (stripANSI)")
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	d := sampleList()[1]
	if err := plain().RenderSummary(d, sampleSummary(), &buf); err != nil {
		t.Fatalf("RenderSummary returned error: %v", err)
	}
	out := buf.String()

	expectContains(t, out, "plant-b.csv", "dataset header missing")
	expectContains(t, out, "Status: processing", "status line missing")
	expectContains(t, out, "Total equipment: 15", "total missing")
	expectContains(t, out, "119.80", "flowrate average missing")
	expectContains(t, out, "6.11", "pressure average not rounded")
	expectContains(t, out, "Valve", "distribution missing")

	// Flowrate, Pressure, Temperature in fixed order.
	fi, pi, ti := strings.Index(out, "Flowrate"), strings.Index(out, "Pressure"), strings.Index(out, "Temperature")
	if fi < 0 || fi > pi || pi > ti {
		t.Errorf("metrics out of order: %d %d %d", fi, pi, ti)
	}
}

func TestRenderSummaryNil(t *testing.T) {
	var buf bytes.Buffer
	if err := plain().RenderSummary(datasets.Dataset{}, nil, &buf); err == nil {
		t.Fatalf("expected error rendering nil summary, got nil")
	}
}

func TestFormatAverage(t *testing.T) {
	s := sampleSummary()
	tests := []struct {
		field string
		want  string
	}{
		{"Flowrate", "119.80"},
		{"Pressure", "6.11"},
		{"Temperature", "-"},
		{"Missing", "-"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if got := FormatAverage(s, tt.field); got != tt.want {
				t.Errorf("FormatAverage(%s) = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
	if got := FormatAverage(nil, "Flowrate"); got != "-" {
		t.Errorf("FormatAverage(nil) = %q", got)
	}
}

func TestStatusLine(t *testing.T) {
	if got := StatusLine(datasets.Dataset{Status: datasets.StatusReady}); got != "" {
		t.Errorf("ready dataset status line = %q, want empty", got)
	}
	if got := StatusLine(datasets.Dataset{Status: datasets.StatusError}); got != "Status: error" {
		t.Errorf("StatusLine = %q", got)
	}
}

func TestRenderPreview(t *testing.T) {
	var buf bytes.Buffer
	if err := plain().RenderPreview(samplePreview(), &buf); err != nil {
		t.Fatalf("RenderPreview returned error: %v", err)
	}
	out := buf.String()
	expectContains(t, out, "EQUIPMENT NAME", "column header missing")
	expectContains(t, out, "Pump-1", "row value missing")
	expectContains(t, out, "120.5", "numeric value missing")
	expectContains(t, out, "—", "null marker missing")
	expectContains(t, out, "Showing 2 rows (limit 50)", "footer missing")
}

func TestRenderSnapshot(t *testing.T) {
	var buf bytes.Buffer
	d := sampleList()[0]
	snap := &analytics.Snapshot{DatasetID: d.ID, Dataset: d, Summary: *sampleSummary(), Preview: *samplePreview()}
	if err := plain().RenderSnapshot(snap, &buf); err != nil {
		t.Fatalf("RenderSnapshot returned error: %v", err)
	}
	out := buf.String()
	expectContains(t, out, "plant-a.csv", "header missing")
	expectContains(t, out, "Total equipment: 15", "summary missing")
	expectContains(t, out, "Pump-1", "preview missing")
	if strings.Contains(out, "Status:") {
		t.Errorf("ready dataset should not print a status line")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("abcdef", 4); got != "abc…" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("abc", 4); got != "abc" {
		t.Errorf("truncateRunes short = %q", got)
	}
	if got := truncTransformer(1)("abc"); got != "…" {
		t.Errorf("truncTransformer(1) = %q", got)
	}
}

func expectContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("%s: expected to contain %q\nFull output:\n%s", msg, substr, s)
	}
}

// stripANSI removes ANSI escape sequences for simplified checks.
func stripANSI(s string) string {
	var b strings.Builder
	inEsc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0x1b {
			inEsc = true
			continue
		}
		if inEsc {
			// ESC sequences end with 'm' or a letter; simplistic but adequate here
			if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
				inEsc = false
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
