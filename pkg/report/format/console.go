// Package format provides console rendering utilities for datasets and their
// analytics. Tables adapt column widths to the terminal and support color and
// truncation; structured encodings are available for scripting.
package format

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/datasets"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// MetricOrder is the display order of the well-known average fields.
var MetricOrder = []string{analytics.ColumnFlowrate, analytics.ColumnPressure, analytics.ColumnTemperature}

// ConsoleFormatter renders datasets and analytics as terminal-friendly tables
// that attempt to adapt to the current console width.
type ConsoleFormatter struct {
	// MaxColWidth constrains each preview column. If 0, a dynamic width is
	// chosen based on terminal width.
	MaxColWidth int

	// EnableColors toggles ANSI color output for status cells.
	EnableColors bool
}

// NewConsoleFormatter creates a formatter with sensible defaults.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{EnableColors: true}
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.DrawBorder = true
	return tw
}

// RenderDatasets writes the recent-datasets list. selected, when non-empty,
// is marked with an asterisk.
func (f *ConsoleFormatter) RenderDatasets(list datasets.List, selected string, w io.Writer) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No datasets uploaded yet.")
		return err
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"", "ID", "Filename", "Status", "Rows", "Columns", "Uploaded"})
	for _, d := range list {
		mark := ""
		if selected != "" && d.ID == selected {
			mark = "*"
		}
		tw.AppendRow(table.Row{
			mark,
			d.ID,
			d.Filename,
			f.statusCell(d.Status),
			countCell(d.RowCount),
			countCell(d.ColumnCount),
			timeCell(d.UploadedAt),
		})
	}
	if width := detectTerminalWidth(w); width > 0 && width < 120 {
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, WidthMax: 13, Transformer: truncTransformer(13)},
			{Number: 3, WidthMax: 24, Transformer: truncTransformer(24)},
		})
	}
	tw.Render()

	if _, err := fmt.Fprintf(w, "\n%d of at most %d datasets\n", len(list), datasets.MaxRecent); err != nil {
		return fmt.Errorf("failed writing dataset count: %w", err)
	}
	return nil
}

// RenderSummary writes the dataset header, averages and type distribution.
func (f *ConsoleFormatter) RenderSummary(d datasets.Dataset, s *datasets.Summary, w io.Writer) error {
	if s == nil {
		return fmt.Errorf("nil summary")
	}
	if err := f.renderHeader(d, w); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Total equipment: %d\n\n", s.TotalCount); err != nil {
		return fmt.Errorf("failed writing total line: %w", err)
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"Metric", "Average"})
	for _, field := range averageFields(s) {
		tw.AppendRow(table.Row{field, FormatAverage(s, field)})
	}
	tw.Render()

	if len(s.TypeDistribution) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("failed writing spacer newline: %w", err)
	}
	dt := newTable(w)
	dt.AppendHeader(table.Row{"Type", "Count"})
	for _, typ := range sortedKeys(s.TypeDistribution) {
		dt.AppendRow(table.Row{typ, s.TypeDistribution[typ]})
	}
	dt.Render()
	return nil
}

// RenderPreview writes preview rows in column order.
func (f *ConsoleFormatter) RenderPreview(p *analytics.Preview, w io.Writer) error {
	if p == nil {
		return fmt.Errorf("nil preview")
	}
	if len(p.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No rows.")
		return err
	}

	tw := newTable(w)
	header := table.Row{"#"}
	for _, c := range p.Columns {
		header = append(header, c)
	}
	tw.AppendHeader(header)
	if configs := f.buildColumnConfig(len(p.Columns), w); len(configs) > 0 {
		tw.SetColumnConfigs(configs)
	}
	for i, row := range p.Rows {
		r := table.Row{i + 1}
		for _, c := range p.Columns {
			r = append(r, f.valueCell(row[c]))
		}
		tw.AppendRow(r)
	}
	tw.Render()

	if _, err := fmt.Fprintf(w, "\nShowing %d rows (limit %d)\n", p.Returned, p.Limit); err != nil {
		return fmt.Errorf("failed writing preview footer: %w", err)
	}
	return nil
}

// RenderSnapshot writes the summary followed by the preview.
func (f *ConsoleFormatter) RenderSnapshot(s *analytics.Snapshot, w io.Writer) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if err := f.RenderSummary(s.Dataset, &s.Summary, w); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("failed writing spacer newline: %w", err)
	}
	return f.RenderPreview(&s.Preview, w)
}

func (f *ConsoleFormatter) renderHeader(d datasets.Dataset, w io.Writer) error {
	if d.ID == "" {
		return nil
	}
	if _, err := fmt.Fprintf(w, "%s (%s)\n", d.Filename, d.ID); err != nil {
		return fmt.Errorf("failed writing dataset header: %w", err)
	}
	if line := StatusLine(d); line != "" {
		if _, err := fmt.Fprintln(w, f.color(line, text.FgYellow)); err != nil {
			return fmt.Errorf("failed writing status line: %w", err)
		}
	}
	return nil
}

// StatusLine returns "Status: <status>" for datasets that are not ready, or "".
func StatusLine(d datasets.Dataset) string {
	if d.Ready() || d.Status == "" {
		return ""
	}
	return "Status: " + string(d.Status)
}

// FormatAverage renders an average with two decimals, or "-" when absent.
func FormatAverage(s *datasets.Summary, field string) string {
	if s == nil {
		return "-"
	}
	v, ok := s.Average(field)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// averageFields lists the well-known metrics first, then any others sorted.
func averageFields(s *datasets.Summary) []string {
	fields := append([]string(nil), MetricOrder...)
	var extra []string
	for k := range s.Averages {
		known := false
		for _, m := range MetricOrder {
			if k == m {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(fields, extra...)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func (f *ConsoleFormatter) statusCell(s datasets.Status) string {
	switch {
	case s == "":
		return "-"
	case !s.Known():
		return f.color(string(s)+" (unknown)", text.FgMagenta)
	case s == datasets.StatusReady:
		return f.color(string(s), text.FgGreen)
	case s == datasets.StatusError:
		return f.color(string(s), text.FgRed)
	}
	return f.color(string(s), text.FgYellow)
}

func (f *ConsoleFormatter) valueCell(v any) string {
	switch x := v.(type) {
	case nil:
		return f.color("—", text.FgHiBlack)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

func countCell(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func timeCell(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// buildColumnConfig sizes preview columns to fit the terminal.
func (f *ConsoleFormatter) buildColumnConfig(cols int, w io.Writer) []table.ColumnConfig {
	if cols == 0 {
		return nil
	}
	colWidth := f.MaxColWidth
	if colWidth <= 0 {
		termWidth := detectTerminalWidth(w)
		if termWidth <= 0 {
			return nil
		}
		termWidth = max(termWidth, 60)
		colWidth = (termWidth - 6) / cols
		colWidth = max(8, min(colWidth, 32))
	}

	configs := make([]table.ColumnConfig, 0, cols)
	// Columns are 1-based; the row number is column 1.
	for i := 0; i < cols; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 2,
			WidthMax:    colWidth,
			WidthMin:    min(5, colWidth),
			Transformer: truncTransformer(colWidth),
		})
	}
	return configs
}

// detectTerminalWidth attempts to get terminal width if writer is a file (stdout/stderr).
func detectTerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return -1
	}
	if width, _, err := term.GetSize(int(f.Fd())); err == nil {
		return width
	}
	return -1
}

// truncTransformer returns a text.Transformer to ellipsize overly wide cells.
func truncTransformer(max int) text.Transformer {
	return func(val interface{}) string {
		s := fmt.Sprint(val)
		if runeLen := utf8.RuneCountInString(s); runeLen > max {
			if max <= 1 {
				return "…"
			}
			return truncateRunes(s, max)
		}
		return s
	}
}

// truncateRunes truncates a string to (max) runes with ellipsis.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= max-1 {
			break
		}
		b.WriteRune(r)
		count++
	}
	b.WriteRune('…')
	return b.String()
}

func (f *ConsoleFormatter) color(s string, c text.Color) string {
	if !f.EnableColors {
		return s
	}
	return text.Colors{c}.Sprint(s)
}
