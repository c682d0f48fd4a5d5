package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Metric column names charted by the dashboard.
const (
	ColumnName        = "Equipment Name"
	ColumnFlowrate    = "Flowrate"
	ColumnPressure    = "Pressure"
	ColumnTemperature = "Temperature"
)

// Number coerces an untyped preview value. Finite numbers and numeric strings
// are accepted; NaN, infinities, booleans, nil, blank strings and composite
// values yield ok=false ("no data point").
func Number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		return parseNumeric(x.String())
	case string:
		return parseNumeric(x)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Series returns the coerced values of column, one per row; nil marks a gap.
func (p Preview) Series(column string) []*float64 {
	out := make([]*float64, len(p.Rows))
	for i, row := range p.Rows {
		if f, ok := Number(row[column]); ok {
			out[i] = &f
		}
	}
	return out
}

// Labels returns a label per row: the equipment name when present, else "Row N".
func (p Preview) Labels() []string {
	out := make([]string, len(p.Rows))
	for i, row := range p.Rows {
		if name, ok := row[ColumnName].(string); ok && strings.TrimSpace(name) != "" {
			out[i] = name
			continue
		}
		out[i] = fmt.Sprintf("Row %d", i+1)
	}
	return out
}

// Metrics holds the line-chart data derived from a preview.
type Metrics struct {
	Labels      []string   `json:"labels" yaml:"labels"`
	Flowrate    []*float64 `json:"flowrate" yaml:"flowrate"`
	Pressure    []*float64 `json:"pressure" yaml:"pressure"`
	Temperature []*float64 `json:"temperature" yaml:"temperature"`
}

// Metrics extracts Flowrate, Pressure and Temperature series.
func (p Preview) Metrics() Metrics {
	return Metrics{
		Labels:      p.Labels(),
		Flowrate:    p.Series(ColumnFlowrate),
		Pressure:    p.Series(ColumnPressure),
		Temperature: p.Series(ColumnTemperature),
	}
}

// HasData reports whether any series holds at least one point.
func (m Metrics) HasData() bool {
	for _, s := range [][]*float64{m.Flowrate, m.Pressure, m.Temperature} {
		for _, v := range s {
			if v != nil {
				return true
			}
		}
	}
	return false
}
