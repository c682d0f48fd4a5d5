package tui

import (
	"math"
	"strings"
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders series as block characters scaled between its min and max.
// Gaps render as spaces. Series longer than width are sampled evenly.
func sparkline(series []*float64, width int) string {
	if len(series) == 0 || width <= 0 {
		return ""
	}
	points := sample(series, width)

	lo, hi, ok := seriesRange(points)
	if !ok {
		return strings.Repeat(" ", len(points))
	}

	var b strings.Builder
	top := len(sparkBlocks) - 1
	for _, v := range points {
		if v == nil {
			b.WriteRune(' ')
			continue
		}
		idx := top / 2
		if hi > lo {
			idx = int(math.Round((*v - lo) / (hi - lo) * float64(top)))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

func sample(series []*float64, width int) []*float64 {
	if len(series) <= width {
		return series
	}
	out := make([]*float64, width)
	step := float64(len(series)) / float64(width)
	for i := range out {
		out[i] = series[int(float64(i)*step)]
	}
	return out
}

// seriesRange returns the min and max of the present values.
func seriesRange(series []*float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range series {
		if v == nil {
			continue
		}
		ok = true
		lo = math.Min(lo, *v)
		hi = math.Max(hi, *v)
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
