package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tobert/otlp-tail/internal/traces"
)

const (
	waterfallMaxSpans = 50
	waterfallBarWidth = 20
	rootParentID      = "0000000000000000"
)

// Waterfall renders the spans of one trace as an indented timing view.
// Rows are expected to share a trace id; width controls the total line
// width (0 uses 80).
func Waterfall(rows []traces.Row, width int) string {
	if len(rows) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	sorted := make([]traces.Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	minStart := sorted[0].Start
	maxEnd := minStart
	for _, r := range sorted {
		end := r.End
		if end.Before(r.Start) {
			end = r.Start
		}
		if end.After(maxEnd) {
			maxEnd = end
		}
	}
	totalDur := maxEnd.Sub(minStart)

	entries := spanTree(sorted)

	var b strings.Builder
	shortID := sorted[0].TraceID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fmt.Fprintf(&b, "%s (%d spans, %s)\n",
		titleStyle.Render("Trace "+shortID), len(sorted), compactDuration(totalDur))

	overflow := 0
	if len(entries) > waterfallMaxSpans {
		overflow = len(entries) - waterfallMaxSpans
		entries = entries[:waterfallMaxSpans]
	}

	// Right-column width is computed first so bars line up.
	maxTail := 0
	for _, e := range entries {
		tail := len(compactDuration(e.row.Duration))
		if e.row.Error {
			tail += len(" !! ERR")
		}
		if tail > maxTail {
			maxTail = tail
		}
	}

	for _, e := range entries {
		writeSpanLine(&b, e, minStart, totalDur, width, maxTail)
	}

	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more spans\n", overflow)
	}

	return b.String()
}

type waterfallEntry struct {
	row    traces.Row
	depth  int
	isLast []bool // per depth level, whether this node is the last child
}

// spanTree orders rows parent-first. Rows whose parent is absent from
// the set are treated as roots.
func spanTree(rows []traces.Row) []waterfallEntry {
	byID := make(map[string]traces.Row, len(rows))
	children := make(map[string][]string)
	inSet := make(map[string]bool, len(rows))
	for _, r := range rows {
		byID[r.SpanID] = r
		inSet[r.SpanID] = true
	}

	var rootIDs []string
	for _, r := range rows {
		if r.ParentSpanID == "" || r.ParentSpanID == rootParentID || !inSet[r.ParentSpanID] {
			rootIDs = append(rootIDs, r.SpanID)
		} else {
			children[r.ParentSpanID] = append(children[r.ParentSpanID], r.SpanID)
		}
	}
	if len(rootIDs) == 0 {
		rootIDs = []string{rows[0].SpanID}
	}

	sort.Slice(rootIDs, func(i, j int) bool {
		return byID[rootIDs[i]].Start.Before(byID[rootIDs[j]].Start)
	})

	var entries []waterfallEntry
	var walk func(spanID string, depth int, isLast []bool)
	walk = func(spanID string, depth int, isLast []bool) {
		r, ok := byID[spanID]
		if !ok {
			return
		}
		entries = append(entries, waterfallEntry{row: r, depth: depth, isLast: isLast})

		kids := children[spanID]
		sort.Slice(kids, func(i, j int) bool {
			return byID[kids[i]].Start.Before(byID[kids[j]].Start)
		})
		for i, kid := range kids {
			walk(kid, depth+1, append(append([]bool{}, isLast...), i == len(kids)-1))
		}
	}
	for i, rootID := range rootIDs {
		walk(rootID, 0, []bool{i == len(rootIDs)-1})
	}
	return entries
}

func writeSpanLine(b *strings.Builder, e waterfallEntry, minStart time.Time, totalDur time.Duration, width, maxTail int) {
	// Tree glyphs are multi-byte but single-column; track columns
	// separately from bytes.
	var prefix strings.Builder
	prefixCols := 1
	prefix.WriteByte(' ')
	for d := 0; d < e.depth; d++ {
		if d < len(e.isLast)-1 {
			if e.isLast[d] {
				prefix.WriteString("  ")
			} else {
				prefix.WriteString("│ ")
			}
			prefixCols += 2
		}
	}
	if e.depth > 0 {
		if len(e.isLast) > 0 && e.isLast[len(e.isLast)-1] {
			prefix.WriteString("└─ ")
		} else {
			prefix.WriteString("├─ ")
		}
		prefixCols += 3
	}

	label := e.row.ServiceName + "." + e.row.Name

	tail := compactDuration(e.row.Duration)
	if e.row.Error {
		tail += " !! ERR"
	}

	fixedCols := prefixCols + 2 + waterfallBarWidth + 2 + maxTail
	budget := width - fixedCols
	if budget < 8 {
		budget = 8
	}
	if len(label) > budget {
		label = label[:budget-1] + "…"
	}
	label += strings.Repeat(" ", budget-len(label))

	bar := timingBar(e.row, minStart, totalDur)
	tail += strings.Repeat(" ", maxTail-len(tail))

	line := fmt.Sprintf("%s%s [%s] %s", prefix.String(), label, bar, tail)
	if e.row.Error {
		line = errorStyle.Render(line)
	}
	b.WriteString(line)
	b.WriteByte('\n')
}

func timingBar(r traces.Row, minStart time.Time, totalDur time.Duration) string {
	if totalDur <= 0 {
		return strings.Repeat("#", waterfallBarWidth)
	}

	end := r.End
	if end.Before(r.Start) {
		end = r.Start
	}

	startPos := int(int64(r.Start.Sub(minStart)) * waterfallBarWidth / int64(totalDur))
	endPos := int(int64(end.Sub(minStart)) * waterfallBarWidth / int64(totalDur))

	if startPos >= waterfallBarWidth {
		startPos = waterfallBarWidth - 1
	}
	if endPos <= startPos {
		endPos = startPos + 1
	}
	if endPos > waterfallBarWidth {
		endPos = waterfallBarWidth
	}

	bar := make([]byte, waterfallBarWidth)
	for i := range bar {
		if i >= startPos && i < endPos {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return string(bar)
}

func compactDuration(d time.Duration) string {
	if d <= 0 {
		return "0ns"
	}
	us := float64(d.Nanoseconds()) / 1000
	if us < 1000 {
		return fmt.Sprintf("%.0fµs", us)
	}
	ms := us / 1000
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}
