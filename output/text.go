package output

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/width"
)

// Print writes report as space-aligned columns.
func Print(w io.Writer, report Report) error {
	widths := make([]int, len(report.Headers))
	measure := func(row []string) {
		for i, cell := range row {
			if i < len(widths) && cellWidth(cell) > widths[i] {
				widths[i] = cellWidth(cell)
			}
		}
	}
	measure(report.Headers)
	for _, row := range report.Rows {
		measure(row)
	}

	line := func(row []string) error {
		cells := make([]string, 0, len(row))
		for i, cell := range row {
			if i == len(row)-1 || i >= len(widths) {
				cells = append(cells, cell)
				continue
			}
			cells = append(cells, cell+strings.Repeat(" ", widths[i]-cellWidth(cell)))
		}
		_, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
		return err
	}
	if err := line(report.Headers); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := line(row); err != nil {
			return err
		}
	}
	return nil
}

// cellWidth counts terminal columns; wide and fullwidth runes take two.
func cellWidth(value string) int {
	n := 0
	for _, r := range value {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
