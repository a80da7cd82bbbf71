package output

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Report is a header row plus data rows, ready to be written to a file.
type Report struct {
	Headers []string
	Rows    [][]string
}

type Writer interface {
	Write(path string, report Report) error
}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriterForPath picks the writer from the file extension.
func WriterForPath(path string) (Writer, error) {
	return WriterForFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
