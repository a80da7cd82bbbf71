package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LoadFile reads a mapping table, picking the format from the extension.
func LoadFile(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadExcel(path)
	default:
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open mapping file %s: %w", path, err)
		}
		defer file.Close()
		table, err := LoadCSV(file)
		if err != nil {
			return nil, fmt.Errorf("load mapping file %s: %w", path, err)
		}
		return table, nil
	}
}

// LoadCSV reads a comma separated mapping table. UTF-8 and UTF-16 input
// with a byte order mark are both accepted.
func LoadCSV(r io.Reader) (*Table, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	reader := csv.NewReader(transform.NewReader(r, decoder))
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read mapping header: %w", err)
	}

	records := make([][]string, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping row %d: %w", len(records)+2, err)
		}
		records = append(records, record)
	}
	return NewTable(headers, records)
}

// LoadExcel reads the first sheet of a workbook as a mapping table.
func LoadExcel(path string) (*Table, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping workbook %s: %w", path, err)
	}
	defer file.Close()

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("mapping workbook has no sheets: %s", path)
	}
	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read rows from sheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheetName)
	}

	// GetRows drops trailing empty cells; a sheet row is never truncated.
	width := len(rows[0])
	records := make([][]string, 0, len(rows)-1)
	for _, record := range rows[1:] {
		for len(record) < width {
			record = append(record, "")
		}
		records = append(records, record)
	}
	return NewTable(rows[0], records)
}
