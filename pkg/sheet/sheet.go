// Package sheet reads tabular uploads (xlsx or csv) into rows of cells.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files that are neither xlsx nor csv.
var ErrUnsupportedFormat = errors.New("unsupported sheet format")

// Supported reports whether filename has an extension Read understands.
func Supported(filename string) bool {
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx", ".csv":
		return true
	}
	return false
}

// Read returns the rows of the first worksheet. The format is picked from the
// file extension.
func Read(r io.Reader, filename string) ([][]string, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx":
		return readXLSX(r)
	case ".csv":
		return readCSV(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(filename))
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return [][]string{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}
