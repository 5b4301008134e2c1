// Package store reads and writes the tabular input and result files.
// The format follows the file extension: .csv or .xlsx.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/maltedev/price-crawler/internal/models"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

const sheetName = "Sheet1"

// numeric columns are written as numbers in spreadsheets
var numericColumns = map[string]bool{
	models.ColOriginalIndex: true,
	models.ColPrice:         true,
	models.ColOriginPrice:   true,
	models.ColCoupon:        true,
	models.ColCouponPrice:   true,
	models.ColACPrice:       true,
}

// Table is a header plus rows of string cells. Rows are padded to the header width.
type Table struct {
	Header []string
	Rows   [][]string
}

func NewTable(header []string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// Index returns the column position or -1.
func (t *Table) Index(col string) int {
	for i, h := range t.Header {
		if h == col {
			return i
		}
	}
	return -1
}

func (t *Table) Get(row int, col string) string {
	i := t.Index(col)
	if i < 0 || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

func (t *Table) EnsureColumn(col string) int {
	if i := t.Index(col); i >= 0 {
		return i
	}
	t.Header = append(t.Header, col)
	for r := range t.Rows {
		t.Rows[r] = append(t.Rows[r], "")
	}
	return len(t.Header) - 1
}

// AppendValues adds a row from a column-keyed map. Columns in order are
// created first so a fresh table gets a stable header.
func (t *Table) AppendValues(values map[string]string, order []string) {
	for _, col := range order {
		t.EnsureColumn(col)
	}
	for col := range values {
		t.EnsureColumn(col)
	}
	row := make([]string, len(t.Header))
	for col, v := range values {
		row[t.Index(col)] = v
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Clone() *Table {
	c := &Table{Header: append([]string(nil), t.Header...), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		c.Rows[i] = append([]string(nil), r...)
	}
	return c
}

func (t *Table) normalize() {
	for i, r := range t.Rows {
		if len(r) < len(t.Header) {
			t.Rows[i] = append(r, make([]string, len(t.Header)-len(r))...)
		}
	}
}

// ReadTable loads a .csv or .xlsx file. The first row is the header.
func ReadTable(path string) (*Table, error) {
	var rows [][]string
	var err error

	switch ext(path) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return &Table{}, nil
	}
	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	t := &Table{Header: header, Rows: rows[1:]}
	t.normalize()
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", path, err)
	}
	return rows, nil
}

// WriteTable writes t to path through a temp file and rename.
func WriteTable(path string, t *Table) error {
	e := ext(path)
	if e != ".csv" && e != ".xlsx" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*"+e)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if e == ".csv" {
		err = writeCSV(tmp, t)
	} else {
		err = writeXLSX(tmp, t)
	}
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func writeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeSheetRow(f, 1, headerCells(t.Header)); err != nil {
		return err
	}
	for i, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
			if j < len(t.Header) && numericColumns[t.Header[j]] {
				if n, err := strconv.Atoi(v); err == nil {
					cells[j] = n
				}
			}
		}
		if err := writeSheetRow(f, i+2, cells); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func headerCells(header []string) []interface{} {
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return cells
}

func writeSheetRow(f *excelize.File, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

// CopyFile copies src to dst byte for byte.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// SiblingPath returns path with suffix inserted before the extension.
func SiblingPath(path, suffix string) string {
	e := filepath.Ext(path)
	return strings.TrimSuffix(path, e) + suffix + e
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
