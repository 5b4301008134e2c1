package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/price-crawler/internal/models"
)

var ErrNoURLColumn = errors.New("input has no URL column")

// ReadInputRecords loads the full input file. OriginalIndex is the zero-based
// data row position and is assigned before any slicing.
func ReadInputRecords(path string) ([]models.InputRecord, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	urlCol := t.Index(models.ColURL)
	if urlCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoURLColumn, path)
	}
	prodCol := t.Index(models.ColProdID)

	records := make([]models.InputRecord, len(t.Rows))
	for i, row := range t.Rows {
		rec := models.InputRecord{
			URL:           strings.TrimSpace(row[urlCol]),
			OriginalIndex: i,
		}
		if prodCol >= 0 {
			rec.ProdID = strings.TrimSpace(row[prodCol])
		}
		records[i] = rec
	}
	return records, nil
}

// UniqueURLs counts distinct non-empty URLs.
func UniqueURLs(records []models.InputRecord) int {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.URL != "" {
			seen[r.URL] = struct{}{}
		}
	}
	return len(seen)
}

// ResultWriter appends batches of results to one output file.
type ResultWriter struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *slog.Logger
}

func NewResultWriter(path string, logger *slog.Logger) *ResultWriter {
	return &ResultWriter{
		path:   path,
		now:    time.Now,
		logger: logger.With("component", "result_writer"),
	}
}

func (w *ResultWriter) Path() string {
	return w.path
}

// Append adds results to the output file, creating it with the full column
// set if needed. When the main file cannot be written the batch goes to a
// timestamped backup next to it; the returned path is wherever the rows landed.
func (w *ResultWriter) Append(results []*models.Result) (string, error) {
	if len(results) == 0 {
		return w.path, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.appendTo(w.path, results)
	if err == nil {
		w.logger.Info("results saved", "path", w.path, "rows", len(results))
		return w.path, nil
	}

	backup := SiblingPath(w.path, "_backup_"+w.now().Format("20060102_150405"))
	w.logger.Error("failed to save results, writing backup", "path", w.path, "backup", backup, "error", err)

	t := NewTable(models.Columns)
	for _, r := range results {
		t.AppendValues(r.Values(), models.Columns)
	}
	if berr := WriteTable(backup, t); berr != nil {
		return "", fmt.Errorf("failed to write results (%v) and backup: %w", err, berr)
	}
	return backup, nil
}

func (w *ResultWriter) appendTo(path string, results []*models.Result) error {
	var t *Table
	if _, err := os.Stat(path); err == nil {
		existing, err := ReadTable(path)
		if err != nil {
			return err
		}
		t = existing
	} else if os.IsNotExist(err) {
		t = NewTable(models.Columns)
	} else {
		return err
	}

	for _, r := range results {
		t.AppendValues(r.Values(), models.Columns)
	}
	return WriteTable(path, t)
}
