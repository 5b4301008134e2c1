// Package checkpoint persists crawl progress so an interrupted or blocked run
// can resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maltedev/price-crawler/internal/models"
)

// Checkpoint is the on-disk progress document. BlockedIndex, when set, takes
// priority over LastIndex on resume.
type Checkpoint struct {
	FilePath     string `json:"file_path"`
	LastBatch    int    `json:"last_batch"`
	LastIndex    int    `json:"last_index"`
	BlockedIndex *int   `json:"blocked_url_idx"`
	Timestamp    string `json:"timestamp"`
}

// IsEmpty reports whether the checkpoint is the reset shape.
func (c *Checkpoint) IsEmpty() bool {
	return c.FilePath == "" && c.LastBatch == 0 && c.LastIndex == 0 && c.BlockedIndex == nil
}

// ResumeIndex returns the absolute index a run over sourcePath should start
// from, or false when the checkpoint does not apply.
func (c *Checkpoint) ResumeIndex(sourcePath string) (int, bool) {
	if c == nil || c.FilePath == "" || c.FilePath != sourcePath {
		return 0, false
	}
	if c.BlockedIndex != nil {
		return *c.BlockedIndex, true
	}
	return c.LastIndex, true
}

type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string {
	return s.path
}

// Save overwrites the whole document.
func (s *Store) Save(filePath string, batch, index int, blocked *int) error {
	cp := Checkpoint{
		FilePath:     filePath,
		LastBatch:    batch,
		LastIndex:    index,
		BlockedIndex: blocked,
		Timestamp:    s.now().Format(models.TimestampLayout),
	}
	return s.write(&cp)
}

// Load returns nil, nil when no checkpoint exists yet.
func (s *Store) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Reset writes the empty shape after a run completes.
func (s *Store) Reset() error {
	return s.write(&Checkpoint{Timestamp: s.now().Format(models.TimestampLayout)})
}

func (s *Store) write(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	// Write to temp file first, then rename over the old document.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}
