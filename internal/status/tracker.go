package status

import (
	"sync"
	"time"

	"github.com/maltedev/price-crawler/internal/models"
)

const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateBlocked   = "blocked"
	StateCompleted = "completed"
)

// Snapshot is the current view of a run.
type Snapshot struct {
	RunID      string           `json:"run_id,omitempty"`
	State      string           `json:"state"`
	Phase      string           `json:"phase,omitempty"`
	Batch      int              `json:"batch"`
	Index      int              `json:"index"`
	Total      int              `json:"total"`
	Processed  int              `json:"processed"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Blocked    int              `json:"blocked"`
	LastURL    string           `json:"last_url,omitempty"`
	LastEvent  models.EventType `json:"last_event,omitempty"`
	OutputPath string           `json:"output_path,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
}

// Tracker folds run events into a Snapshot. Safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle}}
}

func (t *Tracker) OnEvent(ev models.RunEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s := &t.snap

	switch ev.Type {
	case models.EventRunStarted, models.EventValidationStarted:
		*s = Snapshot{RunID: ev.RunID, State: StateRunning, Phase: ev.Phase, Total: ev.Total, Index: ev.Index, OutputPath: ev.OutputPath, StartedAt: &ts}
	case models.EventBlockDetected:
		s.State = StateBlocked
		s.Blocked++
		s.Index = ev.Index
		s.LastURL = ev.URL
	case models.EventRunCompleted, models.EventValidationCompleted:
		s.State = StateCompleted
		s.Processed, s.Succeeded, s.Failed = ev.Processed, ev.Succeeded, ev.Failed
		if ev.OutputPath != "" {
			s.OutputPath = ev.OutputPath
		}
	default:
		s.Batch = ev.Batch
		s.Index = ev.Index
		s.Processed, s.Succeeded, s.Failed = ev.Processed, ev.Succeeded, ev.Failed
		if ev.URL != "" {
			s.LastURL = ev.URL
		}
	}
	s.LastEvent = ev.Type
	s.UpdatedAt = &ts
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
