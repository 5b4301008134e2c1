package models

import "time"

type EventType string

const (
	EventRunStarted          EventType = "RUN_STARTED"
	EventRecordProcessed     EventType = "RECORD_PROCESSED"
	EventBatchCompleted      EventType = "BATCH_COMPLETED"
	EventBlockDetected       EventType = "BLOCK_DETECTED"
	EventRunCompleted        EventType = "RUN_COMPLETED"
	EventValidationStarted   EventType = "VALIDATION_STARTED"
	EventValidationCompleted EventType = "VALIDATION_COMPLETED"
)

// RunEvent is emitted by the orchestrator and validator to observers.
type RunEvent struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	Phase      string    `json:"phase"`
	Batch      int       `json:"batch"`
	Index      int       `json:"index"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Blocked    int       `json:"blocked"`
	URL        string    `json:"url,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
