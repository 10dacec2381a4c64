package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <prefix>.results.jsonl
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention prunes sqlite rows older than this. 0 keeps everything.
	Retention time.Duration
}

// ResultRecord is one archived task outcome.
// Keep it compact and schema-stable.
type ResultRecord struct {
	TaskID        string        `json:"task_id"`
	Name          string        `json:"name"`
	Category      string        `json:"category"`
	Priority      string        `json:"priority"`
	Status        string        `json:"status"`
	Tags          []string      `json:"tags,omitempty"`
	RetryCount    int           `json:"retry_count"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
}
