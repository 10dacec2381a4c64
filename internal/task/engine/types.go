package engine

import (
	"fmt"
	"strings"
	"time"

	rtsup "taskcore/internal/runtime/supervisor"
)

// Config controls the task execution engine.
//
// Zero values pick the defaults listed per field. The app layer maps
// config.engine into this struct.
type Config struct {
	// MaxConcurrent caps in-flight executions across all categories (default 10).
	MaxConcurrent int

	// TickInterval is the control loop idle sleep (default 10ms).
	// Submissions and finished executions also wake the loop early.
	TickInterval time.Duration

	Limits LimiterConfig

	// Retention keeps terminal tasks queryable for this long (default 1h).
	Retention time.Duration
	// GCInterval throttles eviction passes (default 1s).
	GCInterval time.Duration

	// UnwindGrace bounds how long a cancelled execution is awaited before it
	// is finalized anyway (default 5s).
	UnwindGrace time.Duration

	// DefaultTimeout is used when a task sets no timeout. 0 disables it.
	DefaultTimeout time.Duration

	// DefaultMaxRetries applies when a task does not call WithMaxRetries.
	// 0 means 3; a negative value means no retries.
	DefaultMaxRetries     int
	DefaultRetryBaseDelay time.Duration // default 1s
	DefaultRetryMaxDelay  time.Duration // 0 = uncapped
	// RetryJitter adds up to this fraction of the delay on top of it (0 disables).
	RetryJitter float64

	// ThroughputWindow is the trailing window used for throughput (default 60s).
	ThroughputWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Millisecond
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.GCInterval <= 0 {
		c.GCInterval = time.Second
	}
	if c.UnwindGrace <= 0 {
		c.UnwindGrace = 5 * time.Second
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	switch {
	case c.DefaultMaxRetries == 0:
		c.DefaultMaxRetries = 3
	case c.DefaultMaxRetries < 0:
		c.DefaultMaxRetries = 0
	}
	if c.DefaultRetryBaseDelay <= 0 {
		c.DefaultRetryBaseDelay = time.Second
	}
	if c.DefaultRetryMaxDelay < 0 {
		c.DefaultRetryMaxDelay = 0
	}
	if c.RetryJitter < 0 {
		c.RetryJitter = 0
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = time.Minute
	}
	return c
}

// Priority orders ready tasks; higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
	PriorityUrgent:   "urgent",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) valid() bool { return p >= PriorityLow && p <= PriorityUrgent }

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParsePriority accepts the lowercase names ("urgent") case-insensitively.
// An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNormal, nil
	}
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Category selects the resource limiter bucket a task runs under.
type Category string

const (
	CategoryGeneric     Category = "generic"
	CategoryDatabase    Category = "database"
	CategoryNetworkCall Category = "network_call"
	CategoryFileIO      Category = "file_io"
	CategoryCache       Category = "cache"
	CategoryExternalAPI Category = "external_api"
	CategoryScheduled   Category = "scheduled"
)

// Categories lists the known categories in a stable order.
var Categories = []Category{
	CategoryGeneric,
	CategoryDatabase,
	CategoryNetworkCall,
	CategoryFileIO,
	CategoryCache,
	CategoryExternalAPI,
	CategoryScheduled,
}

// ParseCategory accepts a known category name case-insensitively.
// An empty string yields CategoryGeneric.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryGeneric, nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Status is a task lifecycle state.
//
//	pending  -> running | cancelled | failed (dependency failed)
//	running  -> completed | failed | timed_out | cancelled | retrying
//	retrying -> pending | cancelled
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusRetrying
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusTimedOut
)

var statusNames = [...]string{
	StatusPending:   "pending",
	StatusRunning:   "running",
	StatusRetrying:  "retrying",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
	StatusTimedOut:  "timed_out",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Result is the outcome of a task that reached a terminal state.
// Exactly one of Value and Err is meaningful, selected by Success.
type Result struct {
	Success       bool
	Value         any
	Err           error
	ExecutionTime time.Duration
	RetryCount    int
}

// StatusRecord is a point-in-time copy of a task for callers.
type StatusRecord struct {
	ID           string
	Name         string
	Status       Status
	Priority     Priority
	Category     Category
	Tags         []string
	Dependencies []string
	RetryCount   int
	MaxRetries   int
	Timeout      time.Duration
	CreatedAt    time.Time
	ScheduledAt  time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	Result       *Result
}

// TaskEvent is published on the event bus for task lifecycle events.
type TaskEvent struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Category      Category      `json:"category"`
	Priority      Priority      `json:"priority"`
	Status        Status        `json:"status"`
	Tags          []string      `json:"tags,omitempty"`
	RetryCount    int           `json:"retry_count"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	RetryIn       time.Duration `json:"retry_in,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Event types published by the engine.
const (
	EventSubmitted = "task.submitted"
	EventStarted   = "task.started"
	EventRetrying  = "task.retrying"
	EventFinished  = "task.finished"
)

// CategoryUsage reports limiter state for one category.
type CategoryUsage struct {
	Category Category `json:"category"`
	InUse    int      `json:"in_use"`
	Limit    int      `json:"limit"` // 0 = unlimited
	Waiting  int      `json:"waiting"`
}

// MetricsSnapshot aggregates counters since the engine was created.
type MetricsSnapshot struct {
	Submitted           uint64        `json:"submitted"`
	Completed           uint64        `json:"completed"`
	Failed              uint64        `json:"failed"`
	Cancelled           uint64        `json:"cancelled"`
	TimedOut            uint64        `json:"timed_out"`
	RetriesTotal        uint64        `json:"retries_total"`
	AvgExecutionTime    time.Duration `json:"avg_execution_time"`
	CurrentRunning      int           `json:"current_running"`
	// Abandoned counts timed-out or cancelled work that ignored its
	// context and has not returned yet. It still holds its slots.
	Abandoned           int           `json:"abandoned"`
	CurrentPending      int           `json:"current_pending"`
	PeakConcurrent      int           `json:"peak_concurrent"`
	ThroughputPerMinute float64       `json:"throughput_per_minute"`

	ReadyLen      int             `json:"ready_len"`
	ScheduledLen  int             `json:"scheduled_len"`
	NextScheduled time.Time       `json:"next_scheduled,omitempty"`
	Tracked       int             `json:"tracked"`
	Categories    []CategoryUsage `json:"categories"`
	Loop          rtsup.Counters  `json:"loop"`
}
