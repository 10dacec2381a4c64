package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskcore/internal/task/engine"
	logx "taskcore/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
	// MaxStartupSpread bounds the random first-run delay added to interval
	// schedules (default 30s).
	MaxStartupSpread time.Duration
}

// Engine is the part of the task engine the scheduler submits into.
type Engine interface {
	Submit(w engine.Work, opts ...engine.SubmitOption) (string, error)
	Status(id string) (engine.StatusRecord, bool)
}

// OverlapPolicy decides what happens when a trigger fires while the
// previous run of the same job has not finished.
type OverlapPolicy int

const (
	// OverlapSkip drops the trigger.
	OverlapSkip OverlapPolicy = iota
	// OverlapAllow submits anyway.
	OverlapAllow
)

func (p OverlapPolicy) String() string {
	if p == OverlapAllow {
		return "allow"
	}
	return "skip"
}

// ParseOverlap accepts "skip" (default) or "allow".
func ParseOverlap(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return OverlapSkip, nil
	case "allow":
		return OverlapAllow, nil
	}
	return OverlapSkip, fmt.Errorf("unknown overlap policy %q", s)
}

// Job is a recurring trigger. Each firing submits Work as a fresh task.
//
// Options are applied after the scheduler defaults (name, scheduled
// category, a "schedule:<name>" tag), so they can override them. Do not
// pass engine.WithID: every trigger needs a new id.
type Job struct {
	Name     string
	Schedule string
	Work     engine.Work
	Overlap  OverlapPolicy
	Options  []engine.SubmitOption
}

type scheduleDef struct {
	job           Job
	spec          ParsedSpec
	entryID       cron.EntryID
	startupSpread time.Duration

	lastTaskID string
	triggered  uint64
	skipped    uint64
	failed     uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine Engine

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// Submit error throttling, keyed by job name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name          string        `json:"name"`
	Spec          string        `json:"spec"`
	Overlap       string        `json:"overlap"`
	StartupSpread time.Duration `json:"startup_spread,omitempty"`
	Next          time.Time     `json:"next,omitempty"`
	Prev          time.Time     `json:"prev,omitempty"`
	LastTaskID    string        `json:"last_task_id,omitempty"`
	Triggered     uint64        `json:"triggered"`
	Skipped       uint64        `json:"skipped"`
	Failed        uint64        `json:"failed"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
