package config

// Config is the taskd configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown keys are rejected so typos surface on load and reload.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Jobs      []JobConfig     `json:"jobs,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 10
//   - tick_interval: "10ms"
//   - retention: "1h"
//   - default_timeout: "0s" (disabled)
//   - default_max_retries: 3 (negative disables retries)
//   - retry_base_delay: "1s"
//   - global_rate: 0 (unlimited)
//   - category_limits: database=5 network_call=20 file_io=10 cache=50 external_api=10 scheduled=5
type EngineConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	TickInterval  string `json:"tick_interval,omitempty"`

	Retention   string `json:"retention,omitempty"`
	GCInterval  string `json:"gc_interval,omitempty"`
	UnwindGrace string `json:"unwind_grace,omitempty"`

	DefaultTimeout    string  `json:"default_timeout,omitempty"`
	DefaultMaxRetries int     `json:"default_max_retries,omitempty"`
	RetryBaseDelay    string  `json:"retry_base_delay,omitempty"`
	RetryMaxDelay     string  `json:"retry_max_delay,omitempty"`
	RetryJitter       float64 `json:"retry_jitter,omitempty"`

	GlobalRate           float64        `json:"global_rate,omitempty"`
	GlobalBurst          int            `json:"global_burst,omitempty"`
	CategoryLimits       map[string]int `json:"category_limits,omitempty"`
	DefaultCategoryLimit int            `json:"default_category_limit,omitempty"`

	ThroughputWindow string `json:"throughput_window,omitempty"`
}

// SchedulerConfig controls the recurring trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone (IANA name). Empty means local time.
	Timezone         string `json:"timezone,omitempty"`
	MaxStartupSpread string `json:"max_startup_spread,omitempty"`
}

// JobConfig declares a recurring job.
//
// Kind selects the work:
//   - "exec": runs Command with Args (no shell)
//   - "sleep": waits Duration, useful for smoke tests
//   - "unit": applies Action (start, stop, restart) to a systemd Unit
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Kind     string `json:"kind"`
	Enabled  *bool  `json:"enabled,omitempty"`

	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Action   string   `json:"action,omitempty"`

	Priority   string   `json:"priority,omitempty"`
	Category   string   `json:"category,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty"`
	RetryBase  string   `json:"retry_base,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Overlap    string   `json:"overlap,omitempty"`
}

// IsEnabled treats an omitted flag as enabled.
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// StorageConfig controls the optional result archive.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/taskd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof + task views).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
