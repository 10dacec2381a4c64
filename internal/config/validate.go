package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Validate checks field syntax: durations, storage driver, job basics.
// Semantic checks that need runtime packages (schedule grammar, category
// names) run in the app validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var err error
	check := func(path, raw string) {
		if _, e := ParseDurationField(path, raw); e != nil {
			err = multierr.Append(err, e)
		}
	}

	e := cfg.Engine
	check("engine.tick_interval", e.TickInterval)
	check("engine.retention", e.Retention)
	check("engine.gc_interval", e.GCInterval)
	check("engine.unwind_grace", e.UnwindGrace)
	check("engine.default_timeout", e.DefaultTimeout)
	check("engine.retry_base_delay", e.RetryBaseDelay)
	check("engine.retry_max_delay", e.RetryMaxDelay)
	check("engine.throughput_window", e.ThroughputWindow)
	if e.MaxConcurrent < 0 {
		err = multierr.Append(err, errors.New("engine.max_concurrent must be >= 0"))
	}
	if e.GlobalRate < 0 || e.GlobalBurst < 0 {
		err = multierr.Append(err, errors.New("engine.global_rate and engine.global_burst must be >= 0"))
	}
	if e.RetryJitter < 0 || e.RetryJitter > 1 {
		err = multierr.Append(err, errors.New("engine.retry_jitter must be within [0, 1]"))
	}
	for k, v := range e.CategoryLimits {
		if v < 0 {
			err = multierr.Append(err, fmt.Errorf("engine.category_limits.%s must be >= 0", k))
		}
	}

	check("scheduler.max_startup_spread", cfg.Scheduler.MaxStartupSpread)

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		p := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			err = multierr.Append(err, fmt.Errorf("%s.name is required", p))
		} else {
			p = "jobs." + name
			if _, dup := seen[name]; dup {
				err = multierr.Append(err, fmt.Errorf("%s: duplicate job name", p))
			}
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(j.Schedule) == "" {
			err = multierr.Append(err, fmt.Errorf("%s.schedule is required", p))
		}
		switch strings.ToLower(strings.TrimSpace(j.Kind)) {
		case "exec":
			if strings.TrimSpace(j.Command) == "" {
				err = multierr.Append(err, fmt.Errorf("%s.command is required for kind exec", p))
			}
		case "sleep":
			check(p+".duration", j.Duration)
		case "unit":
			if strings.TrimSpace(j.Unit) == "" {
				err = multierr.Append(err, fmt.Errorf("%s.unit is required for kind unit", p))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("%s.kind %q is unknown (use exec, sleep or unit)", p, j.Kind))
		}
		check(p+".timeout", j.Timeout)
		check(p+".retry_base", j.RetryBase)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				err = multierr.Append(err, errors.New("storage.path is required"))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("storage.driver %q is unknown (use none, file or sqlite)", s.Driver))
		}
		check("storage.busy_timeout", s.BusyTimeout)
		check("storage.retention", s.Retention)
	}

	check("debug.read_timeout", cfg.Debug.ReadTimeout)
	check("debug.write_timeout", cfg.Debug.WriteTimeout)
	check("debug.idle_timeout", cfg.Debug.IdleTimeout)
	return err
}
