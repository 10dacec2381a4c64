package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"taskcore/internal/config"
	"taskcore/internal/observability/pprof"
	"taskcore/internal/storage"
	"taskcore/internal/task/engine"
	"taskcore/internal/task/scheduler"
	logx "taskcore/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	e := cfg.Engine
	var err error
	dur := func(path, raw string) time.Duration {
		d, perr := config.ParseDurationField(path, raw)
		err = multierr.Append(err, perr)
		return d
	}

	limits := engine.DefaultCategoryLimits()
	for name, n := range e.CategoryLimits {
		c, perr := engine.ParseCategory(name)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("engine.category_limits: %w", perr))
			continue
		}
		limits[c] = n
	}

	out := engine.Config{
		MaxConcurrent: e.MaxConcurrent,
		TickInterval:  dur("engine.tick_interval", e.TickInterval),
		Limits: engine.LimiterConfig{
			GlobalRate:           e.GlobalRate,
			GlobalBurst:          e.GlobalBurst,
			CategoryLimits:       limits,
			DefaultCategoryLimit: e.DefaultCategoryLimit,
		},
		Retention:             dur("engine.retention", e.Retention),
		GCInterval:            dur("engine.gc_interval", e.GCInterval),
		UnwindGrace:           dur("engine.unwind_grace", e.UnwindGrace),
		DefaultTimeout:        dur("engine.default_timeout", e.DefaultTimeout),
		DefaultMaxRetries:     e.DefaultMaxRetries,
		DefaultRetryBaseDelay: dur("engine.retry_base_delay", e.RetryBaseDelay),
		DefaultRetryMaxDelay:  dur("engine.retry_max_delay", e.RetryMaxDelay),
		RetryJitter:           e.RetryJitter,
		ThroughputWindow:      dur("engine.throughput_window", e.ThroughputWindow),
	}
	return out, err
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	spread, err := config.ParseDurationField("scheduler.max_startup_spread", cfg.Scheduler.MaxStartupSpread)
	if err != nil {
		return scheduler.Config{}, err
	}
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:          cfg.Scheduler.Enabled,
		Timezone:         tz,
		MaxStartupSpread: spread,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retention:   retention,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) (pprof.Config, error) {
	d := cfg.Debug
	var err error
	dur := func(path, raw string) time.Duration {
		v, perr := config.ParseDurationField(path, raw)
		err = multierr.Append(err, perr)
		return v
	}
	out := pprof.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          dur("debug.read_timeout", d.ReadTimeout),
		WriteTimeout:         dur("debug.write_timeout", d.WriteTimeout),
		IdleTimeout:          dur("debug.idle_timeout", d.IdleTimeout),
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	return out, err
}

// validateRuntime maps every section the way a reload would, so a bad
// file is rejected before anything is applied.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	var err error
	if _, e := mapEngineConfig(cfg); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := mapSchedulerConfig(cfg); e != nil {
		err = multierr.Append(err, e)
	}
	if _, _, e := mapStorageConfig(cfg); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := mapDebugConfig(cfg); e != nil {
		err = multierr.Append(err, e)
	}
	for _, jc := range cfg.Jobs {
		if _, e := buildJob(jc, logx.Nop()); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return err
}
