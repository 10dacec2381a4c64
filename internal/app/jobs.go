package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"taskcore/internal/config"
	"taskcore/internal/task/engine"
	"taskcore/internal/task/scheduler"
	logx "taskcore/pkg/logx"
	"taskcore/pkg/unitctl"
)

// maxJobOutput caps the captured stdout/stderr of exec jobs.
const maxJobOutput = 4 << 10

// ExecResult is the task value of an exec job.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	n   int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf.Write(p)
	if over := b.buf.Len() - b.n; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func execWork(name, command string, args []string, dir string, log logx.Logger) engine.Work {
	return engine.Typed(func(ctx context.Context) (ExecResult, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Dir = dir
		cmd.WaitDelay = 2 * time.Second
		out := &tailBuffer{n: maxJobOutput}
		cmd.Stdout = out
		cmd.Stderr = out

		err := cmd.Run()
		res := ExecResult{Output: strings.TrimSpace(out.buf.String())}
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debug("job exited non-zero", logx.String("job", name), logx.Int("exit_code", res.ExitCode))
			return res, fmt.Errorf("%s: exit status %d", command, res.ExitCode)
		}
		// Missing binary or permission problems will not fix themselves.
		return res, engine.NoRetry(err)
	})
}

func sleepWork(d time.Duration) engine.Work {
	return engine.Func(func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	})
}

// unitWork opens a bus connection per run so a daemon restart between
// runs needs no reconnect logic.
func unitWork(action unitctl.Action, unit string) engine.Work {
	return engine.Func(func(ctx context.Context) error {
		c, err := unitctl.Open(ctx)
		if err != nil {
			if errors.Is(err, unitctl.ErrUnsupported) {
				return engine.NoRetry(err)
			}
			return err
		}
		defer c.Close()
		return c.Do(ctx, action, unit)
	})
}

// buildJob turns a jobs[] entry into a scheduler job.
func buildJob(jc config.JobConfig, log logx.Logger) (scheduler.Job, error) {
	name := strings.TrimSpace(jc.Name)
	fail := func(err error) (scheduler.Job, error) {
		return scheduler.Job{}, fmt.Errorf("jobs.%s: %w", name, err)
	}
	if _, err := scheduler.ParseSchedule(jc.Schedule); err != nil {
		return fail(err)
	}
	overlap, err := scheduler.ParseOverlap(jc.Overlap)
	if err != nil {
		return fail(err)
	}

	var work engine.Work
	switch strings.ToLower(strings.TrimSpace(jc.Kind)) {
	case "exec":
		if strings.TrimSpace(jc.Command) == "" {
			return fail(errors.New("command is required"))
		}
		work = execWork(name, jc.Command, jc.Args, jc.Dir, log)
	case "sleep":
		d, err := config.ParseDurationField("duration", jc.Duration)
		if err != nil {
			return fail(err)
		}
		work = sleepWork(d)
	case "unit":
		if strings.TrimSpace(jc.Unit) == "" {
			return fail(errors.New("unit is required"))
		}
		action, err := unitctl.ParseAction(jc.Action)
		if err != nil {
			return fail(err)
		}
		work = unitWork(action, jc.Unit)
	default:
		return fail(fmt.Errorf("unknown kind %q", jc.Kind))
	}

	opts := make([]engine.SubmitOption, 0, 6)
	if strings.TrimSpace(jc.Priority) != "" {
		p, err := engine.ParsePriority(jc.Priority)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, engine.WithPriority(p))
	}
	if strings.TrimSpace(jc.Category) != "" {
		c, err := engine.ParseCategory(jc.Category)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, engine.WithCategory(c))
	}
	if timeout, err := config.ParseDurationField("timeout", jc.Timeout); err != nil {
		return fail(err)
	} else if timeout > 0 {
		opts = append(opts, engine.WithTimeout(timeout))
	}
	if jc.MaxRetries != nil {
		opts = append(opts, engine.WithMaxRetries(*jc.MaxRetries))
	}
	if base, err := config.ParseDurationField("retry_base", jc.RetryBase); err != nil {
		return fail(err)
	} else if base > 0 {
		opts = append(opts, engine.WithRetryBaseDelay(base))
	}
	if len(jc.Tags) > 0 {
		opts = append(opts, engine.WithTags(jc.Tags...))
	}

	return scheduler.Job{
		Name:     name,
		Schedule: jc.Schedule,
		Work:     work,
		Overlap:  overlap,
		Options:  opts,
	}, nil
}

// syncJobs registers enabled jobs from cfg and removes the rest. Only
// added or changed entries are re-registered.
func (a *App) syncJobs(cfg *config.Config, changed []string) {
	want := make(map[string]config.JobConfig, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		if jc.IsEnabled() {
			want[strings.TrimSpace(jc.Name)] = jc
		}
	}

	dirty := make(map[string]bool, len(changed))
	for _, n := range changed {
		dirty[n] = true
	}

	for _, name := range a.sched.Names() {
		if _, ok := want[name]; !ok {
			a.sched.Remove(name)
		}
	}
	have := make(map[string]bool)
	for _, name := range a.sched.Names() {
		have[name] = true
	}
	for name, jc := range want {
		if have[name] && changed != nil && !dirty[name] {
			continue
		}
		job, err := buildJob(jc, a.log)
		if err != nil {
			a.log.Warn("job skipped", logx.String("job", name), logx.Err(err))
			continue
		}
		if err := a.sched.Add(job); err != nil {
			a.log.Warn("job register failed", logx.String("job", name), logx.Err(err))
		}
	}
}
