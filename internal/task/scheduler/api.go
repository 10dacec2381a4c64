package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskcore/internal/task/engine"
	logx "taskcore/pkg/logx"
)

// Add registers job, replacing any job with the same name.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Daily wall-clock time: "daily:06:30"
func (s *Service) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("name required")
	}
	if job.Work == nil {
		return fmt.Errorf("job %s: %w", job.Name, engine.ErrNilWork)
	}
	ps, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("job %s: invalid cron %q: %w", job.Name, ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(job.Name)
	d := &scheduleDef{job: job, spec: ps}
	s.defs[job.Name] = d
	if s.c == nil {
		// Registered on Start.
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		delete(s.defs, job.Name)
		return err
	}
	args := []logx.Field{logx.String("name", job.Name), logx.String("spec", ps.String()), logx.String("overlap", job.Overlap.String())}
	if next := s.previewNextRunsLocked(d, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Remove unregisters the job with the given name. Tasks it already
// submitted keep running.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()

	s.enqMu.Lock()
	delete(s.lastEnqWarn, name)
	s.enqMu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Names returns registered job names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for name := range s.defs {
		out = append(out, name)
	}
	return out
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name := d.job.Name
	job := cron.FuncJob(func() { s.trigger(name) })

	if d.spec.Kind == SpecInterval {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, jitter := makeIntervalScheduleWithSpread(d.spec.Every, time.Now().In(loc), name, s.cfg.MaxStartupSpread)
		d.startupSpread = jitter
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// trigger submits one run of the named job.
func (s *Service) trigger(name string) {
	s.mu.Lock()
	d, ok := s.defs[name]
	if !ok || s.engine == nil {
		s.mu.Unlock()
		return
	}
	if d.job.Overlap == OverlapSkip && d.lastTaskID != "" {
		if rec, found := s.engine.Status(d.lastTaskID); found && !rec.Status.Terminal() {
			d.skipped++
			s.mu.Unlock()
			s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.String("running", d.lastTaskID))
			return
		}
	}

	opts := make([]engine.SubmitOption, 0, 3+len(d.job.Options))
	opts = append(opts,
		engine.WithName(name),
		engine.WithCategory(engine.CategoryScheduled),
		engine.WithTags("schedule:"+name),
	)
	opts = append(opts, d.job.Options...)
	id, err := s.engine.Submit(d.job.Work, opts...)
	if err != nil {
		d.failed++
	} else {
		d.triggered++
		d.lastTaskID = id
	}
	s.mu.Unlock()

	if err != nil {
		s.reportEnqueueError(name, err)
		return
	}
	s.log.Trace("schedule triggered", logx.String("schedule", name), logx.String("task_id", id))
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if s.log.IsZero() || !s.log.Enabled(logx.LevelDebug) || n <= 0 || s.c == nil || d.entryID == 0 {
		return ""
	}
	sched := s.c.Entry(d.entryID).Schedule
	if sched == nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
