package engine

import (
	"context"
	"time"

	logx "taskcore/pkg/logx"
)

// loop is the single admission loop. It runs under the supervisor, which
// restarts it with backoff if a tick panics.
func (s *Service) loop(ctx context.Context) error {
	s.mu.Lock()
	interval := s.cfg.TickInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.tick(ctx, time.Now())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}

		s.mu.Lock()
		next := s.cfg.TickInterval
		s.mu.Unlock()
		if next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// tick promotes due tasks, admits ready ones up to the concurrency cap and
// evicts expired terminal tasks. Abandoned work still counts against the cap.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping || ctx.Err() != nil {
		return
	}

	for _, e := range s.scheduled.popDue(now) {
		e.t.status = StatusPending
		s.ready.pushEntry(&queued{t: e.t, rank: e.rank, seq: e.seq})
	}

	// Tasks waiting on dependencies are set aside for this pass so they do
	// not block anything behind them, then re-queued with their original key.
	var deferred []*queued
	for len(s.running)+s.abandoned < s.cfg.MaxConcurrent {
		e := s.ready.pop()
		if e == nil {
			break
		}
		ok, err := s.resolve(e.t)
		switch {
		case err != nil:
			s.finalizeLocked(e.t, StatusFailed, &Result{Err: err}, now)
		case !ok:
			deferred = append(deferred, e)
		default:
			s.launchLocked(ctx, e.t, now)
		}
	}
	for _, e := range deferred {
		s.ready.pushEntry(e)
	}

	if now.Sub(s.lastGC) >= s.cfg.GCInterval {
		s.lastGC = now
		if n := s.reg.evictOlderThan(now.Add(-s.cfg.Retention)); n > 0 {
			s.log.Debug("evicted terminal tasks", logx.Int("count", n), logx.Int("tracked", s.reg.len()))
		}
	}
}

// launchLocked marks t running and starts its execution goroutine.
func (s *Service) launchLocked(ctx context.Context, t *task, now time.Time) {
	t.status = StatusRunning
	t.startedAt = now
	t.cancelRequested = false
	t.ctx, t.cancel = context.WithCancel(ctx)
	s.running[t.id] = t
	s.stats.observeRunning(len(s.running) + s.abandoned)

	s.execWG.Add(1)
	go s.execute(t.ctx, t)

	s.publishLocked(EventStarted, t, 0)
	s.log.Debug("task.started",
		logx.String("task", t.name),
		logx.String("id", t.id),
		logx.String("category", string(t.category)),
		logx.String("priority", t.priority.String()),
		logx.Int("retry", t.retryCount),
	)
}
