package engine

import "time"

// metrics accumulates counters. Guarded by Service.mu.
type metrics struct {
	submitted uint64
	completed uint64
	failed    uint64
	cancelled uint64
	timedOut  uint64
	retries   uint64

	// execTotal sums execution time of completed tasks only.
	execTotal time.Duration
	peak      int

	// completions holds successful completion times inside the throughput window, oldest first.
	completions []time.Time
}

func (m *metrics) observeRunning(n int) {
	if n > m.peak {
		m.peak = n
	}
}

func (m *metrics) observeFinish(st Status, exec time.Duration, now time.Time, window time.Duration) {
	switch st {
	case StatusCompleted:
		m.completed++
		m.execTotal += exec
		m.completions = append(m.completions, now)
		m.trim(now, window)
	case StatusFailed:
		m.failed++
	case StatusCancelled:
		m.cancelled++
	case StatusTimedOut:
		m.timedOut++
	}
}

func (m *metrics) trim(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(m.completions) && !m.completions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.completions = append(m.completions[:0], m.completions[i:]...)
	}
}

// throughput returns successful completions per minute over the trailing window.
func (m *metrics) throughput(now time.Time, window time.Duration) float64 {
	m.trim(now, window)
	if window <= 0 {
		return 0
	}
	return float64(len(m.completions)) * float64(time.Minute) / float64(window)
}

func (m *metrics) avgExec() time.Duration {
	if m.completed == 0 {
		return 0
	}
	return m.execTotal / time.Duration(m.completed)
}

// Metrics returns a point-in-time snapshot.
func (s *Service) Metrics() MetricsSnapshot {
	now := time.Now()
	s.mu.Lock()
	snap := MetricsSnapshot{
		Submitted:           s.stats.submitted,
		Completed:           s.stats.completed,
		Failed:              s.stats.failed,
		Cancelled:           s.stats.cancelled,
		TimedOut:            s.stats.timedOut,
		RetriesTotal:        s.stats.retries,
		AvgExecutionTime:    s.stats.avgExec(),
		CurrentRunning:      len(s.running),
		Abandoned:           s.abandoned,
		CurrentPending:      s.ready.len() + s.scheduled.len(),
		PeakConcurrent:      s.stats.peak,
		ThroughputPerMinute: s.stats.throughput(now, s.cfg.ThroughputWindow),
		ReadyLen:            s.ready.len(),
		ScheduledLen:        s.scheduled.len(),
		NextScheduled:       s.scheduled.next(),
		Tracked:             s.reg.len(),
	}
	sup := s.sup
	s.mu.Unlock()
	snap.Loop = sup.Counters()
	snap.Categories = s.limiter.Snapshot()
	return snap
}
