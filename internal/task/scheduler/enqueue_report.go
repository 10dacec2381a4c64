package scheduler

import (
	"time"

	logx "taskcore/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed submission at most once per throttle
// window per job.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to submit task", logx.String("schedule", name), logx.Err(err))
}
