package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultStartupSpread = 30 * time.Second

// startupSpreadSchedule wraps an interval schedule and moves its first run
// by a random offset so jobs registered together do not fire together.
type startupSpreadSchedule struct {
	every time.Duration
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return t.Add(s.every)
}

var spreadSeq uint64

// makeIntervalScheduleWithSpread returns a schedule firing every `every`,
// first at now+every+jitter with jitter in [0, min(every, maxSpread)).
// Unlike cron.Every it keeps sub-second intervals.
func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, tag string, maxSpread time.Duration) (cron.Schedule, time.Duration) {
	if maxSpread <= 0 {
		maxSpread = defaultStartupSpread
	}
	spreadMax := every
	if spreadMax > maxSpread {
		spreadMax = maxSpread
	}
	if spreadMax <= 0 {
		return &startupSpreadSchedule{every: every}, 0
	}

	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return &startupSpreadSchedule{every: every, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
