package engine

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterConfig bounds resource usage per category and globally.
type LimiterConfig struct {
	// GlobalRate is the sustained admissions per second across all
	// categories. 0 disables the rate limit.
	GlobalRate float64
	// GlobalBurst is the token bucket size (default: MaxConcurrent, min 1).
	GlobalBurst int

	// CategoryLimits caps concurrent executions per category.
	CategoryLimits map[Category]int
	// DefaultCategoryLimit applies to categories without an explicit entry.
	// 0 leaves them unlimited.
	DefaultCategoryLimit int
}

// DefaultCategoryLimits mirrors the usual per-resource caps.
func DefaultCategoryLimits() map[Category]int {
	return map[Category]int{
		CategoryDatabase:    5,
		CategoryNetworkCall: 20,
		CategoryFileIO:      10,
		CategoryCache:       50,
		CategoryExternalAPI: 10,
		CategoryScheduled:   5,
	}
}

func (c LimiterConfig) limitFor(cat Category) int {
	if n, ok := c.CategoryLimits[cat]; ok {
		if n < 0 {
			return 0
		}
		return n
	}
	if c.DefaultCategoryLimit > 0 {
		return c.DefaultCategoryLimit
	}
	return 0
}

// semaphore is a channel-backed counting semaphore.
type semaphore struct {
	slots   chan struct{}
	waiting int // guarded by Limiter.mu
}

func newSemaphore(n int) *semaphore { return &semaphore{slots: make(chan struct{}, n)} }

// Limiter gates execution through the global rate limiter and then the
// category semaphore. Limits can be replaced at runtime with Apply; permits
// already handed out return to the semaphore they came from.
type Limiter struct {
	mu    sync.Mutex
	cfg   LimiterConfig
	rate  *rate.Limiter
	sems  map[Category]*semaphore
	inUse map[Category]int
}

// NewLimiter builds a limiter. burstDefault is used when cfg.GlobalBurst is unset.
func NewLimiter(cfg LimiterConfig, burstDefault int) *Limiter {
	l := &Limiter{
		sems:  make(map[Category]*semaphore),
		inUse: make(map[Category]int),
	}
	l.apply(cfg, burstDefault)
	return l
}

// Apply swaps limits in place.
func (l *Limiter) Apply(cfg LimiterConfig, burstDefault int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apply(cfg, burstDefault)
}

func (l *Limiter) apply(cfg LimiterConfig, burstDefault int) {
	burst := cfg.GlobalBurst
	if burst <= 0 {
		burst = burstDefault
	}
	if burst <= 0 {
		burst = 1
	}
	cfg.GlobalBurst = burst
	limit := rate.Inf
	if cfg.GlobalRate > 0 {
		limit = rate.Limit(cfg.GlobalRate)
	}
	if l.rate == nil {
		l.rate = rate.NewLimiter(limit, burst)
	} else {
		l.rate.SetLimit(limit)
		l.rate.SetBurst(burst)
	}

	for cat, sem := range l.sems {
		if cap(sem.slots) != cfg.limitFor(cat) {
			delete(l.sems, cat)
		}
	}
	l.cfg = cfg
}

func (l *Limiter) semFor(cat Category) *semaphore {
	if sem, ok := l.sems[cat]; ok {
		return sem
	}
	n := l.cfg.limitFor(cat)
	if n <= 0 {
		return nil
	}
	sem := newSemaphore(n)
	l.sems[cat] = sem
	return sem
}

// Permit is held for the duration of one execution.
type Permit struct {
	l    *Limiter
	cat  Category
	sem  *semaphore
	once sync.Once
}

// Release returns the slot. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.sem != nil {
			<-p.sem.slots
		}
		p.l.mu.Lock()
		p.l.inUse[p.cat]--
		p.l.mu.Unlock()
	})
}

// Acquire blocks until both the global rate limiter and the category
// semaphore admit the caller, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, cat Category) (*Permit, error) {
	l.mu.Lock()
	rl := l.rate
	sem := l.semFor(cat)
	if sem != nil {
		sem.waiting++
	}
	l.mu.Unlock()

	done := func() {
		if sem != nil {
			l.mu.Lock()
			sem.waiting--
			l.mu.Unlock()
		}
	}

	if err := rl.Wait(ctx); err != nil {
		done()
		return nil, err
	}
	if sem != nil {
		select {
		case sem.slots <- struct{}{}:
		case <-ctx.Done():
			done()
			return nil, ctx.Err()
		}
	}
	done()

	l.mu.Lock()
	l.inUse[cat]++
	l.mu.Unlock()
	return &Permit{l: l, cat: cat, sem: sem}, nil
}

// Snapshot reports usage for every known category plus any category seen at runtime.
func (l *Limiter) Snapshot() []CategoryUsage {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[Category]struct{}, len(Categories))
	cats := append([]Category(nil), Categories...)
	for _, c := range Categories {
		seen[c] = struct{}{}
	}
	extra := make([]Category, 0)
	for c := range l.inUse {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			extra = append(extra, c)
		}
	}
	for c := range l.sems {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	cats = append(cats, extra...)

	out := make([]CategoryUsage, 0, len(cats))
	for _, c := range cats {
		u := CategoryUsage{Category: c, InUse: l.inUse[c], Limit: l.cfg.limitFor(c)}
		if sem := l.sems[c]; sem != nil {
			u.Waiting = sem.waiting
		}
		out = append(out, u)
	}
	return out
}
