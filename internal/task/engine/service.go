package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskcore/internal/eventbus"
	logx "taskcore/pkg/logx"

	rtsup "taskcore/internal/runtime/supervisor"
)

// Service is the task execution engine. Create one with New; there is no
// package-level instance.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	limiter *Limiter

	reg       registry
	ready     readyQueue
	scheduled scheduledStore
	running   map[string]*task
	abandoned int
	seq       uint64
	stats     metrics
	lastGC    time.Time
	rng       *rand.Rand

	sup      *rtsup.Supervisor
	stopping bool
	stopDone chan struct{}
	execWG   sync.WaitGroup

	wake chan struct{}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "engine")),
		bus:       bus,
		limiter:   NewLimiter(cfg.Limits, cfg.MaxConcurrent),
		reg:       newRegistry(),
		ready:     newReadyQueue(),
		scheduled: newScheduledStore(),
		running:   make(map[string]*task),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:      make(chan struct{}, 1),
	}
}

// Running reports whether the control loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil && !s.stopping && s.sup.Context().Err() == nil
}

// Apply swaps the engine configuration. Running tasks keep the policy they
// were submitted with; new limits apply to the next acquisition.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	s.limiter.Apply(cfg.Limits, cfg.MaxConcurrent)
	if prev.MaxConcurrent != cfg.MaxConcurrent {
		s.log.Info("task engine concurrency changed", logx.Int("from", prev.MaxConcurrent), logx.Int("to", cfg.MaxConcurrent))
	}
	s.signal()
}

// Start launches the control loop. It is idempotent; a Start during an
// unfinished Stop waits for the stop first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil && s.stopDone == nil && s.sup.Context().Err() != nil {
		// The previous Start context ended; finish that teardown first.
		s.mu.Unlock()
		if err := s.Stop(ctx); err != nil {
			return
		}
		s.mu.Lock()
	}
	if s.sup != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.sup != nil {
			s.mu.Unlock()
			return
		}
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// A failing control loop restarts instead of tearing down the host.
		rtsup.WithCancelOnError(false),
	)
	s.stopping = false
	sup := s.sup
	cfg := s.cfg
	s.mu.Unlock()

	sup.GoRestart("control-loop", s.loop, rtsup.WithRestartBackoff(50*time.Millisecond, 2*time.Second))
	go s.stopOnParentDone(sup)

	s.log.Info("task engine started",
		logx.Int("max_concurrent", cfg.MaxConcurrent),
		logx.Float64("global_rate", cfg.Limits.GlobalRate),
		logx.Duration("tick", cfg.TickInterval),
	)
}

// Stop cancels in-flight executions and waits for them to unwind, bounded
// by ctx. Pending and scheduled tasks stay queued; a later Start resumes them.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return nil
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	s.stopping = true
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()

	go func() {
		s.execWG.Wait()
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// stopOnParentDone tears the engine down when the ctx given to Start ends,
// so a later Start can run again.
func (s *Service) stopOnParentDone(sup *rtsup.Supervisor) {
	<-sup.Context().Done()
	s.mu.Lock()
	owned := s.sup == sup && !s.stopping
	s.mu.Unlock()
	if !owned {
		return
	}
	_ = s.Stop(context.Background())
}

// Submit registers work and returns its task id. Submission only fails
// validation; execution failures are reported through Status.
func (s *Service) Submit(w Work, opts ...SubmitOption) (string, error) {
	if w == nil {
		return "", ErrNilWork
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o := defaultSubmitOptions(s.cfg)
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := o.validate(); err != nil {
		return "", err
	}

	id := o.id
	if id == "" {
		id = uuid.NewString()
	}
	if s.reg.get(id) != nil {
		return "", &TaskError{TaskID: id, Err: ErrDuplicateTask}
	}
	deps := normalizeDeps(o.deps)
	if err := s.checkDeps(id, deps); err != nil {
		return "", err
	}
	name := o.name
	if name == "" {
		name = "task-" + shortID(id)
	}

	now := time.Now()
	s.seq++
	t := &task{
		id:         id,
		name:       name,
		priority:   o.priority,
		category:   o.category,
		status:     StatusPending,
		order:      s.seq,
		maxRetries: o.maxRetries,
		retryBase:  o.retryBase,
		retryMax:   o.retryMax,
		timeout:    o.timeout,
		createdAt:  now,
		tags:       normalizeTags(o.tags),
		deps:       deps,
		work:       w,
		done:       make(chan struct{}),
	}
	if err := s.reg.register(t); err != nil {
		return "", err
	}

	if at := o.eligibleAt(now); !at.IsZero() {
		t.scheduledAt = at
		s.scheduled.push(t, at, t.order)
	} else {
		s.ready.push(t, t.order)
	}
	s.stats.submitted++
	s.publishLocked(EventSubmitted, t, 0)
	s.signal()
	return id, nil
}

// Cancel stops a task. Queued tasks are finalized immediately and their
// work never runs; running tasks have their context cancelled and become
// CANCELLED once the work returns. It reports false for unknown or
// terminal tasks.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.reg.get(id)
	if t == nil {
		return false
	}
	switch t.status {
	case StatusPending, StatusRetrying:
		s.ready.remove(id)
		s.scheduled.remove(id)
		s.finalizeLocked(t, StatusCancelled, &Result{Err: ErrCancelled}, time.Now())
		return true
	case StatusRunning:
		if !t.cancelRequested {
			t.cancelRequested = true
			if t.cancel != nil {
				t.cancel()
			}
			s.log.Debug("task.cancel_requested", logx.String("task", t.name), logx.String("id", t.id))
		}
		return true
	}
	return false
}

// Status returns a copy of the task record.
func (s *Service) Status(id string) (StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.reg.get(id)
	if t == nil {
		return StatusRecord{}, false
	}
	return t.record(), true
}

// ListByTag returns tracked tasks carrying tag, in submission order.
func (s *Service) ListByTag(tag string) []StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.filter(func(t *task) bool { return t.hasTag(tag) })
}

// ListByCategory returns tracked tasks of category c, in submission order.
func (s *Service) ListByCategory(c Category) []StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.filter(func(t *task) bool { return t.category == c })
}

// Wait blocks until the task is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (StatusRecord, error) {
	s.mu.Lock()
	t := s.reg.get(id)
	s.mu.Unlock()
	if t == nil {
		return StatusRecord{}, &TaskError{TaskID: id, Err: ErrNotFound}
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return StatusRecord{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.record(), nil
}

// signal wakes the control loop without blocking.
func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) publishLocked(typ string, t *task, retryIn time.Duration) {
	if s.bus == nil {
		return
	}
	ev := t.event()
	ev.RetryIn = retryIn
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
