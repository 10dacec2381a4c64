package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime/debug"
	"time"

	logx "taskcore/pkg/logx"
)

type attemptKind int

const (
	attemptOK attemptKind = iota
	attemptFailed
	attemptTimedOut
	attemptCancelled
)

type attempt struct {
	kind  attemptKind
	value any
	err   error
	exec  time.Duration
}

// execute runs one attempt of t: acquire permits, run the work, settle the
// outcome. The permit belongs to the work goroutine and is released when
// the work returns, even if the attempt was finalized earlier.
func (s *Service) execute(ctx context.Context, t *task) {
	defer s.execWG.Done()

	permit, err := s.limiter.Acquire(ctx, t.category)
	if err != nil {
		s.settle(t, attempt{kind: attemptCancelled, err: ErrCancelled})
		return
	}

	start := time.Now()
	a := s.invoke(ctx, t, permit)
	a.exec = time.Since(start)

	s.settle(t, a)
}

// invoke runs the work with the per-attempt deadline and recovers panics.
// At the deadline the engine stops waiting: work that ignores ctx is
// abandoned and its late result dropped, but it keeps its permit and
// counts against MaxConcurrent until it returns. On cancellation the work
// gets UnwindGrace to return.
func (s *Service) invoke(ctx context.Context, t *task, permit *Permit) attempt {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	defer cancel()

	// Guarded by s.mu.
	var exited, gone bool

	done := make(chan attempt, 1)
	go func() {
		a := runWork(ctx, runCtx, t.work)
		permit.Release()

		s.mu.Lock()
		exited = true
		wasGone := gone
		if gone {
			s.abandoned--
		}
		s.mu.Unlock()
		if wasGone {
			s.log.Debug("abandoned task returned", logx.String("task", t.name), logx.String("id", t.id))
			s.signal()
		}
		done <- a
	}()

	abandon := func() {
		s.mu.Lock()
		if !exited {
			gone = true
			s.abandoned++
		}
		s.mu.Unlock()
	}

	select {
	case a := <-done:
		return a
	case <-runCtx.Done():
	}

	if ctx.Err() == nil {
		abandon()
		return attempt{kind: attemptTimedOut, err: ErrTimeout}
	}

	s.mu.Lock()
	grace := s.cfg.UnwindGrace
	s.mu.Unlock()
	tm := time.NewTimer(grace)
	defer tm.Stop()
	select {
	case <-done:
	case <-tm.C:
		abandon()
		s.log.Warn("task did not unwind after cancel", logx.String("task", t.name), logx.String("id", t.id), logx.Duration("grace", grace))
	}
	return attempt{kind: attemptCancelled, err: ErrCancelled}
}

func runWork(ctx, runCtx context.Context, w Work) (a attempt) {
	defer func() {
		if r := recover(); r != nil {
			a = attempt{kind: attemptFailed, err: &PanicError{Value: r, Stack: string(debug.Stack())}}
		}
	}()
	v, err := w.Run(runCtx)
	return classify(ctx, runCtx, v, err)
}

func classify(ctx, runCtx context.Context, v any, err error) attempt {
	switch {
	case err == nil:
		return attempt{kind: attemptOK, value: v}
	case ctx.Err() != nil:
		return attempt{kind: attemptCancelled, err: ErrCancelled}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return attempt{kind: attemptTimedOut, err: ErrTimeout}
	}
	return attempt{kind: attemptFailed, err: err}
}

// settle applies the attempt outcome: finalize, or schedule a retry in the
// scheduled store so the execution slot is freed immediately.
func (s *Service) settle(t *task, a attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.signal()

	now := time.Now()
	if t.cancelRequested {
		a.kind, a.err = attemptCancelled, ErrCancelled
	}

	switch a.kind {
	case attemptOK:
		s.finalizeLocked(t, StatusCompleted, &Result{Success: true, Value: a.value, ExecutionTime: a.exec}, now)
		return
	case attemptTimedOut:
		s.finalizeLocked(t, StatusTimedOut, &Result{Err: ErrTimeout, ExecutionTime: a.exec}, now)
		return
	case attemptCancelled:
		s.finalizeLocked(t, StatusCancelled, &Result{Err: ErrCancelled, ExecutionTime: a.exec}, now)
		return
	}

	err := a.err
	var nr noRetryError
	permanent := errors.As(err, &nr)
	if permanent {
		err = nr.err
	}
	if permanent || t.retryCount >= t.maxRetries {
		s.finalizeLocked(t, StatusFailed, &Result{Err: &TaskError{TaskID: t.id, Err: err}, ExecutionTime: a.exec}, now)
		return
	}

	t.retryCount++
	delay := backoffDelay(t.retryBase, t.retryMax, t.retryCount, s.cfg.RetryJitter, s.rng)
	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > delay {
		delay = ra.RetryAfter()
	}

	t.status = StatusRetrying
	if t.cancel != nil {
		t.cancel()
	}
	t.ctx, t.cancel = nil, nil
	delete(s.running, t.id)
	s.seq++
	s.scheduled.push(t, now.Add(delay), s.seq)
	s.stats.retries++

	s.publishLocked(EventRetrying, t, delay)
	s.log.Debug("task retry scheduled",
		logx.String("task", t.name),
		logx.String("id", t.id),
		logx.Int("retry", t.retryCount),
		logx.Int("max_retries", t.maxRetries),
		logx.Duration("delay", delay),
		logx.Err(err),
	)
}

// finalizeLocked moves t to a terminal status. Callers hold s.mu.
func (s *Service) finalizeLocked(t *task, st Status, res *Result, now time.Time) {
	res.RetryCount = t.retryCount
	t.status = st
	t.completedAt = now
	t.result = res
	if t.cancel != nil {
		t.cancel()
	}
	t.ctx, t.cancel = nil, nil
	delete(s.running, t.id)
	close(t.done)

	s.stats.observeFinish(st, res.ExecutionTime, now, s.cfg.ThroughputWindow)
	s.publishLocked(EventFinished, t, 0)
	s.logFinish(t)
}

func (s *Service) logFinish(t *task) {
	res := t.result
	fields := []logx.Field{
		logx.String("task", t.name),
		logx.String("id", t.id),
		logx.Duration("dur", res.ExecutionTime),
		logx.Int("retries", t.retryCount),
	}
	switch t.status {
	case StatusCompleted:
		if res.ExecutionTime >= 750*time.Millisecond {
			s.log.Info("task.completed", fields...)
		} else {
			s.log.Debug("task.completed", fields...)
		}
	case StatusTimedOut:
		s.log.Warn("task.timed_out", append(fields, logx.Duration("timeout", t.timeout))...)
	case StatusCancelled:
		s.log.Debug("task.cancelled", fields...)
	case StatusFailed:
		var pe *PanicError
		if errors.As(res.Err, &pe) {
			s.log.Error("task.panic", append(fields, logx.Any("panic", pe.Value), logx.Stack(pe.Stack))...)
			return
		}
		s.log.Warn("task.failed", append(fields, logx.Err(res.Err))...)
	}
}

// backoffDelay returns base * 2^(retry-1), capped by maxD when set, plus up
// to jitter*delay on top. Jitter never shortens the delay.
func backoffDelay(base, maxD time.Duration, retry int, jitter float64, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < retry; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if maxD > 0 && d >= maxD {
			break
		}
	}
	if maxD > 0 && d > maxD {
		d = maxD
	}
	if jitter > 0 && rng != nil {
		extra := time.Duration(rng.Float64() * jitter * float64(d))
		if extra > 0 && d <= math.MaxInt64-extra {
			d += extra
		}
	}
	return d
}
