package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskcore/internal/eventbus"
	"taskcore/internal/task/engine"
	logx "taskcore/pkg/logx"
)

type fakeEngine struct {
	mu       sync.Mutex
	next     int
	statuses map[string]engine.Status
	err      error
	submits  int
}

func newFakeEngine() *fakeEngine { return &fakeEngine{statuses: map[string]engine.Status{}} }

func (f *fakeEngine) Submit(w engine.Work, opts ...engine.SubmitOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.next++
	f.submits++
	id := string(rune('a' + f.next - 1))
	f.statuses[id] = engine.StatusRunning
	return id, nil
}

func (f *fakeEngine) Status(id string) (engine.StatusRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	return engine.StatusRecord{ID: id, Status: st}, ok
}

func (f *fakeEngine) finish(id string) {
	f.mu.Lock()
	f.statuses[id] = engine.StatusCompleted
	f.mu.Unlock()
}

var noop = engine.Func(func(ctx context.Context) error { return nil })

func TestTriggerSkipsOverlap(t *testing.T) {
	t.Parallel()
	fe := newFakeEngine()
	s := New(Config{}, fe, logx.Nop())
	if err := s.Add(Job{Name: "sync", Schedule: "5m", Work: noop}); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	s.trigger("sync")
	s.trigger("sync") // previous run still running
	if fe.submits != 1 {
		t.Fatalf("submits = %d, want 1", fe.submits)
	}
	fe.finish("a")
	s.trigger("sync")
	if fe.submits != 2 {
		t.Fatalf("submits = %d, want 2", fe.submits)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d", len(snap.Schedules))
	}
	info := snap.Schedules[0]
	if info.Triggered != 2 || info.Skipped != 1 || info.LastTaskID != "b" || info.Spec != "@every 5m0s" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestTriggerAllowOverlap(t *testing.T) {
	t.Parallel()
	fe := newFakeEngine()
	s := New(Config{}, fe, logx.Nop())
	_ = s.Add(Job{Name: "fanout", Schedule: "*/5 * * * *", Work: noop, Overlap: OverlapAllow})
	s.trigger("fanout")
	s.trigger("fanout")
	if fe.submits != 2 {
		t.Fatalf("submits = %d, want 2", fe.submits)
	}
}

func TestTriggerCountsSubmitFailures(t *testing.T) {
	t.Parallel()
	fe := newFakeEngine()
	fe.err = errors.New("nope")
	s := New(Config{}, fe, logx.Nop())
	_ = s.Add(Job{Name: "broken", Schedule: "1h", Work: noop})
	s.trigger("broken")
	if info := s.Snapshot().Schedules[0]; info.Failed != 1 || info.Triggered != 0 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeEngine(), logx.Nop())
	tests := []struct {
		name string
		job  Job
	}{
		{name: "no name", job: Job{Schedule: "1m", Work: noop}},
		{name: "no work", job: Job{Name: "x", Schedule: "1m"}},
		{name: "bad schedule", job: Job{Name: "x", Schedule: "whenever", Work: noop}},
		{name: "bad cron", job: Job{Name: "x", Schedule: "cron:61 * * * *", Work: noop}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Add(tt.job); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAddReplacesAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeEngine(), logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Add(Job{Name: "job", Schedule: "*/5 * * * *", Work: noop}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := s.Add(Job{Name: "job", Schedule: "10m", Work: noop}); err != nil {
		t.Fatalf("Add replace error: %v", err)
	}
	snap := s.Snapshot()
	if !snap.Running || len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 10m0s" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("expected next fire time while running")
	}
	if !s.Remove("job") {
		t.Fatal("Remove = false")
	}
	if s.Remove("job") {
		t.Fatal("second Remove = true")
	}
}

func TestIntervalJobRunsThroughEngine(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{TickInterval: 5 * time.Millisecond}, logx.Nop(), eventbus.New())
	eng.Start(context.Background())
	defer func() { _ = eng.Stop(context.Background()) }()

	s := New(Config{MaxStartupSpread: time.Millisecond}, eng, logx.Nop())
	ran := make(chan struct{}, 8)
	err := s.Add(Job{Name: "tick", Schedule: "50ms", Work: engine.Func(func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(3 * time.Second):
			t.Fatalf("job ran %d times, want 2", i)
		}
	}
	recs := eng.ListByTag("schedule:tick")
	if len(recs) == 0 || recs[0].Category != engine.CategoryScheduled || recs[0].Name != "tick" {
		t.Fatalf("unexpected task records: %+v", recs)
	}
}
