package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		base  time.Duration
		max   time.Duration
		retry int
		want  time.Duration
	}{
		{name: "first", base: 100 * time.Millisecond, retry: 1, want: 100 * time.Millisecond},
		{name: "second", base: 100 * time.Millisecond, retry: 2, want: 200 * time.Millisecond},
		{name: "fourth", base: 100 * time.Millisecond, retry: 4, want: 800 * time.Millisecond},
		{name: "capped", base: time.Second, max: 5 * time.Second, retry: 10, want: 5 * time.Second},
		{name: "huge retry", base: time.Second, retry: 200, want: time.Duration(1<<63 - 1)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDelay(tt.base, tt.max, tt.retry, 0, nil); got != tt.want {
				t.Fatalf("backoffDelay = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBackoffJitterOnlyAdds(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := backoffDelay(100*time.Millisecond, 0, 2, 0.5, rng)
		if d < 200*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("jittered delay %s outside [200ms, 300ms]", d)
		}
	}
}

func TestRegistryEvictionKeepsLiveDependencies(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	old := time.Now().Add(-2 * time.Hour)

	parent := &task{id: "parent", status: StatusCompleted, completedAt: old}
	child := &task{id: "child", status: StatusPending, deps: []string{"parent"}}
	lone := &task{id: "lone", status: StatusFailed, completedAt: old}
	fresh := &task{id: "fresh", status: StatusCompleted, completedAt: time.Now()}
	for _, tk := range []*task{parent, child, lone, fresh} {
		if err := r.register(tk); err != nil {
			t.Fatalf("register(%s) error: %v", tk.id, err)
		}
	}
	if err := r.register(&task{id: "lone"}); err == nil {
		t.Fatal("expected duplicate error")
	}

	cutoff := time.Now().Add(-time.Hour)
	if n := r.evictOlderThan(cutoff); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if r.get("lone") != nil || r.get("parent") == nil || r.get("fresh") == nil {
		t.Fatal("unexpected registry contents after first pass")
	}

	child.status = StatusCompleted
	child.completedAt = old
	if n := r.evictOlderThan(cutoff); n != 2 {
		t.Fatalf("evicted %d, want 2", n)
	}
	if r.len() != 1 || len(r.dependents) != 0 {
		t.Fatalf("len=%d dependents=%v", r.len(), r.dependents)
	}
}

func TestEngineEvictsAfterRetention(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{Retention: 20 * time.Millisecond, GCInterval: 5 * time.Millisecond})
	startEngine(t, s)

	id, _ := s.Submit(Func(func(ctx context.Context) error { return nil }))
	waitTask(t, s, id)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Status(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("terminal task was not evicted")
}
