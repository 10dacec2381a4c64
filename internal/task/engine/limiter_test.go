package engine

import (
	"context"
	"testing"
	"time"
)

func TestLimiterCategoryCap(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimiterConfig{CategoryLimits: map[Category]int{CategoryDatabase: 1}}, 10)

	p1, err := l.Acquire(context.Background(), CategoryDatabase)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, CategoryDatabase); err == nil {
		t.Fatal("second Acquire should block until ctx expires")
	}

	// Other categories are unaffected.
	p2, err := l.Acquire(context.Background(), CategoryCache)
	if err != nil {
		t.Fatalf("Acquire(cache) error: %v", err)
	}

	p1.Release()
	p1.Release()
	p3, err := l.Acquire(context.Background(), CategoryDatabase)
	if err != nil {
		t.Fatalf("Acquire after release error: %v", err)
	}

	usage := map[Category]CategoryUsage{}
	for _, u := range l.Snapshot() {
		usage[u.Category] = u
	}
	if u := usage[CategoryDatabase]; u.InUse != 1 || u.Limit != 1 {
		t.Fatalf("database usage = %+v", u)
	}
	if u := usage[CategoryCache]; u.InUse != 1 || u.Limit != 0 {
		t.Fatalf("cache usage = %+v", u)
	}
	p2.Release()
	p3.Release()
}

func TestLimiterGlobalRate(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimiterConfig{GlobalRate: 20, GlobalBurst: 1}, 1)

	start := time.Now()
	for i := 0; i < 4; i++ {
		p, err := l.Acquire(context.Background(), CategoryGeneric)
		if err != nil {
			t.Fatalf("Acquire error: %v", err)
		}
		p.Release()
	}
	// Burst 1 at 20/s: three waits of ~50ms each.
	if d := time.Since(start); d < 120*time.Millisecond {
		t.Fatalf("4 acquisitions took %s, want >= 120ms", d)
	}
}

func TestLimiterApplyResizes(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimiterConfig{CategoryLimits: map[Category]int{CategoryFileIO: 1}}, 1)
	old, err := l.Acquire(context.Background(), CategoryFileIO)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	l.Apply(LimiterConfig{CategoryLimits: map[Category]int{CategoryFileIO: 2}}, 1)
	a, err := l.Acquire(context.Background(), CategoryFileIO)
	if err != nil {
		t.Fatalf("Acquire after resize error: %v", err)
	}
	b, err := l.Acquire(context.Background(), CategoryFileIO)
	if err != nil {
		t.Fatalf("second Acquire after resize error: %v", err)
	}
	// The old permit drains into its original semaphore.
	old.Release()
	a.Release()
	b.Release()

	for _, u := range l.Snapshot() {
		if u.Category == CategoryFileIO && (u.InUse != 0 || u.Limit != 2) {
			t.Fatalf("file_io usage = %+v", u)
		}
	}
}

func TestEngineRespectsCategoryLimit(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{
		MaxConcurrent: 8,
		Limits:        LimiterConfig{CategoryLimits: map[Category]int{CategoryExternalAPI: 2}},
	})
	startEngine(t, s)

	var (
		cur  = make(chan struct{}, 8)
		peak int
	)
	done := make(chan int, 6)
	work := Func(func(ctx context.Context) error {
		cur <- struct{}{}
		done <- len(cur)
		time.Sleep(20 * time.Millisecond)
		<-cur
		return nil
	})
	var ids []string
	for i := 0; i < 6; i++ {
		id, _ := s.Submit(work, WithCategory(CategoryExternalAPI))
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTask(t, s, id)
	}
	close(done)
	for n := range done {
		if n > peak {
			peak = n
		}
	}
	if peak > 2 {
		t.Fatalf("observed %d concurrent external_api tasks, limit 2", peak)
	}
}
