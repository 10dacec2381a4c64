package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskcore/internal/storage"
	"taskcore/internal/task/engine"
	"taskcore/internal/task/scheduler"
	logx "taskcore/pkg/logx"
)

type fakeTasks struct {
	recs map[string]engine.StatusRecord
}

func (f fakeTasks) Metrics() engine.MetricsSnapshot {
	return engine.MetricsSnapshot{Submitted: uint64(len(f.recs)), Completed: 1}
}

func (f fakeTasks) Status(id string) (engine.StatusRecord, bool) {
	r, ok := f.recs[id]
	return r, ok
}

func (f fakeTasks) ListByTag(tag string) []engine.StatusRecord {
	var out []engine.StatusRecord
	for _, r := range f.recs {
		for _, t := range r.Tags {
			if t == tag {
				out = append(out, r)
			}
		}
	}
	return out
}

func (f fakeTasks) ListByCategory(c engine.Category) []engine.StatusRecord {
	var out []engine.StatusRecord
	for _, r := range f.recs {
		if r.Category == c {
			out = append(out, r)
		}
	}
	return out
}

func testViews() Views {
	return Views{
		Tasks: fakeTasks{recs: map[string]engine.StatusRecord{
			"t1": {
				ID: "t1", Name: "ok", Status: engine.StatusCompleted, Priority: engine.PriorityHigh,
				Category: engine.CategoryDatabase, Tags: []string{"nightly"}, CreatedAt: time.Now(),
				Result: &engine.Result{Success: true, ExecutionTime: time.Millisecond},
			},
			"t2": {
				ID: "t2", Name: "bad", Status: engine.StatusFailed, Priority: engine.PriorityLow,
				Category: engine.CategoryCache, CreatedAt: time.Now(),
				Result: &engine.Result{Err: errors.New("boom")},
			},
		}},
		Schedules: func() scheduler.Snapshot { return scheduler.Snapshot{Enabled: true, Timezone: "UTC"} },
		Recent: func(ctx context.Context, limit int) ([]storage.ResultRecord, error) {
			return []storage.ResultRecord{{TaskID: "t1", Status: "completed"}}[:min(limit, 1)], nil
		},
	}
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	h := NewHandler("", testViews())

	tests := []struct {
		name     string
		path     string
		wantCode int
		contains string
	}{
		{name: "health", path: "/healthz", wantCode: 200, contains: "ok"},
		{name: "metrics", path: "/debug/tasks", wantCode: 200, contains: `"submitted": 2`},
		{name: "status", path: "/debug/tasks/t1", wantCode: 200, contains: `"priority": "high"`},
		{name: "status error", path: "/debug/tasks/t2", wantCode: 200, contains: `"error": "boom"`},
		{name: "missing", path: "/debug/tasks/nope", wantCode: 404},
		{name: "by tag", path: "/debug/tasks?tag=nightly", wantCode: 200, contains: `"id": "t1"`},
		{name: "by category", path: "/debug/tasks?category=cache", wantCode: 200, contains: `"id": "t2"`},
		{name: "bad category", path: "/debug/tasks?category=gpu", wantCode: 400},
		{name: "schedules", path: "/debug/schedules", wantCode: 200, contains: `"timezone": "UTC"`},
		{name: "results", path: "/debug/results?limit=5", wantCode: 200, contains: `"task_id": "t1"`},
		{name: "bad limit", path: "/debug/results?limit=x", wantCode: 400},
		{name: "pprof index", path: "/debug/pprof/", wantCode: 200, contains: "goroutine"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := get(t, h, tt.path, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestHandlerNilViews(t *testing.T) {
	t.Parallel()
	h := NewHandler("", Views{})
	if rec := get(t, h, "/debug/tasks", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	h := NewHandler("s3cret", testViews())

	if rec := get(t, h, "/debug/tasks", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/tasks", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/tasks?token=wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong query token: code = %d", rec.Code)
	}
	rec := get(t, h, "/debug/tasks", map[string]string{"Authorization": "Bearer s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: code = %d", rec.Code)
	}
	var m engine.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil || m.Submitted != 2 {
		t.Fatalf("metrics = %+v, %v", m, err)
	}
	if rec := get(t, h, "/healthz?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testViews(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr = s.Addr(); addr != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not bind")
	}

	resp, err := http.Get("http://" + addr + "/debug/tasks/t1")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("listener still set after disable")
	}
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Views{}, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatal("expected refusal for non-loopback bind without token")
	}
}
