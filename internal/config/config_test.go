package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
engine:
  max_concurrent: 4
  global_rate: 50
  category_limits:
    database: 2
  default_timeout: 30s
scheduler:
  enabled: true
  timezone: UTC
jobs:
  - name: heartbeat
    schedule: "@every 10s"
    kind: sleep
    duration: 100ms
    priority: high
  - name: backup
    schedule: "daily:02:30"
    kind: exec
    command: /usr/bin/true
    max_retries: 0
storage:
  driver: sqlite
  path: ./data/taskd.db
debug:
  enabled: true
  addr: 127.0.0.1:6060
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml error: %v", err)
	}
	if cfg.Engine.MaxConcurrent != 4 || cfg.Engine.CategoryLimits["database"] != 2 || cfg.Engine.GlobalRate != 50 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[1].MaxRetries == nil || *cfg.Jobs[1].MaxRetries != 0 {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	js := `{"logging":{"level":"info","console":true},"engine":{"max_concurrent":2}}`
	cfg, err = Decode("taskd.conf", []byte(js))
	if err != nil || cfg.Engine.MaxConcurrent != 2 {
		t.Fatalf("Decode sniffed json = %+v, %v", cfg, err)
	}

	cfg, err = Decode("empty.yaml", nil)
	if err != nil || cfg == nil {
		t.Fatalf("Decode empty = %+v, %v", cfg, err)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		data string
	}{
		{name: "unknown json key", path: "c.json", data: `{"engine":{"workers":2}}`},
		{name: "unknown yaml key", path: "c.yaml", data: "scheduler:\n  enabled: true\n  workers: 3\n"},
		{name: "trailing json", path: "c.json", data: `{} {}`},
		{name: "bad yaml", path: "c.yml", data: "engine: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.path, []byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero ok", cfg: Config{}},
		{name: "bad duration", cfg: Config{Engine: EngineConfig{DefaultTimeout: "soon"}}, wantErr: "engine.default_timeout"},
		{name: "negative concurrency", cfg: Config{Engine: EngineConfig{MaxConcurrent: -1}}, wantErr: "max_concurrent"},
		{name: "jitter range", cfg: Config{Engine: EngineConfig{RetryJitter: 2}}, wantErr: "retry_jitter"},
		{name: "job without name", cfg: Config{Jobs: []JobConfig{{Schedule: "1m", Kind: "sleep"}}}, wantErr: "jobs[0].name"},
		{name: "duplicate job", cfg: Config{Jobs: []JobConfig{
			{Name: "a", Schedule: "1m", Kind: "sleep"},
			{Name: "a", Schedule: "2m", Kind: "sleep"},
		}}, wantErr: "duplicate"},
		{name: "exec without command", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1m", Kind: "exec"}}}, wantErr: "command"},
		{name: "unknown kind", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1m", Kind: "http"}}}, wantErr: "kind"},
		{name: "storage path", cfg: Config{Storage: &StorageConfig{Driver: "file"}}, wantErr: "storage.path"},
		{name: "storage driver", cfg: Config{Storage: &StorageConfig{Driver: "redis", Path: "x"}}, wantErr: "storage.driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: " 1m30s ", want: 90 * time.Second},
		{raw: "45", want: 45 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "-3", wantErr: true},
		{raw: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %s, %v", tt.raw, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default = %s", d)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Engine: EngineConfig{MaxConcurrent: 2},
		Jobs:   []JobConfig{{Name: "a", Schedule: "1m"}, {Name: "b", Schedule: "2m"}},
		Debug:  DebugConfig{Token: "secret"},
	}
	newCfg := &Config{
		Engine: EngineConfig{MaxConcurrent: 4},
		Jobs:   []JobConfig{{Name: "a", Schedule: "5m"}, {Name: "c", Schedule: "1h"}},
		Debug:  DebugConfig{Token: "secret"},
	}
	sections, attrs, jobs := SummarizeChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "engine,jobs" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(jobs, ",") != "a,b,c" {
		t.Fatalf("jobs = %v", jobs)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if s, _, _ := SummarizeChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskd.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("engine:\n  max_concurrent: 2\n")

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil || cfg.Engine.MaxConcurrent != 2 || m.Get() != cfg {
		t.Fatalf("Load = %+v, %v", cfg, err)
	}

	rejected := make(chan struct{}, 1)
	m.SetValidator(func(ctx context.Context, c *Config) error {
		if c.Engine.MaxConcurrent == 99 {
			select {
			case rejected <- struct{}{}:
			default:
			}
			return context.Canceled
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Let the watcher register before the first write.
	time.Sleep(100 * time.Millisecond)

	write("engine:\n  max_concurrent: 99\n")
	select {
	case <-rejected:
	case <-time.After(3 * time.Second):
		t.Fatal("validator was not consulted")
	}
	if m.Get().Engine.MaxConcurrent != 2 {
		t.Fatal("rejected config was committed")
	}

	write("engine:\n  max_concurrent: 6\n")
	select {
	case got := <-sub:
		if got.Engine.MaxConcurrent != 6 {
			t.Fatalf("published %+v", got.Engine)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload was not published")
	}
}
