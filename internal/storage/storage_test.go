package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "taskcore/pkg/logx"
)

var sampleBase = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord(i int) ResultRecord {
	now := sampleBase.Add(time.Duration(i) * time.Second)
	return ResultRecord{
		TaskID:        fmt.Sprintf("task-%d", i),
		Name:          "job",
		Category:      "database",
		Priority:      "high",
		Status:        "completed",
		Tags:          []string{"a", "b"},
		RetryCount:    1,
		CreatedAt:     now.Add(-time.Second),
		StartedAt:     now.Add(-500 * time.Millisecond),
		CompletedAt:   now,
		ExecutionTime: 1500 * time.Microsecond,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestStoresRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "archive", "taskd.db")
			st, err := Open(Config{Driver: driver, Path: path, Retention: time.Hour}, logx.Nop())
			if err != nil {
				t.Fatalf("Open error: %v", err)
			}
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				if err := st.AppendResult(ctx, sampleRecord(i)); err != nil {
					t.Fatalf("AppendResult error: %v", err)
				}
			}
			failed := sampleRecord(3)
			failed.Status, failed.Error, failed.Tags, failed.StartedAt = "failed", "boom", nil, time.Time{}
			if err := st.AppendResult(ctx, failed); err != nil {
				t.Fatalf("AppendResult error: %v", err)
			}

			got, err := st.Recent(ctx, 2)
			if err != nil {
				t.Fatalf("Recent error: %v", err)
			}
			if len(got) != 2 || got[0].TaskID != "task-3" || got[1].TaskID != "task-2" {
				t.Fatalf("Recent = %+v", got)
			}
			if got[0].Error != "boom" || got[0].Status != "failed" || len(got[0].Tags) != 0 {
				t.Fatalf("failed record = %+v", got[0])
			}
			want := sampleRecord(2)
			if got[1].ExecutionTime != want.ExecutionTime || len(got[1].Tags) != 2 || !got[1].CompletedAt.Equal(want.CompletedAt) {
				t.Fatalf("record = %+v, want %+v", got[1], want)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			// Reopen: the archive survives.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			defer st.Close()
			all, err := st.Recent(ctx, 100)
			if err != nil || len(all) != 4 {
				t.Fatalf("Recent after reopen = %d records, err %v", len(all), err)
			}
		})
	}
}

func TestFileStoreRingKeepsNewest(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x.log")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	for i := 0; i < fileRecentCap+10; i++ {
		_ = st.AppendResult(ctx, sampleRecord(i))
	}
	got, _ := st.Recent(ctx, fileRecentCap+100)
	if len(got) != fileRecentCap {
		t.Fatalf("len = %d, want %d", len(got), fileRecentCap)
	}
	if got[0].TaskID != fmt.Sprintf("task-%d", fileRecentCap+9) {
		t.Fatalf("newest = %s", got[0].TaskID)
	}
}
