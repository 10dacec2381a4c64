package app

import (
	"context"
	"time"

	"taskcore/internal/eventbus"
	"taskcore/internal/storage"
	"taskcore/internal/task/engine"
	logx "taskcore/pkg/logx"
)

func resultRecord(ev engine.TaskEvent) storage.ResultRecord {
	return storage.ResultRecord{
		TaskID:        ev.ID,
		Name:          ev.Name,
		Category:      string(ev.Category),
		Priority:      ev.Priority.String(),
		Status:        ev.Status.String(),
		Tags:          ev.Tags,
		RetryCount:    ev.RetryCount,
		CreatedAt:     ev.CreatedAt,
		StartedAt:     ev.StartedAt,
		CompletedAt:   ev.CompletedAt,
		ExecutionTime: ev.ExecutionTime,
		Error:         ev.Error,
	}
}

// subscribeArchive takes the archive subscription. Call it before the
// engine starts so no finished task is missed.
func subscribeArchive(bus eventbus.Bus) (<-chan eventbus.Event, func()) {
	return bus.Subscribe(256, engine.EventFinished)
}

// runArchiver appends every finished task to store until ctx is done.
// Events dropped by the bus (slow archive) are not archived.
func runArchiver(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, ok := e.Data.(engine.TaskEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := store.AppendResult(wctx, resultRecord(ev))
			cancel()
			if err != nil {
				failures++
				// Log the first failure and then every 100th.
				if failures%100 == 1 {
					log.Warn("archive append failed", logx.String("task_id", ev.ID), logx.Int("failures", failures), logx.Err(err))
				}
			}
		}
	}
}
