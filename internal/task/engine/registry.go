package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// task is the engine-side record. All fields are guarded by Service.mu,
// except work (immutable) and done (closed once).
type task struct {
	id       string
	name     string
	priority Priority
	category Category
	status   Status
	order    uint64 // submission number, immutable

	maxRetries int
	retryCount int
	retryBase  time.Duration
	retryMax   time.Duration
	timeout    time.Duration

	createdAt   time.Time
	scheduledAt time.Time
	startedAt   time.Time
	completedAt time.Time

	tags []string
	deps []string
	work Work

	result *Result

	// Set while running.
	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool

	done chan struct{}
}

func (t *task) record() StatusRecord {
	rec := StatusRecord{
		ID:           t.id,
		Name:         t.name,
		Status:       t.status,
		Priority:     t.priority,
		Category:     t.category,
		Tags:         append([]string(nil), t.tags...),
		Dependencies: append([]string(nil), t.deps...),
		RetryCount:   t.retryCount,
		MaxRetries:   t.maxRetries,
		Timeout:      t.timeout,
		CreatedAt:    t.createdAt,
		ScheduledAt:  t.scheduledAt,
		StartedAt:    t.startedAt,
		CompletedAt:  t.completedAt,
	}
	if t.result != nil {
		r := *t.result
		rec.Result = &r
	}
	return rec
}

func (t *task) event() TaskEvent {
	ev := TaskEvent{
		ID:          t.id,
		Name:        t.name,
		Category:    t.category,
		Priority:    t.priority,
		Status:      t.status,
		Tags:        t.tags,
		RetryCount:  t.retryCount,
		CreatedAt:   t.createdAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
	}
	if t.result != nil {
		ev.ExecutionTime = t.result.ExecutionTime
		if t.result.Err != nil {
			ev.Error = t.result.Err.Error()
		}
	}
	return ev
}

func (t *task) hasTag(tag string) bool {
	i := sort.SearchStrings(t.tags, tag)
	return i < len(t.tags) && t.tags[i] == tag
}

// registry maps task ids to records and tracks reverse dependency edges.
// Callers hold Service.mu.
type registry struct {
	tasks map[string]*task
	// dependents[dep] is the set of tasks that declared dep.
	dependents map[string]map[string]struct{}
}

func newRegistry() registry {
	return registry{
		tasks:      make(map[string]*task),
		dependents: make(map[string]map[string]struct{}),
	}
}

func (r *registry) register(t *task) error {
	if _, ok := r.tasks[t.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.id)
	}
	r.tasks[t.id] = t
	for _, d := range t.deps {
		set := r.dependents[d]
		if set == nil {
			set = make(map[string]struct{})
			r.dependents[d] = set
		}
		set[t.id] = struct{}{}
	}
	return nil
}

func (r *registry) get(id string) *task { return r.tasks[id] }

func (r *registry) len() int { return len(r.tasks) }

// hasLiveDependents reports whether a non-terminal task still waits on id.
func (r *registry) hasLiveDependents(id string) bool {
	for child := range r.dependents[id] {
		if ct := r.tasks[child]; ct != nil && !ct.status.Terminal() {
			return true
		}
	}
	return false
}

// evictOlderThan removes terminal tasks completed before cutoff together
// with their dependency edges. Tasks that a live task still depends on are
// kept so their outcome stays resolvable.
func (r *registry) evictOlderThan(cutoff time.Time) int {
	n := 0
	for id, t := range r.tasks {
		if !t.status.Terminal() || !t.completedAt.Before(cutoff) {
			continue
		}
		if r.hasLiveDependents(id) {
			continue
		}
		delete(r.tasks, id)
		for _, d := range t.deps {
			if set := r.dependents[d]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(r.dependents, d)
				}
			}
		}
		n++
	}
	return n
}

// filter returns records matching keep, in submission order.
func (r *registry) filter(keep func(*task) bool) []StatusRecord {
	matched := make([]*task, 0)
	for _, t := range r.tasks {
		if keep(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].order < matched[j].order })
	out := make([]StatusRecord, 0, len(matched))
	for _, t := range matched {
		out = append(out, t.record())
	}
	return out
}
