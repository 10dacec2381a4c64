package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SubmitOption configures a task at submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	id          string
	name        string
	priority    Priority
	category    Category
	maxRetries  int
	timeout     time.Duration
	retryBase   time.Duration
	retryMax    time.Duration
	scheduledAt time.Time
	delay       time.Duration
	tags        []string
	deps        []string
}

func defaultSubmitOptions(cfg Config) submitOptions {
	return submitOptions{
		priority:   PriorityNormal,
		category:   CategoryGeneric,
		maxRetries: cfg.DefaultMaxRetries,
		timeout:    cfg.DefaultTimeout,
		retryBase:  cfg.DefaultRetryBaseDelay,
		retryMax:   cfg.DefaultRetryMaxDelay,
	}
}

// WithID uses id instead of a generated one. Reusing an id fails with ErrDuplicateTask.
func WithID(id string) SubmitOption { return func(o *submitOptions) { o.id = strings.TrimSpace(id) } }

func WithName(name string) SubmitOption {
	return func(o *submitOptions) { o.name = strings.TrimSpace(name) }
}

func WithPriority(p Priority) SubmitOption { return func(o *submitOptions) { o.priority = p } }

func WithCategory(c Category) SubmitOption { return func(o *submitOptions) { o.category = c } }

// WithMaxRetries sets the retry budget; 0 disables retries.
func WithMaxRetries(n int) SubmitOption {
	return func(o *submitOptions) { o.maxRetries = n }
}

// WithTimeout bounds a single attempt. 0 disables the deadline.
func WithTimeout(d time.Duration) SubmitOption { return func(o *submitOptions) { o.timeout = d } }

func WithRetryBaseDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.retryBase = d }
}

// WithRetryMaxDelay caps the exponential delay. 0 leaves it uncapped.
func WithRetryMaxDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.retryMax = d }
}

// WithScheduledAt holds the task back until at.
func WithScheduledAt(at time.Time) SubmitOption { return func(o *submitOptions) { o.scheduledAt = at } }

// WithDelay holds the task back for d after submission.
func WithDelay(d time.Duration) SubmitOption { return func(o *submitOptions) { o.delay = d } }

func WithTags(tags ...string) SubmitOption {
	return func(o *submitOptions) { o.tags = append(o.tags, tags...) }
}

func WithDependencies(ids ...string) SubmitOption {
	return func(o *submitOptions) { o.deps = append(o.deps, ids...) }
}

func (o *submitOptions) validate() error {
	if !o.priority.valid() {
		return fmt.Errorf("invalid priority %d", int(o.priority))
	}
	if strings.TrimSpace(string(o.category)) == "" {
		o.category = CategoryGeneric
	}
	if o.maxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", o.maxRetries)
	}
	if o.timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", o.timeout)
	}
	if o.retryBase <= 0 {
		return fmt.Errorf("retry base delay must be > 0, got %s", o.retryBase)
	}
	if o.retryMax < 0 {
		return fmt.Errorf("retry max delay must be >= 0, got %s", o.retryMax)
	}
	if o.delay < 0 {
		return fmt.Errorf("%w: negative delay %s", ErrInvalidSchedule, o.delay)
	}
	if o.delay > 0 && !o.scheduledAt.IsZero() {
		return fmt.Errorf("%w: both scheduled time and delay set", ErrInvalidSchedule)
	}
	return nil
}

// eligibleAt resolves the time a task may first enter the ready queue.
// Zero means immediately.
func (o *submitOptions) eligibleAt(now time.Time) time.Time {
	if o.delay > 0 {
		return now.Add(o.delay)
	}
	if o.scheduledAt.After(now) {
		return o.scheduledAt
	}
	return time.Time{}
}

// normalizeTags trims, drops empties and dedupes, returning a sorted set.
func normalizeTags(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// normalizeDeps trims and dedupes while keeping the caller's order.
func normalizeDeps(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
