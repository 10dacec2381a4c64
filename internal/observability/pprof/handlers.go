package pprof

import (
	"context"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"taskcore/internal/storage"
	"taskcore/internal/task/engine"
	"taskcore/internal/task/scheduler"
)

// TaskSource is the read side of the engine.
type TaskSource interface {
	Metrics() engine.MetricsSnapshot
	Status(id string) (engine.StatusRecord, bool)
	ListByTag(tag string) []engine.StatusRecord
	ListByCategory(c engine.Category) []engine.StatusRecord
}

// Views are the data sources served next to pprof. Nil members disable
// their endpoint (404).
type Views struct {
	Tasks     TaskSource
	Schedules func() scheduler.Snapshot
	Recent    func(ctx context.Context, limit int) ([]storage.ResultRecord, error)
}

// taskView is the JSON form of a StatusRecord.
type taskView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       engine.Status   `json:"status"`
	Priority     engine.Priority `json:"priority"`
	Category     engine.Category `json:"category"`
	Tags         []string        `json:"tags,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Timeout      string          `json:"timeout,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	Error        string          `json:"error,omitempty"`
	ExecTime     string          `json:"execution_time,omitempty"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newTaskView(r engine.StatusRecord) taskView {
	v := taskView{
		ID:           r.ID,
		Name:         r.Name,
		Status:       r.Status,
		Priority:     r.Priority,
		Category:     r.Category,
		Tags:         r.Tags,
		Dependencies: r.Dependencies,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		CreatedAt:    r.CreatedAt,
		ScheduledAt:  optTime(r.ScheduledAt),
		StartedAt:    optTime(r.StartedAt),
		CompletedAt:  optTime(r.CompletedAt),
	}
	if r.Timeout > 0 {
		v.Timeout = r.Timeout.String()
	}
	if res := r.Result; res != nil {
		ok := res.Success
		v.Success = &ok
		v.ExecTime = res.ExecutionTime.String()
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
	}
	return v
}

// NewHandler builds the debug mux. A non-empty token guards every route.
func NewHandler(token string, views Views) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("GET /healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))

	if views.Tasks != nil {
		mux.HandleFunc("GET /debug/tasks", wrap(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var recs []engine.StatusRecord
			switch {
			case q.Get("tag") != "":
				recs = views.Tasks.ListByTag(q.Get("tag"))
			case q.Get("category") != "":
				c, err := engine.ParseCategory(q.Get("category"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				recs = views.Tasks.ListByCategory(c)
			default:
				writeJSON(w, http.StatusOK, views.Tasks.Metrics())
				return
			}
			out := make([]taskView, 0, len(recs))
			for _, rec := range recs {
				out = append(out, newTaskView(rec))
			}
			writeJSON(w, http.StatusOK, out)
		}))
		mux.HandleFunc("GET /debug/tasks/{id}", wrap(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := views.Tasks.Status(r.PathValue("id"))
			if !ok {
				http.Error(w, "task not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, newTaskView(rec))
		}))
	}

	if views.Schedules != nil {
		mux.HandleFunc("GET /debug/schedules", wrap(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, views.Schedules())
		}))
	}

	if views.Recent != nil {
		mux.HandleFunc("GET /debug/results", wrap(func(w http.ResponseWriter, r *http.Request) {
			limit := 50
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = min(n, 1000)
			}
			recs, err := views.Recent(r.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if recs == nil {
				recs = []storage.ResultRecord{}
			}
			writeJSON(w, http.StatusOK, recs)
		}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(ah[len(p):]) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
