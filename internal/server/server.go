// Package server exposes the pipeline over HTTP: run submission, status
// polling and a small dashboard.
package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediadigest/internal/logging"
	"mediadigest/internal/pipeline"
	"mediadigest/internal/store"
	"mediadigest/internal/ui"
)

type runManager interface {
	Enqueue(source string) (string, error)
	Snapshot(id string) []*pipeline.Run
	QueueDepth() (int, int)
}

type rateLimiter interface {
	Allow(key string) bool
}

// New returns an http.Handler with routes and middleware wired. A nil
// store disables the persisted history listing.
func New(mgr runManager, st *store.Store) http.Handler {
	rl := newIPRateLimiter(60, time.Minute) // 60 req/min/IP
	mux := http.NewServeMux()

	mux.HandleFunc("/api/runs", with(rl, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleSubmit(w, r, mgr, st)
		case http.MethodGet:
			handleList(w, r, mgr, st)
		default:
			methodNotAllowed(w)
		}
	}))

	mux.HandleFunc("/api/status", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id := r.URL.Query().Get("id")
		queued, capacity := mgr.QueueDepth()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "success",
			"runs":      mgr.Snapshot(id),
			"queued":    queued,
			"queue_cap": capacity,
		})
	}))

	dashboard := with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/dashboard" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := dashboardTmpl.Execute(w, mgr.Snapshot("")); err != nil {
			if logging.Logger != nil {
				logging.Logger.Error("dashboard render failed", "error", err)
			}
		}
	})
	mux.HandleFunc("/", dashboard)
	mux.HandleFunc("/dashboard", dashboard)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return recoverer(logger(mux))
}

func handleSubmit(w http.ResponseWriter, r *http.Request, mgr runManager, st *store.Store) {
	var req struct {
		Source  string   `json:"source"`
		Sources []string `json:"sources"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
		return
	}
	sources := req.Sources
	if req.Source != "" {
		sources = append([]string{req.Source}, sources...)
	}
	if len(sources) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
		return
	}

	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		if !validURL(src) {
			continue
		}
		id, err := mgr.Enqueue(src)
		if err != nil {
			if len(sources) == 1 {
				writeEnqueueError(w, err)
				return
			}
			continue
		}
		if st != nil {
			if err := st.CreateRun(r.Context(), id, src); err != nil {
				logging.LogDBOperation("create_run", id, err)
			}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "no_valid_sources"})
		return
	}
	if len(ids) == 1 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "enqueued", "id": ids[0]})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "enqueued", "ids": ids})
}

func writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "message": "queue_full"})
	case errors.Is(err, pipeline.ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "shutting_down"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
	}
}

func handleList(w http.ResponseWriter, r *http.Request, mgr runManager, st *store.Store) {
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "runs": mgr.Snapshot("")})
		return
	}
	q := r.URL.Query()
	f := store.ListFilter{Status: q.Get("status")}
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if off := q.Get("offset"); off != "" {
		if n, err := strconv.Atoi(off); err == nil && n > 0 {
			f.Offset = n
		}
	}
	runs, err := st.ListRuns(r.Context(), f)
	if err != nil {
		logging.LogDBOperation("list_runs", "", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "runs": runs})
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"shortID":    ui.ShortID,
	"truncate":   ui.TruncateWithEllipsis,
	"stateClass": ui.StateClass,
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>mediadigest</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
.badge-running { color: #0a58ca; }
.badge-ok { color: #198754; }
.badge-err { color: #dc3545; }
.badge-queued { color: #6c757d; }
</style>
</head>
<body>
<h1>mediadigest runs</h1>
<table>
<tr><th>ID</th><th>Source</th><th>Stage</th><th>State</th><th>Progress</th><th>Error</th></tr>
{{range .}}
<tr>
<td>{{shortID .ID}}</td>
<td>{{truncate .Source 60}}</td>
<td>{{.Stage}}</td>
<td class="{{stateClass (printf "%s" .State)}}">{{.State}}</td>
<td>{{printf "%.0f%%" .Progress}}</td>
<td>{{truncate .Error 80}}</td>
</tr>
{{else}}
<tr><td colspan="6">no runs yet</td></tr>
{{end}}
</table>
</body>
</html>
`))

// Utilities

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "error", "message": "method_not_allowed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func validURL(u string) bool {
	if len(u) == 0 || len(u) > 2048 {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed == nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// Middleware

func with(rl rateLimiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "message": "rate_limited"})
			return
		}
		h(w, r)
	}
}

func logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if logging.Logger != nil {
			logging.Logger.Debug("request",
				"remote", clientIP(r),
				"method", r.Method,
				"path", r.URL.Path,
				"elapsed_ms", time.Since(start).Milliseconds())
		}
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logging.Logger != nil {
					logging.Logger.Error("panic in handler", "panic", v, "path", r.URL.Path)
				}
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// Simple token bucket per IP with fixed refill interval and capacity.
type ipRateLimiter struct {
	cap     int
	refill  time.Duration
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

func newIPRateLimiter(capacity int, refill time.Duration) *ipRateLimiter {
	return &ipRateLimiter{cap: capacity, refill: refill, buckets: make(map[string]*bucket)}
}

func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	b := rl.buckets[key]
	if b == nil {
		rl.buckets[key] = &bucket{tokens: rl.cap - 1, last: now}
		return true
	}
	if now.Sub(b.last) >= rl.refill {
		b.tokens = rl.cap
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
