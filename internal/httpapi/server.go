// Package httpapi serves a read-only view of task snapshots, their journaled
// history, live progress events and pipeline metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/httputil"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/internal/metrics"
	"github.com/R3E-Network/confidential_tasks/internal/middleware"
	"github.com/R3E-Network/confidential_tasks/internal/notify"
	"github.com/R3E-Network/confidential_tasks/services/tasks"
	"github.com/R3E-Network/confidential_tasks/services/tasks/history"
)

const shutdownTimeout = 10 * time.Second

// History is the journal view used to answer for tasks no longer held in
// memory.
type History interface {
	Latest(ctx context.Context, taskID string) (*task.Snapshot, error)
	Events(ctx context.Context, taskID string) ([]history.Event, error)
}

// Config wires the API to the running pipeline. Store is required; the
// other dependencies enable their routes when set.
type Config struct {
	Store       *tasks.Store
	Hub         *notify.Hub
	History     History
	Metrics     *metrics.Collector
	Logger      *logging.Logger
	CORSOrigins []string
	RateLimit   int
	RateBurst   int
}

// API is the HTTP surface.
type API struct {
	cfg     Config
	log     *logging.Logger
	router  *mux.Router
	limiter *middleware.RateLimiter
	started time.Time
}

// New builds the router.
func New(cfg Config) (*API, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("task store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}

	a := &API{cfg: cfg, log: cfg.Logger, router: mux.NewRouter(), started: time.Now()}

	a.router.Use(middleware.TracingMiddleware, middleware.LoggingMiddleware(a.log))
	if cfg.Metrics != nil {
		a.router.Use(middleware.MetricsMiddleware(cfg.Metrics))
	}
	a.router.Use(middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler)
	if cfg.RateLimit > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, a.log)
		a.router.Use(a.limiter.Handler)
	}

	a.router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	a.router.HandleFunc("/tasks", a.handleListTasks).Methods(http.MethodGet)
	a.router.HandleFunc("/tasks/{id}", a.handleGetTask).Methods(http.MethodGet)
	if cfg.History != nil {
		a.router.HandleFunc("/tasks/{id}/history", a.handleTaskHistory).Methods(http.MethodGet)
	}
	if cfg.Hub != nil {
		a.router.HandleFunc("/tasks/{id}/events", a.handleTaskEvents).Methods(http.MethodGet)
	}
	if cfg.Metrics != nil {
		a.router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return a, nil
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler {
	return a.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan struct{})
	defer close(stop)
	if a.limiter != nil {
		a.limiter.StartCleanup(time.Minute, stop)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", addr).Info("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status        string  `json:"status"`
	Tasks         int     `json:"tasks"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, healthResponse{
		Status:        "ok",
		Tasks:         a.cfg.Store.Len(),
		UptimeSeconds: time.Since(a.started).Seconds(),
	})
}

// handleListTasks lists in-memory tasks as snapshots. ?finished=true|false filters on
// whether the task reached a final state.
func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var filter *bool
	if raw := r.URL.Query().Get("finished"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.BadRequest(w, "finished must be true or false")
			return
		}
		filter = &v
	}

	recs := a.cfg.Store.List()
	out := make([]task.Snapshot, 0, len(recs))
	for _, rec := range recs {
		if filter != nil && rec.Finished() != *filter {
			continue
		}
		out = append(out, rec.Snapshot())
	}
	httputil.WriteSuccess(w, out)
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if rec, ok := a.cfg.Store.Get(id); ok {
		httputil.WriteSuccess(w, rec.Snapshot())
		return
	}
	if a.cfg.History == nil {
		httputil.NotFound(w, "task not found")
		return
	}

	snap, err := a.cfg.History.Latest(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		httputil.NotFound(w, "task not found")
		return
	}
	if err != nil {
		a.log.WithTask(r.Context(), id).WithError(err).Error("history lookup failed")
		httputil.InternalError(w)
		return
	}
	httputil.WriteSuccess(w, snap)
}

func (a *API) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, err := a.cfg.History.Events(r.Context(), id)
	if err != nil {
		a.log.WithTask(r.Context(), id).WithError(err).Error("history lookup failed")
		httputil.InternalError(w)
		return
	}
	if len(events) == 0 {
		httputil.NotFound(w, "no history for task")
		return
	}
	httputil.WriteSuccess(w, events)
}

func (a *API) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	a.cfg.Hub.ServeWS(w, r, mux.Vars(r)["id"])
}
