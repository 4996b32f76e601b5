package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nutrilog/internal/logging"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/services"
	"nutrilog/internal/submit"
)

// Backend performs the daemon-side operations behind the mutating routes.
type Backend interface {
	Submit(ctx context.Context, req submit.Request) (submit.Result, error)
	Retry(ctx context.Context, ids ...string) ([]scheduler.RetryResult, error)
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
	Status(ctx context.Context) DaemonStatus
}

// LogSource serves buffered daemon log lines.
type LogSource interface {
	Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]logging.LogEvent, uint64, error)
	Tail(limit int) ([]logging.LogEvent, uint64)
}

// RouterOptions wires the router to the daemon.
type RouterOptions struct {
	Token   string
	Queue   *QueueService
	Backend Backend
	// Events serves the websocket job event stream.
	Events http.Handler
	// Metrics serves prometheus exposition; nil disables /metrics.
	Metrics http.Handler
	Logs    LogSource
	Logger  *slog.Logger
}

type handler struct {
	queue   *QueueService
	backend Backend
	logs    LogSource
	logger  *slog.Logger
}

// NewRouter builds the daemon HTTP API.
func NewRouter(opts RouterOptions) http.Handler {
	logger := logging.NewComponentLogger(opts.Logger, "api")
	h := &handler{
		queue:   opts.Queue,
		backend: opts.Backend,
		logs:    opts.Logs,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))

		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/", h.submitJob)
			r.Get("/", h.listJobs)
			r.Get("/{id}", h.getJob)
			r.Get("/{id}/history", h.jobHistory)
			r.Post("/{id}/retry", h.retryJob)
		})
		r.Get("/api/queue/stats", h.queueStats)
		r.Post("/api/queue/purge", h.purge)
		r.Get("/api/status", h.status)
		r.Get("/api/logs", h.logTail)
		if opts.Events != nil {
			r.Method(http.MethodGet, "/api/events", opts.Events)
		}
	})
	return r
}

// requestContext copies the chi request id into the context so loggers built
// with logging.WithContext carry it as the correlation id.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ctx = services.WithComponent(ctx, "api")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []logging.Attr{
				logging.String(logging.FieldEventType, "http_request"),
				logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", status),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("elapsed", time.Since(start)),
			}
			if status >= http.StatusInternalServerError {
				logger.Warn("api request failed", logging.Args(append(attrs,
					logging.String(logging.FieldErrorHint, "see preceding error for the cause"),
					logging.String(logging.FieldImpact, "client request was not served"),
				)...)...)
				return
			}
			logger.Debug("api request", logging.Args(attrs...)...)
		})
	}
}
