// Package audit mirrors job events into a Redis stream so external tooling can
// follow the job history without touching the queue database.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"nutrilog/internal/config"
	"nutrilog/internal/events"
	"nutrilog/internal/logging"
	"nutrilog/internal/services"
)

// StreamWriter is the subset of the Redis client the audit stream needs.
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Stream appends every observed event to a capped Redis stream.
type Stream struct {
	rdb    StreamWriter
	closer func() error
	stream string
	maxLen int64
	logger *slog.Logger
}

// Enabled reports whether the [audit] section names a Redis server.
func Enabled(cfg config.Audit) bool {
	return strings.TrimSpace(cfg.RedisAddr) != ""
}

// Open connects to Redis and verifies the server answers.
func Open(ctx context.Context, cfg config.Audit, logger *slog.Logger) (*Stream, error) {
	if !Enabled(cfg) {
		return nil, services.Wrap(services.ErrConfiguration, "audit", "open", "audit.redis_addr is empty", nil)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, services.Wrap(services.ErrConnectivity, "audit", "ping", cfg.RedisAddr, err)
	}
	s := NewStream(rdb, cfg, logger)
	s.closer = rdb.Close
	return s, nil
}

// NewStream wraps an existing writer.
func NewStream(rdb StreamWriter, cfg config.Audit, logger *slog.Logger) *Stream {
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "nutrilog:job-events"
	}
	return &Stream{
		rdb:    rdb,
		stream: stream,
		maxLen: cfg.MaxLen,
		logger: logging.NewComponentLogger(logger, "audit"),
	}
}

// Observe appends ev to the stream. Failures are logged, never returned, since
// the queue history stays authoritative.
func (s *Stream) Observe(ctx context.Context, ev events.Event) {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: Fields(ev),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		logging.WarnWithContext(s.logger, "audit stream append failed", "audit_append_failed",
			logging.String(logging.FieldJobID, ev.JobID),
			logging.String(logging.FieldEventType, string(ev.Type)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "event missing from the audit stream"),
			logging.String(logging.FieldErrorHint, "check audit.redis_addr and that Redis is reachable"),
		)
	}
}

// Close releases the Redis connection when Open created it.
func (s *Stream) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// Fields flattens an event into stream entry fields.
func Fields(ev events.Event) map[string]any {
	values := map[string]any{
		"seq":          strconv.FormatUint(ev.Sequence, 10),
		"type":         string(ev.Type),
		"job_id":       ev.JobID,
		"status":       string(ev.Status),
		"attempt":      strconv.Itoa(ev.Attempt),
		"max_attempts": strconv.Itoa(ev.MaxAttempts),
		"ts":           ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.ArtifactRef != "" {
		values["artifact_ref"] = ev.ArtifactRef
	}
	if ev.Category != "" {
		values["error_category"] = ev.Category
	}
	if ev.Error != "" {
		values["error"] = ev.Error
	}
	if ev.NextAttemptAt != nil {
		values["next_attempt_at"] = ev.NextAttemptAt.UTC().Format(time.RFC3339Nano)
	}
	if ev.Decision != "" {
		values["decision"] = ev.Decision
		values["artifact_deleted"] = strconv.FormatBool(ev.Deleted)
	}
	if ev.StorageID != "" {
		values["storage_id"] = ev.StorageID
		values["calories"] = fmt.Sprintf("%.1f", ev.Calories)
	}
	return values
}
