package notifications

import (
	"context"
	"log/slog"

	"nutrilog/internal/config"
	"nutrilog/internal/events"
	"nutrilog/internal/logging"
)

// Observer forwards terminal job events to a Service.
type Observer struct {
	svc    Service
	cfg    config.Notifications
	logger *slog.Logger
}

// NewObserver filters events through the per-outcome toggles in cfg.
func NewObserver(svc Service, cfg config.Notifications, logger *slog.Logger) *Observer {
	return &Observer{svc: svc, cfg: cfg, logger: logging.NewComponentLogger(logger, "notifications")}
}

// Observe implements events.Observer.
func (o *Observer) Observe(ctx context.Context, ev events.Event) {
	var err error
	switch {
	case ev.Type == events.TypeSucceeded && o.cfg.Succeeded:
		err = o.svc.NotifyJobSucceeded(ctx, ev.JobID, ev.Calories, ev.Description)
	case ev.Retained() && o.cfg.Retained:
		err = o.svc.NotifyArtifactRetained(ctx, ev.JobID, ev.ArtifactRef, ev.Error)
	case ev.Type == events.TypeFailed && !ev.Retained() && o.cfg.Failed:
		err = o.svc.NotifyJobFailed(ctx, ev.JobID, ev.Category, ev.Error)
	default:
		return
	}
	if err != nil {
		logging.WarnWithContext(o.logger, "notification delivery failed", "notification_failed",
			logging.String(logging.FieldJobID, ev.JobID),
			logging.String(logging.FieldEventType, string(ev.Type)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "push notification not delivered"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
