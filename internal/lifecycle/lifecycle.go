// Package lifecycle decides and applies the cleanup of a job's artifact once
// the job reaches a terminal outcome.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/stage"
)

// Decision is the cleanup verdict for an artifact.
type Decision string

const (
	// None applies to retryable outcomes: the job still owns its artifact.
	None   Decision = ""
	Delete Decision = queue.DecisionDelete
	Retain Decision = queue.DecisionRetain
)

// Decide maps an outcome to its cleanup decision.
func Decide(outcome stage.Outcome) Decision {
	switch outcome.Kind {
	case stage.OutcomeSuccess:
		return Delete
	case stage.OutcomeTerminal:
		if outcome.RetainArtifact {
			return Retain
		}
		return Delete
	default:
		return None
	}
}

// Deleter removes artifacts. Delete reports false when nothing was there.
type Deleter interface {
	Delete(ref string) (bool, error)
}

// Result reports what Apply did.
type Result struct {
	Decision      Decision
	Deleted       bool
	AlreadyAbsent bool
}

// Manager applies decisions against the file system.
type Manager struct {
	files  Deleter
	logger *slog.Logger
}

// NewManager constructs a lifecycle manager.
func NewManager(files Deleter, logger *slog.Logger) *Manager {
	return &Manager{files: files, logger: logging.NewComponentLogger(logger, "lifecycle")}
}

// Apply carries out decision for job. Replaying a delete against an artifact
// that is already gone succeeds with AlreadyAbsent set.
func (m *Manager) Apply(ctx context.Context, job *queue.Job, decision Decision) (Result, error) {
	if job == nil {
		return Result{}, fmt.Errorf("apply %q: job is nil", decision)
	}
	logger := logging.WithContext(ctx, m.logger).With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldArtifactRef, job.Input.ArtifactRef),
	)
	result := Result{Decision: decision}

	switch decision {
	case Delete:
		deleted, err := m.files.Delete(job.Input.ArtifactRef)
		if err != nil {
			logging.ErrorWithContext(logger, "artifact deletion failed", "artifact_delete_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check spool directory permissions; finalization resumes on next recovery pass"),
			)
			return result, fmt.Errorf("delete artifact: %w", err)
		}
		result.Deleted = deleted
		result.AlreadyAbsent = !deleted
		if deleted {
			logger.Info("artifact deleted", logging.String(logging.FieldEventType, "artifact_deleted"))
		} else {
			logging.WarnWithContext(logger, "artifact already absent", "artifact_already_absent",
				logging.String(logging.FieldImpact, "none; cleanup treated as done"),
				logging.String(logging.FieldErrorHint, "expected after a replayed finalization"),
			)
		}
	case Retain:
		logger.Info("artifact retained for manual review",
			logging.String(logging.FieldEventType, "artifact_retained"),
			logging.String(logging.FieldErrorHint, "fix storage permissions, then run nutrilog queue retry "+job.ID),
		)
	case None:
	default:
		return result, fmt.Errorf("unknown lifecycle decision %q", decision)
	}
	return result, nil
}
