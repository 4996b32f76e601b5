// Package executor runs one attempt of a job: resolve the photo, analyze it,
// save the record. It classifies every failure into an outcome and never
// persists job state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"nutrilog/internal/artifact"
	"nutrilog/internal/logging"
	"nutrilog/internal/retry"
	"nutrilog/internal/services"
	"nutrilog/internal/services/analysis"
	"nutrilog/internal/services/healthstore"
	"nutrilog/internal/stage"
)

// Files resolves and reads artifacts.
type Files interface {
	Resolve(ref string) (artifact.Artifact, error)
	Read(a artifact.Artifact) ([]byte, error)
}

// Analyzer estimates nutrition from a photo.
type Analyzer interface {
	Analyze(ctx context.Context, img analysis.Image) (stage.AnalysisRecord, error)
	HealthCheck(ctx context.Context) stage.Health
}

// Recorder writes records to the health-data store.
type Recorder interface {
	Save(ctx context.Context, req healthstore.Request) (string, error)
	HealthCheck(ctx context.Context) stage.Health
}

// Executor implements stage.Executor.
type Executor struct {
	files    Files
	analyzer Analyzer
	recorder Recorder
	logger   *slog.Logger
}

var _ stage.Executor = (*Executor)(nil)

// New constructs an executor.
func New(files Files, analyzer Analyzer, recorder Recorder, logger *slog.Logger) *Executor {
	return &Executor{
		files:    files,
		analyzer: analyzer,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, "executor"),
	}
}

// Execute runs a single attempt. Panics become terminal outcomes.
func (e *Executor) Execute(ctx context.Context, attempt stage.Attempt) (out stage.Outcome) {
	if attempt.Job == nil {
		return stage.Terminal(services.Wrap(services.ErrValidation, "executor", "execute", "attempt has no job", nil),
			retry.CategoryValidation, false)
	}
	job := attempt.Job
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithAttempt(ctx, attempt.Number)
	logger := logging.WithContext(ctx, e.logger).With(
		logging.String(logging.FieldArtifactRef, job.Input.ArtifactRef),
		logging.Time(logging.FieldCapturedAt, job.Input.CapturedAt),
	)
	started := time.Now()

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("executor panic: %v", recovered)
			logger.Error("attempt panicked",
				logging.Error(err),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("executor_panic"),
			)
			out = stage.Terminal(err, retry.CategoryUnexpected, false)
		}
		e.logOutcome(logger, out, time.Since(started))
	}()

	logger.Debug("attempt started", logging.String(logging.FieldEventType, "attempt_start"))

	art, err := e.files.Resolve(job.Input.ArtifactRef)
	if err != nil {
		return terminalFrom(err)
	}
	data, err := e.files.Read(art)
	if err != nil {
		return terminalFrom(err)
	}

	record, err := e.analyzer.Analyze(ctx, analysis.Image{MediaType: art.MediaType, Data: data})
	if err != nil {
		cls := retry.Classify(err)
		if cls.Retryable() {
			return stage.Retryable(err, cls.Category)
		}
		return stage.Terminal(err, cls.Category, false)
	}

	storageID, err := e.recorder.Save(ctx, healthstore.Request{
		Record:         record,
		RecordedAt:     job.Input.CapturedAt,
		IdempotencyKey: job.ID,
	})
	if err != nil {
		return saveFailure(ctx, err)
	}
	return stage.Success(record, storageID)
}

// saveFailure applies the storage rules: permission problems keep the photo,
// everything else is terminal unless the attempt itself ran out of time.
func saveFailure(ctx context.Context, err error) stage.Outcome {
	cls := retry.Classify(err)
	if cls.Category == retry.CategoryPermissionDenied {
		return stage.Terminal(err, cls.Category, true)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		category := retry.CategoryTimeout
		if errors.Is(ctxErr, context.Canceled) {
			category = retry.CategoryCanceled
		}
		return stage.Retryable(err, category)
	}
	return stage.Terminal(err, cls.Category, false)
}

func terminalFrom(err error) stage.Outcome {
	cls := retry.Classify(err)
	category := cls.Category
	if category == retry.CategoryUnexpected {
		category = retry.CategoryArtifactMissing
	}
	return stage.Terminal(err, category, false)
}

func (e *Executor) logOutcome(logger *slog.Logger, out stage.Outcome, elapsed time.Duration) {
	attrs := []logging.Attr{
		logging.String("outcome", out.Kind.String()),
		logging.Duration("elapsed", elapsed),
	}
	switch out.Kind {
	case stage.OutcomeSuccess:
		logger.Info("attempt succeeded", logging.Args(append(attrs,
			logging.String(logging.FieldEventType, "attempt_success"),
			logging.String("storage_id", out.StorageID),
			logging.Float64("calories", out.Record.Calories),
		)...)...)
	case stage.OutcomeRetryable:
		logging.WarnWithContext(logger, "attempt failed, retryable", "attempt_retryable", append(attrs,
			logging.String(logging.FieldErrorCategory, out.Category),
			logging.Error(out.Cause),
			logging.String(logging.FieldImpact, "job will be retried if attempts remain"),
		)...)
	case stage.OutcomeTerminal:
		hint := "inspect the error and resubmit the photo if needed"
		if out.RetainArtifact {
			hint = "photo retained; fix storage permissions and run nutrilog queue retry"
		}
		logging.ErrorWithContext(logger, "attempt failed, terminal", "attempt_terminal", append(attrs,
			logging.String(logging.FieldErrorCategory, out.Category),
			logging.Bool("retain_artifact", out.RetainArtifact),
			logging.Error(out.Cause),
			logging.String(logging.FieldErrorHint, hint),
			logging.Alert("job_failure"),
		)...)
	}
}

// HealthCheck reports collaborator readiness.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	return stage.Combine("executor", e.analyzer.HealthCheck(ctx), e.recorder.HealthCheck(ctx))
}
