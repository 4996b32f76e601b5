package stage

import (
	"context"
	"fmt"
	"time"

	"nutrilog/internal/queue"
)

// AnalysisRecord is the nutrition estimate derived from one photo.
type AnalysisRecord struct {
	Calories    float64
	Description string
	Confidence  float64
	Model       string
}

// Attempt is one dispatch of a job. Number is the attempt count already
// recorded by the store.
type Attempt struct {
	Job    *queue.Job
	Number int
}

// CapturedAt returns the capture timestamp of the job's photo.
func (a Attempt) CapturedAt() time.Time {
	if a.Job == nil {
		return time.Time{}
	}
	return a.Job.Input.CapturedAt
}

// OutcomeKind discriminates the three attempt results.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one executor run. Only the fields relevant to Kind
// are populated: Record and StorageID for success, Cause and Category for
// failures, RetainArtifact for terminal failures.
type Outcome struct {
	Kind           OutcomeKind
	Record         AnalysisRecord
	StorageID      string
	Cause          error
	Category       string
	RetainArtifact bool
}

// Success builds a successful outcome.
func Success(record AnalysisRecord, storageID string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Record: record, StorageID: storageID}
}

// Retryable builds a failure the scheduler may re-attempt.
func Retryable(cause error, category string) Outcome {
	return Outcome{Kind: OutcomeRetryable, Cause: cause, Category: category}
}

// Terminal builds a failure that ends the job.
func Terminal(cause error, category string, retainArtifact bool) Outcome {
	return Outcome{Kind: OutcomeTerminal, Cause: cause, Category: category, RetainArtifact: retainArtifact}
}

// Failure converts the cause into its persisted form.
func (o Outcome) Failure() queue.Failure {
	if o.Cause == nil {
		return queue.Failure{Category: o.Category}
	}
	return queue.Failure{Message: o.Cause.Error(), Category: o.Category}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("success(storage_id=%s)", o.StorageID)
	case OutcomeTerminal:
		return fmt.Sprintf("terminal(%s, retain=%t): %v", o.Category, o.RetainArtifact, o.Cause)
	default:
		return fmt.Sprintf("%s(%s): %v", o.Kind, o.Category, o.Cause)
	}
}

// Executor runs a single attempt. It must not persist job state.
type Executor interface {
	Execute(ctx context.Context, attempt Attempt) Outcome
	HealthCheck(ctx context.Context) Health
}
