// Package scheduler owns every job state transition.
//
// Enqueue validates and persists a job, then wakes the dispatch loop. The loop
// asks the store for ready jobs, filters them through the connectivity gate
// and hands each to a fixed worker pool. A job id is claimed twice before it
// runs: once in the in-process inflight set and once by the store's
// conditional MarkAttempt, so at most one attempt per job is ever in flight and
// terminal jobs can never be dispatched again.
//
// Outcomes are settled here and nowhere else: retryable failures are
// rescheduled with the policy's backoff or forced terminal at the attempt
// ceiling, and terminal outcomes go through the two-phase finalization
// (RecordDecision, lifecycle cleanup, Finalize) so a crash between cleanup and
// the status change resumes from the recorded decision.
package scheduler
