package scheduler

import (
	"context"
	"errors"
	"time"

	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
)

// purgeInterval is how often finalized jobs past retention are removed.
const purgeInterval = time.Hour

// Start recovers interrupted jobs, then runs the dispatch loop and worker pool
// until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.work = make(chan *queue.Job, s.settings.Workers)
	s.mu.Unlock()

	if err := s.recoverRunning(runCtx, s.settings.SharedStore); err != nil {
		s.setLastError(err)
		logging.WarnWithContext(s.logger, "startup recovery incomplete", "recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "interrupted jobs wait for the periodic reclaim"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}

	s.wg.Add(s.settings.Workers + 2)
	for i := 0; i < s.settings.Workers; i++ {
		go s.worker(runCtx)
	}
	go s.dispatchLoop(runCtx)
	go s.maintenanceLoop(runCtx)

	s.logger.Info("scheduler started",
		logging.String(logging.FieldEventType, "scheduler_started"),
		logging.Int("workers", s.settings.Workers),
		logging.Int("max_attempts", s.settings.Policy.MaxAttempts),
	)
	return nil
}

// Stop cancels in-flight work and waits for workers to record their outcomes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.dropQueued()
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		wait := s.dispatch(ctx)
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
		case <-s.gateWake:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// dispatch hands every ready job whose constraints hold to the worker pool and
// returns how long to sleep before looking again.
func (s *Scheduler) dispatch(ctx context.Context) time.Duration {
	free := s.freeWorkers()
	if free <= 0 {
		// A finishing worker wakes the loop.
		return s.settings.PollInterval
	}

	// Network jobs are filtered in the store while offline so they cannot fill
	// the window ahead of runnable offline work.
	filter := queue.ReadyFilter{Offline: !s.gate.Satisfied(queue.Constraints{RequiresNetwork: true})}
	now := s.clock()
	jobs, err := s.store.NextReady(ctx, now, free+len(s.inflightIDs()), filter)
	if err != nil {
		if ctx.Err() != nil {
			return s.settings.PollInterval
		}
		s.setLastError(err)
		logging.ErrorWithContext(s.logger, "failed to fetch ready jobs", "queue_fetch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return s.settings.ErrorBackoff
	}

	for _, job := range jobs {
		if !s.gate.Satisfied(job.Constraints) {
			continue
		}
		if !s.claim(job.ID) {
			continue
		}
		select {
		case s.work <- job:
		case <-ctx.Done():
			s.release(job.ID)
			return s.settings.PollInterval
		}
	}
	return s.nextWait(ctx, now)
}

// nextWait is the earlier of the poll interval and the next retry due time.
func (s *Scheduler) nextWait(ctx context.Context, now time.Time) time.Duration {
	wait := s.settings.PollInterval
	next, err := s.store.NextWakeup(ctx)
	if err != nil || next == nil {
		return wait
	}
	until := next.Sub(now)
	if until <= 0 {
		// Due but not dispatched: gated or workers busy. A gate or worker
		// wakeup ends the sleep early.
		return wait
	}
	if until < wait {
		return until
	}
	return wait
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.work:
			s.runAttempt(ctx, job)
			s.release(job.ID)
			s.signal()
		}
	}
}

// maintenanceLoop reclaims stalled running jobs and purges old finalized ones.
func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()
	reclaim := time.NewTicker(s.settings.HeartbeatInterval)
	defer reclaim.Stop()
	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	s.purge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			if err := s.recoverRunning(ctx, true); err != nil && ctx.Err() == nil {
				s.setLastError(err)
				logging.WarnWithContext(s.logger, "reclaim of stale running jobs failed", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "stalled jobs stay running until the next pass"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		case <-purge.C:
			s.purge(ctx)
		}
	}
}

func (s *Scheduler) purge(ctx context.Context) {
	if _, err := s.Purge(ctx, 0); err != nil && ctx.Err() == nil {
		s.logger.Warn("purge of finalized jobs failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_purge_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "finalized jobs stay in the active table"),
		)
	}
}

// Purge removes finalized jobs that finished more than olderThan ago. A
// non-positive olderThan uses the configured retention; with no retention
// nothing is removed. Event history is kept.
func (s *Scheduler) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.settings.Retention
	}
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.clock().Add(-olderThan)
	removed, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("purged finalized jobs",
			logging.String(logging.FieldEventType, "queue_purged"),
			logging.Int("count", removed),
			logging.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

// dropQueued discards jobs handed to the pool that no worker picked up before
// Stop and clears their claims. They are still enqueued in the store.
func (s *Scheduler) dropQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case job := <-s.work:
			delete(s.inflight, job.ID)
		default:
			s.inflight = make(map[string]struct{})
			return
		}
	}
}

func (s *Scheduler) inflightIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.inflight))
	for id := range s.inflight {
		ids = append(ids, id)
	}
	return ids
}
