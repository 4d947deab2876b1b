package batch

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/warpdl/netshift/pkg/logger"
)

// Scheduler re-runs an Orchestrator on a cron schedule. It is additive:
// Orchestrator.Run's signature and semantics are untouched — Scheduler
// only calls it repeatedly. Adapted from a gronx-backed min-heap
// scheduler that drives resume events off the next fire time in a
// priority queue; a single recurring batch needs only the next fire
// time, so the heap collapses to one timer.
type Scheduler struct {
	orch    *Orchestrator
	cron    string
	baseURL string
	count   int
	mode    Mode
	lg      logger.Logger

	onResult func(Result, error)
}

// NewScheduler creates a Scheduler that re-runs orch.Run(baseURL, count,
// mode) on every occurrence of the cron expression. onResult, if
// non-nil, is invoked after each run with that run's Result or error.
func NewScheduler(orch *Orchestrator, cronExpr, baseURL string, count int, mode Mode, onResult func(Result, error)) (*Scheduler, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, errInvalidCron(cronExpr)
	}
	lg := orch.Logger
	if lg == nil {
		lg = logger.NewNopLogger()
	}
	return &Scheduler{
		orch:     orch,
		cron:     cronExpr,
		baseURL:  baseURL,
		count:    count,
		mode:     mode,
		lg:       lg,
		onResult: onResult,
	}, nil
}

// Run blocks, firing a batch on every cron occurrence, until ctx is
// canceled. Unlike a multi-item scheduling heap, this drives exactly
// one recurring batch, so only the next occurrence is ever tracked.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now(), false)
		if err != nil {
			return err
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		res, runErr := s.orch.Run(ctx, s.baseURL, s.count, s.mode)
		if runErr != nil {
			s.lg.Error("scheduled batch failed: %v", runErr)
		} else {
			s.lg.Info("scheduled batch %s completed: %d urls, %.3fs total", res.RunID, res.Count, res.TotalTime)
		}
		if s.onResult != nil {
			s.onResult(res, runErr)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type cronError string

func (e cronError) Error() string { return string(e) }

func errInvalidCron(expr string) error {
	return cronError("batch: invalid cron expression " + expr)
}
