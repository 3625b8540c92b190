package recon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/mmretail/settlement-backend/pkg/enums"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
	"github.com/mmretail/settlement-backend/pkg/logger"
	"github.com/mmretail/settlement-backend/pkg/metrics"
)

// Service owns the six pipeline stages and runs them in their mandatory
// order. One Service instance is shared between the scheduler and the admin
// API; the stop flag and last-run summaries are safe for concurrent use.
type Service struct {
	deps    Deps
	runner  *Runner
	stages  map[enums.Stage]Stage
	logger  *logger.Logger
	stopped *atomic.Bool

	mu          sync.Mutex
	lastRuns    map[enums.Stage]Summary
	lastRunAt   time.Time
	lastRunErrs int
}

// NewService wires the stages onto a shared runner.
func NewService(deps Deps, m *metrics.PipelineMetrics) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, err.Error())
	}

	stopped := &atomic.Bool{}
	svc := &Service{
		deps:     deps,
		runner:   NewRunner(deps.Config.Pipeline, deps.Logger, m, stopped),
		stages:   make(map[enums.Stage]Stage, len(enums.PipelineOrder)),
		logger:   deps.Logger,
		stopped:  stopped,
		lastRuns: make(map[enums.Stage]Summary),
	}

	builders := []func(Deps) (Stage, error){
		NewUploadStage,
		NewSplitApplyStage,
		NewSplitConfirmStage,
		NewRechargeStage,
		NewBalanceCheckStage,
		NewWithdrawStage,
	}
	for _, build := range builders {
		stage, err := build(deps)
		if err != nil {
			return nil, err
		}
		svc.stages[stage.Name()] = stage
	}
	return svc, nil
}

// Stop requests a graceful halt: no further items are dispatched, in-flight
// items finish and write back. The flag persists until Resume.
func (s *Service) Stop() {
	s.stopped.Store(true)
	s.logger.Warn(context.Background(), "pipeline stop requested")
}

// Resume clears a prior stop request.
func (s *Service) Resume() {
	s.stopped.Store(false)
}

// Stopped reports whether a stop request is in effect.
func (s *Service) Stopped() bool {
	return s.stopped.Load()
}

// RunAll executes every stage once, in pipeline order. A stage's per-item
// errors do not block the stages after it; everything is aggregated into the
// returned error.
func (s *Service) RunAll(ctx context.Context) ([]Summary, error) {
	summaries := make([]Summary, 0, len(enums.PipelineOrder))
	var errs error
	for _, name := range enums.PipelineOrder {
		if s.stopped.Load() {
			s.logger.Warn(ctx, "pipeline stopped, remaining stages skipped")
			break
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		summary, err := s.runStage(ctx, s.stages[name])
		summaries = append(summaries, summary)
		errs = multierr.Append(errs, err)
	}

	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.lastRunErrs = len(multierr.Errors(errs))
	s.mu.Unlock()

	return summaries, errs
}

// RunStage executes a single stage once.
func (s *Service) RunStage(ctx context.Context, name enums.Stage) (Summary, error) {
	stage, ok := s.stages[name]
	if !ok {
		return Summary{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown pipeline stage").WithDetails(map[string]any{"stage": string(name)})
	}
	return s.runStage(ctx, stage)
}

func (s *Service) runStage(ctx context.Context, stage Stage) (Summary, error) {
	summary, err := s.runner.Run(ctx, stage)
	s.mu.Lock()
	s.lastRuns[stage.Name()] = summary
	s.mu.Unlock()
	return summary, err
}

// RunRecord processes one record through the split-apply stage, bypassing the
// batch scan. The record still has to satisfy the stage's eligibility
// predicate; anything else is refused rather than forced.
func (s *Service) RunRecord(ctx context.Context, billID, detailID string) (Outcome, error) {
	record, err := s.deps.Ledger.Get(ctx, billID, detailID)
	if err != nil {
		return "", err
	}

	switch {
	case !record.Approved || record.Canceled:
		return "", pkgerrors.New(pkgerrors.CodeConflict, "record is not approved for settlement")
	case record.Uploaded != enums.FlagDone:
		return "", pkgerrors.New(pkgerrors.CodeConflict, "record has not completed order upload")
	case record.SplitRequested != enums.FlagUnset:
		return "", pkgerrors.New(pkgerrors.CodeConflict, "split already attempted for record").WithDetails(map[string]any{"split_requested": string(record.SplitRequested)})
	}

	stage := s.stages[enums.StageSplitApply]
	item := Item{Key: billID + "/" + detailID, Record: record}
	outcome, err := stage.Process(s.logger.WithStage(ctx, string(enums.StageSplitApply)), item)
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// Status is the operator view of the pipeline.
type Status struct {
	Stopped       bool                  `json:"stopped"`
	LastRunAt     *time.Time            `json:"last_run_at,omitempty"`
	LastRunErrors int                   `json:"last_run_errors"`
	Summaries     []Summary             `json:"summaries"`
	Eligible      map[enums.Stage]int64 `json:"eligible"`
}

// Status assembles stage summaries from the most recent passes plus live
// eligibility counts.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	status := Status{
		Stopped:       s.stopped.Load(),
		LastRunErrors: s.lastRunErrs,
		Eligible:      make(map[enums.Stage]int64, len(enums.PipelineOrder)),
	}
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		status.LastRunAt = &at
	}
	for _, name := range enums.PipelineOrder {
		if summary, ok := s.lastRuns[name]; ok {
			status.Summaries = append(status.Summaries, summary)
		}
	}
	s.mu.Unlock()

	for _, name := range enums.PipelineOrder {
		var (
			count int64
			err   error
		)
		if name == enums.StageWithdraw {
			count, err = s.deps.Withdrawals.CountPending(ctx)
		} else {
			count, err = s.deps.Ledger.EligibleCount(ctx, name)
		}
		if err != nil {
			return status, err
		}
		status.Eligible[name] = count
	}
	return status, nil
}
