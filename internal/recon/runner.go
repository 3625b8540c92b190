package recon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/logger"
	"github.com/mmretail/settlement-backend/pkg/metrics"
)

// Runner drives one stage pass over a bounded worker pool. A stop request
// prevents scheduling the next item; in-flight calls complete so their
// outcome can still be written back.
type Runner struct {
	cfg     config.PipelineConfig
	logger  *logger.Logger
	metrics *metrics.PipelineMetrics
	stopped *atomic.Bool
}

// NewRunner builds a runner sharing the service-level stop flag.
func NewRunner(cfg config.PipelineConfig, logg *logger.Logger, m *metrics.PipelineMetrics, stopped *atomic.Bool) *Runner {
	if stopped == nil {
		stopped = &atomic.Bool{}
	}
	return &Runner{cfg: cfg, logger: logg, metrics: m, stopped: stopped}
}

// Run executes one batch of the stage. Per-item errors never abort the batch;
// they are aggregated into the returned error and counted in the summary.
func (r *Runner) Run(ctx context.Context, stage Stage) (Summary, error) {
	started := time.Now()
	name := stage.Name()
	ctx = r.logger.WithStage(ctx, string(name))
	summary := Summary{Stage: name}

	items, err := stage.Fetch(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error(ctx, "fetching eligible batch", err)
		return summary, err
	}
	summary.Eligible = len(items)
	if len(items) == 0 {
		return summary, nil
	}

	workers := r.cfg.WorkerCount
	if workers > len(items) {
		workers = len(items)
	}

	work := make(chan Item)
	results := make(chan itemResult, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				outcome, err := stage.Process(ctx, item)
				results <- itemResult{item: item, outcome: outcome, err: err}
			}
		}()
	}

dispatch:
	for _, item := range items {
		if r.stopped.Load() {
			r.logger.Warn(ctx, "stop requested, remaining items deferred to next pass")
			break dispatch
		}
		select {
		case <-ctx.Done():
			break dispatch
		case work <- item:
		}
	}
	close(work)
	wg.Wait()
	close(results)

	var errs error
	for res := range results {
		if res.err != nil {
			summary.Errors++
			itemCtx := r.logger.WithField(ctx, "item", res.item.Key)
			r.logger.Error(itemCtx, "processing record", res.err)
			errs = multierr.Append(errs, res.err)
			r.metrics.IncStageRecord(string(name), metrics.OutcomeError)
			continue
		}
		summary.observe(res.outcome)
		r.metrics.IncStageRecord(string(name), string(res.outcome))
	}

	r.metrics.ObserveStageDuration(string(name), time.Since(started))
	r.logger.Info(r.logger.WithFields(ctx, map[string]any{
		"eligible":  summary.Eligible,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"pending":   summary.Pending,
		"race_lost": summary.RaceLost,
		"errors":    summary.Errors,
	}), "stage pass complete")

	return summary, errs
}

type itemResult struct {
	item    Item
	outcome Outcome
	err     error
}
