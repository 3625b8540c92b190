package cron

import (
	"context"
	"fmt"

	"github.com/mmretail/settlement-backend/internal/recon"
)

// PipelineJob runs the full reconciliation pipeline, all stages in order.
type PipelineJob struct {
	service *recon.Service
}

// NewPipelineJob builds the scheduled pipeline job.
func NewPipelineJob(service *recon.Service) (*PipelineJob, error) {
	if service == nil {
		return nil, fmt.Errorf("recon service required")
	}
	return &PipelineJob{service: service}, nil
}

func (j *PipelineJob) Name() string { return "settlement_pipeline" }

// Run executes one pass of every stage. Per-record errors are aggregated by
// the pipeline itself; the job only fails when the aggregate is non-empty so
// a partially degraded pass still surfaces in job metrics.
func (j *PipelineJob) Run(ctx context.Context) error {
	_, err := j.service.RunAll(ctx)
	return err
}
