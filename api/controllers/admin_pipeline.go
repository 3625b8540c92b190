package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmretail/settlement-backend/api/responses"
	"github.com/mmretail/settlement-backend/internal/recon"
	"github.com/mmretail/settlement-backend/pkg/enums"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
	"github.com/mmretail/settlement-backend/pkg/logger"
)

// PipelineRunAll triggers a full pipeline pass, all stages in order, and
// returns the per-stage summaries.
func PipelineRunAll(service *recon.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		summaries, err := service.RunAll(ctx)
		if err != nil {
			// partial progress still gets reported alongside the failure
			logg.Error(ctx, "manual pipeline run finished with errors", err)
		}
		responses.WriteSuccess(w, map[string]any{
			"summaries": summaries,
			"degraded":  err != nil,
		})
	}
}

// PipelineRunStage triggers a single stage pass.
func PipelineRunStage(service *recon.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		stage, err := enums.ParseStage(chi.URLParam(r, "stage"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown pipeline stage"))
			return
		}
		summary, err := service.RunStage(ctx, stage)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			logg.Error(ctx, "manual stage run finished with errors", err)
		}
		responses.WriteSuccess(w, map[string]any{
			"summary":  summary,
			"degraded": err != nil,
		})
	}
}

// PipelineRunRecord pushes a single record through the split-apply stage.
func PipelineRunRecord(service *recon.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		billID := chi.URLParam(r, "billID")
		detailID := chi.URLParam(r, "detailID")
		if billID == "" || detailID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "bill and detail ids are required"))
			return
		}
		outcome, err := service.RunRecord(ctx, billID, detailID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}

// PipelineStatus reports stop state, last-run summaries, and live eligibility
// counts per stage.
func PipelineStatus(service *recon.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status, err := service.Status(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// PipelineStop requests a graceful halt of batch processing.
func PipelineStop(service *recon.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service.Stop()
		responses.WriteSuccess(w, map[string]bool{"stopped": true})
	}
}

// PipelineResume clears a prior stop request.
func PipelineResume(service *recon.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service.Resume()
		responses.WriteSuccess(w, map[string]bool{"stopped": false})
	}
}
