package controllers

import (
	"net/http"
	"strconv"

	"github.com/mmretail/settlement-backend/api/responses"
	"github.com/mmretail/settlement-backend/api/validators"
	"github.com/mmretail/settlement-backend/internal/ledger"
	"github.com/mmretail/settlement-backend/pkg/db/models"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
	"github.com/mmretail/settlement-backend/pkg/logger"
)

const defaultWithdrawalPageSize = 50

type createWithdrawalRequest struct {
	BillID      string `json:"bill_id" validate:"required"`
	MerchantID  string `json:"merchant_id" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	BankAccount string `json:"bank_account" validate:"required"`
}

// WithdrawalCreate queues a withdrawal request for the next pipeline pass.
func WithdrawalCreate(repo ledger.WithdrawalRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body createWithdrawalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		request := &models.WithdrawalRequest{
			BillID:      body.BillID,
			MerchantID:  body.MerchantID,
			AmountCents: body.AmountCents,
			BankAccount: body.BankAccount,
			Status:      models.WithdrawalStatusPending,
		}
		if err := repo.Create(ctx, request); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "withdrawal request already exists"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// WithdrawalList returns pending withdrawal requests, oldest first.
func WithdrawalList(repo ledger.WithdrawalRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := defaultWithdrawalPageSize
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = parsed
		}

		requests, err := repo.ListPending(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"requests": requests,
			"count":    len(requests),
		})
	}
}
