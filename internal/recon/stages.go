package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/mmretail/settlement-backend/internal/identity"
	"github.com/mmretail/settlement-backend/internal/ledger"
	"github.com/mmretail/settlement-backend/internal/splitplan"
	"github.com/mmretail/settlement-backend/pkg/bkfunds"
	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/enums"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
	"github.com/mmretail/settlement-backend/pkg/logger"
)

const (
	platformTimeLayout = "20060102150405"
	tradeTypePayment   = "1"
)

// PlatformClient is the slice of the settlement client the stages consume.
type PlatformClient interface {
	NodeID() string
	UploadOrder(ctx context.Context, params bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error)
	Apply(ctx context.Context, params bkfunds.ApplyParams) (*bkfunds.ApplyResult, error)
	QueryResult(ctx context.Context, tradeNo string) (*bkfunds.PayStatus, error)
	QueryBalance(ctx context.Context, params bkfunds.BalanceQueryParams) (*bkfunds.Balance, error)
	Withdraw(ctx context.Context, params bkfunds.WithdrawParams) (*bkfunds.WithdrawResult, error)
}

// Deps bundles the collaborators every stage shares.
type Deps struct {
	Ledger        ledger.Repository
	Withdrawals   ledger.WithdrawalRepository
	Notifications ledger.NotificationRepository
	Platform      PlatformClient
	Resolver      identity.Resolver
	Planner       splitplan.Planner
	Config        *config.Config
	Logger        *logger.Logger
}

func (d Deps) validate() error {
	if d.Ledger == nil {
		return fmt.Errorf("ledger repository required")
	}
	if d.Withdrawals == nil {
		return fmt.Errorf("withdrawal repository required")
	}
	if d.Notifications == nil {
		return fmt.Errorf("notification repository required")
	}
	if d.Platform == nil {
		return fmt.Errorf("platform client required")
	}
	if d.Resolver == nil {
		return fmt.Errorf("identity resolver required")
	}
	if d.Planner == nil {
		return fmt.Errorf("split planner required")
	}
	if d.Config == nil {
		return fmt.Errorf("config required")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger required")
	}
	return nil
}

// recordItems adapts a ledger batch into runner work items.
func recordItems(records []models.SettlementRecord) []Item {
	items := make([]Item, 0, len(records))
	for i := range records {
		record := records[i]
		items = append(items, Item{
			Key:    record.BillID + "/" + record.DetailID,
			Record: &record,
		})
	}
	return items
}

// writeFlag performs the single CAS writeback for a record-driven stage and
// translates a lost race into its benign outcome.
func (d Deps) writeFlag(ctx context.Context, record *models.SettlementRecord, stage enums.Stage, next enums.FlagState, wb ledger.Writeback) (Outcome, error) {
	ok, err := d.Ledger.CompareAndSwapFlag(ctx, record.BillID, record.DetailID, stage, enums.FlagUnset, next, wb)
	if err != nil {
		return "", err
	}
	if !ok {
		d.Logger.Info(d.Logger.WithRecord(ctx, record.BillID, record.DetailID), "writeback lost to a concurrent run")
		return OutcomeRaceLost, nil
	}
	if next == enums.FlagDone {
		return OutcomeSettled, nil
	}
	return OutcomeFailed, nil
}

// uploadStage reports eligible orders to the platform so they become
// splittable.
type uploadStage struct {
	deps Deps
}

// NewUploadStage builds the order-upload stage.
func NewUploadStage(deps Deps) (Stage, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &uploadStage{deps: deps}, nil
}

func (s *uploadStage) Name() enums.Stage { return enums.StageUpload }

func (s *uploadStage) Fetch(ctx context.Context, limit int) ([]Item, error) {
	records, err := s.deps.Ledger.EligibleForStage(ctx, enums.StageUpload, limit)
	if err != nil {
		return nil, err
	}
	return recordItems(records), nil
}

func (s *uploadStage) Process(ctx context.Context, item Item) (Outcome, error) {
	record := item.Record
	ctx = s.deps.Logger.WithRecord(ctx, record.BillID, record.DetailID)

	id, err := s.deps.Resolver.Resolve(ctx, record)
	if err != nil {
		return "", err
	}

	result, err := s.deps.Platform.UploadOrder(ctx, bkfunds.UploadOrderParams{
		NodeID:      s.deps.Platform.NodeID(),
		OrderID:     record.BillID + "_" + record.DetailID,
		OrderAmount: record.ChannelAmountCents(),
		OrderTime:   record.PaidAt.Format(platformTimeLayout),
		TradeType:   tradeTypePayment,
		PayType:     record.PayType,
		MerchantID:  id.MerchantID,
		StoreID:     id.StoreID,
		UploadMode:  s.deps.Config.Recharge.UploadModeNormal,
	})
	if err != nil {
		// network errors leave the flag untouched for the next pass
		if pkgerrors.IsRetryable(err) || !pkgerrors.IsTerminal(err) {
			return "", err
		}
		return s.deps.writeFlag(ctx, record, enums.StageUpload, enums.FlagFailed, ledger.Writeback{})
	}

	wb := ledger.Writeback{UploadRequestNo: &result.RequestID}
	return s.deps.writeFlag(ctx, record, enums.StageUpload, enums.ForOutcome(result.Accepted), wb)
}

// splitApplyStage plans a record's transfers and submits one apply per
// target. Record-level success requires every target to be accepted.
type splitApplyStage struct {
	deps Deps
}

// NewSplitApplyStage builds the split-apply stage.
func NewSplitApplyStage(deps Deps) (Stage, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &splitApplyStage{deps: deps}, nil
}

func (s *splitApplyStage) Name() enums.Stage { return enums.StageSplitApply }

func (s *splitApplyStage) Fetch(ctx context.Context, limit int) ([]Item, error) {
	records, err := s.deps.Ledger.EligibleForStage(ctx, enums.StageSplitApply, limit)
	if err != nil {
		return nil, err
	}
	return recordItems(records), nil
}

func (s *splitApplyStage) Process(ctx context.Context, item Item) (Outcome, error) {
	record := item.Record
	ctx = s.deps.Logger.WithRecord(ctx, record.BillID, record.DetailID)

	plan, err := s.deps.Planner.Plan(record)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodePlanningInvariant {
			// amounts that fail reconciliation need manual review, never
			// silent correction
			s.deps.Logger.Error(ctx, "split plan failed reconciliation", err)
			return s.deps.writeFlag(ctx, record, enums.StageSplitApply, enums.FlagFailed, ledger.Writeback{})
		}
		return "", err
	}

	allAccepted := true
	var firstCorrelation, firstTradeNo string
	for _, target := range plan.Targets {
		// a fresh platform number per attempt: retries must never be
		// mistaken for duplicates
		result, err := s.deps.Platform.Apply(ctx, bkfunds.ApplyParams{
			NodeID:          s.deps.Platform.NodeID(),
			PlatformNo:      bkfunds.NewPlatformNo(string(target.Kind)),
			TotalAmount:     target.AmountCents,
			PayerMerchantID: target.PayerMerchantID,
			PayerType:       target.PayerType,
			PayeeMerchantID: target.PayeeMerchantID,
			PayeeType:       target.PayeeType,
			ArriveTime:      enums.ArriveTime(s.deps.Config.Split.ArriveTime),
		})
		if err != nil {
			return "", err
		}
		if firstCorrelation == "" {
			firstCorrelation = result.CorrelationID
		}
		if result.Accepted {
			if firstTradeNo == "" {
				firstTradeNo = result.TradeNo
			}
		} else {
			allAccepted = false
			s.deps.Logger.Warn(s.deps.Logger.WithFields(ctx, map[string]any{
				"target":   string(target.Kind),
				"sub_code": result.SubCode,
				"sub_msg":  result.SubMsg,
			}), "platform rejected split target")
		}
	}

	wb := ledger.Writeback{SplitCorrelationID: &firstCorrelation}
	if firstTradeNo != "" {
		wb.PlatformTradeNo = &firstTradeNo
	}
	return s.deps.writeFlag(ctx, record, enums.StageSplitApply, enums.ForOutcome(allAccepted), wb)
}

// splitConfirmStage polls asynchronous settlement outcomes for applied
// splits. A pending status writes nothing; the record is re-queried on the
// next pass.
type splitConfirmStage struct {
	deps Deps
}

// NewSplitConfirmStage builds the split-confirmation stage.
func NewSplitConfirmStage(deps Deps) (Stage, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &splitConfirmStage{deps: deps}, nil
}

func (s *splitConfirmStage) Name() enums.Stage { return enums.StageSplitConfirm }

func (s *splitConfirmStage) Fetch(ctx context.Context, limit int) ([]Item, error) {
	records, err := s.deps.Ledger.PendingSplitResults(ctx, limit)
	if err != nil {
		return nil, err
	}
	return recordItems(records), nil
}

func (s *splitConfirmStage) Process(ctx context.Context, item Item) (Outcome, error) {
	record := item.Record
	ctx = s.deps.Logger.WithRecord(ctx, record.BillID, record.DetailID)

	if record.PlatformTradeNo == nil || *record.PlatformTradeNo == "" {
		return OutcomeSkipped, nil
	}

	status, err := s.deps.Platform.QueryResult(ctx, *record.PlatformTradeNo)
	if err != nil {
		if pkgerrors.IsRetryable(err) || !pkgerrors.IsTerminal(err) {
			return "", err
		}
		return s.deps.writeFlag(ctx, record, enums.StageSplitConfirm, enums.FlagFailed, ledger.Writeback{})
	}

	switch status.Status {
	case enums.SettlementSuccess:
		wb := ledger.Writeback{SettledAmountCents: &status.RealAmountCents}
		if finished, err := time.Parse(platformTimeLayout, status.FinishTime); err == nil {
			wb.SettlementFinishedAt = &finished
		}
		return s.deps.writeFlag(ctx, record, enums.StageSplitConfirm, enums.FlagDone, wb)
	case enums.SettlementFailed, enums.SettlementRefunded:
		return s.deps.writeFlag(ctx, record, enums.StageSplitConfirm, enums.FlagFailed, ledger.Writeback{})
	default:
		// still settling, keep the record eligible
		return OutcomePending, nil
	}
}

// rechargeStage performs the recharge-after-split upload that credits the
// pending-recharge account.
type rechargeStage struct {
	deps Deps
}

// NewRechargeStage builds the recharge stage.
func NewRechargeStage(deps Deps) (Stage, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &rechargeStage{deps: deps}, nil
}

func (s *rechargeStage) Name() enums.Stage { return enums.StageRecharge }

func (s *rechargeStage) Fetch(ctx context.Context, limit int) ([]Item, error) {
	records, err := s.deps.Ledger.EligibleForStage(ctx, enums.StageRecharge, limit)
	if err != nil {
		return nil, err
	}
	return recordItems(records), nil
}

func (s *rechargeStage) Process(ctx context.Context, item Item) (Outcome, error) {
	record := item.Record
	ctx = s.deps.Logger.WithRecord(ctx, record.BillID, record.DetailID)

	id, err := s.deps.Resolver.Resolve(ctx, record)
	if err != nil {
		return "", err
	}

	result, err := s.deps.Platform.UploadOrder(ctx, bkfunds.UploadOrderParams{
		NodeID:          s.deps.Platform.NodeID(),
		OrderID:         record.BillID + "_" + record.DetailID + "_RC",
		OrderAmount:     record.TotalAmountCents,
		OrderTime:       record.PaidAt.Format(platformTimeLayout),
		TradeType:       tradeTypePayment,
		PayType:         record.PayType,
		MerchantID:      id.MerchantID,
		StoreID:         id.StoreID,
		UploadMode:      s.deps.Config.Recharge.UploadModeRecharge,
		AccountType:     s.deps.Config.Recharge.AccountType,
		PayerMerchantID: s.deps.Config.Recharge.PayerMerchantID,
	})
	if err != nil {
		if pkgerrors.IsRetryable(err) || !pkgerrors.IsTerminal(err) {
			return "", err
		}
		return s.deps.writeFlag(ctx, record, enums.StageRecharge, enums.FlagFailed, ledger.Writeback{})
	}

	return s.deps.writeFlag(ctx, record, enums.StageRecharge, enums.ForOutcome(result.Accepted), ledger.Writeback{})
}

// balanceCheckStage verifies the merchant account holds enough settled funds.
// Insufficient balance is not a flag transition: a notification fires and the
// record stays eligible.
type balanceCheckStage struct {
	deps Deps
}

// NewBalanceCheckStage builds the balance-verification stage.
func NewBalanceCheckStage(deps Deps) (Stage, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &balanceCheckStage{deps: deps}, nil
}

func (s *balanceCheckStage) Name() enums.Stage { return enums.StageBalanceCheck }

func (s *balanceCheckStage) Fetch(ctx context.Context, limit int) ([]Item, error) {
	records, err := s.deps.Ledger.EligibleForStage(ctx, enums.StageBalanceCheck, limit)
	if err != nil {
		return nil, err
	}
	return recordItems(records), nil
}

func (s *balanceCheckStage) Process(ctx context.Context, item Item) (Outcome, error) {
	record := item.Record
	ctx = s.deps.Logger.WithRecord(ctx, record.BillID, record.DetailID)

	id, err := s.deps.Resolver.Resolve(ctx, record)
	if err != nil {
		return "", err
	}

	balance, err := s.deps.Platform.QueryBalance(ctx, bkfunds.BalanceQueryParams{
		NodeID:     s.deps.Platform.NodeID(),
		MerchantID: id.MerchantID,
	})
	if err != nil {
		if pkgerrors.IsRetryable(err) || !pkgerrors.IsTerminal(err) {
			return "", err
		}
		return s.deps.writeFlag(ctx, record, enums.StageBalanceCheck, enums.FlagFailed, ledger.Writeback{})
	}

	required := record.TotalAmountCents
	if balance.AvailableCents >= required {
		return s.deps.writeFlag(ctx, record, enums.StageBalanceCheck, enums.FlagDone, ledger.Writeback{})
	}

	message := &models.NotificationMessage{
		Recipient:  id.MerchantID,
		Kind:       models.NotificationKindBalanceInsufficient,
		Body:       fmt.Sprintf("merchant %s available balance %d below required %d for bill %s", id.MerchantID, balance.AvailableCents, required, record.BillID),
		BillID:     record.BillID,
		MerchantID: id.MerchantID,
	}
	if err := s.deps.Notifications.Enqueue(ctx, message); err != nil {
		return "", err
	}
	s.deps.Logger.Warn(s.deps.Logger.WithFields(ctx, map[string]any{
		"available": balance.AvailableCents,
		"required":  required,
	}), "balance insufficient, notification queued")
	return OutcomePending, nil
}

// withdrawStage pays out settled funds for pending withdrawal requests.
type withdrawStage struct {
	deps Deps
}

// NewWithdrawStage builds the withdraw stage.
func NewWithdrawStage(deps Deps) (Stage, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &withdrawStage{deps: deps}, nil
}

func (s *withdrawStage) Name() enums.Stage { return enums.StageWithdraw }

func (s *withdrawStage) Fetch(ctx context.Context, limit int) ([]Item, error) {
	requests, err := s.deps.Withdrawals.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(requests))
	for i := range requests {
		request := requests[i]
		items = append(items, Item{Key: request.BillID, Withdrawal: &request})
	}
	return items, nil
}

func (s *withdrawStage) Process(ctx context.Context, item Item) (Outcome, error) {
	request := item.Withdrawal
	ctx = s.deps.Logger.WithField(ctx, "bill_id", request.BillID)

	result, err := s.deps.Platform.Withdraw(ctx, bkfunds.WithdrawParams{
		NodeID:         s.deps.Platform.NodeID(),
		MerchantID:     request.MerchantID,
		AccountSubType: s.deps.Config.Split.PayerAccountType,
		TotalAmount:    request.AmountCents,
		BankCardNo:     request.BankAccount,
	})
	if err != nil {
		return "", err
	}
	if !result.Accepted {
		s.deps.Logger.Warn(s.deps.Logger.WithFields(ctx, map[string]any{
			"sub_code": result.SubCode,
			"sub_msg":  result.SubMsg,
		}), "platform rejected withdrawal")
		return OutcomeFailed, nil
	}

	ok, err := s.deps.Withdrawals.MarkWithdrawn(ctx, request.BillID, result.TradeNo)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeRaceLost, nil
	}
	return OutcomeSettled, nil
}
