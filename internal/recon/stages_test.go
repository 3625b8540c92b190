package recon

import (
	"context"
	"io"
	"strings"
	"testing"
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

	"gorm.io/gorm"
)

type casCall struct {
	billID   string
	detailID string
	stage    enums.Stage
	expected enums.FlagState
	next     enums.FlagState
	wb       ledger.Writeback
}

type fakeLedger struct {
	records   []models.SettlementRecord
	byKey     map[string]*models.SettlementRecord
	casCalls  []casCall
	casResult bool
	casErr    error
}

func newFakeLedger(records ...models.SettlementRecord) *fakeLedger {
	f := &fakeLedger{
		records:   records,
		byKey:     make(map[string]*models.SettlementRecord, len(records)),
		casResult: true,
	}
	for i := range records {
		record := records[i]
		f.byKey[record.BillID+"/"+record.DetailID] = &record
	}
	return f
}

func (f *fakeLedger) WithTx(*gorm.DB) ledger.Repository { return f }

func (f *fakeLedger) Get(_ context.Context, billID, detailID string) (*models.SettlementRecord, error) {
	record, ok := f.byKey[billID+"/"+detailID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement record not found")
	}
	return record, nil
}

func (f *fakeLedger) Create(_ context.Context, record *models.SettlementRecord) error {
	f.byKey[record.BillID+"/"+record.DetailID] = record
	return nil
}

func (f *fakeLedger) EligibleForStage(_ context.Context, _ enums.Stage, limit int) ([]models.SettlementRecord, error) {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

func (f *fakeLedger) EligibleCount(context.Context, enums.Stage) (int64, error) {
	return int64(len(f.records)), nil
}

func (f *fakeLedger) PendingSplitResults(ctx context.Context, limit int) ([]models.SettlementRecord, error) {
	return f.EligibleForStage(ctx, enums.StageSplitConfirm, limit)
}

func (f *fakeLedger) CompareAndSwapFlag(_ context.Context, billID, detailID string, stage enums.Stage, expected, next enums.FlagState, wb ledger.Writeback) (bool, error) {
	f.casCalls = append(f.casCalls, casCall{
		billID:   billID,
		detailID: detailID,
		stage:    stage,
		expected: expected,
		next:     next,
		wb:       wb,
	})
	return f.casResult, f.casErr
}

type markCall struct {
	billID  string
	tradeNo string
}

type fakeWithdrawals struct {
	pending    []models.WithdrawalRequest
	marks      []markCall
	markResult bool
}

func (f *fakeWithdrawals) WithTx(*gorm.DB) ledger.WithdrawalRepository { return f }

func (f *fakeWithdrawals) Create(_ context.Context, request *models.WithdrawalRequest) error {
	f.pending = append(f.pending, *request)
	return nil
}

func (f *fakeWithdrawals) Get(_ context.Context, billID string) (*models.WithdrawalRequest, error) {
	for i := range f.pending {
		if f.pending[i].BillID == billID {
			return &f.pending[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal request not found")
}

func (f *fakeWithdrawals) ListPending(_ context.Context, limit int) ([]models.WithdrawalRequest, error) {
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return f.pending[:limit], nil
}

func (f *fakeWithdrawals) CountPending(context.Context) (int64, error) {
	return int64(len(f.pending)), nil
}

func (f *fakeWithdrawals) MarkWithdrawn(_ context.Context, billID, tradeNo string) (bool, error) {
	f.marks = append(f.marks, markCall{billID: billID, tradeNo: tradeNo})
	return f.markResult, nil
}

type fakeNotifications struct {
	queued []models.NotificationMessage
}

func (f *fakeNotifications) WithTx(*gorm.DB) ledger.NotificationRepository { return f }

func (f *fakeNotifications) Enqueue(_ context.Context, message *models.NotificationMessage) error {
	f.queued = append(f.queued, *message)
	return nil
}

func (f *fakeNotifications) ListUndispatched(_ context.Context, limit int) ([]models.NotificationMessage, error) {
	if limit > len(f.queued) {
		limit = len(f.queued)
	}
	return f.queued[:limit], nil
}

func (f *fakeNotifications) MarkDispatched(context.Context, int64) error { return nil }

type fakePlatform struct {
	uploadFn   func(ctx context.Context, params bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error)
	applyFn    func(ctx context.Context, params bkfunds.ApplyParams) (*bkfunds.ApplyResult, error)
	queryFn    func(ctx context.Context, tradeNo string) (*bkfunds.PayStatus, error)
	balanceFn  func(ctx context.Context, params bkfunds.BalanceQueryParams) (*bkfunds.Balance, error)
	withdrawFn func(ctx context.Context, params bkfunds.WithdrawParams) (*bkfunds.WithdrawResult, error)

	uploads   []bkfunds.UploadOrderParams
	applies   []bkfunds.ApplyParams
	withdraws []bkfunds.WithdrawParams
}

func (f *fakePlatform) NodeID() string { return "NODE01" }

func (f *fakePlatform) UploadOrder(ctx context.Context, params bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error) {
	f.uploads = append(f.uploads, params)
	return f.uploadFn(ctx, params)
}

func (f *fakePlatform) Apply(ctx context.Context, params bkfunds.ApplyParams) (*bkfunds.ApplyResult, error) {
	f.applies = append(f.applies, params)
	return f.applyFn(ctx, params)
}

func (f *fakePlatform) QueryResult(ctx context.Context, tradeNo string) (*bkfunds.PayStatus, error) {
	return f.queryFn(ctx, tradeNo)
}

func (f *fakePlatform) QueryBalance(ctx context.Context, params bkfunds.BalanceQueryParams) (*bkfunds.Balance, error) {
	return f.balanceFn(ctx, params)
}

func (f *fakePlatform) Withdraw(ctx context.Context, params bkfunds.WithdrawParams) (*bkfunds.WithdrawResult, error) {
	f.withdraws = append(f.withdraws, params)
	return f.withdrawFn(ctx, params)
}

func testConfig() *config.Config {
	return &config.Config{
		Identity: config.IdentityConfig{
			DynamicMerchantID:  true,
			DynamicStoreID:     true,
			FallbackMerchantID: "FALLBACK_MERCHANT",
			FallbackStoreID:    "FALLBACK_STORE",
		},
		Split: config.SplitConfig{
			PayerMerchantID:  "CFG_PAYER",
			PayerAccountType: "1",
			PayeeAccountType: "0",
			ArriveTime:       "T0",
		},
		Recharge: config.RechargeConfig{
			UploadModeNormal:   "3",
			UploadModeRecharge: "2",
			AccountType:        "2",
			PayerMerchantID:    "RC_PAYER",
		},
		Pipeline: config.PipelineConfig{
			BatchSize:   10,
			WorkerCount: 2,
		},
	}
}

func testDeps(t *testing.T, led *fakeLedger, platform *fakePlatform) (Deps, *fakeWithdrawals, *fakeNotifications) {
	t.Helper()

	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "recon-test", Output: io.Discard})

	resolver, err := identity.NewResolver(cfg.Identity, logg)
	if err != nil {
		t.Fatalf("building resolver: %v", err)
	}
	planner, err := splitplan.NewPlanner(cfg.Split)
	if err != nil {
		t.Fatalf("building planner: %v", err)
	}

	withdrawals := &fakeWithdrawals{markResult: true}
	notifications := &fakeNotifications{}
	deps := Deps{
		Ledger:        led,
		Withdrawals:   withdrawals,
		Notifications: notifications,
		Platform:      platform,
		Resolver:      resolver,
		Planner:       planner,
		Config:        cfg,
		Logger:        logg,
	}
	return deps, withdrawals, notifications
}

func testRecord() models.SettlementRecord {
	merchant := "M100"
	store := "S100"
	return models.SettlementRecord{
		BillID:                "BILL-1",
		DetailID:              "DET-1",
		MerchantID:            &merchant,
		StoreID:               &store,
		PayType:               "1",
		WechatAmountCents:     800,
		AlipayAmountCents:     700,
		TotalAmountCents:      1500,
		FranchiseeAmountCents: 1000,
		CompanyAmountCents:    500,
		PayerMerchantID:       "PAYER-1",
		FranchiseePayeeID:     "FRAN-1",
		CompanyPayeeID:        "COMP-1",
		Approved:              true,
		Uploaded:              enums.FlagDone,
		PaidAt:                time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestUploadStageAcceptedWritesDone(t *testing.T) {
	record := testRecord()
	record.Uploaded = enums.FlagUnset
	led := newFakeLedger(record)
	platform := &fakePlatform{
		uploadFn: func(_ context.Context, _ bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error) {
			return &bkfunds.UploadResult{Accepted: true, RequestID: "REQ-1"}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, err := NewUploadStage(deps)
	if err != nil {
		t.Fatalf("building stage: %v", err)
	}
	outcome, err := stage.Process(context.Background(), Item{Key: "BILL-1/DET-1", Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSettled)
	}

	if len(platform.uploads) != 1 {
		t.Fatalf("upload calls = %d, want 1", len(platform.uploads))
	}
	upload := platform.uploads[0]
	if upload.OrderAmount != 1500 {
		t.Errorf("OrderAmount = %d, want channel total 1500", upload.OrderAmount)
	}
	if upload.MerchantID != "M100" || upload.StoreID != "S100" {
		t.Errorf("identity = %s/%s, want record values", upload.MerchantID, upload.StoreID)
	}
	if upload.UploadMode != "3" {
		t.Errorf("UploadMode = %q, want normal mode 3", upload.UploadMode)
	}

	if len(led.casCalls) != 1 {
		t.Fatalf("cas calls = %d, want 1", len(led.casCalls))
	}
	cas := led.casCalls[0]
	if cas.stage != enums.StageUpload || cas.expected != enums.FlagUnset || cas.next != enums.FlagDone {
		t.Fatalf("cas = %+v, want upload unset->Y", cas)
	}
	if cas.wb.UploadRequestNo == nil || *cas.wb.UploadRequestNo != "REQ-1" {
		t.Errorf("UploadRequestNo writeback missing")
	}
}

func TestUploadStageNetworkErrorLeavesFlagUntouched(t *testing.T) {
	record := testRecord()
	record.Uploaded = enums.FlagUnset
	led := newFakeLedger(record)
	platform := &fakePlatform{
		uploadFn: func(_ context.Context, _ bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNetwork, "connection reset")
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewUploadStage(deps)
	_, err := stage.Process(context.Background(), Item{Record: &record})
	if err == nil {
		t.Fatal("expected error for network failure")
	}
	if len(led.casCalls) != 0 {
		t.Fatalf("network failure must not write a flag, got %d cas calls", len(led.casCalls))
	}
}

func TestSplitApplyAllTargetsAccepted(t *testing.T) {
	record := testRecord()
	led := newFakeLedger(record)
	platform := &fakePlatform{
		applyFn: func(_ context.Context, params bkfunds.ApplyParams) (*bkfunds.ApplyResult, error) {
			return &bkfunds.ApplyResult{
				Accepted:      true,
				CorrelationID: "CORR-" + params.PlatformNo,
				TradeNo:       "TRADE-" + params.PayeeMerchantID,
			}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewSplitApplyStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSettled)
	}

	if len(platform.applies) != 2 {
		t.Fatalf("apply calls = %d, want one per target", len(platform.applies))
	}
	if platform.applies[0].PlatformNo == platform.applies[1].PlatformNo {
		t.Error("platform numbers must be unique per apply")
	}
	for _, apply := range platform.applies {
		if apply.PayerMerchantID != "PAYER-1" {
			t.Errorf("PayerMerchantID = %q, want record payer", apply.PayerMerchantID)
		}
		if apply.PayerType != enums.AccountType("1") || apply.PayeeType != enums.AccountType("0") {
			t.Errorf("account types = %s/%s, want 1/0", apply.PayerType, apply.PayeeType)
		}
	}

	cas := led.casCalls[0]
	if cas.next != enums.FlagDone {
		t.Fatalf("flag = %q, want Y", cas.next)
	}
	if cas.wb.SplitCorrelationID == nil || *cas.wb.SplitCorrelationID == "" {
		t.Error("correlation id writeback missing")
	}
	if cas.wb.PlatformTradeNo == nil || !strings.HasPrefix(*cas.wb.PlatformTradeNo, "TRADE-") {
		t.Error("platform trade no writeback missing")
	}
}

func TestSplitApplyRejectionWritesFailed(t *testing.T) {
	record := testRecord()
	led := newFakeLedger(record)
	platform := &fakePlatform{
		applyFn: func(_ context.Context, params bkfunds.ApplyParams) (*bkfunds.ApplyResult, error) {
			if params.PayeeMerchantID == "COMP-1" {
				return &bkfunds.ApplyResult{
					Accepted:      false,
					CorrelationID: "CORR-REJECTED",
					SubCode:       "BALANCE_NOT_ENOUGH",
				}, nil
			}
			return &bkfunds.ApplyResult{Accepted: true, CorrelationID: "CORR-OK", TradeNo: "TRADE-OK"}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewSplitApplyStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeFailed)
	}

	cas := led.casCalls[0]
	if cas.next != enums.FlagFailed {
		t.Fatalf("flag = %q, want F", cas.next)
	}
	if cas.wb.SplitCorrelationID == nil || *cas.wb.SplitCorrelationID == "" {
		t.Error("correlation id must survive a partial rejection for audit")
	}
}

func TestSplitApplyPlanningInvariantWritesFailed(t *testing.T) {
	record := testRecord()
	// split amounts exceed what the customer paid
	record.WechatAmountCents = 600
	record.AlipayAmountCents = 400
	record.FranchiseeAmountCents = 900
	record.CompanyAmountCents = 400
	led := newFakeLedger(record)
	platform := &fakePlatform{}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewSplitApplyStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
	if len(platform.applies) != 0 {
		t.Fatalf("invariant violation must never reach the platform, got %d applies", len(platform.applies))
	}
	if led.casCalls[0].next != enums.FlagFailed {
		t.Fatalf("flag = %q, want F", led.casCalls[0].next)
	}
}

func TestSplitConfirmPendingWritesNothing(t *testing.T) {
	record := testRecord()
	tradeNo := "TRADE-1"
	record.SplitRequested = enums.FlagDone
	record.PlatformTradeNo = &tradeNo
	led := newFakeLedger(record)
	platform := &fakePlatform{
		queryFn: func(_ context.Context, _ string) (*bkfunds.PayStatus, error) {
			return &bkfunds.PayStatus{Status: enums.SettlementPending}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewSplitConfirmStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomePending)
	}
	if len(led.casCalls) != 0 {
		t.Fatalf("pending status must not write a flag, got %d cas calls", len(led.casCalls))
	}
}

func TestSplitConfirmSuccessRecordsSettlement(t *testing.T) {
	record := testRecord()
	tradeNo := "TRADE-1"
	record.SplitRequested = enums.FlagDone
	record.PlatformTradeNo = &tradeNo
	led := newFakeLedger(record)
	platform := &fakePlatform{
		queryFn: func(_ context.Context, got string) (*bkfunds.PayStatus, error) {
			if got != "TRADE-1" {
				t.Errorf("queried trade no %q, want TRADE-1", got)
			}
			return &bkfunds.PayStatus{
				Status:          enums.SettlementSuccess,
				RealAmountCents: 1500,
				FinishTime:      "20250830123045",
			}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewSplitConfirmStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSettled)
	}

	cas := led.casCalls[0]
	if cas.stage != enums.StageSplitConfirm || cas.next != enums.FlagDone {
		t.Fatalf("cas = %+v, want split_confirm Y", cas)
	}
	if cas.wb.SettledAmountCents == nil || *cas.wb.SettledAmountCents != 1500 {
		t.Error("settled amount writeback missing")
	}
	if cas.wb.SettlementFinishedAt == nil {
		t.Fatal("finish time writeback missing")
	}
	want := time.Date(2025, 8, 30, 12, 30, 45, 0, time.UTC)
	if !cas.wb.SettlementFinishedAt.Equal(want) {
		t.Errorf("finish time = %v, want %v", cas.wb.SettlementFinishedAt, want)
	}
}

func TestSplitConfirmRefundedWritesFailed(t *testing.T) {
	record := testRecord()
	tradeNo := "TRADE-1"
	record.PlatformTradeNo = &tradeNo
	led := newFakeLedger(record)
	platform := &fakePlatform{
		queryFn: func(_ context.Context, _ string) (*bkfunds.PayStatus, error) {
			return &bkfunds.PayStatus{Status: enums.SettlementRefunded}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewSplitConfirmStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
	if led.casCalls[0].next != enums.FlagFailed {
		t.Fatalf("flag = %q, want F", led.casCalls[0].next)
	}
}

func TestRechargeUsesRechargeModeAndPayer(t *testing.T) {
	record := testRecord()
	led := newFakeLedger(record)
	platform := &fakePlatform{
		uploadFn: func(_ context.Context, _ bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error) {
			return &bkfunds.UploadResult{Accepted: true, RequestID: "REQ-RC"}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewRechargeStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSettled)
	}

	upload := platform.uploads[0]
	if upload.UploadMode != "2" {
		t.Errorf("UploadMode = %q, want recharge mode 2", upload.UploadMode)
	}
	if upload.AccountType != "2" {
		t.Errorf("AccountType = %q, want pending-recharge account 2", upload.AccountType)
	}
	if upload.PayerMerchantID != "RC_PAYER" {
		t.Errorf("PayerMerchantID = %q, want configured recharge payer", upload.PayerMerchantID)
	}
	if upload.OrderAmount != record.TotalAmountCents {
		t.Errorf("OrderAmount = %d, want total %d", upload.OrderAmount, record.TotalAmountCents)
	}
	if led.casCalls[0].stage != enums.StageRecharge {
		t.Fatalf("cas stage = %q, want recharge", led.casCalls[0].stage)
	}
}

func TestBalanceCheckInsufficientQueuesNotification(t *testing.T) {
	record := testRecord()
	led := newFakeLedger(record)
	platform := &fakePlatform{
		balanceFn: func(_ context.Context, _ bkfunds.BalanceQueryParams) (*bkfunds.Balance, error) {
			return &bkfunds.Balance{AvailableCents: 900}, nil
		},
	}
	deps, _, notifications := testDeps(t, led, platform)

	stage, _ := NewBalanceCheckStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomePending)
	}
	if len(led.casCalls) != 0 {
		t.Fatal("insufficient balance must not flip the flag")
	}
	if len(notifications.queued) != 1 {
		t.Fatalf("notifications queued = %d, want 1", len(notifications.queued))
	}
	message := notifications.queued[0]
	if message.Kind != models.NotificationKindBalanceInsufficient {
		t.Errorf("kind = %q, want %q", message.Kind, models.NotificationKindBalanceInsufficient)
	}
	if message.BillID != "BILL-1" || message.MerchantID != "M100" {
		t.Errorf("message keys = %s/%s, want BILL-1/M100", message.BillID, message.MerchantID)
	}
}

func TestBalanceCheckSufficientWritesDone(t *testing.T) {
	record := testRecord()
	led := newFakeLedger(record)
	platform := &fakePlatform{
		balanceFn: func(_ context.Context, _ bkfunds.BalanceQueryParams) (*bkfunds.Balance, error) {
			return &bkfunds.Balance{AvailableCents: 2000}, nil
		},
	}
	deps, _, notifications := testDeps(t, led, platform)

	stage, _ := NewBalanceCheckStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSettled)
	}
	if len(notifications.queued) != 0 {
		t.Fatal("sufficient balance must not notify")
	}
	if led.casCalls[0].stage != enums.StageBalanceCheck || led.casCalls[0].next != enums.FlagDone {
		t.Fatalf("cas = %+v, want balance_check Y", led.casCalls[0])
	}
}

func TestWithdrawAcceptedMarksWithdrawn(t *testing.T) {
	led := newFakeLedger()
	platform := &fakePlatform{
		withdrawFn: func(_ context.Context, _ bkfunds.WithdrawParams) (*bkfunds.WithdrawResult, error) {
			return &bkfunds.WithdrawResult{Accepted: true, TradeNo: "WD-TRADE"}, nil
		},
	}
	deps, withdrawals, _ := testDeps(t, led, platform)
	request := models.WithdrawalRequest{
		BillID:      "BILL-9",
		MerchantID:  "M100",
		AmountCents: 5000,
		BankAccount: "6222000011112222",
		Status:      models.WithdrawalStatusPending,
	}
	withdrawals.pending = []models.WithdrawalRequest{request}

	stage, _ := NewWithdrawStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Key: "BILL-9", Withdrawal: &request})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSettled)
	}
	if len(withdrawals.marks) != 1 {
		t.Fatalf("mark calls = %d, want 1", len(withdrawals.marks))
	}
	if withdrawals.marks[0].tradeNo != "WD-TRADE" {
		t.Errorf("trade no = %q, want WD-TRADE", withdrawals.marks[0].tradeNo)
	}
	if platform.withdraws[0].TotalAmount != 5000 {
		t.Errorf("TotalAmount = %d, want 5000", platform.withdraws[0].TotalAmount)
	}
}

func TestWithdrawRejectionLeavesRequestPending(t *testing.T) {
	led := newFakeLedger()
	platform := &fakePlatform{
		withdrawFn: func(_ context.Context, _ bkfunds.WithdrawParams) (*bkfunds.WithdrawResult, error) {
			return &bkfunds.WithdrawResult{Accepted: false, SubCode: "CARD_INVALID"}, nil
		},
	}
	deps, withdrawals, _ := testDeps(t, led, platform)
	request := models.WithdrawalRequest{BillID: "BILL-9", MerchantID: "M100", AmountCents: 5000}

	stage, _ := NewWithdrawStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Withdrawal: &request})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
	if len(withdrawals.marks) != 0 {
		t.Fatal("rejected withdrawal must stay pending")
	}
}

func TestWritebackRaceLostIsBenign(t *testing.T) {
	record := testRecord()
	record.Uploaded = enums.FlagUnset
	led := newFakeLedger(record)
	led.casResult = false
	platform := &fakePlatform{
		uploadFn: func(_ context.Context, _ bkfunds.UploadOrderParams) (*bkfunds.UploadResult, error) {
			return &bkfunds.UploadResult{Accepted: true, RequestID: "REQ-1"}, nil
		},
	}
	deps, _, _ := testDeps(t, led, platform)

	stage, _ := NewUploadStage(deps)
	outcome, err := stage.Process(context.Background(), Item{Record: &record})
	if err != nil {
		t.Fatalf("race-lost writeback must not error: %v", err)
	}
	if outcome != OutcomeRaceLost {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeRaceLost)
	}
}
