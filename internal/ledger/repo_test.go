package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/enums"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	records := `
CREATE TABLE IF NOT EXISTS settlement_records (
  bill_id TEXT NOT NULL,
  detail_id TEXT NOT NULL,
  merchant_id TEXT,
  store_id TEXT,
  pay_type TEXT NOT NULL DEFAULT '',
  wechat_amount_cents INTEGER NOT NULL DEFAULT 0,
  alipay_amount_cents INTEGER NOT NULL DEFAULT 0,
  total_amount_cents INTEGER NOT NULL DEFAULT 0,
  franchisee_amount_cents INTEGER NOT NULL DEFAULT 0,
  company_amount_cents INTEGER NOT NULL DEFAULT 0,
  marketing_amount_cents INTEGER NOT NULL DEFAULT 0,
  payer_merchant_id TEXT NOT NULL DEFAULT '',
  franchisee_payee_id TEXT NOT NULL DEFAULT '',
  company_payee_id TEXT NOT NULL DEFAULT '',
  marketing_account_id TEXT NOT NULL DEFAULT '',
  approved INTEGER NOT NULL DEFAULT 0,
  canceled INTEGER NOT NULL DEFAULT 0,
  uploaded TEXT NOT NULL DEFAULT '',
  split_requested TEXT NOT NULL DEFAULT '',
  split_executed TEXT NOT NULL DEFAULT '',
  split_result_confirmed TEXT NOT NULL DEFAULT '',
  recharge_completed TEXT NOT NULL DEFAULT '',
  balance_verified TEXT NOT NULL DEFAULT '',
  withdrawn TEXT NOT NULL DEFAULT '',
  upload_request_no TEXT,
  split_correlation_id TEXT,
  platform_trade_no TEXT,
  settled_amount_cents INTEGER,
  settlement_finished_at DATETIME,
  paid_at DATETIME NOT NULL,
  last_transition_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  PRIMARY KEY (bill_id, detail_id)
);`
	withdrawals := `
CREATE TABLE IF NOT EXISTS withdrawal_requests (
  bill_id TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  bank_account TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '006',
  trade_no TEXT,
  withdrawn_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	notifications := `
CREATE TABLE IF NOT EXISTS notification_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  recipient TEXT NOT NULL,
  kind TEXT NOT NULL,
  body TEXT NOT NULL,
  bill_id TEXT NOT NULL DEFAULT '',
  merchant_id TEXT NOT NULL DEFAULT '',
  dispatched_at DATETIME,
  created_at DATETIME
);`

	for _, ddl := range []string{records, withdrawals, notifications} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

func seedRecord(t *testing.T, db *gorm.DB, record models.SettlementRecord) {
	t.Helper()
	if record.PaidAt.IsZero() {
		record.PaidAt = time.Now().Add(-time.Hour)
	}
	require.NoError(t, db.Create(&record).Error)
}

func TestEligibleForUploadFiltersAndOrders(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B2", DetailID: "D1", Approved: true,
		WechatAmountCents: 500, PaidAt: base.Add(time.Minute),
	})
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B1", DetailID: "D1", Approved: true,
		AlipayAmountCents: 300, PaidAt: base,
	})
	// not approved
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B3", DetailID: "D1", WechatAmountCents: 500, PaidAt: base,
	})
	// canceled
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B4", DetailID: "D1", Approved: true, Canceled: true,
		WechatAmountCents: 500, PaidAt: base,
	})
	// zero channel amount
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B5", DetailID: "D1", Approved: true, PaidAt: base,
	})
	// already uploaded
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B6", DetailID: "D1", Approved: true,
		WechatAmountCents: 500, Uploaded: enums.FlagDone, PaidAt: base,
	})
	// failed stays out until reset
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B7", DetailID: "D1", Approved: true,
		WechatAmountCents: 500, Uploaded: enums.FlagFailed, PaidAt: base,
	})

	records, err := repo.EligibleForStage(ctx, enums.StageUpload, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "B1", records[0].BillID, "oldest paid record first")
	assert.Equal(t, "B2", records[1].BillID)

	count, err := repo.EligibleCount(ctx, enums.StageUpload)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestEligibilityChainIsMonotonic(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedRecord(t, db, models.SettlementRecord{
		BillID: "B1", DetailID: "D1", Approved: true,
		WechatAmountCents: 1000, TotalAmountCents: 1000, FranchiseeAmountCents: 1000,
	})

	splitReady, err := repo.EligibleForStage(ctx, enums.StageSplitApply, 10)
	require.NoError(t, err)
	assert.Empty(t, splitReady, "record must complete upload before split")

	ok, err := repo.CompareAndSwapFlag(ctx, "B1", "D1", enums.StageUpload,
		enums.FlagUnset, enums.FlagDone, Writeback{})
	require.NoError(t, err)
	require.True(t, ok)

	splitReady, err = repo.EligibleForStage(ctx, enums.StageSplitApply, 10)
	require.NoError(t, err)
	require.Len(t, splitReady, 1)

	uploadReady, err := repo.EligibleForStage(ctx, enums.StageUpload, 10)
	require.NoError(t, err)
	assert.Empty(t, uploadReady, "uploaded record leaves the upload predicate")
}

func TestCompareAndSwapFlagIsIdempotent(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedRecord(t, db, models.SettlementRecord{
		BillID: "B1", DetailID: "D1", Approved: true, WechatAmountCents: 1000,
	})

	correlation := "SPLIT_FRANCHISEE_20250901120000_001_AB12"
	tradeNo := "TN-1"
	ok, err := repo.CompareAndSwapFlag(ctx, "B1", "D1", enums.StageSplitApply,
		enums.FlagUnset, enums.FlagDone, Writeback{
			SplitCorrelationID: &correlation,
			PlatformTradeNo:    &tradeNo,
		})
	require.NoError(t, err)
	require.True(t, ok)

	record, err := repo.Get(ctx, "B1", "D1")
	require.NoError(t, err)
	assert.Equal(t, enums.FlagDone, record.SplitRequested)
	assert.Equal(t, enums.FlagDone, record.SplitExecuted, "apply transition records execution in the same write")
	require.NotNil(t, record.SplitCorrelationID)
	assert.Equal(t, correlation, *record.SplitCorrelationID)
	require.NotNil(t, record.PlatformTradeNo)
	assert.Equal(t, tradeNo, *record.PlatformTradeNo)
	require.NotNil(t, record.LastTransitionAt)

	// second writer loses: guard no longer matches, nothing changes
	other := "SPLIT_FRANCHISEE_20250901120001_002_CD34"
	ok, err = repo.CompareAndSwapFlag(ctx, "B1", "D1", enums.StageSplitApply,
		enums.FlagUnset, enums.FlagDone, Writeback{SplitCorrelationID: &other})
	require.NoError(t, err)
	assert.False(t, ok)

	record, err = repo.Get(ctx, "B1", "D1")
	require.NoError(t, err)
	assert.Equal(t, correlation, *record.SplitCorrelationID, "race-losing write must not overwrite audit data")
}

func TestPendingSplitResultsRequiresTradeNo(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tradeNo := "TN-9"
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B1", DetailID: "D1", Approved: true,
		SplitRequested: enums.FlagDone, PlatformTradeNo: &tradeNo,
	})
	seedRecord(t, db, models.SettlementRecord{
		BillID: "B2", DetailID: "D1", Approved: true,
		SplitRequested: enums.FlagDone,
	})

	pending, err := repo.PendingSplitResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "B1", pending[0].BillID)
}

func TestWithdrawalMarkWithdrawnIsIdempotent(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewWithdrawalRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.WithdrawalRequest{
		BillID: "W1", MerchantID: "m-1", AmountCents: 5000,
		Status: models.WithdrawalStatusPending,
	}))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ok, err := repo.MarkWithdrawn(ctx, "W1", "TN-W1")
	require.NoError(t, err)
	require.True(t, ok)

	request, err := repo.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusWithdrawn, request.Status)
	require.NotNil(t, request.TradeNo)
	assert.Equal(t, "TN-W1", *request.TradeNo)
	require.NotNil(t, request.WithdrawnAt)

	ok, err = repo.MarkWithdrawn(ctx, "W1", "TN-other")
	require.NoError(t, err)
	assert.False(t, ok, "second mark must be a no-op")

	request, err = repo.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "TN-W1", *request.TradeNo)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotificationQueueLifecycle(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, &models.NotificationMessage{
		Recipient:  "ops",
		Kind:       models.NotificationKindBalanceInsufficient,
		Body:       "merchant m-1 balance 5000 below required 6000",
		BillID:     "B1",
		MerchantID: "m-1",
	}))

	queued, err := repo.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	require.NoError(t, repo.MarkDispatched(ctx, queued[0].ID))

	queued, err = repo.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
}
