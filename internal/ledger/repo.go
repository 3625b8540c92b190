package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/enums"
)

// Writeback carries the audit identifiers persisted alongside a flag
// transition. Nil fields are left untouched.
type Writeback struct {
	UploadRequestNo      *string
	SplitCorrelationID   *string
	PlatformTradeNo      *string
	SettledAmountCents   *int64
	SettlementFinishedAt *time.Time
}

// Repository is the ledger store the reconciliation pipeline runs against.
// Eligibility reads are per-stage predicate queries in stable oldest-first
// order; the only write is the compare-and-swap flag transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, billID, detailID string) (*models.SettlementRecord, error)
	Create(ctx context.Context, record *models.SettlementRecord) error
	EligibleForStage(ctx context.Context, stage enums.Stage, limit int) ([]models.SettlementRecord, error)
	EligibleCount(ctx context.Context, stage enums.Stage) (int64, error)
	// PendingSplitResults yields records whose split outcome is still
	// awaited, regardless of how storage implements the scan.
	PendingSplitResults(ctx context.Context, limit int) ([]models.SettlementRecord, error)
	// CompareAndSwapFlag transitions one stage flag only if it still holds
	// the expected prior value. false with a nil error means another writer
	// got there first; the caller treats that as a benign no-op.
	CompareAndSwapFlag(ctx context.Context, billID, detailID string, stage enums.Stage, expected, next enums.FlagState, wb Writeback) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, billID, detailID string) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("bill_id = ? AND detail_id = ?", billID, detailID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.SettlementRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) EligibleForStage(ctx context.Context, stage enums.Stage, limit int) ([]models.SettlementRecord, error) {
	query, err := r.stageQuery(ctx, stage)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []models.SettlementRecord
	if err := query.Order("paid_at ASC, bill_id ASC, detail_id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) EligibleCount(ctx context.Context, stage enums.Stage) (int64, error) {
	query, err := r.stageQuery(ctx, stage)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) PendingSplitResults(ctx context.Context, limit int) ([]models.SettlementRecord, error) {
	return r.EligibleForStage(ctx, enums.StageSplitConfirm, limit)
}

// stageQuery builds the eligibility predicate for one stage: upstream flags
// done, own flag unset, and the stage's monetary condition. Records with a
// failed flag are excluded until externally reset.
func (r *repository) stageQuery(ctx context.Context, stage enums.Stage) (*gorm.DB, error) {
	base := r.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("approved = ?", true).
		Where("canceled = ?", false)

	switch stage {
	case enums.StageUpload:
		return base.
			Where("uploaded = ?", string(enums.FlagUnset)).
			Where("wechat_amount_cents + alipay_amount_cents > 0"), nil
	case enums.StageSplitApply:
		return base.
			Where("uploaded = ?", string(enums.FlagDone)).
			Where("split_requested = ?", string(enums.FlagUnset)).
			Where("marketing_amount_cents > 0 OR franchisee_amount_cents > 0 OR company_amount_cents > 0"), nil
	case enums.StageSplitConfirm:
		return base.
			Where("split_requested = ?", string(enums.FlagDone)).
			Where("split_result_confirmed = ?", string(enums.FlagUnset)).
			Where("platform_trade_no IS NOT NULL AND platform_trade_no <> ''"), nil
	case enums.StageRecharge:
		return base.
			Where("split_result_confirmed = ?", string(enums.FlagDone)).
			Where("recharge_completed = ?", string(enums.FlagUnset)).
			Where("total_amount_cents > 0"), nil
	case enums.StageBalanceCheck:
		return base.
			Where("recharge_completed = ?", string(enums.FlagDone)).
			Where("balance_verified = ?", string(enums.FlagUnset)), nil
	default:
		return nil, fmt.Errorf("stage %q has no record eligibility query", stage)
	}
}

func (r *repository) CompareAndSwapFlag(ctx context.Context, billID, detailID string, stage enums.Stage, expected, next enums.FlagState, wb Writeback) (bool, error) {
	column, err := flagColumn(stage)
	if err != nil {
		return false, err
	}

	now := time.Now()
	updates := map[string]any{
		column:               string(next),
		"last_transition_at": now,
		"updated_at":         now,
	}
	// The apply stage records request and execution in one transition.
	if stage == enums.StageSplitApply {
		updates["split_executed"] = string(next)
	}
	if wb.UploadRequestNo != nil {
		updates["upload_request_no"] = *wb.UploadRequestNo
	}
	if wb.SplitCorrelationID != nil {
		updates["split_correlation_id"] = *wb.SplitCorrelationID
	}
	if wb.PlatformTradeNo != nil {
		updates["platform_trade_no"] = *wb.PlatformTradeNo
	}
	if wb.SettledAmountCents != nil {
		updates["settled_amount_cents"] = *wb.SettledAmountCents
	}
	if wb.SettlementFinishedAt != nil {
		updates["settlement_finished_at"] = *wb.SettlementFinishedAt
	}

	result := r.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("bill_id = ? AND detail_id = ?", billID, detailID).
		Where(fmt.Sprintf("%s = ?", column), string(expected)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func flagColumn(stage enums.Stage) (string, error) {
	switch stage {
	case enums.StageUpload:
		return "uploaded", nil
	case enums.StageSplitApply:
		return "split_requested", nil
	case enums.StageSplitConfirm:
		return "split_result_confirmed", nil
	case enums.StageRecharge:
		return "recharge_completed", nil
	case enums.StageBalanceCheck:
		return "balance_verified", nil
	case enums.StageWithdraw:
		return "withdrawn", nil
	default:
		return "", fmt.Errorf("unknown stage %q", stage)
	}
}
