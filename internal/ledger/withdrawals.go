package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mmretail/settlement-backend/pkg/db/models"
)

// WithdrawalRepository manages payout requests raised against settled funds.
type WithdrawalRepository interface {
	WithTx(tx *gorm.DB) WithdrawalRepository
	Create(ctx context.Context, request *models.WithdrawalRequest) error
	Get(ctx context.Context, billID string) (*models.WithdrawalRequest, error)
	ListPending(ctx context.Context, limit int) ([]models.WithdrawalRequest, error)
	CountPending(ctx context.Context) (int64, error)
	// MarkWithdrawn flips a pending request to withdrawn. false with a nil
	// error means the request was no longer pending (race lost).
	MarkWithdrawn(ctx context.Context, billID, tradeNo string) (bool, error)
}

type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository returns a withdrawal repository bound to the
// provided database.
func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) WithTx(tx *gorm.DB) WithdrawalRepository {
	if tx == nil {
		return r
	}
	return &withdrawalRepository{db: tx}
}

func (r *withdrawalRepository) Create(ctx context.Context, request *models.WithdrawalRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *withdrawalRepository) Get(ctx context.Context, billID string) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("bill_id = ?", billID).First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *withdrawalRepository) ListPending(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", models.WithdrawalStatusPending).
		Order("created_at ASC, bill_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var requests []models.WithdrawalRequest
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *withdrawalRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("status = ?", models.WithdrawalStatusPending).
		Count(&count).Error
	return count, err
}

func (r *withdrawalRepository) MarkWithdrawn(ctx context.Context, billID, tradeNo string) (bool, error) {
	now := time.Now()
	updates := map[string]any{
		"status":       models.WithdrawalStatusWithdrawn,
		"withdrawn_at": now,
		"updated_at":   now,
	}
	if tradeNo != "" {
		updates["trade_no"] = tradeNo
	}
	result := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("bill_id = ? AND status = ?", billID, models.WithdrawalStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
