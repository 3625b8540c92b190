package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mmretail/settlement-backend/pkg/db/models"
)

// NotificationRepository queues operator-facing messages. Dispatch is an
// external concern; the pipeline only enqueues.
type NotificationRepository interface {
	WithTx(tx *gorm.DB) NotificationRepository
	Enqueue(ctx context.Context, message *models.NotificationMessage) error
	ListUndispatched(ctx context.Context, limit int) ([]models.NotificationMessage, error)
	MarkDispatched(ctx context.Context, id int64) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository returns a notification repository bound to the
// provided database.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) WithTx(tx *gorm.DB) NotificationRepository {
	if tx == nil {
		return r
	}
	return &notificationRepository{db: tx}
}

func (r *notificationRepository) Enqueue(ctx context.Context, message *models.NotificationMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *notificationRepository) ListUndispatched(ctx context.Context, limit int) ([]models.NotificationMessage, error) {
	query := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var messages []models.NotificationMessage
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *notificationRepository) MarkDispatched(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationMessage{}).
		Where("id = ?", id).
		Update("dispatched_at", time.Now()).Error
}
