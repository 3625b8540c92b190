package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/mmretail/settlement-backend/internal/ledger"
	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/logger"
)

const defaultDispatchBatch = 50

// Sender delivers one queued operator notification.
type Sender interface {
	Send(ctx context.Context, message models.NotificationMessage) error
}

// LogSender surfaces notifications through structured logs. It stands in
// until an outbound channel (mail, webhook) is wired.
type LogSender struct {
	Logger *logger.Logger
}

func (s LogSender) Send(ctx context.Context, message models.NotificationMessage) error {
	s.Logger.Warn(s.Logger.WithFields(ctx, map[string]any{
		"kind":      message.Kind,
		"recipient": message.Recipient,
		"bill_id":   message.BillID,
	}), message.Body)
	return nil
}

// NotificationDispatchJob drains the queued notifications and marks each one
// dispatched after delivery. A failed send leaves the row queued for the next
// cycle.
type NotificationDispatchJob struct {
	repo      ledger.NotificationRepository
	sender    Sender
	batchSize int
	logg      *logger.Logger
}

// NewNotificationDispatchJob builds the dispatch job.
func NewNotificationDispatchJob(repo ledger.NotificationRepository, sender Sender, logg *logger.Logger) (*NotificationDispatchJob, error) {
	if repo == nil {
		return nil, fmt.Errorf("notification repository required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &NotificationDispatchJob{
		repo:      repo,
		sender:    sender,
		batchSize: defaultDispatchBatch,
		logg:      logg,
	}, nil
}

func (j *NotificationDispatchJob) Name() string { return "notification_dispatch" }

func (j *NotificationDispatchJob) Run(ctx context.Context) error {
	messages, err := j.repo.ListUndispatched(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("listing queued notifications: %w", err)
	}
	var errs error
	dispatched := 0
	for _, message := range messages {
		if err := j.sender.Send(ctx, message); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sending notification %d: %w", message.ID, err))
			continue
		}
		if err := j.repo.MarkDispatched(ctx, message.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("marking notification %d: %w", message.ID, err))
			continue
		}
		dispatched++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"queued":     len(messages),
		"dispatched": dispatched,
	}), "notification dispatch complete")
	return errs
}
