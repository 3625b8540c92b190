package models

import "time"

// NotificationMessage is an outbound operator notification queued for an
// external sender. Balance-insufficiency alerts land here instead of flipping
// the record's balance flag.
type NotificationMessage struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Recipient    string     `gorm:"column:recipient;not null"`
	Kind         string     `gorm:"column:kind;not null"`
	Body         string     `gorm:"column:body;not null"`
	BillID       string     `gorm:"column:bill_id"`
	MerchantID   string     `gorm:"column:merchant_id"`
	DispatchedAt *time.Time `gorm:"column:dispatched_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (NotificationMessage) TableName() string { return "notification_messages" }

// NotificationKindBalanceInsufficient flags a merchant whose payment account
// cannot cover the record's required amount.
const NotificationKindBalanceInsufficient = "balance_insufficient"
