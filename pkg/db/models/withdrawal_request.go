package models

import "time"

// Withdrawal statuses follow the upstream order-system codes: 006 means
// approved and awaiting transfer, 007 means funds moved to the bank rail.
const (
	WithdrawalStatusPending   = "006"
	WithdrawalStatusWithdrawn = "007"
)

// WithdrawalRequest is a request to move settled funds out to a bank account.
type WithdrawalRequest struct {
	BillID      string     `gorm:"column:bill_id;primaryKey"`
	MerchantID  string     `gorm:"column:merchant_id;not null"`
	AmountCents int64      `gorm:"column:amount_cents;not null"`
	BankAccount string     `gorm:"column:bank_account"`
	Status      string     `gorm:"column:status;not null;default:'006'"`
	TradeNo     *string    `gorm:"column:trade_no"`
	WithdrawnAt *time.Time `gorm:"column:withdrawn_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }
