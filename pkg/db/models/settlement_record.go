package models

import (
	"time"

	"github.com/mmretail/settlement-backend/pkg/enums"
)

// SettlementRecord is one (order header, payment detail) pair tracked through
// the reconciliation lifecycle. Rows are created when the order is first seen
// eligible for upload and are never deleted; the orchestrator owns every flag
// transition.
type SettlementRecord struct {
	BillID   string `gorm:"column:bill_id;primaryKey"`
	DetailID string `gorm:"column:detail_id;primaryKey"`

	// MerchantID and StoreID may be absent on the row; the identity resolver
	// falls back to the statically configured pair.
	MerchantID *string `gorm:"column:merchant_id"`
	StoreID    *string `gorm:"column:store_id"`
	PayType    string  `gorm:"column:pay_type"`

	WechatAmountCents int64 `gorm:"column:wechat_amount_cents;not null;default:0"`
	AlipayAmountCents int64 `gorm:"column:alipay_amount_cents;not null;default:0"`
	TotalAmountCents  int64 `gorm:"column:total_amount_cents;not null;default:0"`

	FranchiseeAmountCents int64 `gorm:"column:franchisee_amount_cents;not null;default:0"`
	CompanyAmountCents    int64 `gorm:"column:company_amount_cents;not null;default:0"`
	MarketingAmountCents  int64 `gorm:"column:marketing_amount_cents;not null;default:0"`

	PayerMerchantID    string `gorm:"column:payer_merchant_id"`
	FranchiseePayeeID  string `gorm:"column:franchisee_payee_id"`
	CompanyPayeeID     string `gorm:"column:company_payee_id"`
	MarketingAccountID string `gorm:"column:marketing_account_id"`

	Approved bool `gorm:"column:approved;not null;default:false"`
	Canceled bool `gorm:"column:canceled;not null;default:false"`

	Uploaded             enums.FlagState `gorm:"column:uploaded;type:varchar(1);not null;default:''"`
	SplitRequested       enums.FlagState `gorm:"column:split_requested;type:varchar(1);not null;default:''"`
	SplitExecuted        enums.FlagState `gorm:"column:split_executed;type:varchar(1);not null;default:''"`
	SplitResultConfirmed enums.FlagState `gorm:"column:split_result_confirmed;type:varchar(1);not null;default:''"`
	RechargeCompleted    enums.FlagState `gorm:"column:recharge_completed;type:varchar(1);not null;default:''"`
	BalanceVerified      enums.FlagState `gorm:"column:balance_verified;type:varchar(1);not null;default:''"`
	Withdrawn            enums.FlagState `gorm:"column:withdrawn;type:varchar(1);not null;default:''"`

	UploadRequestNo      *string    `gorm:"column:upload_request_no"`
	SplitCorrelationID   *string    `gorm:"column:split_correlation_id"`
	PlatformTradeNo      *string    `gorm:"column:platform_trade_no"`
	SettledAmountCents   *int64     `gorm:"column:settled_amount_cents"`
	SettlementFinishedAt *time.Time `gorm:"column:settlement_finished_at"`

	PaidAt           time.Time  `gorm:"column:paid_at;not null"`
	LastTransitionAt *time.Time `gorm:"column:last_transition_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (SettlementRecord) TableName() string { return "settlement_records" }

// MarketingMode reports whether the record moves money through the marketing
// transfer path. A positive marketing amount bypasses the regular split
// amounts entirely, even when they are populated.
func (r SettlementRecord) MarketingMode() bool {
	return r.MarketingAmountCents > 0
}

// ChannelAmountCents is the total paid across payment channels.
func (r SettlementRecord) ChannelAmountCents() int64 {
	return r.WechatAmountCents + r.AlipayAmountCents
}

// PlannedAmountCents is the total money movement the record authorizes.
func (r SettlementRecord) PlannedAmountCents() int64 {
	if r.MarketingMode() {
		return r.MarketingAmountCents
	}
	return r.FranchiseeAmountCents + r.CompanyAmountCents
}

// FlagFor returns the lifecycle flag owned by the given pipeline stage.
func (r SettlementRecord) FlagFor(stage enums.Stage) enums.FlagState {
	switch stage {
	case enums.StageUpload:
		return r.Uploaded
	case enums.StageSplitApply:
		return r.SplitRequested
	case enums.StageSplitConfirm:
		return r.SplitResultConfirmed
	case enums.StageRecharge:
		return r.RechargeCompleted
	case enums.StageBalanceCheck:
		return r.BalanceVerified
	case enums.StageWithdraw:
		return r.Withdrawn
	}
	return enums.FlagUnset
}
