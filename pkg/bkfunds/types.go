package bkfunds

import (
	"encoding/json"

	"github.com/mmretail/settlement-backend/pkg/enums"
)

// Method names exposed by the settlement platform.
const (
	MethodOrderUpload  = "bkfunds.order.upload"
	MethodPayApply     = "bkfunds.balance.pay.apply"
	MethodPayQuery     = "bkfunds.balance.pay.query"
	MethodBalanceQuery = "merchant.balanceQuery"
	MethodWithdraw     = "bkfunds.withdraw.apply"
)

const codeOK = "10000"

// Envelope is the structured platform response, unwrapped from the
// <method>_response root key.
type Envelope struct {
	RequestID string          `json:"request_id"`
	Code      string          `json:"code"`
	Msg       string          `json:"msg"`
	SubCode   string          `json:"sub_code"`
	SubMsg    string          `json:"sub_msg"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
}

// OK reports a platform-accepted response.
func (e *Envelope) OK() bool {
	return e != nil && e.Success && e.Code == codeOK
}

// UploadOrderParams carries one order report or recharge upload.
type UploadOrderParams struct {
	NodeID          string `validate:"required"`
	OrderID         string `validate:"required"`
	OrderAmount     int64  `validate:"gt=0"`
	OrderTime       string `validate:"required"` // yyyyMMddHHmmss
	TradeType       string `validate:"required"`
	PayType         string
	MerchantID      string `validate:"required"`
	StoreID         string
	UploadMode      string `validate:"required"`
	AccountType     string
	PayerMerchantID string
	Remark          string
}

// UploadResult is the parsed order-upload outcome.
type UploadResult struct {
	Accepted  bool
	RequestID string
	SubCode   string
	SubMsg    string
}

// ApplyParams describes one balance-pay transfer between two platform
// accounts. Amount is in minor units.
type ApplyParams struct {
	NodeID          string            `validate:"required"`
	PlatformNo      string            `validate:"required"`
	TotalAmount     int64             `validate:"gt=0"`
	PayerMerchantID string            `validate:"required"`
	PayerType       enums.AccountType `validate:"required"`
	PayeeMerchantID string            `validate:"required"`
	PayeeType       enums.AccountType `validate:"required"`
	ArriveTime      enums.ArriveTime
	Remark          string
}

// ApplyResult is the structured outcome of a pay-apply call. A platform
// rejection is a normal result with Accepted=false, not a Go error.
type ApplyResult struct {
	Accepted      bool
	CorrelationID string // the platform_no sent with this attempt
	RequestID     string
	TradeNo       string
	SubCode       string
	SubMsg        string
}

type applyData struct {
	TradeNo string `json:"trade_no"`
}

// PayStatus is the parsed asynchronous settlement outcome of a prior apply.
type PayStatus struct {
	Status           enums.SettlementStatus
	TradeNo          string
	PlatformNo       string
	RealAmountCents  int64
	FinishTime       string // yyyyMMddHHmmss, empty until terminal
	StatusDesc       string
	TotalAmountCents int64
}

type payQueryData struct {
	TradeNo    string `json:"trade_no"`
	PlatformNo string `json:"platform_no"`
	Status     string `json:"status"`
	StatusDesc string `json:"status_desc"`
	RealAmount string `json:"real_amount"`
	FinishTime string `json:"finish_time"`
	Total      string `json:"total_amount"`
}

// BalanceQueryParams identifies one merchant account to inspect.
type BalanceQueryParams struct {
	NodeID         string `validate:"required"`
	MerchantID     string `validate:"required"`
	AccountSubType string
	StoreNo        string
}

// Balance is a merchant account balance snapshot in minor units.
type Balance struct {
	AvailableCents int64
	FrozenCents    int64
	RetainedCents  int64
	TotalCents     int64
}

type balanceData struct {
	AvailableBalance int64 `json:"available_balance"`
	FrozenBalance    int64 `json:"frozen_balance"`
	AmountRetained   int64 `json:"amount_retained"`
	TotalBalance     int64 `json:"total_balance"`
}

// WithdrawParams requests a payout of settled funds to the merchant's bank
// account.
type WithdrawParams struct {
	NodeID         string `validate:"required"`
	MerchantID     string `validate:"required"`
	StoreNo        string
	AccountSubType string `validate:"required"`
	TotalAmount    int64  `validate:"gt=0"`
	BankCardNo     string
	Remark         string
}

// WithdrawResult is the parsed withdraw-apply outcome.
type WithdrawResult struct {
	Accepted  bool
	RequestID string
	TradeNo   string
	SubCode   string
	SubMsg    string
}
