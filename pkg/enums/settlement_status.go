package enums

import "fmt"

// SettlementStatus is the asynchronous outcome of a split or transfer as
// reported by the platform's balance-pay query.
type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "pending"
	SettlementSuccess  SettlementStatus = "success"
	SettlementFailed   SettlementStatus = "failed"
	SettlementRefunded SettlementStatus = "refunded"
	// SettlementNotSent means the platform has not yet submitted the request
	// to the bank rail. Treated like pending by the confirmation stage.
	SettlementNotSent SettlementStatus = "not_sent"
)

// Terminal reports whether the status resolves the asynchronous outcome. Only
// terminal statuses trigger a writeback; pending records are re-queried on
// the next pass.
func (s SettlementStatus) Terminal() bool {
	switch s {
	case SettlementSuccess, SettlementFailed, SettlementRefunded:
		return true
	}
	return false
}

// platform wire codes: 0=failed 1=success 2=refunded 9=pending n=not yet sent
var settlementStatusByWireCode = map[string]SettlementStatus{
	"0": SettlementFailed,
	"1": SettlementSuccess,
	"2": SettlementRefunded,
	"9": SettlementPending,
	"n": SettlementNotSent,
}

// ParseSettlementWireStatus maps the platform's single-character status code
// to a SettlementStatus.
func ParseSettlementWireStatus(code string) (SettlementStatus, error) {
	if status, ok := settlementStatusByWireCode[code]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown settlement status code %q", code)
}
