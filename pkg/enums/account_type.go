package enums

import "fmt"

// AccountType is the platform-defined merchant account classification. The
// wire values are single digits and must be preserved byte-for-byte.
type AccountType string

const (
	AccountCollection      AccountType = "0"
	AccountPayment         AccountType = "1"
	AccountPendingRecharge AccountType = "2"
)

var validAccountTypes = []AccountType{
	AccountCollection,
	AccountPayment,
	AccountPendingRecharge,
}

// IsValid reports whether the value matches the canonical account type enum.
func (a AccountType) IsValid() bool {
	for _, candidate := range validAccountTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAccountType converts the raw string to AccountType.
func ParseAccountType(value string) (AccountType, error) {
	for _, candidate := range validAccountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account type %q", value)
}
