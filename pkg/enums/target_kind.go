package enums

import "fmt"

// TargetKind classifies a single money-movement target in a split plan.
type TargetKind string

const (
	// TargetFranchisee is the franchisee share of a regular split.
	TargetFranchisee TargetKind = "FRANCHISEE"
	// TargetCompany is the company share of a regular split.
	TargetCompany TargetKind = "COMPANY"
	// TargetMarketingToSupplier moves funds from the marketing sub-account to
	// the supplier's payment account instead of the regular split.
	TargetMarketingToSupplier TargetKind = "MARKETING_TO_SUPPLIER"
)

var validTargetKinds = []TargetKind{
	TargetFranchisee,
	TargetCompany,
	TargetMarketingToSupplier,
}

// IsValid reports whether the value matches the canonical target kind enum.
func (k TargetKind) IsValid() bool {
	for _, candidate := range validTargetKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTargetKind converts the raw string to TargetKind.
func ParseTargetKind(value string) (TargetKind, error) {
	for _, candidate := range validTargetKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid target kind %q", value)
}
