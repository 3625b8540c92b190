package enums

import "fmt"

// Stage identifies one step of the reconciliation pipeline. Stages run in the
// order listed here; each stage's eligibility predicate depends on the flags
// written by the stages before it.
type Stage string

const (
	StageUpload       Stage = "upload"
	StageSplitApply   Stage = "split_apply"
	StageSplitConfirm Stage = "split_confirm"
	StageRecharge     Stage = "recharge"
	StageBalanceCheck Stage = "balance_check"
	StageWithdraw     Stage = "withdraw"
)

// PipelineOrder is the mandatory sequential stage order for a scheduled run.
var PipelineOrder = []Stage{
	StageUpload,
	StageSplitApply,
	StageSplitConfirm,
	StageRecharge,
	StageBalanceCheck,
	StageWithdraw,
}

// IsValid reports whether the value matches the canonical stage enum.
func (s Stage) IsValid() bool {
	for _, candidate := range PipelineOrder {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStage converts the raw string to Stage.
func ParseStage(value string) (Stage, error) {
	for _, candidate := range PipelineOrder {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pipeline stage %q", value)
}
