package enums

import "fmt"

// FlagState is the tri-state lifecycle marker stored on settlement records.
// The empty string means the stage has not run; "Y" means completed; "F" means
// the last attempt terminally failed and the record waits for manual reset.
type FlagState string

const (
	FlagUnset  FlagState = ""
	FlagDone   FlagState = "Y"
	FlagFailed FlagState = "F"
)

var validFlagStates = []FlagState{
	FlagUnset,
	FlagDone,
	FlagFailed,
}

// IsValid reports whether the value matches the canonical flag state enum.
func (f FlagState) IsValid() bool {
	for _, candidate := range validFlagStates {
		if candidate == f {
			return true
		}
	}
	return false
}

// Settled reports whether the stage reached a terminal outcome.
func (f FlagState) Settled() bool {
	return f == FlagDone || f == FlagFailed
}

// ForOutcome maps a success/failure outcome to the flag written back.
func ForOutcome(success bool) FlagState {
	if success {
		return FlagDone
	}
	return FlagFailed
}

// ParseFlagState converts the raw string to FlagState.
func ParseFlagState(value string) (FlagState, error) {
	for _, candidate := range validFlagStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid flag state %q", value)
}
