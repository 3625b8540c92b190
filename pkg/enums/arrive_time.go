package enums

import "fmt"

// ArriveTime is the platform's arrival-speed mode for a money movement.
type ArriveTime string

const (
	// ArriveSameDay settles the same day (T0).
	ArriveSameDay ArriveTime = "T0"
	// ArriveNextDay settles the next day (T1).
	ArriveNextDay ArriveTime = "T1"
)

var validArriveTimes = []ArriveTime{
	ArriveSameDay,
	ArriveNextDay,
}

// IsValid reports whether the value matches the canonical arrive time enum.
func (a ArriveTime) IsValid() bool {
	for _, candidate := range validArriveTimes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseArriveTime converts the raw string to ArriveTime.
func ParseArriveTime(value string) (ArriveTime, error) {
	for _, candidate := range validArriveTimes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid arrive time %q", value)
}
