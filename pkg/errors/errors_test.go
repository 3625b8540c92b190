package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeNetwork, cause, "apply request failed")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Code() != CodeNetwork {
		t.Fatalf("unexpected code: %s", err.Code())
	}
}

func TestAsThroughWrappedChain(t *testing.T) {
	inner := New(CodePlatformRejected, "insufficient balance").WithDetails(map[string]any{
		"sub_code": "BIZ_FAIL",
	})
	outer := fmt.Errorf("split apply: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through wrapped chain")
	}
	if typed.Code() != CodePlatformRejected {
		t.Fatalf("unexpected code: %s", typed.Code())
	}
}

func TestRetryabilityByCode(t *testing.T) {
	cases := []struct {
		code      Code
		retryable bool
		terminal  bool
	}{
		{CodeNetwork, true, false},
		{CodeProtocol, false, true},
		{CodePlatformRejected, false, true},
		{CodePlanningInvariant, false, false},
		{CodeConfiguration, false, false},
	}
	for _, tc := range cases {
		err := New(tc.code, "x")
		if got := IsRetryable(err); got != tc.retryable {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.code, got, tc.retryable)
		}
		if got := IsTerminal(err); got != tc.terminal {
			t.Errorf("%s: IsTerminal = %v, want %v", tc.code, got, tc.terminal)
		}
	}
}

func TestUntypedErrorIsNotRetryable(t *testing.T) {
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatal("plain errors must not be treated as retryable")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("BOGUS"))
	if meta.PublicMessage != metadataByCode[CodeInternal].PublicMessage {
		t.Fatal("unknown codes should map to internal metadata")
	}
}
