package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeConfiguration is fatal at startup: missing credentials or malformed
	// static config. Never produced per record.
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	// CodeNetwork covers timeouts and connection failures talking to the
	// settlement platform. Never written back as a terminal flag.
	CodeNetwork Code = "NETWORK_ERROR"
	// CodeProtocol covers malformed or unexpectedly shaped platform responses.
	CodeProtocol Code = "PROTOCOL_ERROR"
	// CodePlatformRejected is a well-formed rejection from the settlement
	// platform, terminal for the attempt.
	CodePlatformRejected Code = "PLATFORM_REJECTED"
	// CodePlanningInvariant means computed split amounts fail reconciliation;
	// the record is excluded from the batch for manual review.
	CodePlanningInvariant Code = "PLANNING_INVARIANT"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus int
	// Retryable marks errors eligible for automatic retry: the record's stage
	// flag stays untouched and the next batch pass picks it up again.
	Retryable      bool
	Terminal       bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeConfiguration: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      false,
		Terminal:       false,
		PublicMessage:  "configuration error",
		DetailsAllowed: false,
	},
	CodeNetwork: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		Terminal:       false,
		PublicMessage:  "settlement platform unreachable",
		DetailsAllowed: false,
	},
	CodeProtocol: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      false,
		Terminal:       true,
		PublicMessage:  "unexpected settlement platform response",
		DetailsAllowed: true,
	},
	CodePlatformRejected: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		Terminal:       true,
		PublicMessage:  "settlement platform rejected the request",
		DetailsAllowed: true,
	},
	CodePlanningInvariant: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		Terminal:       false,
		PublicMessage:  "split plan failed amount reconciliation",
		DetailsAllowed: true,
	},
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "conflict detected",
		DetailsAllowed: false,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// IsRetryable reports whether err carries a code whose metadata allows
// automatic retry on the next batch pass.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.Code()).Retryable
}

// IsTerminal reports whether err should be written back as a failed flag.
func IsTerminal(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.Code()).Terminal
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
