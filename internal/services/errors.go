package services

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation                = errors.New("validation failed")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrNotFound                  = errors.New("not found")
	ErrBankAccountNotFound       = fmt.Errorf("bank account %w", ErrNotFound)
	ErrInvalidOrExpiredOtp       = errors.New("invalid or expired OTP")
	ErrDuplicateAccount          = errors.New("bank account already added")
	ErrAccountVerificationFailed = errors.New("could not verify bank account")
	ErrNinNotVerified            = errors.New("NIN verification required for withdrawal")
	ErrNoVerifiedBankAccount     = errors.New("no verified bank account on file")
	ErrRecipientCreationFailed   = errors.New("failed to create transfer recipient")
	ErrTransferInitiationFailed  = errors.New("failed to initiate transfer")
	ErrTooManyOtpRequests        = errors.New("too many OTP requests, try again later")
	ErrExternalService           = errors.New("external service error")
)

// ValidationError describes a rejected input. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrInvalidAmount is returned for zero, negative or below-minimum amounts.
var ErrInvalidAmount error = &ValidationError{Field: "amount", Message: "amount must be greater than zero"}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError wraps a failed collaborator call. Kind is the
// domain error the failure maps to, Err is the underlying cause.
type ExternalServiceError struct {
	Service string
	Op      string
	Kind    error
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error {
	return []error{e.Kind, ErrExternalService, e.Err}
}

func external(kind error, service, op string, err error) error {
	return &ExternalServiceError{Service: service, Op: op, Kind: kind, Err: err}
}

// HTTPStatus maps the service error taxonomy onto response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidOrExpiredOtp), errors.Is(err, ErrNoVerifiedBankAccount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNinNotVerified):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyOtpRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAccountVerificationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrRecipientCreationFailed), errors.Is(err, ErrTransferInitiationFailed),
		errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show to API callers.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Kind.Error()
	}
	return err.Error()
}
