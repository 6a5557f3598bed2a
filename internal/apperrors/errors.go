// Package apperrors provides the error taxonomy shared by the ledger, marketplace and access gate.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind independent of its message.
type Code string

const (
	CodeInvalidTier          Code = "INVALID_TIER"
	CodeInsufficientPayment  Code = "INSUFFICIENT_PAYMENT"
	CodeInvalidPublicationID Code = "INVALID_PUBLICATION_ID"
	CodeInvalidSubscription  Code = "INVALID_SUBSCRIPTION"
	CodeInsufficientAccess   Code = "INSUFFICIENT_ACCESS"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodePriceMismatch        Code = "PRICE_MISMATCH"
	CodeRoyaltyUnsettled     Code = "ROYALTY_UNSETTLED"

	CodeNotFound            Code = "NOT_FOUND"
	CodeNotListed           Code = "NOT_LISTED"
	CodeInvalidPrice        Code = "INVALID_PRICE"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is a structured application error. Two errors match under errors.Is
// when their codes are equal, so detailed copies still match the sentinels below.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e annotated with details.
func (e *Error) WithDetails(format string, args ...interface{}) *Error {
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Details:   fmt.Sprintf(format, args...),
		Retryable: e.Retryable,
	}
}

var (
	ErrInvalidTier          = &Error{Code: CodeInvalidTier, Message: "requested tier is not available"}
	ErrInsufficientPayment  = &Error{Code: CodeInsufficientPayment, Message: "payment below required amount"}
	ErrInvalidPublicationID = &Error{Code: CodeInvalidPublicationID, Message: "subscription does not belong to this publication"}
	ErrInvalidSubscription  = &Error{Code: CodeInvalidSubscription, Message: "subscription is not valid for this content"}
	ErrInsufficientAccess   = &Error{Code: CodeInsufficientAccess, Message: "subscription does not grant the required access"}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized, Message: "caller does not hold the required capability"}
	ErrPriceMismatch        = &Error{Code: CodePriceMismatch, Message: "payment does not match listed price"}
	ErrRoyaltyUnsettled     = &Error{Code: CodeRoyaltyUnsettled, Message: "royalty was not settled"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "resource not found"}
	ErrNotListed            = &Error{Code: CodeNotListed, Message: "item is not listed for sale"}
	ErrInvalidPrice         = &Error{Code: CodeInvalidPrice, Message: "listing price must be positive"}
	ErrConcurrencyConflict  = &Error{Code: CodeConcurrencyConflict, Message: "concurrent modification detected", Retryable: true}
	ErrRateLimited          = &Error{Code: CodeRateLimited, Message: "rate limit exceeded", Retryable: true}
	ErrValidation           = &Error{Code: CodeValidation, Message: "request failed validation"}
)

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case CodeInvalidTier, CodeInvalidPublicationID, CodeInvalidPrice, CodeValidation:
		return http.StatusBadRequest
	case CodeInsufficientPayment, CodePriceMismatch, CodeRoyaltyUnsettled:
		return http.StatusPaymentRequired
	case CodeUnauthorized, CodeInvalidSubscription, CodeInsufficientAccess:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotListed, CodeConcurrencyConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Normalize always yields an *Error, wrapping unknown failures as internal errors.
func Normalize(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Code: CodeInternal, Message: "unexpected error", Details: err.Error()}
}
