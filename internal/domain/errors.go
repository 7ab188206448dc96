package domain

import "errors"

// Error is an expected, recoverable failure that callers can branch on by Code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrSessionAlreadyOpen   = NewError("SESSION_ALREADY_OPEN", "operator already has an open cash session")
	ErrSessionNotFound      = NewError("SESSION_NOT_FOUND", "cash session not found")
	ErrSessionClosed        = NewError("SESSION_CLOSED", "cash session is not open")
	ErrAlreadyVoided        = NewError("ALREADY_VOIDED", "payment is already voided")
	ErrVoidWindowExpired    = NewError("VOID_WINDOW_EXPIRED", "payments can only be voided on the day they were taken")
	ErrInvalidAmount        = NewError("INVALID_AMOUNT", "invalid amount")
	ErrUnknownPaymentMethod = NewError("UNKNOWN_PAYMENT_METHOD", "payment method is not enabled for this tenant")

	ErrPaymentNotFound     = NewError("PAYMENT_NOT_FOUND", "payment not found")
	ErrMethodAlreadyExists = NewError("METHOD_ALREADY_EXISTS", "payment method already exists")
	ErrInvalidInput        = NewError("INVALID_INPUT", "invalid input")
	ErrUnauthenticated     = NewError("UNAUTHENTICATED", "authentication required")
	ErrForbidden           = NewError("FORBIDDEN", "not allowed to perform this action")
)

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
