package blockauth

import (
	"errors"
	"fmt"
)

// ErrorCode represents blockauth error categories.
type ErrorCode string

const (
	ErrCodeInvalidArgument  ErrorCode = "invalid_argument"
	ErrCodeInvalidConfig    ErrorCode = "invalid_config"
	ErrCodeSigningFailed    ErrorCode = "signing_failed"
	ErrCodeMalformedToken   ErrorCode = "malformed_token"
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodeExpired          ErrorCode = "token_expired"
	ErrCodeIssuedInFuture   ErrorCode = "issued_in_future"
	ErrCodeKeyMismatch      ErrorCode = "key_mismatch"
	ErrCodeIssuerMismatch   ErrorCode = "issuer_mismatch"
	ErrCodeUnexpectedIssuer ErrorCode = "unexpected_issuer"
	ErrCodeCheckFailed      ErrorCode = "check_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidArgument:  "Invalid argument",
	ErrCodeInvalidConfig:    "Invalid configuration",
	ErrCodeSigningFailed:    "Signing failed",
	ErrCodeMalformedToken:   "Malformed token",
	ErrCodeInvalidSignature: "Invalid signature",
	ErrCodeExpired:          "Token expired",
	ErrCodeIssuedInFuture:   "Token issued in the future",
	ErrCodeKeyMismatch:      "Signer keys do not match public_keys",
	ErrCodeIssuerMismatch:   "Issuer does not match public_keys",
	ErrCodeUnexpectedIssuer: "Unsigned token names an issuer",
	ErrCodeCheckFailed:      "Verification check failed",
}

// Error wraps blockauth errors with a stable code and message.
// Check is set when the error comes from a failed verification check.
type Error struct {
	Code    ErrorCode
	Message string
	Check   CheckID
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Check != "" {
		base = fmt.Sprintf("%s (check %s)", base, e.Check)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func checkError(id CheckID, code ErrorCode) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Check: id}
}

// HasCode reports whether err is a blockauth *Error carrying code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
