package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced to clients.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION"
	CodeAuthorization  ErrorCode = "AUTHORIZATION"
	CodeAuthentication ErrorCode = "AUTHENTICATION"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeTransientPush  ErrorCode = "TRANSIENT_PUSH"
	CodeInternal       ErrorCode = "INTERNAL"
)

// Error is a classified error. None of these are fatal to the process.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError rejects a single malformed message; the connection stays open.
func ValidationError(msg string) error {
	return &Error{Code: CodeValidation, Message: msg}
}

// AuthorizationError rejects an action outside the caller's scope.
func AuthorizationError(msg string) error {
	return &Error{Code: CodeAuthorization, Message: msg}
}

// AuthenticationError rejects a bad or missing credential.
func AuthenticationError(msg string, cause error) error {
	return &Error{Code: CodeAuthentication, Message: msg, Err: cause}
}

// NotFoundError reports an unknown key.
func NotFoundError(msg string) error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// TransientPushError reports a single undeliverable push.
func TransientPushError(connID string, cause error) error {
	return &Error{Code: CodeTransientPush, Message: "push to " + connID, Err: cause}
}

// CodeOf returns the classification of err, CodeInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
