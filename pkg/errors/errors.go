package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application errors by blast radius.
type ErrorCode string

const (
	// ErrCodeChannel is fatal to the room session: the signaling channel
	// failed to connect or dropped.
	ErrCodeChannel ErrorCode = "CHANNEL_ERROR"
	// ErrCodeNegotiation fails a single peer session only.
	ErrCodeNegotiation ErrorCode = "NEGOTIATION_ERROR"
	// ErrCodeMediaUnavailable is a local collaborator failure; the room
	// can still be joined with no outgoing tracks.
	ErrCodeMediaUnavailable ErrorCode = "MEDIA_UNAVAILABLE"
	// ErrCodeInvalidMessage marks a malformed or out-of-protocol message.
	ErrCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	// ErrCodeInternal is everything else.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is an application error with a code and optional context.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func NewChannelError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeChannel, Message: message, Cause: cause}
}

func NewNegotiationError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeNegotiation, Message: message, Cause: cause}
}

func NewMediaUnavailableError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeMediaUnavailable, Message: message, Cause: cause}
}

func NewInvalidMessageError(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidMessage, Message: message}
}

// HasCode reports whether err or anything it wraps carries the code.
func HasCode(err error, code ErrorCode) bool {
	app := Get(err)
	return app != nil && app.Code == code
}

// Get extracts the first AppError in the chain, or nil.
func Get(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return nil
}
