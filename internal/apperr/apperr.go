// Package apperr defines the typed error taxonomy shared by every layer of
// the delivery pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies the category of a failure, independent of its message.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotAuthenticated  Code = "NOT_AUTHENTICATED"
	CodeMessageNotFound   Code = "MESSAGE_NOT_FOUND"
	CodeCacheOperation    Code = "CACHE_OPERATION_FAILED"
	CodeCacheConnection   Code = "CACHE_CONNECTION_ERROR"
	CodeQueuePublish      Code = "QUEUE_PUBLISH_FAILED"
	CodeQueueConsume      Code = "QUEUE_CONSUME_FAILED"
	CodeQueueConnection   Code = "QUEUE_CONNECTION_ERROR"
	CodeDatabase          Code = "DATABASE_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is the single error value used across the core. It carries a Code
// for programmatic dispatch (e.g. whether to compensate) and an optional
// Cause for the underlying failure.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Op and Key annotate cache/queue failures with the operation name and
	// the key/topic involved, as spec.md §4.3/§4.4 require for
	// CacheOperationFailed / QueuePublishFailed diagnostics.
	Op  string
	Key string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func NotAuthenticated(msg string) error {
	return New(CodeNotAuthenticated, msg)
}

func MessageNotFound(messageID string) error {
	return &Error{Code: CodeMessageNotFound, Message: "message not found", Key: messageID}
}

func CacheOperationFailed(op, key string, cause error) error {
	return &Error{Code: CodeCacheOperation, Message: "cache operation failed", Op: op, Key: key, Cause: cause}
}

func CacheConnection(cause error) error {
	return Wrap(CodeCacheConnection, "cache connection error", cause)
}

func QueuePublishFailed(cause error) error {
	return Wrap(CodeQueuePublish, "queue publish failed", cause)
}

func QueueConsumeFailed(cause error) error {
	return Wrap(CodeQueueConsume, "queue consume failed", cause)
}

func QueueConnection(cause error) error {
	return Wrap(CodeQueueConnection, "queue connection error", cause)
}

func Database(cause error) error {
	return Wrap(CodeDatabase, "database error", cause)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf extracts the Code of err, defaulting to CodeInternal for errors
// that did not originate from this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
