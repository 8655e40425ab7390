package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents internal error codes for node operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeKeyTooLarge     ErrorCode = 1002
	ErrCodeValueTooLarge   ErrorCode = 1003
	ErrCodeInvalidKey      ErrorCode = 1005
	ErrCodeMalformedFrame  ErrorCode = 1006

	// Server errors
	ErrCodeInternal        ErrorCode = 2000
	ErrCodeUnavailable     ErrorCode = 2001
	ErrCodeDiskFull        ErrorCode = 2002
	ErrCodeStorageIO       ErrorCode = 2003
	ErrCodeMigrationFailed ErrorCode = 2004
	ErrCodeUnknownNode     ErrorCode = 2005
	ErrCodeRegistry        ErrorCode = 2006
)

// String returns a short name for the code, used as a log field
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeKeyNotFound:
		return "key_not_found"
	case ErrCodeKeyTooLarge:
		return "key_too_large"
	case ErrCodeValueTooLarge:
		return "value_too_large"
	case ErrCodeInvalidKey:
		return "invalid_key"
	case ErrCodeMalformedFrame:
		return "malformed_frame"
	case ErrCodeUnavailable:
		return "unavailable"
	case ErrCodeDiskFull:
		return "disk_full"
	case ErrCodeStorageIO:
		return "storage_io"
	case ErrCodeMigrationFailed:
		return "migration_failed"
	case ErrCodeUnknownNode:
		return "unknown_node"
	case ErrCodeRegistry:
		return "registry"
	default:
		return "internal"
	}
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// IsClientError reports whether the error was caused by the request rather
// than by the node
func (e *StorageError) IsClientError() bool {
	return e.Code >= 1000 && e.Code < 2000
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func KeyNotFound(key string) *StorageError {
	return NewStorageError(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %s", key), nil).
		WithDetail("key", key)
}

func KeyTooLarge(size, maxSize int) *StorageError {
	return NewStorageError(ErrCodeKeyTooLarge, fmt.Sprintf("key length %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func ValueTooLarge(size, maxSize int) *StorageError {
	return NewStorageError(ErrCodeValueTooLarge, fmt.Sprintf("value length %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func InvalidKey(key, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func MalformedFrame(cause error) *StorageError {
	return NewStorageError(ErrCodeMalformedFrame, "unable to decode frame", cause)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeUnavailable, message, cause)
}

func DiskFull(usagePercent float64, availableBytes uint64) *StorageError {
	return NewStorageError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

func StorageIO(op, key string, cause error) *StorageError {
	return NewStorageError(ErrCodeStorageIO, fmt.Sprintf("%s failed for key '%s'", op, key), cause).
		WithDetail("op", op).
		WithDetail("key", key)
}

func MigrationFailed(target string, sent int, cause error) *StorageError {
	return NewStorageError(ErrCodeMigrationFailed, fmt.Sprintf("migration to %s aborted after %d keys", target, sent), cause).
		WithDetail("target", target).
		WithDetail("keys_sent", sent)
}

func UnknownNode(name string) *StorageError {
	return NewStorageError(ErrCodeUnknownNode, fmt.Sprintf("node %s is not in the ring metadata", name), nil).
		WithDetail("node", name)
}

func RegistryFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeRegistry, message, cause)
}

// IsStorageError checks if an error is a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err is a key-not-found error
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeKeyNotFound
}
