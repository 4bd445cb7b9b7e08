package errors

import (
	"fmt"
	"time"
)

// StorageError represents a storage-specific error with additional context
type StorageError struct {
	*AppError
	StorageType string        `json:"storage_type,omitempty"` // "local", "s3", "redis", "influxdb", "postgres"
	Location    string        `json:"location,omitempty"`     // Bucket, path, key or table
	Operation   string        `json:"operation,omitempty"`    // "save", "load", "write", "query"
	Duration    time.Duration `json:"duration,omitempty"`
}

// WrapStorageError wraps a storage error with additional context
func WrapStorageError(err error, operation, storageType string) *StorageError {
	if err == nil {
		return nil
	}

	return &StorageError{
		AppError:    WrapError(err, ErrorTypeStorage, CodeStorageError, fmt.Sprintf("%s %s failed", storageType, operation)),
		StorageType: storageType,
		Operation:   operation,
	}
}

// NewStorageConnectionError creates a storage connection error. The cause
// matches both ErrStorageConnectionFailed and err.
func NewStorageConnectionError(storageType, location string, err error) *StorageError {
	cause := ErrStorageConnectionFailed
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrStorageConnectionFailed, err)
	}
	return &StorageError{
		AppError: &AppError{
			Type:       ErrorTypeStorage,
			Code:       CodeConnectionFailed,
			Message:    fmt.Sprintf("failed to connect to %s at %s", storageType, location),
			Cause:      cause,
			Retryable:  true,
			HTTPStatus: 503,
		},
		StorageType: storageType,
		Location:    location,
		Operation:   "connect",
	}
}

// NewStorageNotFoundError reports a missing key or object
func NewStorageNotFoundError(storageType, location string) *StorageError {
	return &StorageError{
		AppError: &AppError{
			Type:       ErrorTypeStorage,
			Code:       CodeDataNotFound,
			Message:    fmt.Sprintf("%s: %s not found", storageType, location),
			Cause:      ErrDataNotFound,
			HTTPStatus: 404,
		},
		StorageType: storageType,
		Location:    location,
		Operation:   "load",
	}
}

// WithLocation sets the storage location
func (se *StorageError) WithLocation(location string) *StorageError {
	se.Location = location
	return se
}

// WithDuration records how long the failed operation ran
func (se *StorageError) WithDuration(d time.Duration) *StorageError {
	se.Duration = d
	return se
}

// Unwrap exposes the embedded AppError so errors.As finds it
func (se *StorageError) Unwrap() error {
	return se.AppError
}
