package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Input errors
	ErrShapeMismatch       = errors.New("tensor shape mismatch")
	ErrIndexOutOfRange     = errors.New("categorical index out of range")
	ErrInvalidScale        = errors.New("scale must be strictly positive")
	ErrInsufficientHistory = errors.New("insufficient history for lag windows")
	ErrUnknownDistribution = errors.New("unknown distribution")

	// Model errors
	ErrInvalidDistributionParams = errors.New("invalid distribution parameters")
	ErrNonFiniteLoss             = errors.New("non-finite loss")
	ErrCheckpointDecode          = errors.New("failed to decode checkpoint")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")
	ErrDataNotFound            = errors.New("data not found")

	// Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNetworkTimeout   = errors.New("network timeout")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Internal errors
	ErrInternal    = errors.New("internal error")
	ErrUnavailable = errors.New("service unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeModel         ErrorType = "model"
	ErrorTypeTraining      ErrorType = "training"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause attaches an underlying error, typically one of the sentinels above
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewModelError creates a model error
func NewModelError(code, message string) *AppError {
	return NewAppError(ErrorTypeModel, code, message)
}

// NewTrainingError creates a training error
func NewTrainingError(code, message string) *AppError {
	return NewAppError(ErrorTypeTraining, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewConfigurationError creates a configuration error caused by ErrInvalidConfiguration
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message).WithCause(ErrInvalidConfiguration)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      ErrInternal,
		Retryable:  false,
		HTTPStatus: 500,
	}
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeStorage:
		return 404
	case ErrorTypeModel, ErrorTypeTraining, ErrorTypeInternal:
		return 500
	case ErrorTypeNetwork, ErrorTypeConfiguration:
		return 503
	default:
		return 500
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNetworkTimeout):
		return true
	case errors.Is(err, ErrConnectionFailed):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// HasCode reports whether err is, or wraps, an AppError carrying code
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if errors.As(err, &appErr) {
			if appErr.Code == code {
				return true
			}
			err = appErr.Cause
			continue
		}
		return false
	}
	return false
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput        = "INVALID_INPUT"
	CodeShapeMismatch       = "SHAPE_MISMATCH"
	CodeIndexOutOfRange     = "INDEX_OUT_OF_RANGE"
	CodeInvalidScale        = "INVALID_SCALE"
	CodeInsufficientHistory = "INSUFFICIENT_HISTORY"
	CodeUnknownDistribution = "UNKNOWN_DISTRIBUTION"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"

	// Model error codes
	CodeInvalidDistributionParams = "INVALID_DISTRIBUTION_PARAMS"
	CodeNonFiniteLoss             = "NON_FINITE_LOSS"
	CodeCheckpointDecodeFailed    = "CHECKPOINT_DECODE_FAILED"
	CodeCheckpointEncodeFailed    = "CHECKPOINT_ENCODE_FAILED"
	CodeModelNotFound             = "MODEL_NOT_FOUND"

	// Training error codes
	CodeTrainingFailed = "TRAINING_FAILED"
	CodeEmptyDataset   = "EMPTY_DATASET"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeDataNotFound     = "DATA_NOT_FOUND"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeNotConnected     = "NOT_CONNECTED"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
