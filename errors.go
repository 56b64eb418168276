package strata

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeCapabilityMismatch ErrorType = "capability_mismatch"
	ErrorTypeOutOfRange         ErrorType = "out_of_range"
	ErrorTypeNotAvailable       ErrorType = "not_available"
	ErrorTypeProviderTransient  ErrorType = "provider_transient"
	ErrorTypeProviderPermanent  ErrorType = "provider_permanent"
	ErrorTypePartialProvision   ErrorType = "partial_provision"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeInternal           ErrorType = "internal"
)

// StrataError is the error value surfaced by the column view layer and the scaler.
type StrataError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *StrataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *StrataError) Unwrap() error {
	return e.Cause
}

// Is matches another *StrataError with the same type, and the same code when the
// target carries one. This lets the package sentinels work with errors.Is.
func (e *StrataError) Is(target error) bool {
	t, ok := target.(*StrataError)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithDetails adds details to a StrataError
func (e *StrataError) WithDetails(details map[string]any) *StrataError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to a StrataError
func (e *StrataError) WithDetail(key string, value any) *StrataError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to a StrataError
func (e *StrataError) WithCause(cause error) *StrataError {
	e.Cause = cause
	return e
}

// Error codes
const (
	ErrCodeCapabilityMismatch = "CAPABILITY_MISMATCH"
	ErrCodeRowOutOfRange      = "ROW_OUT_OF_RANGE"
	ErrCodeIndexOutOfRange    = "INDEX_OUT_OF_RANGE"
	ErrCodeBufferUnavailable  = "BUFFER_UNAVAILABLE"
	ErrCodeSegmentEvicted     = "SEGMENT_EVICTED"
	ErrCodeColumnNotFound     = "COLUMN_NOT_FOUND"
	ErrCodeUnknownValueType   = "UNKNOWN_VALUE_TYPE"
	ErrCodeInvalidManifest    = "INVALID_MANIFEST"
	ErrCodeInvalidEncoding    = "INVALID_ENCODING"

	ErrCodeLaunchFailed     = "LAUNCH_FAILED"
	ErrCodeDescribeFailed   = "DESCRIBE_FAILED"
	ErrCodeTerminateFailed  = "TERMINATE_FAILED"
	ErrCodeNoInstances      = "NO_INSTANCES_LAUNCHED"
	ErrCodePartialLaunch    = "PARTIAL_LAUNCH"
	ErrCodeCapacityExceeded = "WORKER_CAPACITY_EXCEEDED"
	ErrCodeWorkerTerminated = "WORKER_TERMINATED"
	ErrCodeWorkerNotFound   = "WORKER_NOT_FOUND"
	ErrCodeRegistrySnapshot = "REGISTRY_SNAPSHOT_FAILED"
	ErrCodeCircuitOpen      = "PROVIDER_CIRCUIT_OPEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// Sentinels for errors.Is. They match any StrataError of the same type.
var (
	ErrCapabilityMismatch = &StrataError{Type: ErrorTypeCapabilityMismatch}
	ErrOutOfRange         = &StrataError{Type: ErrorTypeOutOfRange}
	ErrNotAvailable       = &StrataError{Type: ErrorTypeNotAvailable}
	ErrProviderTransient  = &StrataError{Type: ErrorTypeProviderTransient}
	ErrProviderPermanent  = &StrataError{Type: ErrorTypeProviderPermanent}
	ErrPartialProvision   = &StrataError{Type: ErrorTypePartialProvision}
)

// ============================================================================
// StrataError Constructors
// ============================================================================

// NewStrataError creates a new StrataError
func NewStrataError(errorType ErrorType, code, message string) *StrataError {
	return &StrataError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewCapabilityMismatchError reports that a column does not expose the requested view.
func NewCapabilityMismatchError(have ColumnCapabilities, view string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeCapabilityMismatch,
		Code:    ErrCodeCapabilityMismatch,
		Message: fmt.Sprintf("%s column has no %s view", have.Type, view),
		Details: map[string]any{
			"type": have.Type.String(),
			"view": view,
		},
	}
}

// NewOutOfRangeError reports a row index outside [0, length).
func NewOutOfRangeError(row, length int) *StrataError {
	return &StrataError{
		Type:    ErrorTypeOutOfRange,
		Code:    ErrCodeRowOutOfRange,
		Message: fmt.Sprintf("row %d outside [0, %d)", row, length),
		Details: map[string]any{
			"row":    row,
			"length": length,
		},
	}
}

// NewIndexOutOfRangeError reports a dictionary or bitmap index outside [0, cardinality).
func NewIndexOutOfRangeError(idx, cardinality int) *StrataError {
	return &StrataError{
		Type:    ErrorTypeOutOfRange,
		Code:    ErrCodeIndexOutOfRange,
		Message: fmt.Sprintf("index %d outside [0, %d)", idx, cardinality),
		Details: map[string]any{
			"index":       idx,
			"cardinality": cardinality,
		},
	}
}

// NewNotAvailableError reports a buffer or segment that cannot be read.
func NewNotAvailableError(what string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeNotAvailable,
		Code:    ErrCodeBufferUnavailable,
		Message: what + " is not available",
		Details: make(map[string]any),
	}
}

// NewSegmentEvictedError reports access to a segment after eviction.
func NewSegmentEvictedError(segmentID string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeNotAvailable,
		Code:    ErrCodeSegmentEvicted,
		Message: fmt.Sprintf("segment '%s' has been evicted", segmentID),
		Details: map[string]any{
			"segment_id": segmentID,
		},
	}
}

// NewColumnNotFoundError reports a column name missing from a segment.
func NewColumnNotFoundError(segmentID, column string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeNotAvailable,
		Code:    ErrCodeColumnNotFound,
		Message: fmt.Sprintf("column '%s' not found in segment '%s'", column, segmentID),
		Details: map[string]any{
			"segment_id": segmentID,
			"column":     column,
		},
	}
}

// NewProviderError wraps a cloud provider failure for the named operation.
func NewProviderError(op string, transient bool, cause error) *StrataError {
	errorType := ErrorTypeProviderPermanent
	if transient {
		errorType = ErrorTypeProviderTransient
	}
	code := ErrCodeInternalError
	switch op {
	case "launch":
		code = ErrCodeLaunchFailed
	case "describe":
		code = ErrCodeDescribeFailed
	case "terminate":
		code = ErrCodeTerminateFailed
	}
	return &StrataError{
		Type:    errorType,
		Code:    code,
		Message: fmt.Sprintf("provider %s failed", op),
		Cause:   cause,
		Details: map[string]any{
			"operation": op,
		},
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Details: map[string]any{
			"field": field,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *StrataError {
	return &StrataError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// ============================================================================
// Error checking utilities
// ============================================================================

// IsCapabilityMismatch reports whether err means "view absent".
func IsCapabilityMismatch(err error) bool {
	return errors.Is(err, ErrCapabilityMismatch)
}

// IsOutOfRange checks if an error is an out-of-range error
func IsOutOfRange(err error) bool {
	return errors.Is(err, ErrOutOfRange)
}

// IsNotAvailable checks if an error is a not-available error
func IsNotAvailable(err error) bool {
	return errors.Is(err, ErrNotAvailable)
}

// IsTransient reports whether the coordinator may retry the operation on its next tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}

// IsPermanent reports a provider failure that must not be retried automatically.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrProviderPermanent)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Type == ErrorTypeValidation
	}
	return false
}
