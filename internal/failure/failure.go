// Package failure carries the error kinds shared by every service and the
// coded ServiceError wrapper the HTTP layer reports back to clients.
package failure

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrInvalid marks input that failed validation.
	ErrInvalid = errors.New("invalid input")
	// ErrUnauthorized marks missing or wrong credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks an actor that may not perform the requested action.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that clashes with the current state.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable marks an external collaborator that is not configured or failed.
	ErrUnavailable = errors.New("unavailable")
)

// ServiceError attaches a dotted operation.reason code to an underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Wrap builds a ServiceError with the code "<operation>.<reason>".
func Wrap(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Invalid returns a validation error naming the offending field.
func Invalid(field, problem string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, field, problem)
}

// CodeOf extracts the ServiceError code from err, or "" when none is present.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

// LogError writes a service failure with the operation and reason fields the
// services share.
func LogError(logger *zap.Logger, message, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error(message, attrs...)
}
