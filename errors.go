package poolx

import (
	"context"
	"errors"
	"fmt"
)

// Common pool errors
var (
	ErrAcquisitionTimeout = errors.New("pool: acquisition timeout")
	ErrPoolClosed         = errors.New("pool: pool is closed")
	ErrFactoryCreation    = errors.New("pool: connection creation failed")
	ErrValidation         = errors.New("pool: connection validation failed")
	ErrDestroy            = errors.New("pool: connection destroy failed")
	ErrInvalidConfig      = errors.New("pool: invalid configuration")
	ErrHandleReleased     = errors.New("pool: handle already released")
)

// Error codes carried by PoolError
const (
	CodeTimeout    = "POOL_TIMEOUT"
	CodeClosed     = "POOL_CLOSED"
	CodeFactory    = "POOL_FACTORY_ERROR"
	CodeValidation = "POOL_VALIDATION_ERROR"
	CodeCancelled  = "POOL_CANCELLED"
	CodeConfig     = "POOL_CONFIG_ERROR"
	CodeGeneric    = "POOL_ERROR"
)

// PoolError represents a caller-visible pool failure with additional context
type PoolError struct {
	Op      string
	Pool    string
	Message string
	Err     error
	Code    string
}

// Error implements the error interface
func (e *PoolError) Error() string {
	if e == nil {
		return "pool: nil error"
	}

	baseMsg := fmt.Sprintf("pool %s error on %s: %s", e.Op, e.Pool, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", baseMsg, e.Err.Error())
	}
	return baseMsg
}

// Unwrap returns the underlying error
func (e *PoolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPoolError creates a new pool error, deriving the code from the wrapped sentinel
func NewPoolError(op, pool, message string, err error) *PoolError {
	if op == "" {
		op = "unknown"
	}
	if pool == "" {
		pool = "unknown"
	}
	if message == "" {
		message = "unknown error"
	}

	// Flatten nested pool errors so the chain stays one level deep
	var inner *PoolError
	if errors.As(err, &inner) {
		err = inner.Err
	}

	return &PoolError{
		Op:      op,
		Pool:    pool,
		Message: message,
		Err:     err,
		Code:    codeFor(err),
	}
}

func codeFor(err error) string {
	switch {
	case err == nil:
		return CodeGeneric
	case errors.Is(err, ErrAcquisitionTimeout):
		return CodeTimeout
	case errors.Is(err, ErrPoolClosed):
		return CodeClosed
	case errors.Is(err, ErrFactoryCreation):
		return CodeFactory
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInvalidConfig):
		return CodeConfig
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeGeneric
	}
}

func isErrorType(err error, target error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, target)
}

// IsTimeout checks if the error is an acquisition timeout
func IsTimeout(err error) bool {
	return isErrorType(err, ErrAcquisitionTimeout)
}

// IsPoolClosed checks if the error was caused by a closed pool
func IsPoolClosed(err error) bool {
	return isErrorType(err, ErrPoolClosed)
}

// IsFactoryCreation checks if the error is a connection creation failure
func IsFactoryCreation(err error) bool {
	return isErrorType(err, ErrFactoryCreation)
}

// IsValidation checks if the error is a validation failure
func IsValidation(err error) bool {
	return isErrorType(err, ErrValidation)
}

// IsInvalidConfig checks if the error is a configuration error
func IsInvalidConfig(err error) bool {
	return isErrorType(err, ErrInvalidConfig)
}

// IsHandleReleased checks if the error reports a double release
func IsHandleReleased(err error) bool {
	return isErrorType(err, ErrHandleReleased)
}
