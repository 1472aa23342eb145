package moderation

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Callers match them with errors.Is;
// the wrapped message carries the specific reason.
var (
	ErrValidation             = errors.New("validation failed")
	ErrRateLimited            = errors.New("rate limited")
	ErrContentNotFound        = errors.New("content not found")
	ErrReportNotFound         = errors.New("report not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrConflict               = errors.New("conflict")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrCanceled               = errors.New("canceled")
)

// ErrorCode returns the wire code for an engine error
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationFailed"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrContentNotFound):
		return "ContentNotFound"
	case errors.Is(err, ErrReportNotFound):
		return "ReportNotFound"
	case errors.Is(err, ErrInvalidStateTransition):
		return "InvalidStateTransition"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "StorageUnavailable"
	}
}

// storageError tags a downstream failure as StorageUnavailable unless it already
// carries a more specific engine kind. Context cancellation maps to Canceled.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isEngineError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrCanceled, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func isEngineError(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrRateLimited, ErrContentNotFound, ErrReportNotFound,
		ErrInvalidStateTransition, ErrUnauthorized, ErrConflict, ErrStorageUnavailable, ErrCanceled,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
