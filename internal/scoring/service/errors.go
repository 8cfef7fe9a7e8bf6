package service

import (
	"context"
	"errors"

	pgplatform "scorer/internal/platform/postgres"
	dErrors "scorer/pkg/domain-errors"
	"scorer/pkg/platform/sentinel"
)

// isSystemic reports whether err means the backing infrastructure failed rather than the
// submission. A transaction aborted by a deadlock or serialization conflict counts as systemic. Systemic failures propagate to the caller for retry; everything else becomes an
// ERROR score.
func isSystemic(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, sentinel.ErrUnavailable):
		return true
	case dErrors.HasCode(err, dErrors.CodeUnavailable), dErrors.HasCode(err, dErrors.CodeTimeout):
		return true
	}
	return pgplatform.IsUnavailable(err) || pgplatform.IsTransactionConflict(err)
}

// storageError wraps a store failure for the caller.
func storageError(err error, msg string) error {
	if isSystemic(err) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
