package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTemporary    = errors.New("temporary failure")

	// ErrFeatureUnavailable marks optional store capabilities (e.g. pg_trgm)
	// that are missing in the connected database.
	ErrFeatureUnavailable = errors.New("feature unavailable")

	// ErrRerankUnavailable tells the caller to keep the pre-rerank order.
	ErrRerankUnavailable = errors.New("rerank unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
