package crawler

import (
	"errors"
	"fmt"
)

// ErrLoginExpired means the remote site no longer accepts the persisted
// auth state. Fatal to the whole run; an operator must re-export the
// storage state.
var ErrLoginExpired = errors.New("login expired")

// ErrRemoteRateLimited means the remote site throttled us. Aborts the
// current page only; the caller may retry on its next scheduled pass.
var ErrRemoteRateLimited = errors.New("rate limited by remote")

// ParseError marks a single row that could not be parsed. Skipped without
// affecting sibling rows.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse row: %s", e.Reason)
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}
