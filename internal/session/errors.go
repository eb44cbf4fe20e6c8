package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when there is no session to build
	// headers from.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired is returned by callers that gate on State.
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshFailed is returned when the refresh token could not be
	// exchanged. The caller must log in again.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrNoSession is returned by a Store that has nothing persisted.
	ErrNoSession = errors.New("no persisted session")
)

// RefreshError wraps the cause of a failed refresh.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRefreshFailed, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Err}
}
