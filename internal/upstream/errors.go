package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrUpstreamUnavailable covers transport failures, timeouts and non-2xx
	// vendor responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrBadResponse is returned when the vendor answered 2xx with a body the
	// relay cannot use (undecodable JSON, missing fields, no cookie marker).
	ErrBadResponse = errors.New("upstream returned an unusable response")

	// ErrLoginRejected is returned when OTP verification yields no session.
	ErrLoginRejected = errors.New("login rejected by vendor")
)

// Error carries the context of a failed vendor call.
type Error struct {
	Sentinel error
	Op       string
	URL      string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream %s %s: %v", e.Op, redactURL(e.URL), e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// Timeout reports whether the call failed because a deadline passed.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsTimeout reports whether err is a vendor call that timed out.
func IsTimeout(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Timeout()
}

// Retryable reports whether err is worth one more attempt: transport
// failures, 429 and 5xx. Other 4xx and unusable bodies are not.
func Retryable(err error) bool {
	var ue *Error
	if !errors.As(err, &ue) || !errors.Is(ue.Sentinel, ErrUpstreamUnavailable) {
		return false
	}
	if errors.Is(ue.Err, context.Canceled) {
		return false
	}
	switch {
	case ue.Status == 0:
		return true
	case ue.Status == http.StatusTooManyRequests:
		return true
	case ue.Status >= 500:
		return true
	default:
		return false
	}
}

func unavailable(op, target string, status int, err error) *Error {
	// *url.Error repeats the full request URL, query included.
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	return &Error{Sentinel: ErrUpstreamUnavailable, Op: op, URL: target, Status: status, Err: err}
}

func badResponse(op, target string, err error) *Error {
	return &Error{Sentinel: ErrBadResponse, Op: op, URL: target, Err: err}
}

// redactURL drops the query, which carries signed tokens on vendor URLs.
func redactURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
