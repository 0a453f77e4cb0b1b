package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TimeoutError is returned when an attempt against the cleaning service was
// aborted because its per-attempt deadline expired.
type TimeoutError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout calling %s after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NetworkError is a non-timeout transport failure (refused, reset, DNS).
type NetworkError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure calling %s after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError is returned when the service answers with a non-2xx status or
// an explicit error payload.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote error from %s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("remote error from %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// MalformedResponseError means a payload could not be decoded or lacked the
// fields required to continue. RawURL points at the raw remote payload when
// one is available so the operator can inspect it.
type MalformedResponseError struct {
	What   string
	RawURL string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	msg := "malformed response: " + e.What
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.RawURL != "" {
		msg += " (raw payload: " + e.RawURL + ")"
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// NewRemoteError builds a RemoteError, trimming long bodies.
func NewRemoteError(endpoint string, statusCode int, body string) *RemoteError {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return &RemoteError{Endpoint: endpoint, StatusCode: statusCode, Message: body}
}

// IsTimeout reports whether err is a TimeoutError, a context deadline or a
// net.Error that timed out.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransient returns true for failures that are worth another attempt:
// timeouts, network failures, retryable HTTP statuses and the usual
// connection-level patterns from wrapped client errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return true
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return IsTransientHTTPStatus(re.StatusCode)
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsSubmissionFailure reports whether err should make the orchestrator
// abandon a batch submission and retry through individual calls.
func IsSubmissionFailure(err error) bool {
	if err == nil {
		return false
	}
	var (
		te *TimeoutError
		ne *NetworkError
		re *RemoteError
		me *MalformedResponseError
	)
	return errors.As(err, &te) || errors.As(err, &ne) || errors.As(err, &re) ||
		errors.As(err, &me) || errors.Is(err, ErrCircuitOpen)
}
