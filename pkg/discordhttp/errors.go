package discordhttp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in ERROR HANDLING DESIGN. Wrap with %w so
// callers can use errors.Is/errors.As instead of matching strings.
var (
	// ErrBufferOverflow means the ingress overflow policy rejected the
	// request; never retried.
	ErrBufferOverflow = errors.New("discordhttp: ingress buffer overflow")
	// ErrUnexpectedEmpty means a 204 response was returned where the
	// request's Parser rejected an empty body; never retried.
	ErrUnexpectedEmpty = errors.New("discordhttp: unexpected empty body")
	// ErrTimeout means the HTTP send exceeded http_timeout. Retryable.
	ErrTimeout = errors.New("discordhttp: request timed out")
	// ErrPipelineShutdown means the Limiter's mailbox failed and the
	// pipeline is tearing down; pending submissions receive this error.
	ErrPipelineShutdown = errors.New("discordhttp: pipeline shut down")
)

// NetworkError wraps a connection/DNS/TLS failure from the HTTP transport.
// Retryable by the retry loop.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "discordhttp: network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError wraps a non-2xx, non-429 response. Retryable only for 5xx
// and 408.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("discordhttp: http status %d: %s", e.Status, truncate(e.Body, 200))
}

// Retryable reports whether the retry loop should re-send a request that
// failed with this status.
func (e *HTTPStatusError) Retryable() bool {
	return e.Status == 408 || (e.Status >= 500 && e.Status < 600)
}

// ParseError wraps a response-decoding failure. Never retryable: the
// response body that failed to decode will not decode differently on a
// retry.
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return "discordhttp: parse error: " + e.Message + ": " + e.Cause.Error()
	}
	return "discordhttp: parse error: " + e.Message
}
func (e *ParseError) Unwrap() error { return e.Cause }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// retryable reports whether err should be retried by the retry loop,
// according to the taxonomy in ERROR HANDLING DESIGN: network failures and
// 408/5xx statuses are retryable; everything else (parse errors, buffer
// overflow, unexpected-empty, other 4xx) is not.
func retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	return false
}
