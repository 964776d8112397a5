// Package apierror defines the error type returned by network clients and
// classified by the lookup engine. An Error carries the HTTP status of the
// failed exchange, a Kind that the caching and rate-limiting layers switch
// on, and, for rate-limit responses, the server-supplied retry time.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the engine-level classification of a lookup failure.
type Kind int

const (
	// KindNetwork covers timeouts, connectivity failures, and any server
	// error with no more specific classification. Eligible for backoff.
	KindNetwork Kind = iota
	// KindInvalidInput is a malformed username, rejected before any I/O.
	KindInvalidInput
	// KindRateLimited means the upstream signaled throttling. The error may
	// carry a server-resolved retry time.
	KindRateLimited
	// KindUnauthorized means credentials are invalid or expired. Not
	// retriable without re-authentication.
	KindUnauthorized
	// KindNotFound means the upstream confirmed there is no such user.
	KindNotFound
	// KindParseError means the response shape was unexpected. Treated like
	// KindNetwork for retry purposes, logged distinctly.
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindParseError:
		return "parse_error"
	default:
		return "network_error"
	}
}

// Error is the type of error returned by a network client. It contains an
// HTTP status code and Kind so that callers can interpret the failure.
type Error struct {
	err        error
	status     int
	kind       Kind
	retryAfter time.Time
	retryDelay time.Duration
}

type ErrorMessage struct {
	Message string `json:",omitempty"`
	Status  int    `json:",omitempty"`
}

var serverError []byte

func init() {
	// Make sure there is always an error to return in case encoding fails.
	e := ErrorMessage{
		Message: http.StatusText(http.StatusInternalServerError),
	}

	eb, err := json.Marshal(&e)
	if err != nil {
		panic(err)
	}
	serverError = eb
}

func New(err error, status int) *Error {
	return &Error{
		err:    err,
		status: status,
		kind:   kindForStatus(status),
	}
}

// NewKind creates an Error with an explicit Kind and no HTTP status.
func NewKind(err error, kind Kind) *Error {
	return &Error{
		err:  err,
		kind: kind,
	}
}

// FromResponse builds an Error from a non-success HTTP exchange. For
// rate-limit responses the Retry-After and X-Rate-Limit-Reset headers are
// consulted for a server-resolved retry time.
func FromResponse(status int, header http.Header, body []byte) error {
	var err error
	text := strings.TrimSpace(string(body))
	if text != "" {
		err = errors.New(text)
	}
	if status == 0 {
		return err
	}
	e := New(err, status)
	if e.kind == KindRateLimited && header != nil {
		e.retryAfter, e.retryDelay = parseRetryHint(header)
	}
	return e
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindNetwork
	}
}

// parseRetryHint resolves a retry hint from response headers. Retry-After
// may be a delay in seconds or an HTTP date; X-Rate-Limit-Reset is a unix
// timestamp in seconds. Delay-style hints are kept as a duration so the
// caller resolves them against its own clock.
func parseRetryHint(header http.Header) (time.Time, time.Duration) {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Time{}, time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			return t, 0
		}
	}
	if v := header.Get("X-Rate-Limit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(unix, 0), 0
		}
	}
	return time.Time{}, 0
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.status == 0 {
		return e.kind.String()
	}
	// If there is only status, then return status text.
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int {
	return e.status
}

func (e *Error) Kind() Kind {
	return e.kind
}

// RetryAfter returns the server-supplied absolute retry time for a
// rate-limit error. The zero time means the server gave no absolute hint.
func (e *Error) RetryAfter() time.Time {
	return e.retryAfter
}

// RetryDelay returns the server-requested retry delay for a rate-limit
// error. Zero means the server gave no delay-style hint.
func (e *Error) RetryDelay() time.Duration {
	return e.retryDelay
}

func (e *Error) Text() string {
	parts := make([]string, 0, 5)
	if e.status != 0 {
		parts = append(parts, fmt.Sprintf("%d", e.status))
		text := http.StatusText(e.status)
		if text != "" {
			parts = append(parts, " ")
			parts = append(parts, text)
		}
	}
	if e.err != nil {
		if len(parts) != 0 {
			parts = append(parts, ": ")
		}
		parts = append(parts, e.err.Error())
	}

	return strings.Join(parts, "")
}

func (e *Error) Unwrap() error {
	return e.err
}

// KindOf classifies any error. Errors that are not an *Error are treated as
// network failures.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindNetwork
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}

	e := ErrorMessage{
		Message: err.Error(),
	}
	var apierr *Error
	if errors.As(err, &apierr) {
		e.Status = apierr.Status()
	}

	data, err := json.Marshal(&e)
	if err != nil {
		return serverError
	}
	return data
}

func DecodeError(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var e ErrorMessage
	err := json.Unmarshal(data, &e)
	if err != nil {
		return fmt.Errorf("cannot decode error message: %s", err)
	}

	err = errors.New(e.Message)
	if e.Status == 0 {
		return err
	}
	return New(err, e.Status)
}
