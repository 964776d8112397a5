package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/userloc/go-userloc/apierror"
)

func TestNew(t *testing.T) {
	err := apierror.New(errors.New("test error"), 0)
	require.Equal(t, "test error", err.Error())

	err = apierror.New(nil, http.StatusNotFound)
	require.Equal(t, fmt.Sprintf("%d %s", http.StatusNotFound, http.StatusText(http.StatusNotFound)), err.Error())
	require.Equal(t, apierror.KindNotFound, err.Kind())

	err = apierror.New(nil, 999)
	require.Equal(t, "999", err.Error())
	require.Equal(t, apierror.KindNetwork, err.Kind())
}

func TestKindForStatus(t *testing.T) {
	require.Equal(t, apierror.KindRateLimited, apierror.New(nil, http.StatusTooManyRequests).Kind())
	require.Equal(t, apierror.KindUnauthorized, apierror.New(nil, http.StatusUnauthorized).Kind())
	require.Equal(t, apierror.KindUnauthorized, apierror.New(nil, http.StatusForbidden).Kind())
	require.Equal(t, apierror.KindNotFound, apierror.New(nil, http.StatusNotFound).Kind())
	require.Equal(t, apierror.KindNetwork, apierror.New(nil, http.StatusBadGateway).Kind())
}

func TestFromResponse(t *testing.T) {
	err := apierror.FromResponse(0, nil, []byte(" hello world\n"))
	require.Equal(t, "hello world", err.Error())

	err = apierror.FromResponse(http.StatusTeapot, nil, []byte(" hello world\n"))
	require.Equal(t, "hello world", err.Error())

	ae, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, http.StatusTeapot, ae.Status())

	err = apierror.FromResponse(http.StatusTeapot, nil, nil)
	require.Equal(t, fmt.Sprintf("%d %s", http.StatusTeapot, http.StatusText(http.StatusTeapot)), err.Error())
}

func TestRetryHints(t *testing.T) {
	// Delay-style Retry-After stays a duration; the caller resolves it
	// against its own clock.
	header := http.Header{}
	header.Set("Retry-After", "30")
	err := apierror.FromResponse(http.StatusTooManyRequests, header, nil)

	ae, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.KindRateLimited, ae.Kind())
	require.Equal(t, 30*time.Second, ae.RetryDelay())
	require.True(t, ae.RetryAfter().IsZero())

	// An HTTP-date Retry-After is an absolute time.
	date := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	header = http.Header{}
	header.Set("Retry-After", date.Format(http.TimeFormat))
	err = apierror.FromResponse(http.StatusTooManyRequests, header, nil)
	ae = err.(*apierror.Error)
	require.True(t, ae.RetryAfter().Equal(date))
	require.Zero(t, ae.RetryDelay())

	reset := time.Now().Add(time.Minute).Unix()
	header = http.Header{}
	header.Set("X-Rate-Limit-Reset", fmt.Sprintf("%d", reset))
	err = apierror.FromResponse(http.StatusTooManyRequests, header, nil)
	ae = err.(*apierror.Error)
	require.Equal(t, time.Unix(reset, 0), ae.RetryAfter())

	// No usable hint leaves both zero.
	err = apierror.FromResponse(http.StatusTooManyRequests, http.Header{}, nil)
	ae = err.(*apierror.Error)
	require.True(t, ae.RetryAfter().IsZero())
	require.Zero(t, ae.RetryDelay())
}

func TestKindOf(t *testing.T) {
	require.Equal(t, apierror.KindNetwork, apierror.KindOf(errors.New("plain")))
	require.Equal(t, apierror.KindRateLimited, apierror.KindOf(apierror.New(nil, http.StatusTooManyRequests)))

	wrapped := fmt.Errorf("fetch user: %w", apierror.NewKind(errors.New("bad shape"), apierror.KindParseError))
	require.Equal(t, apierror.KindParseError, apierror.KindOf(wrapped))
	require.True(t, apierror.IsKind(wrapped, apierror.KindParseError))
	require.False(t, apierror.IsKind(nil, apierror.KindParseError))
}

func TestEncodeDecode(t *testing.T) {
	data := apierror.EncodeError(nil)
	require.Nil(t, data)

	derr := apierror.DecodeError(nil)
	require.Nil(t, derr)

	derr = apierror.DecodeError([]byte("hello world"))
	require.ErrorContains(t, derr, "cannot decode error message")

	err := apierror.New(errors.New("cannot find it"), http.StatusNotFound)
	data = apierror.EncodeError(err)

	derr = apierror.DecodeError(data)
	require.Equal(t, "cannot find it", derr.Error())

	ae, ok := derr.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, ae.Status())
	require.Equal(t, apierror.KindNotFound, ae.Kind())
	require.Equal(t, fmt.Sprintf("%d %s: cannot find it", http.StatusNotFound, http.StatusText(http.StatusNotFound)), ae.Text())

	someErr := errors.New("some error")
	data = apierror.EncodeError(someErr)

	derr = apierror.DecodeError(data)
	require.Equal(t, "some error", derr.Error())
	_, ok = derr.(*apierror.Error)
	require.False(t, ok)
}

func TestUnwrap(t *testing.T) {
	errEOF := errors.New("end of file")
	err := apierror.New(errEOF, 0)
	require.ErrorIs(t, err, errEOF)
}
