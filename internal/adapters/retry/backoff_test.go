package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func fastConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      3,
		Multiplier:      2.0,
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(errors.New("validation failed")))

	assert.True(t, IsRetryableError(timeoutErr{}))
	assert.True(t, IsRetryableError(&net.DNSError{IsTimeout: true}))
	assert.False(t, IsRetryableError(&net.DNSError{IsNotFound: true}))
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	assert.True(t, IsRetryableHTTPStatus(http.StatusTooManyRequests))
	assert.True(t, IsRetryableHTTPStatus(http.StatusInternalServerError))
	assert.True(t, IsRetryableHTTPStatus(http.StatusBadGateway))
	assert.True(t, IsRetryableHTTPStatus(http.StatusRequestTimeout))

	assert.False(t, IsRetryableHTTPStatus(http.StatusOK))
	assert.False(t, IsRetryableHTTPStatus(http.StatusBadRequest))
	assert.False(t, IsRetryableHTTPStatus(http.StatusNotFound))
}

func TestWithBackoffRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return timeoutErr{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return timeoutErr{}
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Contains(t, err.Error(), "max retries")
}

func TestWithBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithBackoff(ctx, fastConfig(), func() error {
		return timeoutErr{}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithBackoffHTTP(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusOK, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithBackoffHTTPNonRetryableStatus(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		return http.StatusUnauthorized, nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "401")
}
