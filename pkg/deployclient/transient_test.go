package deployclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nais/deploywatch/pkg/platform"
)

func TestTransient(t *testing.T) {
	assert.False(t, transient(nil))
	assert.False(t, transient(errors.New("plain")))
	assert.False(t, transient(&platform.APIError{Status: 422}))
	assert.False(t, transient(&platform.APIError{Status: 403}))
	assert.True(t, transient(&platform.APIError{Status: 503}))
	assert.True(t, transient(fmt.Errorf("wrapped: %w", &platform.APIError{Status: 429})))
	assert.True(t, transient(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
}

func TestRetryTransient(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := retryTransient(context.Background(), time.Millisecond, true, func() error {
			calls++
			if calls < 3 {
				return &platform.APIError{Status: 502}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are returned at once", func(t *testing.T) {
		calls := 0
		err := retryTransient(context.Background(), time.Millisecond, true, func() error {
			calls++
			return &platform.APIError{Status: 400}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("no retry when disabled", func(t *testing.T) {
		calls := 0
		err := retryTransient(context.Background(), time.Millisecond, false, func() error {
			calls++
			return &platform.APIError{Status: 503}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retryTransient(ctx, time.Hour, true, func() error {
			calls++
			cancel()
			return &platform.APIError{Status: 503}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
