package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportError(t *testing.T) {
	err := NewTransportError("ES.GetMode", "192.168.2.233", context.DeadlineExceeded)
	assert.Equal(t, "ES.GetMode 192.168.2.233: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	wrapped := fmt.Errorf("status: %w", err)
	assert.True(t, IsTransport(wrapped))
	assert.False(t, IsTransport(errors.New("boom")))
	assert.False(t, IsTransport(nil))
}

func TestMalformedTelemetryIsTransport(t *testing.T) {
	err := NewTransportError("ES.GetMode", "a", fmt.Errorf("%w: missing bat_soc", ErrMalformedTelemetry))
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrMalformedTelemetry)
}
