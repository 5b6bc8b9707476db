package tools

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("svc", BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second}, nil)
	b.now = clock.Now

	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, CircuitOpen, b.RecordFailure())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
	assert.Error(t, b.Allow(), "only one probe while half-open")

	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := NewCircuitBreaker("svc", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second}, func(_ string, to CircuitState) {
		transitions = append(transitions, to.String())
	})
	b.now = clock.Now

	b.RecordFailure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, CircuitOpen, b.State())
	assert.Equal(t, []string{"open", "half_open", "open"}, transitions)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	b := NewCircuitBreaker("svc", BreakerConfig{FailureThreshold: 2, Cooldown: time.Second}, nil)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, time.Second, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, time.Second, 1))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(base, time.Second, 3))
	assert.Equal(t, time.Second, backoffDelay(base, time.Second, 10))
	assert.Equal(t, time.Duration(0), backoffDelay(0, time.Second, 2))
}

func TestWaitBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitBackoff(ctx, time.Hour), context.Canceled)
	assert.NoError(t, waitBackoff(context.Background(), 0))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&statusError{code: http.StatusBadGateway}))
	assert.True(t, isRetryable(&statusError{code: http.StatusTooManyRequests}))
	assert.False(t, isRetryable(&statusError{code: http.StatusNotFound}))
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(schema.NewError(schema.ErrCodeCircuitOpen, "open")))
	assert.False(t, isRetryable(errors.New("decode")))
	assert.False(t, isRetryable(nil))
}

type eventSink struct {
	telemetry.Nop
	mu     sync.Mutex
	events []string
	tools  []any
}

func (s *eventSink) LogEvent(_ context.Context, name string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
	s.tools = append(s.tools, payload["tool"])
}

func TestBreakerTelemetry(t *testing.T) {
	sink := &eventSink{}
	clock := newFakeClock()
	b := NewCircuitBreaker("svc", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second, HalfOpenMax: 1}, BreakerTelemetry(sink))
	b.now = clock.Now

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []string{
		schema.EventCircuitBreakerOpen,
		schema.EventCircuitBreakerHalfOpen,
		schema.EventCircuitBreakerClosed,
	}, sink.events)
	assert.Equal(t, []any{"svc", "svc", "svc"}, sink.tools)
}
