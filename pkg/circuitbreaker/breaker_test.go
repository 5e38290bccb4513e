package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *flakyPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("broker unreachable")
	}
	return nil
}

func testConfig(transitions *[]State) Config {
	cfg := DefaultConfig("redpanda-producer")
	cfg.FailureThreshold = 3
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRequests = 1
	cfg.OnStateChange = func(name string, from, to State) {
		*transitions = append(*transitions, to)
	}
	return cfg
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cb, err := New(testConfig(&transitions), nil)
	require.NoError(t, err)

	pub := &flakyPublisher{fail: true}
	guarded := GuardPublisher(cb, pub)

	for i := 0; i < 3; i++ {
		err := guarded.Publish(context.Background(), "pharmacy.dispensing", "rx-1", []byte("{}"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrOpen))
	}
	assert.True(t, cb.IsOpen())
	assert.Error(t, cb.Ping(context.Background()))

	err = guarded.Publish(context.Background(), "pharmacy.dispensing", "rx-1", []byte("{}"))
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 3, pub.calls, "open breaker must not reach the broker")
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	var transitions []State
	cb, err := New(testConfig(&transitions), nil)
	require.NoError(t, err)

	pub := &flakyPublisher{fail: true}
	guarded := GuardPublisher(cb, pub)
	for i := 0; i < 3; i++ {
		_ = guarded.Publish(context.Background(), "t", "k", nil)
	}
	require.True(t, cb.IsOpen())

	pub.fail = false
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, guarded.Publish(context.Background(), "t", "k", nil))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Ping(context.Background()))
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCanceledCallsDoNotTrip(t *testing.T) {
	var transitions []State
	cb, err := New(testConfig(&transitions), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Empty(t, transitions)
}

func TestStateGauge(t *testing.T) {
	assert.Equal(t, 0, StateClosed.Gauge())
	assert.Equal(t, 1, StateOpen.Gauge())
	assert.Equal(t, 2, StateHalfOpen.Gauge())
}
