package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/domain"
)

func TestEventKey(t *testing.T) {
	a := EventKey("evt-1", "stock-monitor")
	assert.Len(t, a, 64)
	assert.Equal(t, a, EventKey("evt-1", "stock-monitor"))
	assert.NotEqual(t, a, EventKey("evt-1", "other-handler"))
	assert.NotEqual(t, a, EventKey("evt-2", "stock-monitor"))
}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		entry *InboxEntry
		want  decision
	}{
		{"new", nil, decideRun},
		{"finished", &InboxEntry{Status: StatusFinished}, decideDuplicate},
		{"failed", &InboxEntry{Status: StatusFailed}, decideFailed},
		{"recoverable", &InboxEntry{Status: StatusRecoverable}, decideRun},
		{"fresh start", &InboxEntry{Status: StatusStarted, UpdatedAt: now.Add(-time.Minute)}, decideInProgress},
		{"stale start", &InboxEntry{Status: StatusStarted, UpdatedAt: now.Add(-time.Hour)}, decideRecover},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.entry, now, 5*time.Minute))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	var syntaxErr error = json.Unmarshal([]byte("{"), &struct{}{})

	assert.True(t, IsTerminal(domain.Invalid("qty", "bad")))
	assert.True(t, IsTerminal(fmt.Errorf("wrap: %w", domain.NotFound("drug", "x"))))
	assert.True(t, IsTerminal(syntaxErr))
	assert.False(t, IsTerminal(errors.New("connection refused")))
	assert.False(t, IsTerminal(context.DeadlineExceeded))
}

func TestMemoryInbox_RunsOnce(t *testing.T) {
	inbox := NewMemoryInbox(DefaultInboxConfig())
	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"alerts":2}`), nil
	}

	first, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.False(t, first.Duplicate)

	second, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.JSONEq(t, `{"alerts":2}`, string(second.Result))
	assert.Equal(t, 1, calls)
}

func TestMemoryInbox_RetriesRecoverableFailures(t *testing.T) {
	inbox := NewMemoryInbox(DefaultInboxConfig())
	attempt := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("broker unavailable")
		}
		return nil, nil
	}

	_, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	require.Error(t, err)
	status, _ := inbox.Status("k")
	assert.Equal(t, StatusRecoverable, status)

	res, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
	status, _ = inbox.Status("k")
	assert.Equal(t, StatusFinished, status)
}

func TestMemoryInbox_TerminalFailuresAreNotRetried(t *testing.T) {
	inbox := NewMemoryInbox(DefaultInboxConfig())
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, domain.Invalid("payload", "missing drug ids")
	}

	_, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = inbox.Process(context.Background(), "k", "h", nil, fn)
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestMemoryInbox_InProgress(t *testing.T) {
	inbox := NewMemoryInbox(DefaultInboxConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := inbox.Process(context.Background(), "k", "h", nil, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			close(entered)
			<-release
			return nil, nil
		})
		done <- err
	}()

	<-entered
	_, err := inbox.Process(context.Background(), "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("must not run concurrently")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)

	close(release)
	require.NoError(t, <-done)
}
