package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryInbox is a process-local Processor for tests and the in-memory store
type MemoryInbox struct {
	mu              sync.Mutex
	entries         map[string]*InboxEntry
	recoveryTimeout time.Duration
	now             func() time.Time
}

// NewMemoryInbox creates an empty in-memory inbox
func NewMemoryInbox(cfg InboxConfig) *MemoryInbox {
	return &MemoryInbox{
		entries:         make(map[string]*InboxEntry),
		recoveryTimeout: cfg.RecoveryTimeout,
		now:             time.Now,
	}
}

// Process has the same outcomes as Inbox.Process
func (m *MemoryInbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	m.mu.Lock()
	existing := m.entries[key]
	var prior *InboxEntry
	if existing != nil {
		cp := *existing
		prior = &cp
	}
	switch decide(prior, m.now(), m.recoveryTimeout) {
	case decideDuplicate:
		m.mu.Unlock()
		return &ProcessResult{Duplicate: true, Result: prior.Result}, nil
	case decideFailed:
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, ErrPreviouslyFailed)
	case decideInProgress:
		m.mu.Unlock()
		return nil, ErrMessageInProgress
	}
	now := m.now()
	m.entries[key] = &InboxEntry{
		IdempotencyKey: key,
		HandlerName:    handlerName,
		Status:         StatusStarted,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.mu.Unlock()

	result, err := fn(ctx, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.entries[key]
	entry.UpdatedAt = m.now()
	if err != nil {
		entry.Status = StatusRecoverable
		if IsTerminal(err) {
			entry.Status = StatusFailed
		}
		entry.Result = errorResult(err)
		return nil, err
	}
	entry.Status = StatusFinished
	entry.Result = result
	return &ProcessResult{IsNew: prior == nil, WasRecovered: prior != nil, Result: result}, nil
}

// Status returns the recorded status of key
func (m *MemoryInbox) Status(key string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return "", false
	}
	return entry.Status, true
}
