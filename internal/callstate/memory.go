package callstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRecord struct {
	data      []byte
	expiresAt time.Time
}

type memLock struct {
	owner     string
	expiresAt time.Time
	released  chan struct{}
}

// MemoryStore keeps call state in process memory. It is suitable for a
// single server instance; records are stored encoded so callers never
// share memory with the store.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	records map[string]memRecord
	locks   map[string]*memLock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		records: make(map[string]memRecord),
		locks:   make(map[string]*memLock),
	}
}

func (m *MemoryStore) Get(ctx context.Context, callID string) (*CallState, error) {
	m.mu.Lock()
	rec, ok := m.records[callID]
	m.mu.Unlock()
	if !ok || !m.opts.Now().Before(rec.expiresAt) {
		return nil, ErrNotFound
	}
	return decode(rec.data)
}

func (m *MemoryStore) Mutate(ctx context.Context, callID string, fn MutateFunc) (*CallState, error) {
	owner, err := m.lock(ctx, callID)
	if err != nil {
		return nil, err
	}
	defer m.unlock(callID, owner)

	current, err := m.Get(ctx, callID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	now := m.opts.Now()
	next.CallID = callID
	next.UpdatedAt = now
	data, err := encode(next)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.locks[callID]; l == nil || l.owner != owner {
		return nil, fmt.Errorf("call %s: %w", callID, ErrLeaseLost)
	}
	m.records[callID] = memRecord{data: data, expiresAt: now.Add(m.opts.TTL)}
	return next, nil
}

func (m *MemoryStore) Delete(ctx context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.records[callID]
	delete(m.records, callID)
	if l := m.locks[callID]; l != nil {
		delete(m.locks, callID)
		close(l.released)
	}
	return existed, nil
}

func (m *MemoryStore) Purge(ctx context.Context) (int, error) {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, rec := range m.records {
		if !now.Before(rec.expiresAt) {
			delete(m.records, id)
			n++
		}
	}
	for id, l := range m.locks {
		if now.After(l.expiresAt) {
			delete(m.locks, id)
			close(l.released)
		}
	}
	return n, nil
}

// lock acquires the per-call lock, waiting at most LockWait. A lock held
// past its lease is taken over.
func (m *MemoryStore) lock(ctx context.Context, callID string) (string, error) {
	start := m.opts.Now()
	deadline := start.Add(m.opts.LockWait)
	owner := uuid.New().String()

	for {
		m.mu.Lock()
		now := m.opts.Now()
		held := m.locks[callID]
		if held == nil || now.After(held.expiresAt) {
			if held != nil {
				close(held.released)
			}
			m.locks[callID] = &memLock{
				owner:     owner,
				expiresAt: now.Add(m.opts.LockLease),
				released:  make(chan struct{}),
			}
			m.mu.Unlock()
			m.opts.observe(start, true)
			return owner, nil
		}
		released := held.released
		wait := deadline.Sub(now)
		if untilExpiry := held.expiresAt.Sub(now); untilExpiry < wait {
			wait = untilExpiry + time.Millisecond
		}
		m.mu.Unlock()

		if !now.Before(deadline) {
			m.opts.observe(start, false)
			return "", fmt.Errorf("call %s: lock wait exceeded %s: %w", callID, m.opts.LockWait, ErrUnavailable)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.opts.observe(start, false)
			return "", fmt.Errorf("call %s: %w: %v", callID, ErrUnavailable, ctx.Err())
		case <-released:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *MemoryStore) unlock(callID, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.locks[callID]; l != nil && l.owner == owner {
		delete(m.locks, callID)
		close(l.released)
	}
}
