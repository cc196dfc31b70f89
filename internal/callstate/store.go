package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no live state exists for a call.
	ErrNotFound = errors.New("call state not found")
	// ErrUnavailable is returned when the per-call lock could not be
	// acquired within the configured wait, or the backend failed.
	ErrUnavailable = errors.New("call state store unavailable")
	// ErrLeaseLost is returned when a mutation finished after its lock was
	// released by someone else (expired, or the call was deleted). The
	// mutation is discarded.
	ErrLeaseLost = errors.New("call state lock lost before persist")
)

// MutateFunc receives the current state (nil if none exists) and returns
// the state to persist. Returning a nil state with a nil error leaves the
// record untouched. Returning an error aborts without writing.
type MutateFunc func(current *CallState) (*CallState, error)

// Store is keyed persistence for call state with per-call mutual
// exclusion and expiry.
type Store interface {
	// Get reads the current state without locking.
	Get(ctx context.Context, callID string) (*CallState, error)
	// Mutate runs fn under the call's lock and persists its result.
	Mutate(ctx context.Context, callID string, fn MutateFunc) (*CallState, error)
	// Delete removes the state and any lock on it. It reports whether a
	// record existed, so callers can run cleanup exactly once.
	Delete(ctx context.Context, callID string) (bool, error)
	// Purge removes expired records and stale locks.
	Purge(ctx context.Context) (int, error)
}

// Options tune a Store.
type Options struct {
	// TTL is how long a record lives after its last write.
	TTL time.Duration
	// LockWait bounds how long Mutate waits for the lock.
	LockWait time.Duration
	// LockLease is the hard lifetime of a held lock.
	LockLease time.Duration
	// PollInterval is how often the SQL backend retries a held lock.
	PollInterval time.Duration
	// Now overrides the clock.
	Now func() time.Time
	// ObserveLockWait, if set, is called after every lock attempt.
	ObserveLockWait func(waited time.Duration, acquired bool)
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		TTL:          2 * time.Hour,
		LockWait:     5 * time.Second,
		LockLease:    30 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.LockWait <= 0 {
		o.LockWait = d.LockWait
	}
	if o.LockLease <= 0 {
		o.LockLease = d.LockLease
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) observe(start time.Time, acquired bool) {
	if o.ObserveLockWait != nil {
		o.ObserveLockWait(o.Now().Sub(start), acquired)
	}
}

func encode(s *CallState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding call state %s: %w", s.CallID, err)
	}
	return data, nil
}

func decode(data []byte) (*CallState, error) {
	var s CallState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding call state: %w", err)
	}
	return &s, nil
}
