package callstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore keeps call state in the call_states table and coordinates
// handlers, possibly in different processes, through lease rows in
// call_state_locks.
type SQLStore struct {
	db       *sql.DB
	opts     Options
	newOwner func() string
}

// NewSQLStore creates a store over an already migrated database.
func NewSQLStore(db *sql.DB, opts Options) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("callstate: db is required")
	}
	return &SQLStore{
		db:       db,
		opts:     opts.withDefaults(),
		newOwner: func() string { return uuid.New().String() },
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, callID string) (*CallState, error) {
	var (
		data      []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, expires_at FROM call_states WHERE call_id = ?`, callID,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading call state %s: %w", callID, err)
	}
	if expiresAt <= s.opts.Now().UnixMilli() {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (s *SQLStore) Mutate(ctx context.Context, callID string, fn MutateFunc) (*CallState, error) {
	owner, err := s.lock(ctx, callID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(callID, owner)

	current, err := s.Get(ctx, callID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	now := s.opts.Now()
	next.CallID = callID
	next.UpdatedAt = now
	data, err := encode(next)
	if err != nil {
		return nil, err
	}

	// The write only lands while this handler still owns the lease.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO call_states (call_id, state, updated_at, expires_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM call_state_locks WHERE call_id = ? AND owner_id = ?)
		ON CONFLICT(call_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		callID, string(data), now.UnixMilli(), now.Add(s.opts.TTL).UnixMilli(), callID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: persisting call state %s: %v", ErrUnavailable, callID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("call %s: %w", callID, ErrLeaseLost)
	}
	return next, nil
}

func (s *SQLStore) Delete(ctx context.Context, callID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_states WHERE call_id = ?`, callID)
	if err != nil {
		return false, fmt.Errorf("deleting call state %s: %w", callID, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_state_locks WHERE call_id = ?`, callID); err != nil {
		return false, fmt.Errorf("releasing locks for %s: %w", callID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting call state %s: %w", callID, err)
	}
	return n > 0, nil
}

func (s *SQLStore) Purge(ctx context.Context) (int, error) {
	now := s.opts.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_states WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purging call states: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_state_locks WHERE expires_at < ?`, now); err != nil {
		return 0, fmt.Errorf("purging call state locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging call states: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) lock(ctx context.Context, callID string) (string, error) {
	start := s.opts.Now()
	deadline := start.Add(s.opts.LockWait)
	owner := s.newOwner()

	for {
		ok, err := s.tryAcquire(ctx, callID, owner)
		if err != nil {
			s.opts.observe(start, false)
			return "", fmt.Errorf("%w: acquiring lock for %s: %v", ErrUnavailable, callID, err)
		}
		if ok {
			s.opts.observe(start, true)
			return owner, nil
		}

		if s.opts.Now().After(deadline) {
			s.opts.observe(start, false)
			return "", fmt.Errorf("call %s: lock wait exceeded %s: %w", callID, s.opts.LockWait, ErrUnavailable)
		}

		select {
		case <-ctx.Done():
			s.opts.observe(start, false)
			return "", fmt.Errorf("call %s: %w: %v", callID, ErrUnavailable, ctx.Err())
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// tryAcquire takes the lease if it is free or expired. The conditional
// upsert returns no row while someone else holds a live lease.
func (s *SQLStore) tryAcquire(ctx context.Context, callID, owner string) (bool, error) {
	now := s.opts.Now()
	var got string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO call_state_locks (call_id, owner_id, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE call_state_locks.expires_at < excluded.acquired_at
		RETURNING owner_id`,
		callID, owner, now.UnixMilli(), now.Add(s.opts.LockLease).UnixMilli(),
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == owner, nil
}

func (s *SQLStore) unlock(callID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best effort; an unreleased lease expires on its own.
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM call_state_locks WHERE call_id = ? AND owner_id = ?`, callID, owner)
}
