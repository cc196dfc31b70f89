package callstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ziadkadry99/quote-caller/internal/db"
)

type storeFactory func(t *testing.T, opts Options) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, opts Options) Store {
			return NewMemoryStore(opts)
		},
		"sqlite": func(t *testing.T, opts Options) Store {
			t.Helper()
			database, err := db.OpenMemory()
			if err != nil {
				t.Fatalf("OpenMemory: %v", err)
			}
			t.Cleanup(func() { database.Close() })
			s, err := NewSQLStore(database.DB, opts)
			if err != nil {
				t.Fatalf("NewSQLStore: %v", err)
			}
			return s
		},
	}
}

func fastOptions() Options {
	return Options{
		TTL:          time.Hour,
		LockWait:     2 * time.Second,
		LockLease:    5 * time.Second,
		PollInterval: 2 * time.Millisecond,
	}
}

func initOrMerge(externalID string, inits *int32) MutateFunc {
	return func(current *CallState) (*CallState, error) {
		if current != nil {
			if current.ExternalCallID == "" {
				current.ExternalCallID = externalID
			}
			return current, nil
		}
		atomic.AddInt32(inits, 1)
		s := New("", 2, time.Now())
		s.ExternalCallID = externalID
		return s, nil
	}
}

func TestStoreBasics(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, fastOptions())

			if _, err := store.Get(ctx, "call-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
			}

			var inits int32
			got, err := store.Mutate(ctx, "call-1", initOrMerge("", &inits))
			if err != nil {
				t.Fatalf("Mutate: %v", err)
			}
			if got.CallID != "call-1" || got.CurrentNode != NodeGreeting {
				t.Errorf("initial state = %+v", got)
			}

			loaded, err := store.Get(ctx, "call-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if loaded.Status != StatusInProgress {
				t.Errorf("status = %q", loaded.Status)
			}

			// A nil result leaves the record as it was.
			if _, err := store.Mutate(ctx, "call-1", func(c *CallState) (*CallState, error) { return nil, nil }); err != nil {
				t.Fatalf("no-op Mutate: %v", err)
			}

			// An error aborts the write.
			boom := errors.New("boom")
			_, err = store.Mutate(ctx, "call-1", func(c *CallState) (*CallState, error) {
				c.CurrentNode = NodeEscalated
				return c, boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want boom", err)
			}
			loaded, _ = store.Get(ctx, "call-1")
			if loaded.CurrentNode != NodeGreeting {
				t.Errorf("aborted mutation was persisted: node = %q", loaded.CurrentNode)
			}

			existed, err := store.Delete(ctx, "call-1")
			if err != nil || !existed {
				t.Fatalf("Delete = %v, %v; want true, nil", existed, err)
			}
			existed, _ = store.Delete(ctx, "call-1")
			if existed {
				t.Error("second Delete should report no record")
			}
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var mu sync.Mutex
			now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			clock := func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				return now
			}
			opts := fastOptions()
			opts.TTL = time.Minute
			opts.Now = clock
			store := factory(t, opts)

			var inits int32
			if _, err := store.Mutate(ctx, "call-ttl", initOrMerge("", &inits)); err != nil {
				t.Fatalf("Mutate: %v", err)
			}

			mu.Lock()
			now = now.Add(2 * time.Minute)
			mu.Unlock()

			if _, err := store.Get(ctx, "call-ttl"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expired Get err = %v, want ErrNotFound", err)
			}
			n, err := store.Purge(ctx)
			if err != nil {
				t.Fatalf("Purge: %v", err)
			}
			if n != 1 {
				t.Errorf("Purge removed %d, want 1", n)
			}

			// An expired record is treated as absent and re-initialized.
			if _, err := store.Mutate(ctx, "call-ttl", initOrMerge("", &inits)); err != nil {
				t.Fatalf("Mutate after expiry: %v", err)
			}
			if inits != 2 {
				t.Errorf("inits = %d, want 2", inits)
			}
		})
	}
}

func TestStoreLockTimeout(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			opts := fastOptions()
			opts.LockWait = 50 * time.Millisecond
			store := factory(t, opts)

			holding := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				_, err := store.Mutate(ctx, "call-busy", func(c *CallState) (*CallState, error) {
					close(holding)
					<-release
					return New("", 2, time.Now()), nil
				})
				done <- err
			}()
			<-holding

			_, err := store.Mutate(ctx, "call-busy", func(c *CallState) (*CallState, error) {
				t.Error("fn must not run without the lock")
				return nil, nil
			})
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("err = %v, want ErrUnavailable", err)
			}

			close(release)
			if err := <-done; err != nil {
				t.Fatalf("holder Mutate: %v", err)
			}
		})
	}
}

func TestStoreConcurrentInitializesOnce(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, fastOptions())

			var inits int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					ext := ""
					if i%2 == 0 {
						ext = "vendor-123"
					}
					if _, err := store.Mutate(ctx, "call-race", initOrMerge(ext, &inits)); err != nil {
						t.Errorf("Mutate %d: %v", i, err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if inits != 1 {
				t.Errorf("state initialized %d times, want 1", inits)
			}
			got, err := store.Get(ctx, "call-race")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ExternalCallID != "vendor-123" {
				t.Errorf("late external id not merged: %q", got.ExternalCallID)
			}
		})
	}
}

func TestStoreSerializesAppends(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, fastOptions())

			const writers = 12
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := store.Mutate(ctx, "call-append", func(c *CallState) (*CallState, error) {
						if c == nil {
							c = New("", 2, time.Now())
						}
						c.AppendTurn(SpeakerCounterparty, fmt.Sprintf("utterance %d", i), time.Now())
						return c, nil
					})
					if err != nil {
						t.Errorf("Mutate %d: %v", i, err)
					}
				}(i)
			}
			wg.Wait()

			got, err := store.Get(ctx, "call-append")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got.History) != writers {
				t.Errorf("history length = %d, want %d (lost update)", len(got.History), writers)
			}
		})
	}
}

func TestStoreDeleteDuringMutateDiscardsWrite(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, fastOptions())

			var inits int32
			if _, err := store.Mutate(ctx, "call-end", initOrMerge("", &inits)); err != nil {
				t.Fatalf("seed: %v", err)
			}

			_, err := store.Mutate(ctx, "call-end", func(c *CallState) (*CallState, error) {
				// The end-of-call handler wins while this turn is in flight.
				if existed, err := store.Delete(ctx, "call-end"); err != nil || !existed {
					t.Fatalf("Delete = %v, %v", existed, err)
				}
				c.CurrentNode = NodeQuoteRequest
				return c, nil
			})
			if !errors.Is(err, ErrLeaseLost) {
				t.Fatalf("err = %v, want ErrLeaseLost", err)
			}
			if _, err := store.Get(ctx, "call-end"); !errors.Is(err, ErrNotFound) {
				t.Errorf("deleted state was resurrected: %v", err)
			}
		})
	}
}

func TestStoreExpiredLeaseIsTakenOver(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			opts := fastOptions()
			opts.LockLease = 40 * time.Millisecond
			store := factory(t, opts)

			holding := make(chan struct{})
			release := make(chan struct{})
			slow := make(chan error, 1)
			go func() {
				_, err := store.Mutate(ctx, "call-lease", func(c *CallState) (*CallState, error) {
					close(holding)
					<-release
					return New("", 2, time.Now()), nil
				})
				slow <- err
			}()
			<-holding

			var inits int32
			if _, err := store.Mutate(ctx, "call-lease", initOrMerge("fresh", &inits)); err != nil {
				t.Fatalf("takeover Mutate: %v", err)
			}
			close(release)

			if err := <-slow; !errors.Is(err, ErrLeaseLost) {
				t.Errorf("stale holder err = %v, want ErrLeaseLost", err)
			}
			got, err := store.Get(ctx, "call-lease")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ExternalCallID != "fresh" {
				t.Errorf("stale write overwrote takeover: %+v", got)
			}
		})
	}
}

func TestLockWaitObserver(t *testing.T) {
	var acquired, failed int32
	opts := fastOptions()
	opts.ObserveLockWait = func(_ time.Duration, ok bool) {
		if ok {
			atomic.AddInt32(&acquired, 1)
		} else {
			atomic.AddInt32(&failed, 1)
		}
	}
	store := NewMemoryStore(opts)

	var inits int32
	store.Mutate(context.Background(), "c", initOrMerge("", &inits))
	if acquired != 1 || failed != 0 {
		t.Errorf("acquired = %d, failed = %d", acquired, failed)
	}
}
