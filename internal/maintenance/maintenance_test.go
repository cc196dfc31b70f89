package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/db"
	"github.com/ziadkadry99/quote-caller/internal/observability"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

type fakeWork struct {
	mu      sync.Mutex
	calls   []string
	replies []string
	limit   int
}

func (f *fakeWork) ScheduleCall(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(f.calls)+len(f.replies) >= f.limit {
		return errors.New("queue full")
	}
	f.calls = append(f.calls, id)
	return nil
}

func (f *fakeWork) ScheduleReply(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(f.calls)+len(f.replies) >= f.limit {
		return errors.New("queue full")
	}
	f.replies = append(f.replies, id)
	return nil
}

type fakeRedeliverer struct {
	n   int
	err error
}

func (f *fakeRedeliverer) Redeliver(ctx context.Context) (int, error) { return f.n, f.err }

type fixture struct {
	quotes  *quotes.Store
	pending []string
	reply   string
}

func setup(t *testing.T) fixture {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	ctx := context.Background()
	qs := quotes.NewStore(database)

	sup, err := qs.CreateSupplier(ctx, quotes.Supplier{OrganizationID: "org-1", Name: "Acme Industrial"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	qr, _, err := qs.CreateQuoteRequest(ctx, quotes.QuoteRequest{OrganizationID: "org-1"},
		[]quotes.RequestedItem{{PartNumber: "ABC123", Quantity: 1}})
	if err != nil {
		t.Fatalf("CreateQuoteRequest: %v", err)
	}

	f := fixture{quotes: qs}
	for i, status := range []quotes.ExtractionStatus{quotes.ExtractionPending, quotes.ExtractionDone, quotes.ExtractionPending} {
		c, err := qs.CreateCallLog(ctx, quotes.CallLog{QuoteRequestID: qr.ID, SupplierID: sup.ID})
		if err != nil {
			t.Fatalf("CreateCallLog %d: %v", i, err)
		}
		if _, err := qs.FinalizeCall(ctx, c.ID, quotes.CallResult{Status: quotes.CallCompleted, ExtractionStatus: status}); err != nil {
			t.Fatalf("FinalizeCall %d: %v", i, err)
		}
		if status == quotes.ExtractionPending {
			f.pending = append(f.pending, c.ID)
		}
	}
	r, err := qs.CreateReply(ctx, quotes.Reply{QuoteRequestID: qr.ID, SupplierID: sup.ID, Body: "ABC123 is $12 each"})
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}
	f.reply = r.ID
	return f
}

func TestRequeueExtractions(t *testing.T) {
	f := setup(t)
	work := &fakeWork{}
	s, err := New(callstate.NewMemoryStore(callstate.Options{}), f.quotes, work, nil, Options{Logger: observability.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.RequeueExtractions(context.Background())
	if err != nil {
		t.Fatalf("RequeueExtractions: %v", err)
	}
	if n != 3 {
		t.Errorf("queued = %d, want 3", n)
	}
	if diff := cmp.Diff(f.pending, work.calls, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{f.reply}, work.replies); diff != "" {
		t.Errorf("replies (-want +got):\n%s", diff)
	}
}

func TestRequeueStopsWhenQueueIsFull(t *testing.T) {
	f := setup(t)
	work := &fakeWork{limit: 1}
	s, err := New(callstate.NewMemoryStore(callstate.Options{}), f.quotes, work, nil, Options{Logger: observability.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.RequeueExtractions(context.Background())
	if err != nil {
		t.Fatalf("RequeueExtractions: %v", err)
	}
	if n != 1 || len(work.replies) != 0 {
		t.Errorf("queued = %d calls=%v replies=%v, want one call only", n, work.calls, work.replies)
	}
}

func TestPurgeStates(t *testing.T) {
	f := setup(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	states := callstate.NewMemoryStore(callstate.Options{TTL: time.Hour, Now: clock})
	ctx := context.Background()

	for _, id := range []string{"old", "fresh"} {
		if _, err := states.Mutate(ctx, id, func(*callstate.CallState) (*callstate.CallState, error) {
			return callstate.New(id, 2, now), nil
		}); err != nil {
			t.Fatalf("Mutate %s: %v", id, err)
		}
		now = now.Add(45 * time.Minute)
	}

	s, err := New(states, f.quotes, &fakeWork{}, nil, Options{Logger: observability.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := s.PurgeStates(ctx)
	if err != nil {
		t.Fatalf("PurgeStates: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := states.Get(ctx, "old"); !errors.Is(err, callstate.ErrNotFound) {
		t.Errorf("old state still present: %v", err)
	}
	if _, err := states.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh state purged: %v", err)
	}
}

func TestRedeliverNotifications(t *testing.T) {
	f := setup(t)
	states := callstate.NewMemoryStore(callstate.Options{})

	s, _ := New(states, f.quotes, &fakeWork{}, nil, Options{Logger: observability.Discard()})
	if n, err := s.RedeliverNotifications(context.Background()); n != 0 || err != nil {
		t.Errorf("without redeliverer = %d, %v", n, err)
	}

	s, _ = New(states, f.quotes, &fakeWork{}, &fakeRedeliverer{n: 4}, Options{Logger: observability.Discard()})
	if n, err := s.RedeliverNotifications(context.Background()); n != 4 || err != nil {
		t.Errorf("redeliver = %d, %v, want 4", n, err)
	}

	s, _ = New(states, f.quotes, &fakeWork{}, &fakeRedeliverer{err: errors.New("db closed")}, Options{Logger: observability.Discard()})
	if _, err := s.RedeliverNotifications(context.Background()); err == nil {
		t.Error("expected redelivery error")
	}
}

func TestNewRegistersSchedules(t *testing.T) {
	f := setup(t)
	states := callstate.NewMemoryStore(callstate.Options{})

	s, err := New(states, f.quotes, &fakeWork{}, nil, Options{
		PurgeSchedule:     "*/5 * * * *",
		RequeueSchedule:   "@every 1m",
		RedeliverSchedule: "",
		Logger:            observability.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Jobs() != 2 {
		t.Errorf("jobs = %d, want 2", s.Jobs())
	}

	if _, err := New(states, f.quotes, &fakeWork{}, nil, Options{PurgeSchedule: "every tuesday"}); err == nil {
		t.Error("expected an invalid schedule to be rejected")
	}
}

func TestStartStopsWithContext(t *testing.T) {
	f := setup(t)
	s, err := New(callstate.NewMemoryStore(callstate.Options{}), f.quotes, &fakeWork{}, nil, Options{
		PurgeSchedule: "@every 1h",
		Logger:        observability.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
