package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ziadkadry99/quote-caller/internal/db"
	"github.com/ziadkadry99/quote-caller/internal/observability"
	"github.com/ziadkadry99/quote-caller/internal/retry"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func testDispatcher(store *Store) *Dispatcher {
	return NewDispatcher(store, DispatcherOptions{
		Retry:  retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: observability.Discard(),
	})
}

func testNotification(id string) Notification {
	n := QuotesExtracted("org-1", "qr-1", "call-1", "Acme Industrial", 2)
	n.ID = id
	return n
}

func TestStoreCreate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n := testNotification("n-1")
	if err := store.Create(ctx, &n); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.GetByID(ctx, "n-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "New quotes from Acme Industrial" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Delivered {
		t.Error("expected Delivered = false")
	}
	if got.OrganizationID != "org-1" || got.QuoteRequestID != "qr-1" || got.CallID != "call-1" {
		t.Errorf("references = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestStoreCreateAutoID(t *testing.T) {
	store := setupTestStore(t)
	n := testNotification("")
	if err := store.Create(context.Background(), &n); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID == "" {
		t.Error("expected generated ID written back")
	}
}

func TestStoreGetByIDNotFound(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	all := []Notification{
		QuotesExtracted("org-1", "qr-1", "call-1", "Acme", 1),
		CallEscalated("org-1", "qr-1", "call-2", "Bolt", "transfer requested"),
		CallFailed("org-2", "qr-9", "call-3", "Crane", "pipeline error"),
	}
	for i := range all {
		if err := store.Create(ctx, &all[i]); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := store.List(ctx, ListFilter{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("org-1 has %d notifications, want 2", len(got))
	}

	got, _ = store.List(ctx, ListFilter{Severity: SeverityCritical})
	if len(got) != 1 || got[0].Type != TypeCallFailed {
		t.Errorf("critical = %+v", got)
	}

	got, _ = store.List(ctx, ListFilter{Type: TypeCallEscalated})
	if len(got) != 1 || got[0].Severity != SeverityWarning {
		t.Errorf("escalations = %+v", got)
	}

	got, _ = store.List(ctx, ListFilter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit 1 returned %d", len(got))
	}
}

func TestStoreMarkDeliveredNotFound(t *testing.T) {
	store := setupTestStore(t)
	if err := store.MarkDelivered(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreGetPendingRespectsAttempts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fresh := testNotification("p-1")
	tired := testNotification("p-2")
	done := testNotification("p-3")
	for _, n := range []*Notification{&fresh, &tired, &done} {
		if err := store.Create(ctx, n); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := store.RecordAttempt(ctx, "p-2"); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}
	if err := store.MarkDelivered(ctx, "p-3"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	pending, err := store.GetPending(ctx, 3)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "p-1" {
		t.Errorf("pending = %+v, want only p-1", pending)
	}

	all, _ := store.GetPending(ctx, 0)
	if len(all) != 2 {
		t.Errorf("unbounded pending = %d, want 2", len(all))
	}
}

func TestPreferenceUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pref := Preference{OrganizationID: "org-1", Channel: "webhook", SeverityFilter: SeverityWarning, WebhookURL: "https://example.test/a"}
	if err := store.SetPreference(ctx, pref); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	pref.WebhookURL = "https://example.test/b"
	if err := store.SetPreference(ctx, pref); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	prefs, err := store.GetPreferences(ctx, "org-1")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if len(prefs) != 1 || prefs[0].WebhookURL != "https://example.test/b" || prefs[0].SeverityFilter != SeverityWarning {
		t.Errorf("prefs = %+v", prefs)
	}

	empty, err := store.GetPreferences(ctx, "org-none")
	if err != nil || len(empty) != 0 {
		t.Errorf("GetPreferences(org-none) = %v, %v", empty, err)
	}
}

func TestDispatcherWebhook(t *testing.T) {
	store := setupTestStore(t)
	dispatcher := testDispatcher(store)
	ctx := context.Background()

	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		received = buf.Bytes()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := store.SetPreference(ctx, Preference{OrganizationID: "org-1", Channel: "webhook", WebhookURL: server.URL}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	n := testNotification("wh-1")
	if err := dispatcher.Dispatch(ctx, n); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if received == nil {
		t.Fatal("webhook was not called")
	}
	var got Notification
	if err := json.Unmarshal(received, &got); err != nil {
		t.Fatalf("unmarshalling webhook payload: %v", err)
	}
	if got.ID != "wh-1" || got.Type != TypeQuotesExtracted {
		t.Errorf("payload = %+v", got)
	}

	stored, err := store.GetByID(ctx, "wh-1")
	if err != nil {
		t.Fatalf("GetByID after dispatch: %v", err)
	}
	if !stored.Delivered {
		t.Error("notification not marked delivered")
	}
}

func TestDispatcherSeverityFiltering(t *testing.T) {
	store := setupTestStore(t)
	dispatcher := testDispatcher(store)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := store.SetPreference(ctx, Preference{
		OrganizationID: "org-1", Channel: "webhook", SeverityFilter: SeverityCritical, WebhookURL: server.URL,
	}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	if err := dispatcher.Dispatch(ctx, testNotification("sf-1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if calls.Load() != 0 {
		t.Error("webhook should not be called for info severity when filter is critical")
	}

	if err := dispatcher.Dispatch(ctx, CallFailed("org-1", "qr-1", "call-1", "Acme", "boom")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1 for critical severity", calls.Load())
	}
}

func TestDispatcherRetriesAndRedelivers(t *testing.T) {
	store := setupTestStore(t)
	m := observability.NewMetrics()
	dispatcher := NewDispatcher(store, DispatcherOptions{
		Retry:       retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		MaxAttempts: 3,
		Logger:      observability.Discard(),
		Sent:        m.NotificationsSent,
	})
	ctx := context.Background()

	var healthy atomic.Bool
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := store.SetPreference(ctx, Preference{OrganizationID: "org-1", Channel: "webhook", WebhookURL: server.URL}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	if err := dispatcher.Dispatch(ctx, testNotification("rd-1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("webhook calls = %d, want 2 (retried once)", calls.Load())
	}
	n, _ := store.GetByID(ctx, "rd-1")
	if n.Delivered || n.Attempts != 1 {
		t.Fatalf("after failure delivered=%v attempts=%d", n.Delivered, n.Attempts)
	}

	healthy.Store(true)
	delivered, err := dispatcher.Redeliver(ctx)
	if err != nil {
		t.Fatalf("Redeliver: %v", err)
	}
	if delivered != 1 {
		t.Errorf("Redeliver delivered %d, want 1", delivered)
	}
	n, _ = store.GetByID(ctx, "rd-1")
	if !n.Delivered {
		t.Error("notification still pending after redelivery")
	}
	if got := testutil.ToFloat64(m.NotificationsSent.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed deliveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.NotificationsSent.WithLabelValues("sent")); got != 1 {
		t.Errorf("sent deliveries = %v, want 1", got)
	}
}

func TestDispatcherClientErrorIsPermanent(t *testing.T) {
	store := setupTestStore(t)
	dispatcher := testDispatcher(store)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	if err := store.SetPreference(ctx, Preference{OrganizationID: "org-1", Channel: "webhook", WebhookURL: server.URL}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := dispatcher.Dispatch(ctx, testNotification("pe-1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1 (no retry on 410)", calls.Load())
	}
}

func TestDigestGeneration(t *testing.T) {
	store := setupTestStore(t)
	dispatcher := testDispatcher(store)
	ctx := context.Background()

	for _, n := range []Notification{
		QuotesExtracted("org-a", "qr-1", "call-1", "Acme", 3),
		CallEscalated("org-a", "qr-1", "call-2", "Bolt", "clarification limit reached"),
		CallFailed("org-b", "qr-2", "call-3", "Crane", "busy"),
	} {
		n := n
		if err := store.Create(ctx, &n); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	since := time.Now().UTC().Add(-1 * time.Hour)
	digest, err := dispatcher.GenerateDigest(ctx, "org-a", since)
	if err != nil {
		t.Fatalf("GenerateDigest: %v", err)
	}
	if digest.OrganizationID != "org-a" {
		t.Errorf("OrganizationID = %q, want org-a", digest.OrganizationID)
	}
	if len(digest.Notifications) != 2 {
		t.Errorf("expected 2 notifications in digest, got %d", len(digest.Notifications))
	}
	if !strings.Contains(digest.Summary, "1 quote update(s), 1 escalation(s), 0 failure(s)") {
		t.Errorf("Summary = %q", digest.Summary)
	}
}

func TestRoutes(t *testing.T) {
	store := setupTestStore(t)
	dispatcher := testDispatcher(store)
	r := chi.NewRouter()
	RegisterRoutes(r, store, dispatcher)
	ctx := context.Background()

	n := testNotification("rt-1")
	if err := store.Create(ctx, &n); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/?organization_id=org-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []Notification
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/notifications/rt-1/deliver", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("deliver status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/notifications/nope/deliver", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("deliver missing status = %d, want 404", w.Code)
	}

	body := `{"organization_id":"org-1","severity_filter":"warning","webhook_url":"https://example.test/hook"}`
	req = httptest.NewRequest(http.MethodPut, "/api/notifications/preferences", strings.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("set preference status = %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/notifications/preferences/org-1", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var prefs []Preference
	if err := json.NewDecoder(w.Body).Decode(&prefs); err != nil || len(prefs) != 1 || prefs[0].Channel != "webhook" {
		t.Errorf("prefs = %+v, %v", prefs, err)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/notifications/preferences", strings.NewReader(`{"organization_id":"org-1","severity_filter":"loud"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad severity status = %d, want 400", w.Code)
	}
}
