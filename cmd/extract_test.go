package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ziadkadry99/quote-caller/internal/db"
	"github.com/ziadkadry99/quote-caller/internal/extraction"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

func newQuoteStore(t *testing.T) (*quotes.Store, *quotes.Supplier, *quotes.QuoteRequest) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	qs := quotes.NewStore(database)
	sup, err := qs.CreateSupplier(ctx, quotes.Supplier{OrganizationID: "org-1", Name: "Acme Industrial"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	qr, _, err := qs.CreateQuoteRequest(ctx, quotes.QuoteRequest{OrganizationID: "org-1"},
		[]quotes.RequestedItem{{PartNumber: "ABC123", Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateQuoteRequest: %v", err)
	}
	return qs, sup, qr
}

func setReplyFlags(t *testing.T, quoteRequest, supplier string) {
	t.Helper()
	oldQR, oldSup, oldInc, oldExc := extractQuoteRequest, extractSupplier, extractInclude, extractExclude
	t.Cleanup(func() {
		extractQuoteRequest, extractSupplier, extractInclude, extractExclude = oldQR, oldSup, oldInc, oldExc
	})
	extractQuoteRequest, extractSupplier = quoteRequest, supplier
	extractInclude, extractExclude = nil, nil
}

func TestImportReplies(t *testing.T) {
	qs, sup, qr := newQuoteStore(t)
	setReplyFlags(t, qr.ID, sup.ID)

	dir := t.TempDir()
	for name, body := range map[string]string{
		"re-rfq.eml":      "ABC123 is $12.50 each, in stock.",
		"quote.pdf.txt":   "ABC123 12.50 USD",
		"blank.txt":       "   \n",
		"attachment.docx": "ignored",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	ctx := context.Background()
	jobs, err := importReplies(ctx, qs, dir)
	if err != nil {
		t.Fatalf("importReplies: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %v, want 2", jobs)
	}

	kinds := map[quotes.Source]bool{}
	for _, j := range jobs {
		if j.Kind != extraction.JobReply {
			t.Errorf("job kind = %q, want reply", j.Kind)
		}
		r, err := qs.GetReply(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetReply: %v", err)
		}
		if r.QuoteRequestID != qr.ID || r.SupplierID != sup.ID || r.ExtractionStatus != quotes.ExtractionPending {
			t.Errorf("unexpected reply %+v", r)
		}
		kinds[r.Kind] = true
	}
	if !kinds[quotes.SourceEmail] || !kinds[quotes.SourcePDF] {
		t.Errorf("kinds = %v, want email and pdf", kinds)
	}
}

func TestImportRepliesValidatesTargets(t *testing.T) {
	qs, sup, qr := newQuoteStore(t)
	dir := t.TempDir()

	tests := []struct {
		name, quoteRequest, supplier string
	}{
		{"missing flags", "", ""},
		{"unknown quote request", "qr-missing", sup.ID},
		{"unknown supplier", qr.ID, "sup-missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setReplyFlags(t, tt.quoteRequest, tt.supplier)
			if _, err := importReplies(context.Background(), qs, dir); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestPendingJobs(t *testing.T) {
	qs, sup, qr := newQuoteStore(t)
	ctx := context.Background()

	call, err := qs.CreateCallLog(ctx, quotes.CallLog{QuoteRequestID: qr.ID, SupplierID: sup.ID})
	if err != nil {
		t.Fatalf("CreateCallLog: %v", err)
	}
	if _, err := qs.FinalizeCall(ctx, call.ID, quotes.CallResult{Status: quotes.CallCompleted, ExtractionStatus: quotes.ExtractionPending}); err != nil {
		t.Fatalf("FinalizeCall: %v", err)
	}
	reply, err := qs.CreateReply(ctx, quotes.Reply{QuoteRequestID: qr.ID, SupplierID: sup.ID, Body: "ABC123 $9"})
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}

	jobs, err := pendingJobs(ctx, qs, 10)
	if err != nil {
		t.Fatalf("pendingJobs: %v", err)
	}
	want := []extraction.Job{
		{Kind: extraction.JobCall, ID: call.ID},
		{Kind: extraction.JobReply, ID: reply.ID},
	}
	if diff := cmp.Diff(want, jobs); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
}

func TestDedupeJobs(t *testing.T) {
	jobs := []extraction.Job{
		{Kind: extraction.JobCall, ID: "c-1"},
		{Kind: extraction.JobReply, ID: "c-1"},
		{Kind: extraction.JobCall, ID: "c-1"},
		{Kind: extraction.JobCall, ID: "c-2"},
	}
	want := []extraction.Job{
		{Kind: extraction.JobCall, ID: "c-1"},
		{Kind: extraction.JobReply, ID: "c-1"},
		{Kind: extraction.JobCall, ID: "c-2"},
	}
	if diff := cmp.Diff(want, dedupeJobs(jobs)); diff != "" {
		t.Errorf("dedupeJobs (-want +got):\n%s", diff)
	}
}
