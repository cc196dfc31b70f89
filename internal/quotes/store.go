package quotes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/db"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("quotes: not found")
	// ErrCallClosed is returned when a call context is requested for a call
	// whose durable record is already final.
	ErrCallClosed = errors.New("quotes: call already closed")
)

// Store persists suppliers, quote requests, call logs, replies and quotes.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// CreateSupplier inserts a supplier. If s.ID is empty a UUID is generated.
func (s *Store) CreateSupplier(ctx context.Context, sup Supplier) (*Supplier, error) {
	if sup.ID == "" {
		sup.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, organization_id, name, phone, email)
		VALUES (?, ?, ?, ?, ?)`,
		sup.ID, sup.OrganizationID, sup.Name, sup.Phone, sup.Email)
	if err != nil {
		return nil, fmt.Errorf("inserting supplier: %w", err)
	}
	sup.CreatedAt = s.now().UTC()
	return &sup, nil
}

// GetSupplier returns a supplier by id.
func (s *Store) GetSupplier(ctx context.Context, id string) (*Supplier, error) {
	var (
		sup Supplier
		ts  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, phone, email, created_at
		FROM suppliers WHERE id = ?`, id).
		Scan(&sup.ID, &sup.OrganizationID, &sup.Name, &sup.Phone, &sup.Email, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("supplier %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying supplier: %w", err)
	}
	sup.CreatedAt = parseTime(ts)
	return &sup, nil
}

// CreateQuoteRequest inserts a quote request together with its items.
// Item ids are generated when empty and positions follow slice order.
func (s *Store) CreateQuoteRequest(ctx context.Context, qr QuoteRequest, items []RequestedItem) (*QuoteRequest, []RequestedItem, error) {
	if qr.ID == "" {
		qr.ID = uuid.New().String()
	}
	if qr.Status == "" {
		qr.Status = "open"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quote_requests (id, organization_id, requester_id, title, status)
		VALUES (?, ?, ?, ?, ?)`,
		qr.ID, qr.OrganizationID, qr.RequesterID, qr.Title, qr.Status); err != nil {
		return nil, nil, fmt.Errorf("inserting quote request: %w", err)
	}

	out := make([]RequestedItem, 0, len(items))
	for i, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		it.QuoteRequestID = qr.ID
		it.Position = i
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO requested_items (id, quote_request_id, part_number, description, quantity, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			it.ID, it.QuoteRequestID, it.PartNumber, it.Description, it.Quantity, it.Position); err != nil {
			return nil, nil, fmt.Errorf("inserting requested item %s: %w", it.PartNumber, err)
		}
		out = append(out, it)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing quote request: %w", err)
	}
	qr.CreatedAt = s.now().UTC()
	return &qr, out, nil
}

// GetQuoteRequest returns a quote request by id.
func (s *Store) GetQuoteRequest(ctx context.Context, id string) (*QuoteRequest, error) {
	var (
		qr QuoteRequest
		ts string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, requester_id, title, status, created_at
		FROM quote_requests WHERE id = ?`, id).
		Scan(&qr.ID, &qr.OrganizationID, &qr.RequesterID, &qr.Title, &qr.Status, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quote request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying quote request: %w", err)
	}
	qr.CreatedAt = parseTime(ts)
	return &qr, nil
}

// ListRequestedItems returns the items of a quote request in position order.
func (s *Store) ListRequestedItems(ctx context.Context, quoteRequestID string) ([]RequestedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_request_id, part_number, description, quantity, position
		FROM requested_items WHERE quote_request_id = ?
		ORDER BY position, id`, quoteRequestID)
	if err != nil {
		return nil, fmt.Errorf("querying requested items: %w", err)
	}
	defer rows.Close()

	var items []RequestedItem
	for rows.Next() {
		var it RequestedItem
		if err := rows.Scan(&it.ID, &it.QuoteRequestID, &it.PartNumber, &it.Description, &it.Quantity, &it.Position); err != nil {
			return nil, fmt.Errorf("scanning requested item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// BestCompetingPrices returns, per requested item, the lowest unit price
// quoted by any supplier other than excludeSupplierID.
func (s *Store) BestCompetingPrices(ctx context.Context, quoteRequestID, excludeSupplierID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requested_item_id, MIN(unit_price)
		FROM supplier_quotes
		WHERE quote_request_id = ? AND supplier_id != ? AND unit_price IS NOT NULL
		GROUP BY requested_item_id`, quoteRequestID, excludeSupplierID)
	if err != nil {
		return nil, fmt.Errorf("querying competing prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			itemID string
			price  float64
		)
		if err := rows.Scan(&itemID, &price); err != nil {
			return nil, fmt.Errorf("scanning competing price: %w", err)
		}
		out[itemID] = price
	}
	return out, rows.Err()
}

// CreateCallLog registers an outbound call before it is dialed. The returned
// id is the callLogId the dialer passes to the voice vendor as metadata.
func (s *Store) CreateCallLog(ctx context.Context, c CallLog) (*CallLog, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = CallQueued
	}
	if c.ExtractionStatus == "" {
		c.ExtractionStatus = ExtractionNone
	}
	if c.OrganizationID == "" {
		qr, err := s.GetQuoteRequest(ctx, c.QuoteRequestID)
		if err != nil {
			return nil, err
		}
		c.OrganizationID = qr.OrganizationID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (id, quote_request_id, supplier_id, organization_id, caller_id, status, extraction_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.QuoteRequestID, c.SupplierID, c.OrganizationID, c.CallerID, string(c.Status), string(c.ExtractionStatus))
	if err != nil {
		return nil, fmt.Errorf("inserting call log: %w", err)
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	return &c, nil
}

const callLogColumns = `id, quote_request_id, supplier_id, organization_id, caller_id, external_call_id,
	status, vendor_status, outcome, next_action, needs_human_escalation, ended_reason, error,
	transcript, captured_quotes, extraction_status, started_at, ended_at, created_at, updated_at`

// GetCallLog returns a call log by id.
func (s *Store) GetCallLog(ctx context.Context, id string) (*CallLog, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+callLogColumns+" FROM call_logs WHERE id = ?", id)
	c, err := scanCallLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying call log: %w", err)
	}
	return c, nil
}

// ListCallsByExtraction returns call logs with the given extraction status,
// oldest first.
func (s *Store) ListCallsByExtraction(ctx context.Context, status ExtractionStatus, limit int) ([]CallLog, error) {
	query := "SELECT " + callLogColumns + " FROM call_logs WHERE extraction_status = ? ORDER BY updated_at"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying call logs: %w", err)
	}
	defer rows.Close()

	var out []CallLog
	for rows.Next() {
		c, err := scanCallLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning call log: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// LoadCallContext gathers the call log, supplier, requested items and
// competing benchmark prices needed to open a conversation.
func (s *Store) LoadCallContext(ctx context.Context, callLogID string) (*CallContext, error) {
	call, err := s.GetCallLog(ctx, callLogID)
	if err != nil {
		return nil, err
	}
	if call.Status.Final() {
		return nil, fmt.Errorf("call log %s is %s: %w", callLogID, call.Status, ErrCallClosed)
	}
	sup, err := s.GetSupplier(ctx, call.SupplierID)
	if err != nil {
		return nil, err
	}
	items, err := s.ListRequestedItems(ctx, call.QuoteRequestID)
	if err != nil {
		return nil, err
	}
	bench, err := s.BestCompetingPrices(ctx, call.QuoteRequestID, call.SupplierID)
	if err != nil {
		return nil, err
	}
	return &CallContext{Call: *call, Supplier: *sup, Items: items, Benchmarks: bench}, nil
}

// MarkCallStarted moves a queued call to in_progress and records the
// vendor's call id. Final calls are left untouched.
func (s *Store) MarkCallStarted(ctx context.Context, id, externalCallID string) error {
	now := s.now().UTC().Format(time.DateTime)
	_, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET
			status = CASE WHEN status = 'queued' THEN 'in_progress' ELSE status END,
			external_call_id = CASE WHEN external_call_id = '' THEN ? ELSE external_call_id END,
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		WHERE id = ? AND status NOT IN ('completed','escalated','failed')`,
		externalCallID, now, now, id)
	if err != nil {
		return fmt.Errorf("marking call started: %w", err)
	}
	return nil
}

// UpdateVendorStatus mirrors the voice vendor's status string.
func (s *Store) UpdateVendorStatus(ctx context.Context, id, vendorStatus string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET vendor_status = ?, updated_at = ? WHERE id = ?`,
		vendorStatus, s.now().UTC().Format(time.DateTime), id)
	if err != nil {
		return fmt.Errorf("updating vendor status: %w", err)
	}
	return nil
}

// FinalizeCall records the terminal result of a call. Only the first
// finalization wins; it reports whether this call performed it. A later
// call may still lengthen the stored transcript.
func (s *Store) FinalizeCall(ctx context.Context, id string, res CallResult) (bool, error) {
	transcript, err := json.Marshal(nonNilTurns(res.Transcript))
	if err != nil {
		return false, fmt.Errorf("marshalling transcript: %w", err)
	}
	captured, err := json.Marshal(nonNilDrafts(res.CapturedQuotes))
	if err != nil {
		return false, fmt.Errorf("marshalling captured quotes: %w", err)
	}
	if res.ExtractionStatus == "" {
		res.ExtractionStatus = ExtractionNone
	}
	now := s.now().UTC().Format(time.DateTime)

	result, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET
			status = ?, outcome = ?, next_action = ?, needs_human_escalation = ?,
			ended_reason = ?, error = ?, transcript = ?, captured_quotes = ?,
			extraction_status = ?, ended_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed','escalated','failed')`,
		string(res.Status), res.Outcome, res.NextAction, boolInt(res.NeedsHumanEscalation),
		res.EndedReason, res.Error, string(transcript), string(captured),
		string(res.ExtractionStatus), now, now, id)
	if err != nil {
		return false, fmt.Errorf("finalizing call: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		return true, nil
	}

	if _, err := s.GetCallLog(ctx, id); err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE call_logs SET transcript = ?, updated_at = ?
		WHERE id = ? AND json_array_length(transcript) < ?`,
		string(transcript), now, id, len(res.Transcript))
	if err != nil {
		return false, fmt.Errorf("merging transcript: %w", err)
	}
	return false, nil
}

// SetCallExtraction updates the extraction status of a call log.
func (s *Store) SetCallExtraction(ctx context.Context, id string, status ExtractionStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET extraction_status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC().Format(time.DateTime), id)
	if err != nil {
		return fmt.Errorf("updating extraction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call log %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertQuote writes q keyed by (RequestedItemID, SupplierID). Re-running
// with the same input leaves exactly one row whose fields reflect q.
func (s *Store) UpsertQuote(ctx context.Context, q SupplierQuote) (*SupplierQuote, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Availability == "" {
		q.Availability = Unknown
	}
	if q.Source == "" {
		q.Source = SourceCall
	}
	var validUntil sql.NullString
	if q.ValidUntil != nil {
		validUntil = sql.NullString{String: q.ValidUntil.UTC().Format(time.DateTime), Valid: true}
	}
	now := s.now().UTC().Format(time.DateTime)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO supplier_quotes (id, requested_item_id, supplier_id, quote_request_id, unit_price, total_price,
			currency, availability, lead_time_days, notes, valid_until, source, source_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(requested_item_id, supplier_id) DO UPDATE SET
			quote_request_id = excluded.quote_request_id,
			unit_price = excluded.unit_price,
			total_price = excluded.total_price,
			currency = excluded.currency,
			availability = excluded.availability,
			lead_time_days = excluded.lead_time_days,
			notes = excluded.notes,
			valid_until = excluded.valid_until,
			source = excluded.source,
			source_id = excluded.source_id,
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		q.ID, q.RequestedItemID, q.SupplierID, q.QuoteRequestID,
		nullFloat(q.UnitPrice), nullFloat(q.TotalPrice), q.Currency, string(q.Availability),
		nullInt(q.LeadTimeDays), q.Notes, validUntil, string(q.Source), q.SourceID, now, now)

	var created string
	if err := row.Scan(&q.ID, &created); err != nil {
		return nil, fmt.Errorf("upserting quote for item %s: %w", q.RequestedItemID, err)
	}
	q.CreatedAt = parseTime(created)
	q.UpdatedAt = parseTime(now)
	return &q, nil
}

// ListQuotes returns the quotes recorded for a quote request with each
// quote's part number filled in.
func (s *Store) ListQuotes(ctx context.Context, quoteRequestID string) ([]SupplierQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.requested_item_id, q.supplier_id, q.quote_request_id, i.part_number,
			q.unit_price, q.total_price, q.currency, q.availability, q.lead_time_days, q.notes,
			q.valid_until, q.source, q.source_id, q.created_at, q.updated_at
		FROM supplier_quotes q
		JOIN requested_items i ON i.id = q.requested_item_id
		WHERE q.quote_request_id = ?
		ORDER BY i.position, q.supplier_id`, quoteRequestID)
	if err != nil {
		return nil, fmt.Errorf("querying quotes: %w", err)
	}
	defer rows.Close()

	var out []SupplierQuote
	for rows.Next() {
		var (
			q                SupplierQuote
			unit, total      sql.NullFloat64
			lead             sql.NullInt64
			validUntil       sql.NullString
			avail, source    string
			created, updated string
		)
		if err := rows.Scan(&q.ID, &q.RequestedItemID, &q.SupplierID, &q.QuoteRequestID, &q.PartNumber,
			&unit, &total, &q.Currency, &avail, &lead, &q.Notes,
			&validUntil, &source, &q.SourceID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		q.Availability = Availability(avail)
		q.Source = Source(source)
		if unit.Valid {
			q.UnitPrice = &unit.Float64
		}
		if total.Valid {
			q.TotalPrice = &total.Float64
		}
		if lead.Valid {
			d := int(lead.Int64)
			q.LeadTimeDays = &d
		}
		if validUntil.Valid {
			t := parseTime(validUntil.String)
			q.ValidUntil = &t
		}
		q.CreatedAt = parseTime(created)
		q.UpdatedAt = parseTime(updated)
		out = append(out, q)
	}
	return out, rows.Err()
}

// CreateReply stores a supplier's written reply pending extraction.
func (s *Store) CreateReply(ctx context.Context, r Reply) (*Reply, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Kind == "" {
		r.Kind = SourceEmail
	}
	r.ExtractionStatus = ExtractionPending
	r.ReceivedAt = s.now().UTC().Truncate(time.Second)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier_replies (id, quote_request_id, supplier_id, kind, body, extraction_status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.QuoteRequestID, r.SupplierID, string(r.Kind), r.Body, string(r.ExtractionStatus),
		r.ReceivedAt.Format(time.DateTime))
	if err != nil {
		return nil, fmt.Errorf("inserting reply: %w", err)
	}
	return &r, nil
}

// GetReply returns a stored reply by id.
func (s *Store) GetReply(ctx context.Context, id string) (*Reply, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, quote_request_id, supplier_id, kind, body, extraction_status, received_at
		FROM supplier_replies WHERE id = ?`, id)
	r, err := scanReply(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reply %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying reply: %w", err)
	}
	return r, nil
}

// ListPendingReplies returns replies still awaiting extraction.
func (s *Store) ListPendingReplies(ctx context.Context, limit int) ([]Reply, error) {
	query := `SELECT id, quote_request_id, supplier_id, kind, body, extraction_status, received_at
		FROM supplier_replies WHERE extraction_status = 'pending' ORDER BY received_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying replies: %w", err)
	}
	defer rows.Close()

	var out []Reply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reply: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetReplyExtraction updates the extraction status of a reply.
func (s *Store) SetReplyExtraction(ctx context.Context, id string, status ExtractionStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE supplier_replies SET extraction_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("updating reply extraction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reply %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkQuoted flips an open quote request to quoted once any price exists.
func (s *Store) MarkQuoted(ctx context.Context, quoteRequestID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE quote_requests SET status = 'quoted', updated_at = ?
		WHERE id = ? AND status = 'open'`,
		s.now().UTC().Format(time.DateTime), quoteRequestID)
	if err != nil {
		return fmt.Errorf("marking quote request quoted: %w", err)
	}
	return nil
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCallLog(sc scanner) (*CallLog, error) {
	var (
		c                    CallLog
		status, extraction   string
		escalate             int
		transcript, captured string
		started, ended       sql.NullString
		created, updated     string
	)
	err := sc.Scan(&c.ID, &c.QuoteRequestID, &c.SupplierID, &c.OrganizationID, &c.CallerID, &c.ExternalCallID,
		&status, &c.VendorStatus, &c.Outcome, &c.NextAction, &escalate, &c.EndedReason, &c.Error,
		&transcript, &captured, &extraction, &started, &ended, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Status = CallStatus(status)
	c.ExtractionStatus = ExtractionStatus(extraction)
	c.NeedsHumanEscalation = escalate != 0
	if err := json.Unmarshal([]byte(transcript), &c.Transcript); err != nil {
		c.Transcript = nil
	}
	if err := json.Unmarshal([]byte(captured), &c.CapturedQuotes); err != nil {
		c.CapturedQuotes = nil
	}
	if started.Valid {
		t := parseTime(started.String)
		c.StartedAt = &t
	}
	if ended.Valid {
		t := parseTime(ended.String)
		c.EndedAt = &t
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func scanReply(sc scanner) (*Reply, error) {
	var (
		r                Reply
		kind, extraction string
		ts               string
	)
	if err := sc.Scan(&r.ID, &r.QuoteRequestID, &r.SupplierID, &kind, &r.Body, &extraction, &ts); err != nil {
		return nil, err
	}
	r.Kind = Source(kind)
	r.ExtractionStatus = ExtractionStatus(extraction)
	r.ReceivedAt = parseTime(ts)
	return &r, nil
}

// parseTime accepts both SQLite's datetime('now') text and the RFC 3339
// form the driver produces for DATETIME columns.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilTurns(t []callstate.Turn) []callstate.Turn {
	if t == nil {
		return []callstate.Turn{}
	}
	return t
}

func nonNilDrafts(d []callstate.QuoteDraft) []callstate.QuoteDraft {
	if d == nil {
		return []callstate.QuoteDraft{}
	}
	return d
}
