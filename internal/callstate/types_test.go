package callstate

import (
	"testing"
	"time"
)

func price(v float64) *float64 { return &v }

func TestSetStatusIsMonotone(t *testing.T) {
	s := New("c", 2, time.Now())
	if err := s.SetStatus(StatusCompleted); err != nil {
		t.Fatalf("SetStatus completed: %v", err)
	}
	if err := s.SetStatus(StatusCompleted); err != nil {
		t.Errorf("repeating the same status should be a no-op: %v", err)
	}
	if err := s.SetStatus(StatusInProgress); err == nil {
		t.Error("expected error reverting a final status")
	}
	if err := s.SetStatus(StatusEscalated); err == nil {
		t.Error("expected error moving between final statuses")
	}
}

func TestAppendTurnSkipsEmpty(t *testing.T) {
	s := New("c", 2, time.Now())
	s.AppendTurn(SpeakerCounterparty, "", time.Now())
	s.AppendTurn(SpeakerAgent, "Hello", time.Now())
	if len(s.History) != 1 {
		t.Errorf("history = %d, want 1", len(s.History))
	}
}

func TestDrafts(t *testing.T) {
	s := New("c", 2, time.Now())
	s.Parts = []Part{{PartNumber: "A"}, {PartNumber: "B"}}

	p, ok := s.PendingPart()
	if !ok || p.PartNumber != "A" {
		t.Fatalf("PendingPart = %v, %v", p, ok)
	}

	s.PutDraft(QuoteDraft{PartNumber: "A", Price: price(10)})
	s.PutDraft(QuoteDraft{PartNumber: "A", Price: price(9)})
	if len(s.Quotes) != 1 || *s.Quotes[0].Price != 9 {
		t.Errorf("PutDraft should replace: %+v", s.Quotes)
	}

	p, _ = s.PendingPart()
	if p.PartNumber != "B" {
		t.Errorf("PendingPart = %q, want B", p.PartNumber)
	}

	s.PutDraft(QuoteDraft{PartNumber: "B"})
	if _, ok := s.PendingPart(); ok {
		t.Error("no part should be pending")
	}
	if s.PricedQuotes() != 1 {
		t.Errorf("PricedQuotes = %d, want 1", s.PricedQuotes())
	}

	s.DropDraft("A")
	if _, ok := s.DraftFor("A"); ok {
		t.Error("A should be dropped")
	}
}

func TestNodeProperties(t *testing.T) {
	for _, n := range AllNodes {
		if !n.Valid() {
			t.Errorf("%s should be valid", n)
		}
	}
	if Node("lunch").Valid() {
		t.Error("unknown node reported valid")
	}
	terminal := map[Node]bool{NodeCompleted: true, NodeVoicemail: true, NodeEscalated: true}
	for _, n := range AllNodes {
		if n.Terminal() != terminal[n] {
			t.Errorf("%s.Terminal() = %v", n, n.Terminal())
		}
	}
}

func TestMatchPart(t *testing.T) {
	st := &CallState{Parts: []Part{
		{PartNumber: "ABC123"},
		{PartNumber: "xj-900"},
		{PartNumber: "6205 2RS"},
	}}
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ABC123", "ABC123", true},
		{"abc123", "ABC123", true},
		{"XJ-900", "xj-900", true},
		{"XJ900", "xj-900", true},
		{"6205-2rs", "6205 2RS", true},
		{"ZZZ", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		got, ok := st.MatchPart(tt.in)
		if ok != tt.ok || got.PartNumber != tt.want {
			t.Errorf("MatchPart(%q) = %q, %v; want %q, %v", tt.in, got.PartNumber, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizePartNumber(t *testing.T) {
	if got := NormalizePartNumber(" ab-12 c "); got != "AB12C" {
		t.Errorf("NormalizePartNumber = %q, want AB12C", got)
	}
}
