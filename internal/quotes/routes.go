package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Scheduler queues extraction work. It is satisfied by the extraction runner.
type Scheduler interface {
	ScheduleCall(ctx context.Context, callLogID string) error
	ScheduleReply(ctx context.Context, replyID string) error
}

// RegisterRoutes mounts the call and quote endpoints on the given router.
func RegisterRoutes(r chi.Router, store *Store, sched Scheduler) {
	r.Route("/api/calls", func(r chi.Router) {
		r.Get("/{id}", handleGetCall(store))
		r.Post("/{id}/extract", handleExtractCall(store, sched))
	})
	r.Route("/api/quote-requests/{id}", func(r chi.Router) {
		r.Get("/quotes", handleListQuotes(store))
		r.Post("/calls", handleCreateCall(store))
		r.Post("/replies", handleCreateReply(store, sched))
	})
}

func handleGetCall(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.GetCallLog(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleExtractCall(store *Store, sched Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := store.GetCallLog(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := store.SetCallExtraction(r.Context(), id, ExtractionPending); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := sched.ScheduleCall(r.Context(), id); err != nil {
			// Left pending; the maintenance sweep picks it up.
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending", "detail": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	}
}

func handleListQuotes(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := store.GetQuoteRequest(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		list, err := store.ListQuotes(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []SupplierQuote{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type createCallRequest struct {
	SupplierID string `json:"supplier_id"`
	CallerID   string `json:"caller_id"`
}

func handleCreateCall(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.SupplierID == "" {
			http.Error(w, "supplier_id is required", http.StatusBadRequest)
			return
		}
		if _, err := store.GetSupplier(r.Context(), req.SupplierID); err != nil {
			writeStoreError(w, err)
			return
		}
		c, err := store.CreateCallLog(r.Context(), CallLog{
			QuoteRequestID: chi.URLParam(r, "id"),
			SupplierID:     req.SupplierID,
			CallerID:       req.CallerID,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

type createReplyRequest struct {
	SupplierID string `json:"supplier_id"`
	Kind       Source `json:"kind"`
	Body       string `json:"body"`
}

func handleCreateReply(store *Store, sched Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.SupplierID == "" || req.Body == "" {
			http.Error(w, "supplier_id and body are required", http.StatusBadRequest)
			return
		}
		if req.Kind != "" && req.Kind != SourceEmail && req.Kind != SourcePDF {
			http.Error(w, "kind must be email or pdf", http.StatusBadRequest)
			return
		}
		id := chi.URLParam(r, "id")
		if _, err := store.GetQuoteRequest(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		reply, err := store.CreateReply(r.Context(), Reply{
			QuoteRequestID: id,
			SupplierID:     req.SupplierID,
			Kind:           req.Kind,
			Body:           req.Body,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// A full queue leaves the reply pending for the maintenance sweep.
		_ = sched.ScheduleReply(r.Context(), reply.ID)
		writeJSON(w, http.StatusAccepted, reply)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
