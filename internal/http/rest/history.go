package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
	"github.com/DiskTrackTed/transferarr-sub001/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

// HistoryHandler exposes the transfer audit log over HTTP. It is one of the
// concurrent callers of the history store, alongside the orchestrator.
type HistoryHandler struct {
	username string
	password string
	store    history.Store
}

// NewHistoryHandler creates a new history API handler.
func NewHistoryHandler(username, password string, store history.Store) *HistoryHandler {
	return &HistoryHandler{
		username: username,
		password: password,
		store:    store,
	}
}

func (h *HistoryHandler) Routes(tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)
	r.Use(h.basicAuthMiddleware)

	r.Route("/api/v1/transfers", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/active", h.handleActive)
		r.Get("/stats", h.handleStats)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleDelete)
	})

	r.Post("/api/v1/history/clear", h.handleClear)
	r.Post("/api/v1/history/prune", h.handlePrune)

	return r
}

type transferResponse struct {
	ID               string  `json:"id"`
	TorrentName      string  `json:"torrent_name"`
	TorrentHash      string  `json:"torrent_hash,omitempty"`
	SourceClient     string  `json:"source_client"`
	TargetClient     string  `json:"target_client"`
	ConnectionName   string  `json:"connection_name,omitempty"`
	MediaType        string  `json:"media_type"`
	MediaManager     string  `json:"media_manager,omitempty"`
	SizeBytes        int64   `json:"size_bytes"`
	BytesTransferred int64   `json:"bytes_transferred"`
	Status           string  `json:"status"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	CreatedAt        string  `json:"created_at"`
	StartedAt        *string `json:"started_at,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

func toResponse(record *history.Record) transferResponse {
	resp := transferResponse{
		ID:               record.ID,
		TorrentName:      record.TorrentName,
		TorrentHash:      record.TorrentHash,
		SourceClient:     record.SourceClient,
		TargetClient:     record.TargetClient,
		ConnectionName:   record.ConnectionName,
		MediaType:        string(record.MediaType),
		MediaManager:     record.MediaManager,
		SizeBytes:        record.SizeBytes,
		BytesTransferred: record.BytesTransferred,
		Status:           string(record.Status),
		ErrorMessage:     record.ErrorMessage,
		CreatedAt:        record.CreatedAt.Format(time.RFC3339),
	}

	if record.StartedAt != nil {
		s := record.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}

	if record.CompletedAt != nil {
		s := record.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}

	return resp
}

func toResponses(records []*history.Record) []transferResponse {
	responses := make([]transferResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toResponse(record))
	}

	return responses
}

func (h *HistoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := history.Filter{
		Status:       history.Status(q.Get("status")),
		SourceClient: q.Get("source"),
		TargetClient: q.Get("target"),
		Search:       q.Get("search"),
		SortBy:       q.Get("sort"),
		Order:        q.Get("order"),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)

			return
		}

		filter.From = t
	}

	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)

			return
		}

		filter.To = t
	}

	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	records, total, err := h.store.ListTransfers(filter)
	if err != nil {
		h.serverError(w, r, "failed to list transfers", err)

		return
	}

	if filter.Page < 1 {
		filter.Page = 1
	}

	if filter.PerPage < 1 {
		filter.PerPage = 20
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transfers": toResponses(records),
		"total":     total,
		"page":      filter.Page,
		"per_page":  filter.PerPage,
	})
}

func (h *HistoryHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetActiveTransfers()
	if err != nil {
		h.serverError(w, r, "failed to get active transfers", err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transfers": toResponses(records)})
}

func (h *HistoryHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats()
	if err != nil {
		h.serverError(w, r, "failed to get stats", err)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *HistoryHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetTransfer(chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "transfer not found", http.StatusNotFound)

		return
	}

	if err != nil {
		h.serverError(w, r, "failed to get transfer", err)

		return
	}

	writeJSON(w, http.StatusOK, toResponse(record))
}

func (h *HistoryHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	found, err := h.store.DeleteTransfer(chi.URLParam(r, "id"))
	if err != nil {
		h.serverError(w, r, "failed to delete transfer", err)

		return
	}

	if !found {
		http.Error(w, "transfer not found", http.StatusNotFound)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HistoryHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	status := history.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Finished() {
		http.Error(w, "status must be a finished status", http.StatusBadRequest)

		return
	}

	deleted, err := h.store.ClearHistory(status)
	if err != nil {
		h.serverError(w, r, "failed to clear history", err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *HistoryHandler) handlePrune(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("retention_days"))
	if err != nil {
		http.Error(w, "invalid retention_days", http.StatusBadRequest)

		return
	}

	deleted, err := h.store.PruneOldEntries(days)
	if err != nil {
		h.serverError(w, r, "failed to prune history", err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *HistoryHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *HistoryHandler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logctx.LoggerFromContext(r.Context()).Error(msg, "err", err)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
