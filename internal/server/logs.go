package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailflow/mailflow/internal/relay"
	"github.com/mailflow/mailflow/internal/storage"
)

// RelayHandler exposes the campaign log relay over HTTP. The workflow runner
// POSTs log batches and completion signals here; polling clients GET the
// buffered session; DELETE clears it once the client is done.
type RelayHandler struct {
	store   *relay.Store
	storage storage.Storage
	stream  *StreamHandler
	log     *slog.Logger
}

// NewRelayHandler creates a relay handler. storage may be nil when no
// document store is configured; history reads then return empty payloads.
func NewRelayHandler(store *relay.Store, st storage.Storage, stream *StreamHandler, log *slog.Logger) *RelayHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RelayHandler{
		store:   store,
		storage: st,
		stream:  stream,
		log:     log,
	}
}

// ServeHTTP routes /campaigns/{id}/logs and /campaigns/{id}/logs/history.
func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/campaigns/")
	path = strings.TrimSuffix(path, "/")

	switch {
	case strings.HasSuffix(path, "/logs/history"):
		campaignID := strings.TrimSuffix(path, "/logs/history")
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.history(w, r, campaignID)

	case strings.HasSuffix(path, "/logs"):
		campaignID := strings.TrimSuffix(path, "/logs")
		switch r.Method {
		case http.MethodPost:
			h.ingest(w, r, campaignID)
		case http.MethodGet:
			h.read(w, r, campaignID)
		case http.MethodDelete:
			h.clear(w, r, campaignID)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type ingestResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LogsCount int    `json:"logsCount"`
}

func (h *RelayHandler) ingest(w http.ResponseWriter, r *http.Request, campaignID string) {
	if !storage.ValidID(campaignID) {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read body: %v", err))
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Error("failed to parse log payload", "campaign_id", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	batch := relay.Interpret(payload)
	res := h.store.Apply(campaignID, batch)

	h.log.Debug("logs ingested",
		"campaign_id", campaignID,
		"appended", len(res.Appended),
		"total", len(res.Lines),
		"complete", res.Complete)

	if h.stream != nil {
		h.stream.BroadcastLines(campaignID, res.Appended)
		if res.Completed {
			h.stream.BroadcastComplete(campaignID, res.Message)
		}
	}

	// A completion signal also flushes the session to the durable store, so
	// history survives the session being cleared. Best effort: a store
	// failure does not fail the ingestion.
	if res.Completed && h.storage != nil {
		rec := &storage.CampaignLogRecord{
			CampaignID:        campaignID,
			Logs:              res.Lines,
			IsComplete:        res.Complete,
			CompletionMessage: res.Message,
			LastUpdated:       res.LastUpdated,
		}
		if err := h.storage.SaveCampaignLogs(r.Context(), rec); err != nil {
			h.log.Warn("failed to persist log snapshot", "campaign_id", campaignID, "error", err)
		}
	}

	writeJSON(w, h.log, ingestResponse{
		Success:   true,
		Message:   "logs received",
		LogsCount: len(res.Lines),
	})
}

type sessionResponse struct {
	Logs              []string   `json:"logs"`
	LastUpdated       *time.Time `json:"lastUpdated"`
	Count             int        `json:"count"`
	IsComplete        bool       `json:"isComplete"`
	CompletionMessage *string    `json:"completionMessage"`
}

func (h *RelayHandler) read(w http.ResponseWriter, r *http.Request, campaignID string) {
	if !storage.ValidID(campaignID) {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	// No session is "no logs yet", not an error.
	snap, ok := h.store.Get(campaignID)
	resp := sessionResponse{Logs: []string{}}
	if ok {
		resp.Logs = snap.Lines
		if resp.Logs == nil {
			resp.Logs = []string{}
		}
		t := snap.LastUpdated
		resp.LastUpdated = &t
		resp.Count = len(snap.Lines)
		resp.IsComplete = snap.Complete
		if snap.Message != "" {
			m := snap.Message
			resp.CompletionMessage = &m
		}
	}

	writeJSON(w, h.log, resp)
}

type clearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *RelayHandler) clear(w http.ResponseWriter, r *http.Request, campaignID string) {
	if !storage.ValidID(campaignID) {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	// Clearing a session that never existed succeeds too.
	existed := h.store.Clear(campaignID)
	h.log.Debug("log session cleared", "campaign_id", campaignID, "existed", existed)

	writeJSON(w, h.log, clearResponse{Success: true, Message: "logs cleared"})
}

func (h *RelayHandler) history(w http.ResponseWriter, r *http.Request, campaignID string) {
	if !storage.ValidID(campaignID) {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	// Missing record and missing store both read as an empty history, so the
	// client can always probe for it without special-casing.
	resp := sessionResponse{Logs: []string{}}
	if h.storage != nil {
		rec, err := h.storage.GetCampaignLogs(r.Context(), campaignID)
		switch {
		case err == storage.ErrNotFound:
			// empty response
		case err != nil:
			h.log.Error("failed to read log history", "campaign_id", campaignID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		default:
			resp.Logs = rec.Logs
			if resp.Logs == nil {
				resp.Logs = []string{}
			}
			resp.Count = len(rec.Logs)
			resp.IsComplete = rec.IsComplete
			if rec.CompletionMessage != "" {
				m := rec.CompletionMessage
				resp.CompletionMessage = &m
			}
			t := rec.LastUpdated
			resp.LastUpdated = &t
		}
	}

	writeJSON(w, h.log, resp)
}
