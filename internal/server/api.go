package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailflow/mailflow/internal/objectstore"
	"github.com/mailflow/mailflow/internal/recipients"
	"github.com/mailflow/mailflow/internal/runner"
	"github.com/mailflow/mailflow/internal/schedule"
	"github.com/mailflow/mailflow/internal/storage"
	"github.com/mailflow/mailflow/internal/token"
)

// maxUploadSize caps multipart uploads (recipient lists, images).
const maxUploadSize = 20 << 20 // 20MB

// APIHandler handles the management API: campaigns, domains, replies,
// unsubscribes, and uploads.
type APIHandler struct {
	storage storage.Storage
	objects objectstore.ObjectStore
	runner  *runner.Client
	signer  *token.Signer
	baseURL string
	log     *slog.Logger
}

// NewAPIHandler creates a new API handler. baseURL is this server's public
// address, used to compose callback and unsubscribe URLs handed to the
// workflow runner.
func NewAPIHandler(st storage.Storage, obj objectstore.ObjectStore, rc *runner.Client, signer *token.Signer, baseURL string, log *slog.Logger) *APIHandler {
	if log == nil {
		log = slog.Default()
	}
	return &APIHandler{
		storage: st,
		objects: obj,
		runner:  rc,
		signer:  signer,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log,
	}
}

// ServeHTTP routes API requests.
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	path = strings.TrimSuffix(path, "/")

	switch {
	// Campaigns
	case path == "/campaigns" && r.Method == http.MethodGet:
		h.listCampaigns(w, r)
	case path == "/campaigns" && r.Method == http.MethodPost:
		h.createCampaign(w, r)
	case strings.HasPrefix(path, "/campaigns/") && strings.HasSuffix(path, "/send"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/campaigns/"), "/send")
		if r.Method == http.MethodPost {
			h.sendCampaign(w, r, id)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/campaigns/") && strings.HasSuffix(path, "/status"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/campaigns/"), "/status")
		if r.Method == http.MethodPost {
			h.updateCampaignStatus(w, r, id)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/campaigns/") && strings.HasSuffix(path, "/replies"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/campaigns/"), "/replies")
		if r.Method == http.MethodGet {
			h.listCampaignReplies(w, r, id)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/campaigns/") && strings.HasSuffix(path, "/unsubscribes"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/campaigns/"), "/unsubscribes")
		if r.Method == http.MethodGet {
			h.listCampaignUnsubscribes(w, r, id)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/campaigns/") && strings.HasSuffix(path, "/unsubscribe-link"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/campaigns/"), "/unsubscribe-link")
		if r.Method == http.MethodPost {
			h.createUnsubscribeLink(w, r, id)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/campaigns/"):
		id := strings.TrimPrefix(path, "/campaigns/")
		switch r.Method {
		case http.MethodGet:
			h.getCampaign(w, r, id)
		case http.MethodPut:
			h.updateCampaign(w, r, id)
		case http.MethodDelete:
			h.deleteCampaign(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	// Sending domains
	case path == "/domains" && r.Method == http.MethodGet:
		h.listDomains(w, r)
	case path == "/domains" && r.Method == http.MethodPost:
		h.createDomain(w, r)
	case strings.HasPrefix(path, "/domains/"):
		id := strings.TrimPrefix(path, "/domains/")
		switch r.Method {
		case http.MethodGet:
			h.getDomain(w, r, id)
		case http.MethodDelete:
			h.deleteDomain(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	// Replies
	case path == "/replies" && r.Method == http.MethodGet:
		h.listReplies(w, r)
	case path == "/replies" && r.Method == http.MethodPost:
		h.createReply(w, r)

	// Unsubscribes
	case path == "/unsubscribes" && r.Method == http.MethodGet:
		h.listUnsubscribes(w, r)

	// Uploads
	case path == "/uploads" && r.Method == http.MethodPost:
		h.upload(w, r)
	case strings.HasPrefix(path, "/uploads/") && strings.HasSuffix(path, "/url"):
		key := strings.TrimSuffix(strings.TrimPrefix(path, "/uploads/"), "/url")
		if r.Method == http.MethodGet {
			h.uploadURL(w, r, key)
		} else {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Campaigns ---

type campaignRequest struct {
	Name              string `json:"name"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	FromName          string `json:"fromName"`
	DomainID          string `json:"domainId"`
	CSVKey            string `json:"csvKey"`
	FollowUpSubject   string `json:"followUpSubject"`
	FollowUpBody      string `json:"followUpBody"`
	FollowUpDelayDays int    `json:"followUpDelayDays"`
	ScheduleAt        string `json:"scheduleAt"` // RFC 3339, empty for immediate
}

type campaignResponse struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Subject           string          `json:"subject"`
	Body              string          `json:"body"`
	FromName          string          `json:"fromName"`
	DomainID          string          `json:"domainId,omitempty"`
	CSVKey            string          `json:"csvKey,omitempty"`
	RecipientCount    int             `json:"recipientCount"`
	FollowUpSubject   string          `json:"followUpSubject,omitempty"`
	FollowUpBody      string          `json:"followUpBody,omitempty"`
	FollowUpDelayDays int             `json:"followUpDelayDays,omitempty"`
	ScheduleAt        *time.Time      `json:"scheduleAt,omitempty"`
	Status            string          `json:"status"`
	Metrics           metricsResponse `json:"metrics"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type metricsResponse struct {
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opened       int `json:"opened"`
	Replied      int `json:"replied"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
}

func campaignToResponse(c *storage.Campaign) campaignResponse {
	return campaignResponse{
		ID:                c.ID,
		Name:              c.Name,
		Subject:           c.Subject,
		Body:              c.Body,
		FromName:          c.FromName,
		DomainID:          c.DomainID,
		CSVKey:            c.CSVKey,
		RecipientCount:    c.RecipientCount,
		FollowUpSubject:   c.FollowUpSubject,
		FollowUpBody:      c.FollowUpBody,
		FollowUpDelayDays: c.FollowUpDelayDays,
		ScheduleAt:        c.ScheduleAt,
		Status:            string(c.Status),
		Metrics: metricsResponse{
			Sent:         c.Metrics.Sent,
			Delivered:    c.Metrics.Delivered,
			Opened:       c.Metrics.Opened,
			Replied:      c.Metrics.Replied,
			Bounced:      c.Metrics.Bounced,
			Unsubscribed: c.Metrics.Unsubscribed,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (h *APIHandler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.storage.ListCampaigns(r.Context())
	if err != nil {
		h.log.Error("failed to list campaigns", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]campaignResponse, len(campaigns))
	for i, c := range campaigns {
		resp[i] = campaignToResponse(c)
	}
	writeJSON(w, h.log, resp)
}

// applyCampaignRequest folds a request body into a campaign record,
// re-deriving the recipient count when the CSV key changed.
func (h *APIHandler) applyCampaignRequest(r *http.Request, c *storage.Campaign, req campaignRequest) error {
	if req.Name == "" || req.Subject == "" {
		return fmt.Errorf("name and subject are required")
	}

	if req.ScheduleAt != "" {
		t, err := schedule.Parse(req.ScheduleAt)
		if err != nil {
			return err
		}
		c.ScheduleAt = &t
	} else {
		c.ScheduleAt = nil
	}

	if req.CSVKey != "" && req.CSVKey != c.CSVKey {
		count, err := h.countRecipients(r, req.CSVKey)
		if err != nil {
			return err
		}
		c.RecipientCount = count
	}

	c.Name = req.Name
	c.Subject = req.Subject
	c.Body = req.Body
	c.FromName = req.FromName
	c.DomainID = req.DomainID
	c.CSVKey = req.CSVKey
	c.FollowUpSubject = req.FollowUpSubject
	c.FollowUpBody = req.FollowUpBody
	c.FollowUpDelayDays = req.FollowUpDelayDays
	return nil
}

func (h *APIHandler) countRecipients(r *http.Request, key string) (int, error) {
	rc, err := h.objects.Get(r.Context(), key)
	if err != nil {
		return 0, fmt.Errorf("recipient list %q not found: %w", key, err)
	}
	defer rc.Close()

	list, err := recipients.Parse(rc)
	if err != nil {
		return 0, fmt.Errorf("recipient list %q: %w", key, err)
	}
	return list.Count(), nil
}

func (h *APIHandler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now()
	c := &storage.Campaign{
		ID:        storage.NewID(),
		Status:    storage.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.applyCampaignRequest(r, c, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.CreateCampaign(r.Context(), c); err != nil {
		h.log.Error("failed to create campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	writeJSONStatus(w, h.log, http.StatusCreated, campaignToResponse(c))
}

func (h *APIHandler) getCampaign(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.storage.GetCampaign(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.log.Error("failed to get campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, h.log, campaignToResponse(c))
}

func (h *APIHandler) updateCampaign(w http.ResponseWriter, r *http.Request, id string) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.storage.GetCampaign(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.log.Error("failed to get campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.applyCampaignRequest(r, c, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.UpdatedAt = time.Now()

	if err := h.storage.UpdateCampaign(r.Context(), c); err != nil {
		h.log.Error("failed to update campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, h.log, campaignToResponse(c))
}

func (h *APIHandler) deleteCampaign(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.storage.DeleteCampaign(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.log.Error("failed to delete campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info("campaign deleted", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// sendCampaign hands the campaign to the workflow runner. The runner takes
// over from here and reports back through the log relay and the status
// callback.
func (h *APIHandler) sendCampaign(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.storage.GetCampaign(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.log.Error("failed to get campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if c.CSVKey == "" {
		writeError(w, http.StatusBadRequest, "campaign has no recipient list")
		return
	}
	if c.DomainID == "" {
		writeError(w, http.StatusBadRequest, "campaign has no sending domain")
		return
	}

	domain, err := h.storage.GetDomain(r.Context(), c.DomainID)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusBadRequest, "sending domain not found")
			return
		}
		h.log.Error("failed to get domain", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !domain.Verified {
		writeError(w, http.StatusBadRequest, "sending domain is not verified")
		return
	}

	// The runner downloads the recipient list itself, so it gets a
	// time-limited URL rather than the raw key.
	csvURL, err := h.objects.PresignGet(r.Context(), c.CSVKey, objectstore.DefaultURLTTL)
	if err != nil {
		h.log.Error("failed to presign recipient list", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tr := runner.TriggerRequest{
		CampaignID:        c.ID,
		Subject:           c.Subject,
		Body:              c.Body,
		FromName:          c.FromName,
		FromEmail:         domain.FromEmail,
		RecipientsURL:     csvURL,
		FollowUpSubject:   c.FollowUpSubject,
		FollowUpBody:      c.FollowUpBody,
		FollowUpDelayDays: c.FollowUpDelayDays,
		LogWebhookURL:     h.baseURL + "/campaigns/" + c.ID + "/logs",
		StatusCallbackURL: h.baseURL + "/api/campaigns/" + c.ID + "/status",
		UnsubscribeBase:   h.baseURL + "/unsubscribe",
	}
	if c.ScheduleAt != nil {
		tr.ScheduleAt = schedule.Format(*c.ScheduleAt)
	}

	if err := h.runner.Trigger(r.Context(), tr); err != nil {
		h.log.Error("failed to trigger runner", "campaign_id", c.ID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	status := storage.CampaignStatusProcessing
	if c.ScheduleAt != nil && c.ScheduleAt.After(time.Now()) {
		status = storage.CampaignStatusScheduled
	}
	if err := h.storage.UpdateCampaignStatus(r.Context(), c.ID, status); err != nil {
		h.log.Error("failed to update campaign status", "campaign_id", c.ID, "error", err)
	}

	h.log.Info("campaign handed to runner", "campaign_id", c.ID, "status", status)
	writeJSON(w, h.log, map[string]any{"success": true, "status": string(status)})
}

// updateCampaignStatus is the runner's status callback. It reports lifecycle
// transitions and, optionally, updated delivery metrics.
func (h *APIHandler) updateCampaignStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Status  string `json:"status"`
		Metrics *struct {
			Sent         int `json:"sent"`
			Delivered    int `json:"delivered"`
			Opened       int `json:"opened"`
			Replied      int `json:"replied"`
			Bounced      int `json:"bounced"`
			Unsubscribed int `json:"unsubscribed"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Status != "" {
		status := storage.CampaignStatus(req.Status)
		switch status {
		case storage.CampaignStatusScheduled, storage.CampaignStatusProcessing,
			storage.CampaignStatusSent, storage.CampaignStatusFailed:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
			return
		}
		if err := h.storage.UpdateCampaignStatus(r.Context(), id, status); err != nil {
			if err == storage.ErrNotFound {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			h.log.Error("failed to update campaign status", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.log.Info("campaign status updated", "campaign_id", id, "status", status)
	}

	if req.Metrics != nil {
		m := storage.Metrics{
			Sent:         req.Metrics.Sent,
			Delivered:    req.Metrics.Delivered,
			Opened:       req.Metrics.Opened,
			Replied:      req.Metrics.Replied,
			Bounced:      req.Metrics.Bounced,
			Unsubscribed: req.Metrics.Unsubscribed,
		}
		if err := h.storage.SetCampaignMetrics(r.Context(), id, m); err != nil {
			if err == storage.ErrNotFound {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			h.log.Error("failed to set campaign metrics", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, h.log, map[string]any{"success": true})
}

// createUnsubscribeLink issues a signed opt-out URL for one recipient. The
// runner requests these while composing each email.
func (h *APIHandler) createUnsubscribeLink(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := recipients.Normalize(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if _, err := h.storage.GetCampaign(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.log.Error("failed to get campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tok, err := h.signer.Issue(id, email)
	if err != nil {
		h.log.Error("failed to sign unsubscribe token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, h.log, map[string]string{
		"url": h.baseURL + "/unsubscribe?token=" + tok,
	})
}

// HandleUnsubscribe serves the public opt-out link clicked by recipients.
// Mounted outside /api at GET /unsubscribe?token=...
func (h *APIHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	campaignID, email, err := h.signer.Verify(tok)
	if err != nil {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}

	// Clicking the same link twice is fine.
	hash := token.Hash(tok)
	if _, err := h.storage.GetUnsubscribeByTokenHash(r.Context(), hash); err == nil {
		h.renderUnsubscribed(w)
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		h.log.Error("failed to look up unsubscribe", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	u := &storage.Unsubscribe{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Email:      email,
		TokenHash:  hash,
		CreatedAt:  time.Now(),
	}
	if err := h.storage.CreateUnsubscribe(r.Context(), u); err != nil {
		h.log.Error("failed to record unsubscribe", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.storage.IncrementCampaignMetric(r.Context(), campaignID, storage.MetricUnsubscribed); err != nil {
		h.log.Warn("failed to bump unsubscribe metric", "campaign_id", campaignID, "error", err)
	}

	h.log.Info("recipient unsubscribed", "campaign_id", campaignID)
	h.renderUnsubscribed(w)
}

func (h *APIHandler) renderUnsubscribed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!DOCTYPE html><html><body><h1>You have been unsubscribed.</h1><p>You will not receive further emails from this campaign.</p></body></html>")
}

// --- Sending domains ---

type domainResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FromEmail string    `json:"fromEmail"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

func domainToResponse(d *storage.Domain) domainResponse {
	return domainResponse{
		ID:        d.ID,
		Name:      d.Name,
		FromEmail: d.FromEmail,
		Verified:  d.Verified,
		CreatedAt: d.CreatedAt,
	}
}

func (h *APIHandler) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.storage.ListDomains(r.Context())
	if err != nil {
		h.log.Error("failed to list domains", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]domainResponse, len(domains))
	for i, d := range domains {
		resp[i] = domainToResponse(d)
	}
	writeJSON(w, h.log, resp)
}

func (h *APIHandler) createDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		FromEmail string `json:"fromEmail"`
		Verified  bool   `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.FromEmail == "" {
		writeError(w, http.StatusBadRequest, "name and fromEmail are required")
		return
	}

	d := &storage.Domain{
		ID:        uuid.New().String(),
		Name:      req.Name,
		FromEmail: req.FromEmail,
		Verified:  req.Verified,
		CreatedAt: time.Now(),
	}
	if err := h.storage.CreateDomain(r.Context(), d); err != nil {
		h.log.Error("failed to create domain", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info("domain created", "domain", d.Name)
	writeJSONStatus(w, h.log, http.StatusCreated, domainToResponse(d))
}

func (h *APIHandler) getDomain(w http.ResponseWriter, r *http.Request, id string) {
	d, err := h.storage.GetDomain(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		h.log.Error("failed to get domain", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, h.log, domainToResponse(d))
}

func (h *APIHandler) deleteDomain(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.storage.DeleteDomain(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		h.log.Error("failed to delete domain", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Replies ---

type replyResponse struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	FromEmail  string    `json:"fromEmail"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (h *APIHandler) listReplies(w http.ResponseWriter, r *http.Request) {
	h.listCampaignReplies(w, r, r.URL.Query().Get("campaign_id"))
}

func (h *APIHandler) listCampaignReplies(w http.ResponseWriter, r *http.Request, campaignID string) {
	replies, err := h.storage.ListReplies(r.Context(), campaignID)
	if err != nil {
		h.log.Error("failed to list replies", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]replyResponse, len(replies))
	for i, rep := range replies {
		resp[i] = replyResponse{
			ID:         rep.ID,
			CampaignID: rep.CampaignID,
			FromEmail:  rep.FromEmail,
			Subject:    rep.Subject,
			Body:       rep.Body,
			ReceivedAt: rep.ReceivedAt,
		}
	}
	writeJSON(w, h.log, resp)
}

// createReply is the runner's reply-capture callback.
func (h *APIHandler) createReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CampaignID string `json:"campaignId"`
		FromEmail  string `json:"fromEmail"`
		Subject    string `json:"subject"`
		Body       string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !storage.ValidID(req.CampaignID) {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	if req.FromEmail == "" {
		writeError(w, http.StatusBadRequest, "fromEmail is required")
		return
	}

	rep := &storage.Reply{
		ID:         uuid.New().String(),
		CampaignID: req.CampaignID,
		FromEmail:  recipients.Normalize(req.FromEmail),
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: time.Now(),
	}
	if err := h.storage.CreateReply(r.Context(), rep); err != nil {
		h.log.Error("failed to create reply", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.storage.IncrementCampaignMetric(r.Context(), req.CampaignID, storage.MetricReplied); err != nil {
		h.log.Warn("failed to bump reply metric", "campaign_id", req.CampaignID, "error", err)
	}

	writeJSONStatus(w, h.log, http.StatusCreated, map[string]string{"id": rep.ID})
}

// --- Unsubscribes ---

func (h *APIHandler) listUnsubscribes(w http.ResponseWriter, r *http.Request) {
	h.listCampaignUnsubscribes(w, r, r.URL.Query().Get("campaign_id"))
}

func (h *APIHandler) listCampaignUnsubscribes(w http.ResponseWriter, r *http.Request, campaignID string) {
	unsubs, err := h.storage.ListUnsubscribes(r.Context(), campaignID)
	if err != nil {
		h.log.Error("failed to list unsubscribes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type unsubResponse struct {
		ID         string    `json:"id"`
		CampaignID string    `json:"campaignId"`
		Email      string    `json:"email"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	resp := make([]unsubResponse, len(unsubs))
	for i, u := range unsubs {
		resp[i] = unsubResponse{
			ID:         u.ID,
			CampaignID: u.CampaignID,
			Email:      u.Email,
			CreatedAt:  u.CreatedAt,
		}
	}
	writeJSON(w, h.log, resp)
}

// --- Uploads ---

type uploadResponse struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Recipients  int    `json:"recipients,omitempty"`
	EmailColumn *int   `json:"emailColumn,omitempty"`
}

// upload stores a multipart file (field name "file") in the object store.
// CSV uploads are parsed so the caller learns the usable recipient count
// immediately.
func (h *APIHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	key := "uploads/" + uuid.New().String() + ext

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := h.objects.Put(r.Context(), key, contentType, file); err != nil {
		h.log.Error("failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := uploadResponse{
		Key:      key,
		Filename: header.Filename,
		Size:     header.Size,
	}

	if ext == ".csv" {
		rc, err := h.objects.Get(r.Context(), key)
		if err == nil {
			list, perr := recipients.Parse(rc)
			rc.Close()
			if perr != nil {
				// Reject unusable recipient lists up front.
				_ = h.objects.Delete(r.Context(), key)
				writeError(w, http.StatusBadRequest, perr.Error())
				return
			}
			resp.Recipients = list.Count()
			col := list.EmailColumn
			resp.EmailColumn = &col
		}
	}

	h.log.Info("file uploaded", "key", key, "filename", header.Filename, "size", header.Size)
	writeJSONStatus(w, h.log, http.StatusCreated, resp)
}

func (h *APIHandler) uploadURL(w http.ResponseWriter, r *http.Request, key string) {
	url, err := h.objects.PresignGet(r.Context(), key, objectstore.DefaultURLTTL)
	if err != nil {
		h.log.Error("failed to presign object", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, h.log, map[string]any{
		"url":       url,
		"expiresAt": time.Now().Add(objectstore.DefaultURLTTL),
	})
}
