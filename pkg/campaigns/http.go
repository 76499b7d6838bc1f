package campaigns

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/studies"
	"github.com/synaptica-ai/recruit/pkg/voice"
)

type Handler struct {
	service       *Service
	webhookSecret string
}

func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/campaigns", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/campaigns", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}/status", h.handleStatus).Methods(http.MethodPatch)
	r.HandleFunc("/campaigns/{id}/contacts", h.handleSeed).Methods(http.MethodPost)
	r.HandleFunc("/campaigns/{id}/launch", h.handleLaunch).Methods(http.MethodPost)
	r.HandleFunc("/campaigns/{id}/calls", h.handleCalls).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}/stats", h.handleStats).Methods(http.MethodGet)
}

// RegisterWebhooks mounts the provider callback, which authenticates with a
// body signature instead of a bearer token.
func (h *Handler) RegisterWebhooks(r *mux.Router) {
	r.HandleFunc("/webhooks/voice", h.handleVoiceWebhook).Methods(http.MethodPost)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCampaignRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	c, err := h.service.CreateCampaign(r.Context(), req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to create campaign")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"campaign": c})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	studyID := uuid.Nil
	if raw := r.URL.Query().Get("study_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid study id", http.StatusBadRequest)
			return
		}
		studyID = parsed
	}
	items, err := h.service.ListCampaigns(r.Context(), studyID, httputil.ParseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list campaigns")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to get campaign")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"campaign": c})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req models.UpdateCampaignStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	c, err := h.service.UpdateStatus(r.Context(), id, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to update campaign")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"campaign": c})
}

func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	result, err := h.service.SeedContacts(r.Context(), id, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to seed contacts")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLaunch(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Launch(r.Context(), id, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to launch campaign")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, result)
}

func (h *Handler) handleCalls(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	calls, err := h.service.ListCalls(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to list calls")
		return
	}
	if calls == nil {
		calls = []models.CallRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": calls})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to compute campaign stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := voice.ParseWebhook(r, h.webhookSecret)
	if err != nil {
		if errors.Is(err, voice.ErrInvalidSignature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		writeError(w, err, "failed to read webhook")
		return
	}
	call, err := h.service.HandleCallWebhook(r.Context(), event)
	if err != nil {
		writeError(w, err, "failed to apply webhook")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"call_id": call.ID, "status": call.Status})
}

func campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case validate.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "campaign not found", http.StatusNotFound)
	case errors.Is(err, ErrCallNotFound):
		http.Error(w, "call not found", http.StatusNotFound)
	case errors.Is(err, studies.ErrNotFound):
		http.Error(w, "study not found", http.StatusNotFound)
	default:
		logger.Log.WithError(err).Error(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
