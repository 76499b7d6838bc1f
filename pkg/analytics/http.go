package analytics

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/studies"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies/{id}/funnel", h.handleFunnel).Methods(http.MethodGet)
}

func (h *Handler) handleFunnel(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	summary, err := h.service.Funnel(r.Context(), studyID)
	if err != nil {
		if errors.Is(err, studies.ErrNotFound) {
			http.Error(w, "study not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to compute funnel")
		http.Error(w, "failed to compute funnel", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"funnel": summary})
}
