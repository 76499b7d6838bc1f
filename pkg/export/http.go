package export

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/studies"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies/{id}/export", h.handleExport).Methods(http.MethodGet)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tag := models.Tag(r.URL.Query().Get("tag"))
	if tag != "" && !tag.Valid() {
		http.Error(w, "invalid tag", http.StatusBadRequest)
		return
	}

	doc, err := h.service.Export(r.Context(), studyID, format, tag, httputil.ResolveActor(r))
	if err != nil {
		switch {
		case errors.Is(err, studies.ErrNotFound):
			http.Error(w, "study not found", http.StatusNotFound)
		case validate.IsValidationError(err):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Log.WithError(err).WithField("study_id", studyID).Error("failed to export patients")
			http.Error(w, "failed to export patients", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.Header().Set("X-Export-Rows", strconv.Itoa(doc.Rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}
