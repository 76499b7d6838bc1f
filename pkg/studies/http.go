package studies

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/documents"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies", h.handleCreateStudy).Methods(http.MethodPost)
	r.HandleFunc("/studies", h.handleListStudies).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}", h.handleGetStudy).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/status", h.handleUpdateStudyStatus).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/sites", h.handleCreateSite).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/criteria", h.handleGetCriteria).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/criteria", h.handleReplaceCriteria).Methods(http.MethodPut)
	r.HandleFunc("/studies/{id}/protocol", h.handleUploadProtocol).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/protocol", h.handleDownloadProtocol).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/audit", h.handleListAuditLogs).Methods(http.MethodGet)
}

func (h *Handler) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	study, err := h.service.CreateStudy(r.Context(), req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to create study")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"study": study})
}

func (h *Handler) handleListStudies(w http.ResponseWriter, r *http.Request) {
	studies, err := h.service.ListStudies(r.Context(), httputil.ParseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list studies")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": studies})
}

func (h *Handler) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	study, err := h.service.GetStudy(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to get study")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"study": study})
}

func (h *Handler) handleUpdateStudyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	var req models.UpdateStudyStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	study, err := h.service.UpdateStudyStatus(r.Context(), id, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to update status")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"study": study})
}

func (h *Handler) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	var req models.CreateStudySiteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	site, err := h.service.CreateSite(r.Context(), id, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to create site")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"site": site})
}

func (h *Handler) handleGetCriteria(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	review, err := h.service.ReviewCriteria(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to load criteria")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, review)
}

func (h *Handler) handleReplaceCriteria(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	var req models.ReplaceCriteriaRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	study, err := h.service.ReplaceCriteria(r.Context(), id, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to replace criteria")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"study": study})
}

// handleUploadProtocol accepts a multipart "file" field or a raw text body
// named by the ?filename= query parameter.
func (h *Handler) handleUploadProtocol(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}

	var (
		body        io.Reader = r.Body
		filename              = r.URL.Query().Get("filename")
		contentType           = r.Header.Get("Content-Type")
	)
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file not found in request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
		filename = header.Filename
		contentType = header.Header.Get("Content-Type")
	}
	if filename == "" {
		filename = "protocol.txt"
	}

	result, err := h.service.UploadProtocol(r.Context(), id, filename, contentType, body, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to upload protocol")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleDownloadProtocol(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	rc, name, err := h.service.Protocol(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to load protocol")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Log.WithError(err).WithField("study_id", id).Warn("protocol download interrupted")
	}
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := studyID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.ListAuditLogs(r.Context(), id, httputil.ParseLimit(r, 100))
	if err != nil {
		writeError(w, err, "failed to list audit logs")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": logs})
}

func studyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case validate.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "study not found", http.StatusNotFound)
	case errors.Is(err, documents.ErrNotFound):
		http.Error(w, "protocol not found", http.StatusNotFound)
	default:
		logger.Log.WithError(err).Error(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
