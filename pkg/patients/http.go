package patients

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/screening"
	"github.com/synaptica-ai/recruit/pkg/studies"
)

// View is a patient as rendered on the coordinator dashboard.
type View struct {
	models.Patient
	TagBadge       screening.Badge         `json:"tag_badge"`
	StatusBadge    screening.Badge         `json:"status_badge"`
	FailedCriteria []models.CriterionMatch `json:"failed_criteria"`
}

func NewView(p models.Patient) View {
	failed := p.FailedCriteria()
	if failed == nil {
		failed = []models.CriterionMatch{}
	}
	return View{
		Patient:        p,
		TagBadge:       screening.TagBadge(p.Tag),
		StatusBadge:    screening.StatusBadge(p.Status),
		FailedCriteria: failed,
	}
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies/{id}/patients/import", h.handleImport).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/patients", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/screen", h.handleScreen).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}", h.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/patients/{id}/criteria/{cid}", h.handleOverrideCriterion).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/enroll", h.handleEnroll).Methods(http.MethodPost)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathID(w, r, "study")
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

	format, err := DetectFormat(r.URL.Query().Get("format"), filename, contentType)
	if err != nil {
		writeError(w, err, "failed to import patients")
		return
	}
	result, err := h.service.Import(r.Context(), studyID, format, body, httputil.ResolveActor(r))
	if err != nil {
		if validate.IsValidationError(err) && len(result.Errors) > 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error(), "errors": result.Errors})
			return
		}
		writeError(w, err, "failed to import patients")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathID(w, r, "study")
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := Filter{
		StudyID: studyID,
		Tag:     models.Tag(q.Get("tag")),
		Status:  models.Status(q.Get("status")),
		Limit:   httputil.ParseLimit(r, 500),
	}
	if filter.Tag != "" && !filter.Tag.Valid() {
		http.Error(w, "unknown tag", http.StatusBadRequest)
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	patients, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err, "failed to list patients")
		return
	}
	items := make([]View, 0, len(patients))
	for _, p := range patients {
		items = append(items, NewView(p))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleScreen(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathID(w, r, "study")
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	summary, err := h.service.ScreenStudy(r.Context(), studyID, ScreenOptions{Force: force}, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to screen study")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patient")
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to get patient")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"patient": NewView(p)})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patient")
	if !ok {
		return
	}
	var req models.UpdatePatientRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	p, err := h.service.SetTagStatus(r.Context(), id, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to update patient")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"patient": NewView(p)})
}

func (h *Handler) handleOverrideCriterion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patient")
	if !ok {
		return
	}
	criterionID, err := strconv.Atoi(mux.Vars(r)["cid"])
	if err != nil || criterionID <= 0 {
		http.Error(w, "invalid criterion id", http.StatusBadRequest)
		return
	}
	var req models.OverrideCriterionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	p, err := h.service.OverrideCriterion(r.Context(), id, criterionID, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to override criterion")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"patient": NewView(p)})
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patient")
	if !ok {
		return
	}
	p, err := h.service.MarkEnrolled(r.Context(), id, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to enroll patient")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"patient": NewView(p)})
}

func pathID(w http.ResponseWriter, r *http.Request, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid "+kind+" id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case validate.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "patient not found", http.StatusNotFound)
	case errors.Is(err, studies.ErrNotFound):
		http.Error(w, "study not found", http.StatusNotFound)
	default:
		logger.Log.WithError(err).Error(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
