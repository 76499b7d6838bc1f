package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/patients"
	"github.com/synaptica-ai/recruit/pkg/studies"
)

const defaultWindow = 7 * 24 * time.Hour

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies/{id}/slots", h.handleSlots).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/visits", h.handleBook).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/visits", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/visits/{id}/cancel", h.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/visits/{id}/complete", h.handleComplete).Methods(http.MethodPost)
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathID(w, r)
	if !ok {
		return
	}
	siteID, err := uuid.Parse(r.URL.Query().Get("site_id"))
	if err != nil {
		http.Error(w, "site_id is required", http.StatusBadRequest)
		return
	}
	from, to, err := parseRange(r, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slots, err := h.service.Slots(r.Context(), studyID, siteID, from, to)
	if err != nil {
		writeError(w, err, "failed to list slots")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": slots})
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req models.BookVisitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	v, err := h.service.Book(r.Context(), studyID, req, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to book visit")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"visit": v})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathID(w, r)
	if !ok {
		return
	}
	var from, to time.Time
	if r.URL.Query().Get("from") != "" || r.URL.Query().Get("to") != "" {
		var err error
		if from, to, err = parseRange(r, time.Now().UTC()); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	visits, err := h.service.ListVisits(r.Context(), studyID, from, to)
	if err != nil {
		writeError(w, err, "failed to list visits")
		return
	}
	if visits == nil {
		visits = []models.Visit{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": visits})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	v, err := h.service.Cancel(r.Context(), id, req.Reason, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to cancel visit")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"visit": v})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.service.Complete(r.Context(), id, httputil.ResolveActor(r))
	if err != nil {
		writeError(w, err, "failed to complete visit")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"visit": v})
}

// parseRange reads from/to as RFC 3339 timestamps or plain dates. A plain
// "to" date includes that whole day.
func parseRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from := now
	if raw := q.Get("from"); raw != "" {
		t, _, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from")
		}
		from = t
	}
	to := from.Add(defaultWindow)
	if raw := q.Get("to"); raw != "" {
		t, dateOnly, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to")
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		to = t
	}
	return from, to, nil
}

func parseTime(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	return t, true, err
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case validate.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrSlotUnavailable):
		http.Error(w, "slot unavailable", http.StatusConflict)
	case errors.Is(err, ErrVisitNotFound):
		http.Error(w, "visit not found", http.StatusNotFound)
	case errors.Is(err, patients.ErrNotFound):
		http.Error(w, "patient not found", http.StatusNotFound)
	case errors.Is(err, studies.ErrNotFound):
		http.Error(w, "site not found", http.StatusNotFound)
	default:
		logger.Log.WithError(err).Error(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
