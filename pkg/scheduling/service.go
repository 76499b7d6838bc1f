package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/config"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
)

const (
	eventSource = "scheduling"
	maxRange    = 31 * 24 * time.Hour
)

// SiteLookup resolves study sites.
type SiteLookup interface {
	GetSite(ctx context.Context, id uuid.UUID) (models.StudySite, error)
}

// PatientScheduler is the slice of the patient service that visits drive.
type PatientScheduler interface {
	Get(ctx context.Context, id uuid.UUID) (models.Patient, error)
	MarkVisitScheduled(ctx context.Context, id uuid.UUID, actor string) (models.Patient, error)
	SetTagStatus(ctx context.Context, id uuid.UUID, req models.UpdatePatientRequest, actor string) (models.Patient, error)
}

// Options describes the bookable calendar of a site: weekdays only, between
// DayStartHour and DayEndHour local time, in SlotLength steps.
type Options struct {
	SlotLength   time.Duration
	DayStartHour int
	DayEndHour   int
	Location     *time.Location
	Now          func() time.Time
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := time.LoadLocation(cfg.SchedulingZone)
	if err != nil {
		return Options{}, fmt.Errorf("scheduling timezone %q: %w", cfg.SchedulingZone, err)
	}
	return Options{
		SlotLength:   cfg.SlotLength,
		DayStartHour: cfg.DayStartHour,
		DayEndHour:   cfg.DayEndHour,
		Location:     loc,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.SlotLength <= 0 {
		o.SlotLength = time.Hour
	}
	if o.DayEndHour <= o.DayStartHour || o.DayStartHour < 0 || o.DayEndHour > 24 {
		o.DayStartHour, o.DayEndHour = 9, 17
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Service struct {
	store    Store
	sites    SiteLookup
	patients PatientScheduler
	audit    audit.Sink
	events   kafka.Publisher
	opts     Options
}

func NewService(store Store, sites SiteLookup, patients PatientScheduler, sink audit.Sink, events kafka.Publisher, opts Options) *Service {
	if events == nil {
		events = kafka.NopPublisher{}
	}
	return &Service{
		store:    store,
		sites:    sites,
		patients: patients,
		audit:    sink,
		events:   events,
		opts:     opts.withDefaults(),
	}
}

// Slots lists the free slots of a site whose start and end fall within
// [from, to). Past and booked slots are left out.
func (s *Service) Slots(ctx context.Context, studyID, siteID uuid.UUID, from, to time.Time) ([]models.Slot, error) {
	if !to.After(from) {
		return nil, validate.Errorf("range end must be after its start")
	}
	if to.Sub(from) > maxRange {
		return nil, validate.Errorf("range must not exceed %d days", int(maxRange.Hours()/24))
	}
	site, err := s.site(ctx, studyID, siteID)
	if err != nil {
		return nil, err
	}
	booked, err := s.booked(ctx, siteID, from, to)
	if err != nil {
		return nil, err
	}

	loc := s.location(site)
	now := s.opts.Now()
	slots := []models.Slot{}
	for day := startOfDay(from.In(loc)); day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, start := range s.daySlots(day) {
			end := start.Add(s.opts.SlotLength)
			if start.Before(from) || end.After(to) || !start.After(now) {
				continue
			}
			if _, taken := booked[start.UTC().Unix()]; taken {
				continue
			}
			slots = append(slots, models.Slot{SiteID: site.ID, StartsAt: start.UTC(), EndsAt: end.UTC()})
		}
	}
	return slots, nil
}

// Book reserves a slot for a patient and moves the patient to the on-site
// visit stage.
func (s *Service) Book(ctx context.Context, studyID uuid.UUID, req models.BookVisitRequest, actor string) (models.Visit, error) {
	if err := validate.Struct(req); err != nil {
		return models.Visit{}, err
	}
	site, err := s.site(ctx, studyID, req.SiteID)
	if err != nil {
		return models.Visit{}, err
	}
	p, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return models.Visit{}, err
	}
	if p.StudyID != studyID {
		return models.Visit{}, validate.Errorf("patient %s is not part of study %s", p.ID, studyID)
	}
	if p.Tag == models.TagIneligible || p.Status == models.StatusDeclined || p.Status == models.StatusEnrolled {
		return models.Visit{}, validate.Errorf("patient %s cannot be scheduled in status %s", p.ID, p.Status)
	}

	start := req.StartsAt.UTC()
	if !s.aligned(start, s.location(site)) || !start.After(s.opts.Now()) {
		return models.Visit{}, ErrSlotUnavailable
	}
	existing, err := s.store.ListVisits(ctx, VisitFilter{StudyID: studyID, PatientID: p.ID, Status: models.VisitScheduled})
	if err != nil {
		return models.Visit{}, err
	}
	if len(existing) > 0 {
		return models.Visit{}, validate.Errorf("patient %s already has a visit on %s", p.ID, existing[0].StartsAt.Format(time.RFC3339))
	}

	v := models.Visit{
		ID:        uuid.New(),
		StudyID:   studyID,
		SiteID:    site.ID,
		PatientID: p.ID,
		StartsAt:  start,
		EndsAt:    start.Add(s.opts.SlotLength),
		Status:    models.VisitScheduled,
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateVisit(ctx, v); err != nil {
		return models.Visit{}, err
	}
	if _, err := s.patients.MarkVisitScheduled(ctx, p.ID, actor); err != nil {
		v.Status = models.VisitCancelled
		if rollbackErr := s.store.UpdateVisit(ctx, v); rollbackErr != nil {
			logger.Log.WithError(rollbackErr).WithField("visit_id", v.ID).Error("failed to release visit slot")
		}
		return models.Visit{}, err
	}

	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:   studyID,
		PatientID: &v.PatientID,
		Actor:     actor,
		Action:    "visit_booked",
		Entity:    "visit",
		EntityID:  v.ID.String(),
		Payload: map[string]interface{}{
			"site_id":   v.SiteID.String(),
			"starts_at": v.StartsAt.Format(time.RFC3339),
		},
	})
	if err := s.events.PublishEvent(ctx, models.EventVisitScheduled, eventSource, map[string]interface{}{
		"study_id":   studyID.String(),
		"visit_id":   v.ID.String(),
		"patient_id": v.PatientID.String(),
		"site_id":    v.SiteID.String(),
		"starts_at":  v.StartsAt.Format(time.RFC3339),
	}); err != nil {
		logger.Log.WithError(err).WithField("visit_id", v.ID).Warn("failed to publish visit.scheduled")
	}
	return v, nil
}

// Cancel frees the slot and returns the patient to review.
func (s *Service) Cancel(ctx context.Context, visitID uuid.UUID, reason, actor string) (models.Visit, error) {
	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return models.Visit{}, err
	}
	if v.Status != models.VisitScheduled {
		return models.Visit{}, validate.Errorf("visit %s is %s", v.ID, v.Status)
	}
	v.Status = models.VisitCancelled
	if reason != "" {
		v.Notes = reason
	}
	if err := s.store.UpdateVisit(ctx, v); err != nil {
		return models.Visit{}, err
	}
	if _, err := s.patients.SetTagStatus(ctx, v.PatientID, models.UpdatePatientRequest{
		Status: models.StatusPendingReview,
		Reason: "visit cancelled",
	}, actor); err != nil {
		logger.Log.WithError(err).WithField("patient_id", v.PatientID).Warn("failed to return patient to review")
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:   v.StudyID,
		PatientID: &v.PatientID,
		Actor:     actor,
		Action:    "visit_cancelled",
		Entity:    "visit",
		EntityID:  v.ID.String(),
		Payload:   map[string]interface{}{"reason": reason},
	})
	return v, nil
}

// Complete marks a scheduled visit as attended.
func (s *Service) Complete(ctx context.Context, visitID uuid.UUID, actor string) (models.Visit, error) {
	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return models.Visit{}, err
	}
	if v.Status != models.VisitScheduled {
		return models.Visit{}, validate.Errorf("visit %s is %s", v.ID, v.Status)
	}
	v.Status = models.VisitCompleted
	if err := s.store.UpdateVisit(ctx, v); err != nil {
		return models.Visit{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:   v.StudyID,
		PatientID: &v.PatientID,
		Actor:     actor,
		Action:    "visit_completed",
		Entity:    "visit",
		EntityID:  v.ID.String(),
	})
	return v, nil
}

func (s *Service) ListVisits(ctx context.Context, studyID uuid.UUID, from, to time.Time) ([]models.Visit, error) {
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return nil, validate.Errorf("range end must be after its start")
	}
	return s.store.ListVisits(ctx, VisitFilter{StudyID: studyID, From: from, To: to})
}

func (s *Service) site(ctx context.Context, studyID, siteID uuid.UUID) (models.StudySite, error) {
	site, err := s.sites.GetSite(ctx, siteID)
	if err != nil {
		return models.StudySite{}, err
	}
	if site.StudyID != studyID {
		return models.StudySite{}, validate.Errorf("site %s does not belong to study %s", siteID, studyID)
	}
	return site, nil
}

func (s *Service) booked(ctx context.Context, siteID uuid.UUID, from, to time.Time) (map[int64]struct{}, error) {
	visits, err := s.store.ListVisits(ctx, VisitFilter{
		SiteID: siteID,
		Status: models.VisitScheduled,
		From:   from.Add(-s.opts.SlotLength),
		To:     to,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(visits))
	for _, v := range visits {
		out[v.StartsAt.UTC().Unix()] = struct{}{}
	}
	return out, nil
}

func (s *Service) location(site models.StudySite) *time.Location {
	if site.Timezone != "" {
		if loc, err := time.LoadLocation(site.Timezone); err == nil {
			return loc
		}
	}
	return s.opts.Location
}

// daySlots returns the slot starts of one local day, none on weekends.
func (s *Service) daySlots(day time.Time) []time.Time {
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return nil
	}
	opens := time.Date(day.Year(), day.Month(), day.Day(), s.opts.DayStartHour, 0, 0, 0, day.Location())
	closes := time.Date(day.Year(), day.Month(), day.Day(), s.opts.DayEndHour, 0, 0, 0, day.Location())
	var out []time.Time
	for start := opens; !start.Add(s.opts.SlotLength).After(closes); start = start.Add(s.opts.SlotLength) {
		out = append(out, start)
	}
	return out
}

func (s *Service) aligned(start time.Time, loc *time.Location) bool {
	local := start.In(loc)
	for _, candidate := range s.daySlots(startOfDay(local)) {
		if candidate.Equal(start) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
