package scheduling

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/documents"
	"github.com/synaptica-ai/recruit/pkg/patients"
	"github.com/synaptica-ai/recruit/pkg/screening"
	"github.com/synaptica-ai/recruit/pkg/studies"
	"github.com/synaptica-ai/recruit/pkg/terminology"
)

// Monday 3 June 2030, 10:30 UTC.
var testNow = time.Date(2030, time.June, 3, 10, 30, 0, 0, time.UTC)

type env struct {
	svc      *Service
	studies  *studies.Service
	patients *patients.Service
	events   *kafka.MemoryPublisher
	studyID  uuid.UUID
	site     models.StudySite
	ids      []uuid.UUID
}

const visitCSV = `name,age,conditions,mmse
Margaret Chen,67,Mild Alzheimer's disease,22
Edith Moss,66,Alzheimer's disease;Breast cancer,21
Walter Brandt,74,Mild cognitive impairment,25
`

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	docs, err := documents.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sink := audit.NewMemoryStore()
	studySvc := studies.NewService(studies.NewMemoryStore(), docs, sink, screening.DefaultRules())
	study, err := studySvc.CreateStudy(ctx, models.CreateStudyRequest{Code: "ALZ-201", Name: "Memory Clinic Study"}, "")
	require.NoError(t, err)
	site, err := studySvc.CreateSite(ctx, study.ID, models.CreateStudySiteRequest{SiteCode: "BOS-01", Name: "Boston Memory Center"}, "")
	require.NoError(t, err)

	events := &kafka.MemoryPublisher{}
	patientSvc := patients.NewService(patients.NewMemoryStore(), studySvc, terminology.DefaultCatalog(), sink, events)
	imported, err := patientSvc.Import(ctx, study.ID, patients.FormatCSV, strings.NewReader(visitCSV), "")
	require.NoError(t, err)
	_, err = patientSvc.ScreenStudy(ctx, study.ID, patients.ScreenOptions{}, "")
	require.NoError(t, err)

	svc := NewService(NewMemoryStore(), studySvc, patientSvc, sink, events, Options{
		SlotLength:   time.Hour,
		DayStartHour: 9,
		DayEndHour:   17,
		Now:          func() time.Time { return testNow },
	})
	return env{
		svc:      svc,
		studies:  studySvc,
		patients: patientSvc,
		events:   events,
		studyID:  study.ID,
		site:     site,
		ids:      imported.PatientIDs,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2030, time.June, day, hour, minute, 0, 0, time.UTC)
}

func TestSlotsSkipPastAndWeekends(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	slots, err := e.svc.Slots(ctx, e.studyID, e.site.ID, at(3, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 14)
	assert.Equal(t, at(3, 11, 0), slots[0].StartsAt)
	assert.Equal(t, at(3, 12, 0), slots[0].EndsAt)
	assert.Equal(t, at(4, 16, 0), slots[len(slots)-1].StartsAt)

	weekend, err := e.svc.Slots(ctx, e.studyID, e.site.ID, at(8, 0, 0), at(10, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, weekend)
}

func TestSlotsUseSiteTimezone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	site, err := e.studies.CreateSite(ctx, e.studyID, models.CreateStudySiteRequest{
		SiteCode: "NYC-02",
		Name:     "Manhattan Neurology",
		Timezone: "America/New_York",
	}, "")
	require.NoError(t, err)

	slots, err := e.svc.Slots(ctx, e.studyID, site.ID, at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, at(4, 13, 0), slots[0].StartsAt)
}

func TestSlotsGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Slots(ctx, e.studyID, e.site.ID, at(5, 0, 0), at(4, 0, 0))
	assert.True(t, validate.IsValidationError(err))

	_, err = e.svc.Slots(ctx, e.studyID, e.site.ID, at(3, 0, 0), at(3, 0, 0).AddDate(0, 2, 0))
	assert.True(t, validate.IsValidationError(err))

	_, err = e.svc.Slots(ctx, uuid.New(), e.site.ID, at(3, 0, 0), at(4, 0, 0))
	assert.True(t, validate.IsValidationError(err))

	_, err = e.svc.Slots(ctx, e.studyID, uuid.New(), at(3, 0, 0), at(4, 0, 0))
	assert.ErrorIs(t, err, studies.ErrNotFound)
}

func TestBookVisit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	v, err := e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[0], SiteID: e.site.ID, StartsAt: at(4, 10, 0)}, "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, models.VisitScheduled, v.Status)
	assert.Equal(t, at(4, 11, 0), v.EndsAt)

	p, err := e.patients.Get(ctx, e.ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusVisitScheduled, p.Status)

	scheduled := e.events.Events(models.EventVisitScheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, v.ID.String(), scheduled[0].Data["visit_id"])

	slots, err := e.svc.Slots(ctx, e.studyID, e.site.ID, at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	assert.Len(t, slots, 7)
	for _, s := range slots {
		assert.NotEqual(t, at(4, 10, 0), s.StartsAt)
	}
}

func TestBookRejectsUnavailableSlots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[0], SiteID: e.site.ID, StartsAt: at(4, 10, 0)}, "")
	require.NoError(t, err)

	cases := map[string]time.Time{
		"taken":       at(4, 10, 0),
		"misaligned":  at(4, 10, 30),
		"past":        at(3, 9, 0),
		"weekend":     at(8, 10, 0),
		"after hours": at(4, 17, 0),
	}
	for name, start := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[2], SiteID: e.site.ID, StartsAt: start}, "")
			assert.ErrorIs(t, err, ErrSlotUnavailable)
		})
	}
}

func TestBookRejectsIneligibleAndDoubleBooking(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[1], SiteID: e.site.ID, StartsAt: at(4, 10, 0)}, "")
	assert.True(t, validate.IsValidationError(err))

	_, err = e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[0], SiteID: e.site.ID, StartsAt: at(4, 10, 0)}, "")
	require.NoError(t, err)
	_, err = e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[0], SiteID: e.site.ID, StartsAt: at(4, 11, 0)}, "")
	assert.True(t, validate.IsValidationError(err))

	_, err = e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: uuid.New(), SiteID: e.site.ID, StartsAt: at(4, 12, 0)}, "")
	assert.ErrorIs(t, err, patients.ErrNotFound)
}

func TestCancelFreesSlot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v, err := e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[0], SiteID: e.site.ID, StartsAt: at(4, 10, 0)}, "")
	require.NoError(t, err)

	cancelled, err := e.svc.Cancel(ctx, v.ID, "patient travelling", "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, models.VisitCancelled, cancelled.Status)

	p, _ := e.patients.Get(ctx, e.ids[0])
	assert.Equal(t, models.StatusPendingReview, p.Status)

	_, err = e.svc.Cancel(ctx, v.ID, "", "")
	assert.True(t, validate.IsValidationError(err))

	_, err = e.svc.Book(ctx, e.studyID, models.BookVisitRequest{PatientID: e.ids[2], SiteID: e.site.ID, StartsAt: at(4, 10, 0)}, "")
	assert.NoError(t, err)

	visits, err := e.svc.ListVisits(ctx, e.studyID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, visits, 2)

	_, err = e.svc.Cancel(ctx, uuid.New(), "", "")
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestHandlerBookAndList(t *testing.T) {
	e := newEnv(t)
	router := mux.NewRouter()
	NewHandler(e.svc).Register(router)
	base := "/studies/" + e.studyID.String()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/slots?site_id="+e.site.ID.String()+"&from=2030-06-04&to=2030-06-04", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, strings.Count(rec.Body.String(), `"starts_at"`))

	body := fmt.Sprintf(`{"patient_id":%q,"site_id":%q,"starts_at":"2030-06-04T09:00:00Z"}`, e.ids[0], e.site.ID)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/visits", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	body = fmt.Sprintf(`{"patient_id":%q,"site_id":%q,"starts_at":"2030-06-04T09:00:00Z"}`, e.ids[2], e.site.ID)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/visits", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/visits", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), `"patient_id"`))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/slots?site_id=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
