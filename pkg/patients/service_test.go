package patients

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/screening"
	"github.com/synaptica-ai/recruit/pkg/studies"
	"github.com/synaptica-ai/recruit/pkg/terminology"
)

type staticRules struct {
	studyID uuid.UUID
	rules   screening.RuleSet
}

func (s staticRules) RuleSet(ctx context.Context, studyID uuid.UUID) (screening.RuleSet, error) {
	if studyID != s.studyID {
		return screening.RuleSet{}, studies.ErrNotFound
	}
	return s.rules, nil
}

type countingCache struct {
	calls int
}

func (c *countingCache) Invalidate(ctx context.Context, studyID uuid.UUID) error {
	c.calls++
	return nil
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	audit   *audit.MemoryStore
	events  *kafka.MemoryPublisher
	cache   *countingCache
	studyID uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		store:   NewMemoryStore(),
		audit:   audit.NewMemoryStore(),
		events:  &kafka.MemoryPublisher{},
		cache:   &countingCache{},
		studyID: uuid.New(),
	}
	rules := staticRules{studyID: f.studyID, rules: screening.DefaultRules()}
	f.svc = NewService(f.store, rules, terminology.DefaultCatalog(), f.audit, f.events).WithCache(f.cache)
	return f
}

func (f fixture) importCSV(t *testing.T, csv string) ImportResult {
	t.Helper()
	result, err := f.svc.Import(context.Background(), f.studyID, FormatCSV, strings.NewReader(csv), "coordinator-1")
	require.NoError(t, err)
	return result
}

const screeningCSV = `name,age,conditions,mmse
Match Patient,67,Mild Alzheimer's Disease,22
Potential Patient,70,Dementia;Seizure disorder,20
Cancer Patient,66,Alzheimer's disease;Breast cancer,21
`

func TestImportCreatesPendingPatients(t *testing.T) {
	f := newFixture(t)
	result := f.importCSV(t, screeningCSV)
	assert.Equal(t, 3, result.Imported)
	require.Len(t, result.PatientIDs, 3)

	p, err := f.svc.Get(context.Background(), result.PatientIDs[0])
	require.NoError(t, err)
	assert.Equal(t, f.studyID, p.StudyID)
	assert.Equal(t, models.TagPotentialMatch, p.Tag)
	assert.Equal(t, models.StatusPendingReview, p.Status)
	assert.Empty(t, p.CriteriaMatches)
	assert.Equal(t, "csv", p.Source)
	assert.Equal(t, map[string]string{"Mild Alzheimer's Disease": "G30.9"}, p.ConditionCodes)

	events := f.events.Events(models.EventPatientImported)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Data["count"])
	assert.Equal(t, f.studyID.String(), events[0].Data["study_id"])

	logs, err := f.audit.List(context.Background(), f.studyID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "patients_imported", logs[0].Action)
	assert.Equal(t, 1, f.cache.calls)
}

func TestImportGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Import(ctx, uuid.New(), FormatCSV, strings.NewReader(screeningCSV), "")
	assert.ErrorIs(t, err, studies.ErrNotFound)

	result, err := f.svc.Import(ctx, f.studyID, FormatCSV, strings.NewReader("name,age\n,70\n"), "")
	assert.True(t, validate.IsValidationError(err))
	assert.Len(t, result.Errors, 1)
}

func TestScreenStudy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)

	summary, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Screened)
	assert.Equal(t, 1, summary.Matches)
	assert.Equal(t, 1, summary.PotentialMatch)
	assert.Equal(t, 1, summary.Ineligible)

	match, _ := f.svc.Get(ctx, result.PatientIDs[0])
	assert.Equal(t, models.TagMatch, match.Tag)
	assert.Len(t, match.CriteriaMatches, 9)
	assert.NotNil(t, match.ScreenedAt)

	cancer, _ := f.svc.Get(ctx, result.PatientIDs[2])
	assert.Equal(t, models.TagIneligible, cancer.Tag)
	assert.Equal(t, models.StatusFailedScreening, cancer.Status)

	assert.Len(t, f.events.Events(models.EventPatientScreened), 3)
}

func TestScreenStudyWithoutPatients(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ScreenStudy(context.Background(), f.studyID, ScreenOptions{}, "")
	assert.True(t, validate.IsValidationError(err))
	assert.ErrorIs(t, err, ErrNoPatients)
}

func TestScreenStudySkipsPatientsPastReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)
	_, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "")
	require.NoError(t, err)

	_, err = f.svc.MarkCallInitiated(ctx, result.PatientIDs[0], "")
	require.NoError(t, err)

	summary, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Screened)

	p, _ := f.svc.Get(ctx, result.PatientIDs[0])
	assert.Equal(t, models.StatusAICallInitiated, p.Status)

	summary, err = f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{Force: true}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Screened)
	p, _ = f.svc.Get(ctx, result.PatientIDs[0])
	assert.Equal(t, models.StatusPendingReview, p.Status)
}

func TestScreenPatientsOnlyTouchesGivenIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)

	summary, err := f.svc.ScreenPatients(ctx, f.studyID, result.PatientIDs[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Screened)

	untouched, _ := f.svc.Get(ctx, result.PatientIDs[1])
	assert.Nil(t, untouched.ScreenedAt)
}

func TestOverrideCriterion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)
	_, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "")
	require.NoError(t, err)

	p, err := f.svc.OverrideCriterion(ctx, result.PatientIDs[1], 4, models.OverrideCriterionRequest{Matched: true, Note: "Single febrile seizure in childhood"}, "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, models.TagMatch, p.Tag)
	for _, m := range p.CriteriaMatches {
		if m.CriterionID == 4 {
			assert.Equal(t, models.SourceManual, m.Source)
		}
	}

	_, err = f.svc.OverrideCriterion(ctx, result.PatientIDs[1], 99, models.OverrideCriterionRequest{}, "")
	assert.True(t, validate.IsValidationError(err))

	_, err = f.svc.OverrideCriterion(ctx, uuid.New(), 1, models.OverrideCriterionRequest{}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyCallOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)
	_, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "")
	require.NoError(t, err)

	potential := result.PatientIDs[1]
	p, err := f.svc.ApplyCallOutcome(ctx, potential, models.OutcomeQualified, []models.CriterionAnswer{
		{CriterionID: 4, Matched: true, Evidence: "No seizures since 1980, not epilepsy"},
		{CriterionID: 42, Matched: true},
	}, "voice-agent")
	require.NoError(t, err)
	assert.Equal(t, models.TagEligible, p.Tag)
	assert.Equal(t, models.StatusPendingReview, p.Status)

	p, err = f.svc.ApplyCallOutcome(ctx, potential, models.OutcomeNoAnswer, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAICallInitiated, p.Status)
	assert.Equal(t, models.TagEligible, p.Tag)

	p, err = f.svc.ApplyCallOutcome(ctx, result.PatientIDs[0], models.OutcomeDeclined, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, p.Status)
	assert.Equal(t, models.TagMatch, p.Tag)

	_, err = f.svc.ApplyCallOutcome(ctx, potential, "hung_up", nil, "")
	assert.True(t, validate.IsValidationError(err))
}

func TestCallOutcomeQualifiedWithFailuresKeepsTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)
	_, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "")
	require.NoError(t, err)

	p, err := f.svc.ApplyCallOutcome(ctx, result.PatientIDs[1], models.OutcomeScheduled, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.TagPotentialMatch, p.Tag)
	assert.Equal(t, models.StatusVisitScheduled, p.Status)
}

func TestEnrollmentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)
	_, err := f.svc.ScreenStudy(ctx, f.studyID, ScreenOptions{}, "")
	require.NoError(t, err)

	_, err = f.svc.MarkEnrolled(ctx, result.PatientIDs[2], "")
	assert.True(t, validate.IsValidationError(err))

	_, err = f.svc.MarkVisitScheduled(ctx, result.PatientIDs[2], "")
	assert.True(t, validate.IsValidationError(err))

	p, err := f.svc.MarkEnrolled(ctx, result.PatientIDs[0], "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnrolled, p.Status)
}

func TestSetTagStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.importCSV(t, screeningCSV)

	p, err := f.svc.SetTagStatus(ctx, result.PatientIDs[0], models.UpdatePatientRequest{Tag: models.TagIneligible, Reason: "moved abroad"}, "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, models.TagIneligible, p.Tag)
	assert.Equal(t, models.StatusPendingReview, p.Status)

	_, err = f.svc.SetTagStatus(ctx, result.PatientIDs[0], models.UpdatePatientRequest{}, "")
	assert.True(t, validate.IsValidationError(err))

	_, err = f.svc.SetTagStatus(ctx, result.PatientIDs[0], models.UpdatePatientRequest{Status: "Lost"}, "")
	assert.True(t, validate.IsValidationError(err))
}

func TestHandleImportedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.importCSV(t, screeningCSV)

	imported := f.events.Events(models.EventPatientImported)
	require.Len(t, imported, 1)

	// Kafka delivers patient_ids as a JSON array.
	event := imported[0]
	ids := event.Data["patient_ids"].([]string)
	event.Data["patient_ids"] = []interface{}{ids[0], ids[1], ids[2]}
	require.NoError(t, f.svc.HandleEvent(ctx, event))

	assert.Len(t, f.events.Events(models.EventPatientScreened), 3)
	p, err := f.svc.Get(ctx, uuid.MustParse(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, models.TagMatch, p.Tag)
	assert.NotNil(t, p.ScreenedAt)

	ignored := []models.Event{
		{Type: models.EventPatientScreened, Data: event.Data},
		{Type: models.EventPatientImported, Data: map[string]interface{}{"study_id": "nope"}},
		{Type: models.EventPatientImported, Data: map[string]interface{}{"study_id": f.studyID.String(), "patient_ids": 7}},
		{Type: models.EventPatientImported, Data: map[string]interface{}{"study_id": uuid.NewString(), "patient_ids": []string{ids[0]}}},
	}
	for _, e := range ignored {
		assert.NoError(t, f.svc.HandleEvent(ctx, e))
	}
	assert.Len(t, f.events.Events(models.EventPatientScreened), 3)
}
