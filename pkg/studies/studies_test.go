package studies

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/documents"
	"github.com/synaptica-ai/recruit/pkg/screening"
)

const sampleProtocol = `# ALZ-201 Protocol

## 5. Study Population

### Inclusion Criteria
1. Men and women aged 55 to 80 years
2. MMSE score of at least 20 at screening
3. Diagnosis of probable Alzheimer's disease
   according to NIA-AA criteria
4. Has a study partner who can attend all visits

### Exclusion Criteria
- History of epilepsy
- Known malignancy within the past 5 years
- Participation in another trial within 30 days

## 6. Study Design
Randomised, double blind.
`

func newTestService(t *testing.T) (*Service, *audit.MemoryStore) {
	t.Helper()
	docs, err := documents.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sink := audit.NewMemoryStore()
	return NewService(NewMemoryStore(), docs, sink, screening.DefaultRules()), sink
}

func createStudy(t *testing.T, svc *Service) models.Study {
	t.Helper()
	study, err := svc.CreateStudy(context.Background(), models.CreateStudyRequest{Code: "ALZ-201", Name: "Memory Clinic Study"}, "coordinator-1")
	require.NoError(t, err)
	return study
}

func TestExtractCriteria(t *testing.T) {
	criteria := ExtractCriteria(sampleProtocol)
	require.Len(t, criteria, 7)

	assert.Equal(t, models.Criterion{ID: 1, Text: "Men and women aged 55 to 80 years", Type: models.CriterionInclusion, Field: screening.FieldAge}, criteria[0])
	assert.Equal(t, screening.FieldMMSE, criteria[1].Field)
	assert.Equal(t, "Diagnosis of probable Alzheimer's disease according to NIA-AA criteria", criteria[2].Text)
	assert.Equal(t, screening.FieldConditions, criteria[2].Field)
	assert.Equal(t, "", criteria[3].Field)

	assert.Equal(t, models.CriterionExclusion, criteria[4].Type)
	assert.Equal(t, 5, criteria[4].ID)
	assert.Equal(t, "Participation in another trial within 30 days", criteria[6].Text)
}

func TestExtractCriteriaWithoutSections(t *testing.T) {
	assert.Empty(t, ExtractCriteria("A protocol with no criteria headings.\n- just a list\n"))
}

func TestNewStudyUsesDefaultRules(t *testing.T) {
	svc, sink := newTestService(t)
	study := createStudy(t, svc)
	assert.Equal(t, StatusDraft, study.Status)
	assert.Len(t, study.Criteria, 9)

	rs, err := svc.RuleSet(context.Background(), study.ID)
	require.NoError(t, err)
	assert.Equal(t, screening.DefaultRules(), rs)

	logs, err := sink.List(context.Background(), study.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "study_created", logs[0].Action)
	assert.Equal(t, "coordinator-1", logs[0].Actor)
}

func TestRuleSetGuards(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RuleSet(context.Background(), uuid.Nil)
	assert.True(t, validate.IsValidationError(err))

	_, err = svc.RuleSet(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadProtocolReplacesCriteria(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	study := createStudy(t, svc)

	result, err := svc.UploadProtocol(ctx, study.ID, "alz-201.md", "text/markdown", strings.NewReader(sampleProtocol), "coordinator-1")
	require.NoError(t, err)
	assert.Equal(t, 7, result.Extracted)
	assert.False(t, result.KeptDefaults)
	require.Len(t, result.Unmapped, 2)
	assert.Equal(t, 4, result.Unmapped[0].ID)

	rs, err := svc.RuleSet(ctx, study.ID)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 5)
	assert.Equal(t, 55, *rs.Rules[0].Min)
	assert.Equal(t, screening.DefaultPotentialMatchRatio, rs.PotentialMatchRatio)

	rc, name, err := svc.Protocol(ctx, study.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "alz-201.md", name)
	assert.Equal(t, sampleProtocol, string(body))
}

func TestUploadProtocolWithoutCriteriaKeepsDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	study := createStudy(t, svc)

	result, err := svc.UploadProtocol(ctx, study.ID, "notes.txt", "text/plain", strings.NewReader("Visit schedule only."), "")
	require.NoError(t, err)
	assert.True(t, result.KeptDefaults)
	assert.Len(t, result.Study.Criteria, 9)

	_, err = svc.UploadProtocol(ctx, study.ID, "empty.txt", "text/plain", strings.NewReader(""), "")
	assert.True(t, validate.IsValidationError(err))
}

func TestReplaceCriteriaRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	study := createStudy(t, svc)

	_, err := svc.ReplaceCriteria(context.Background(), study.ID, models.ReplaceCriteriaRequest{Criteria: []models.Criterion{
		{ID: 1, Text: "Age 60 or older", Type: models.CriterionInclusion},
		{ID: 1, Text: "No stroke", Type: models.CriterionExclusion},
	}}, "")
	assert.True(t, validate.IsValidationError(err))
}

func TestCreateSiteValidatesTimezone(t *testing.T) {
	svc, _ := newTestService(t)
	study := createStudy(t, svc)

	_, err := svc.CreateSite(context.Background(), study.ID, models.CreateStudySiteRequest{SiteCode: "S01", Name: "Boston", Timezone: "Mars/Olympus"}, "")
	assert.True(t, validate.IsValidationError(err))

	site, err := svc.CreateSite(context.Background(), study.ID, models.CreateStudySiteRequest{SiteCode: "S01", Name: "Boston", Timezone: "America/New_York"}, "")
	require.NoError(t, err)

	got, err := svc.GetStudy(context.Background(), study.ID)
	require.NoError(t, err)
	require.Len(t, got.Sites, 1)
	assert.Equal(t, site.ID, got.Sites[0].ID)
}

func TestHandlerCreateAndFetchStudy(t *testing.T) {
	svc, _ := newTestService(t)
	router := mux.NewRouter()
	NewHandler(svc).Register(router)

	body, _ := json.Marshal(models.CreateStudyRequest{Code: "ALZ-301", Name: "Extension"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/studies", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Study models.Study `json:"study"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/studies/"+created.Study.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/studies/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/studies", strings.NewReader(`{"code":"X"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerUploadProtocolRawBody(t *testing.T) {
	svc, _ := newTestService(t)
	study := createStudy(t, svc)
	router := mux.NewRouter()
	NewHandler(svc).Register(router)

	req := httptest.NewRequest(http.MethodPost, "/studies/"+study.ID.String()+"/protocol?filename=alz.md", strings.NewReader(sampleProtocol))
	req.Header.Set("Content-Type", "text/markdown")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result ProtocolResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 7, result.Extracted)
}
