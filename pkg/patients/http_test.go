package patients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

func newRouter(f fixture) *mux.Router {
	router := mux.NewRouter()
	NewHandler(f.svc).Register(router)
	return router
}

func TestHandlerImportScreenAndList(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	base := "/studies/" + f.studyID.String()

	req := httptest.NewRequest(http.MethodPost, base+"/patients/import?filename=export.csv", strings.NewReader(screeningCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var imported ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imported))
	assert.Equal(t, 3, imported.Imported)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/screen", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var screened struct {
		Summary models.ScreeningSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &screened))
	assert.Equal(t, 1, screened.Summary.Matches)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/patients?tag=Ineligible", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Items []struct {
			Name           string                  `json:"name"`
			TagBadge       map[string]string       `json:"tag_badge"`
			StatusBadge    map[string]string       `json:"status_badge"`
			FailedCriteria []models.CriterionMatch `json:"failed_criteria"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Items, 1)
	assert.Equal(t, "Cancer Patient", listed.Items[0].Name)
	assert.Equal(t, "red", listed.Items[0].TagBadge["color"])
	assert.Equal(t, "alert-circle", listed.Items[0].StatusBadge["icon"])
	require.Len(t, listed.Items[0].FailedCriteria, 1)
	assert.Equal(t, 6, listed.Items[0].FailedCriteria[0].CriterionID)
}

func TestHandlerImportReportsRowErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/studies/"+f.studyID.String()+"/patients/import?format=csv", strings.NewReader("name,age\n,70\n"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Errors []RowError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, 2, body.Errors[0].Row)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"bad patient id", http.MethodGet, "/patients/not-a-uuid", "", http.StatusBadRequest},
		{"unknown patient", http.MethodGet, "/patients/" + uuid.NewString(), "", http.StatusNotFound},
		{"unknown study", http.MethodPost, "/studies/" + uuid.NewString() + "/screen", "", http.StatusNotFound},
		{"no patients", http.MethodPost, "/studies/" + f.studyID.String() + "/screen", "", http.StatusBadRequest},
		{"unknown tag filter", http.MethodGet, "/studies/" + f.studyID.String() + "/patients?tag=Maybe", "", http.StatusBadRequest},
		{"bad criterion id", http.MethodPost, "/patients/" + uuid.NewString() + "/criteria/zero", `{"matched":true}`, http.StatusBadRequest},
		{"unknown body field", http.MethodPatch, "/patients/" + uuid.NewString(), `{"colour":"red"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestHandlerOverrideAndEnroll(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	result := f.importCSV(t, screeningCSV)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/studies/"+f.studyID.String()+"/screen", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	potential := result.PatientIDs[1].String()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients/"+potential+"/criteria/4", strings.NewReader(`{"matched":true,"note":"febrile seizure only"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Patient struct {
			Tag models.Tag `json:"tag"`
		} `json:"patient"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.TagMatch, got.Patient.Tag)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients/"+potential+"/enroll", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients/"+result.PatientIDs[2].String()+"/enroll", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
