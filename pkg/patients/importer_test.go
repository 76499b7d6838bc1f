package patients

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = `MRN,Patient Name,Age,Sex,Phone,Diagnoses,Medications,MMSE Score
MRN-001,Margaret Chen,67,F,555-201-3344,Mild Alzheimer's Disease;Hypertension,Donepezil|Lisinopril,22
MRN-002,Robert Hale,abc,M,,Dementia,,20
MRN-003,,70,M,,Dementia,,20
MRN-004,Ana Ruiz,74,F,,MCI,,
`

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		explicit, filename, contentType string
		want                            Format
	}{
		{"", "patients.csv", "", FormatCSV},
		{"", "export.XLSX", "", FormatXLSX},
		{"", "bundle.json", "", FormatEHR},
		{"ehr", "upload.bin", "", FormatEHR},
		{"", "upload", "text/csv", FormatCSV},
		{"", "upload", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FormatXLSX},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.explicit, tc.filename, tc.contentType)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.filename)
	}

	_, err := DetectFormat("", "scan.pdf", "application/pdf")
	assert.True(t, validate.IsValidationError(err))
	_, err = DetectFormat("hl7", "", "")
	assert.True(t, validate.IsValidationError(err))
}

func TestParseCSV(t *testing.T) {
	result, err := Parse(FormatCSV, strings.NewReader(sampleCSV))
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	first := result.Records[0]
	assert.Equal(t, "MRN-001", first.ExternalID)
	assert.Equal(t, "Margaret Chen", first.Name)
	assert.Equal(t, 67, first.Age)
	assert.Equal(t, "F", first.Gender)
	assert.Equal(t, []string{"Mild Alzheimer's Disease", "Hypertension"}, first.Conditions)
	assert.Equal(t, []string{"Donepezil", "Lisinopril"}, first.Medications)
	require.NotNil(t, first.MMSEScore)
	assert.Equal(t, 22, *first.MMSEScore)

	assert.Nil(t, result.Records[1].MMSEScore)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.Contains(t, result.Errors[0].Message, "invalid age")
	assert.Equal(t, 4, result.Errors[1].Row)
	assert.Contains(t, result.Errors[1].Message, "name is required")
}

func TestParseCSVRequiresNameColumn(t *testing.T) {
	_, err := Parse(FormatCSV, strings.NewReader("age,conditions\n70,dementia\n"))
	assert.True(t, validate.IsValidationError(err))

	_, err = Parse(FormatCSV, strings.NewReader("   \n"))
	assert.True(t, validate.IsValidationError(err))
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Name", "Age", "Conditions", "MMSE"},
		{"Walter Price", 81, "Vascular dementia; Prior stroke", 19},
		{},
		{"Irene Adler", 58, "Mild cognitive impairment", 25},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	result, err := Parse(FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "Walter Price", result.Records[0].Name)
	assert.Equal(t, 81, result.Records[0].Age)
	assert.Equal(t, []string{"Vascular dementia", "Prior stroke"}, result.Records[0].Conditions)
	assert.Equal(t, 25, *result.Records[1].MMSEScore)
}

func TestParseEHR(t *testing.T) {
	payload := `{"patients": [
		{"id": "ehr-1", "name": "Dorothy Vaughan", "age": 72, "conditions": ["Alzheimer's disease"], "mmse_score": 21},
		{"mrn": "ehr-2", "name": "Henry Ford", "birth_date": "1950-06-01", "diagnoses": ["Epilepsy"], "mmse_score": null},
		{"id": "ehr-3", "name": "No Score", "age": "sixty"},
		{"id": "ehr-4", "name": "Bad Date", "birth_date": "06/01/1950"},
		{"id": "ehr-5", "name": "Float Age", "age": 67.0, "mmse_score": "24.0"},
		{"id": "ehr-6", "name": "Fractional Age", "age": 67.5}
	]}`
	result, err := Parse(FormatEHR, strings.NewReader(payload))
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	assert.Equal(t, "ehr-1", result.Records[0].ExternalID)
	assert.Equal(t, 21, *result.Records[0].MMSEScore)
	assert.Equal(t, "ehr-2", result.Records[1].ExternalID)
	assert.Greater(t, result.Records[1].Age, 70)
	assert.Equal(t, []string{"Epilepsy"}, result.Records[1].Conditions)
	assert.Nil(t, result.Records[1].MMSEScore)

	assert.Equal(t, 67, result.Records[2].Age)
	assert.Equal(t, 24, *result.Records[2].MMSEScore)

	require.Len(t, result.Errors, 3)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.Equal(t, 4, result.Errors[1].Row)
	assert.Equal(t, 6, result.Errors[2].Row)

	_, err = Parse(FormatEHR, strings.NewReader(`[{"name": }]`))
	assert.True(t, validate.IsValidationError(err))
}
