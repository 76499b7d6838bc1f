package terminology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

func TestCodePrefersMostSpecificConcept(t *testing.T) {
	cat := DefaultCatalog()

	concept, ok := cat.Code("Vascular Dementia")
	require.True(t, ok)
	assert.Equal(t, "F01.50", concept.ICD10)

	concept, ok = cat.Code("Mixed dementia")
	require.True(t, ok)
	assert.Equal(t, "F03.90", concept.ICD10)

	_, ok = cat.Code("Seasonal allergies")
	assert.False(t, ok)
}

func TestAnnotate(t *testing.T) {
	p := models.Patient{Conditions: []string{"Mild Alzheimer's Disease", "Hypertension", "Osteoarthritis"}}
	DefaultCatalog().Annotate(&p)

	assert.Equal(t, map[string]string{
		"Mild Alzheimer's Disease": "G30.9",
		"Hypertension":             "I10",
	}, p.ConditionCodes)

	empty := models.Patient{Conditions: []string{"Osteoarthritis"}}
	DefaultCatalog().Annotate(&empty)
	assert.Nil(t, empty.ConditionCodes)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
concepts:
  parkinsons:
    display: Parkinson's disease
    icd10: G20
    keywords: [parkinson]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cat, err := Load(path)
	require.NoError(t, err)
	concept, ok := cat.Lookup("Parkinsons")
	require.True(t, ok)
	assert.Equal(t, "G20", concept.ICD10)

	require.NoError(t, os.WriteFile(path, []byte("concepts: {}\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
