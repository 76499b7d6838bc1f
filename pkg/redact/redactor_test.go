package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

func TestTranscriptRedaction(t *testing.T) {
	r, err := NewRedactor(DefaultRules())
	require.NoError(t, err)

	lines := []models.TranscriptLine{
		{Speaker: "agent", Text: "Can you confirm your date of birth?"},
		{Speaker: "patient", Text: "It's 3/14/1952, and my social is 123-45-6789."},
		{Speaker: "patient", Text: "Call my daughter at (555) 123-4567 or mail jane.doe@example.com"},
	}
	out, rep := r.Transcript(lines)

	require.Len(t, out, 3)
	assert.Equal(t, lines[0].Text, out[0].Text)
	assert.Equal(t, "It's [DOB], and my social is [SSN].", out[1].Text)
	assert.Equal(t, "Call my daughter at [PHONE] or mail [EMAIL]", out[2].Text)
	assert.True(t, rep.Redacted)
	assert.Equal(t, 4, rep.Count)
	assert.Equal(t, []string{"dob", "email", "phone", "ssn"}, rep.Types)

	assert.Contains(t, lines[1].Text, "123-45-6789", "input must not be modified")
}

func TestTextWithoutIdentifiers(t *testing.T) {
	r, err := NewRedactor(DefaultRules())
	require.NoError(t, err)

	out, rep := r.Text("MMSE was 22 last spring")
	assert.Equal(t, "MMSE was 22 last spring", out)
	assert.False(t, rep.Redacted)
}

func TestMapRedactsNestedValues(t *testing.T) {
	r, err := NewRedactor(DefaultRules())
	require.NoError(t, err)

	out := r.Map(map[string]interface{}{
		"caller": map[string]interface{}{"phone": "555-123-4567"},
		"notes":  []interface{}{"email me at a@b.org", 42},
	})
	assert.Equal(t, "[PHONE]", out["caller"].(map[string]interface{})["phone"])
	notes := out["notes"].([]interface{})
	assert.Equal(t, "email me at [EMAIL]", notes[0])
	assert.Equal(t, 42, notes[1])
}

func TestInvalidPatternRejected(t *testing.T) {
	_, err := NewRedactor(RulesConfig{Rules: []Rule{{Name: "bad", Pattern: "(", Enabled: true}}})
	assert.Error(t, err)
}
