package patients

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gorm.io/datatypes"
)

func TestFromModelLogsCorruptColumns(t *testing.T) {
	hook := test.NewLocal(logger.Log)
	defer hook.Reset()

	row := &patientModel{
		ID:              uuid.New(),
		Name:            "Margaret Chen",
		Conditions:      datatypes.JSON(`["Mild Alzheimer's disease"]`),
		CriteriaMatches: datatypes.JSON(`{"broken"`),
		Tag:             string(models.TagMatch),
	}
	p := fromModel(row)

	assert.Equal(t, []string{"Mild Alzheimer's disease"}, p.Conditions)
	assert.Empty(t, p.CriteriaMatches)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "criteria_matches", entry.Data["column"])
	assert.Equal(t, row.ID, entry.Data["patient_id"])
}
