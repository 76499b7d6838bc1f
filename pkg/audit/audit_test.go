package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

func TestRecordFillsDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	studyID := uuid.New()

	Record(ctx, store, models.AuditLog{StudyID: studyID, Action: "study_screened"})
	Record(ctx, store, models.AuditLog{Action: "orphan"})
	Record(ctx, nil, models.AuditLog{StudyID: studyID, Action: "ignored"})

	logs, err := store.List(ctx, studyID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "system", logs[0].Actor)
	assert.NotNil(t, logs[0].Payload)
}

func TestMemoryStoreListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	studyID := uuid.New()
	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, models.AuditLog{StudyID: studyID, Action: action}))
	}
	require.NoError(t, store.Append(ctx, models.AuditLog{StudyID: uuid.New(), Action: "other"}))

	logs, err := store.List(ctx, studyID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Action)
	assert.Equal(t, "b", logs[1].Action)
}
