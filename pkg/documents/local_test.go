package documents

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/config"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	studyID := uuid.New()
	key, err := store.Store(ctx, studyID, "../protocol v2.txt", strings.NewReader("Inclusion Criteria"), "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, studyID.String()+"/"))
	assert.NotContains(t, key, "..")

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Retrieve(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "Inclusion Criteria", string(body))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Retrieve(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Retrieve(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewRejectsIncompleteS3Config(t *testing.T) {
	_, err := New(context.Background(), &config.Config{StorageType: "s3"})
	assert.Error(t, err)

	_, err = New(context.Background(), &config.Config{StorageType: "ftp"})
	assert.Error(t, err)

	s, err := New(context.Background(), &config.Config{StorageType: "local", StorageLocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)
}
