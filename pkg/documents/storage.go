package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/config"
)

var ErrNotFound = errors.New("document not found")

// Storage keeps uploaded protocol documents.
type Storage interface {
	// Store saves a document under the study and returns its key.
	Store(ctx context.Context, studyID uuid.UUID, filename string, content io.Reader, contentType string) (string, error)
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// New builds the backend selected by cfg.StorageType.
func New(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch StorageType(cfg.StorageType) {
	case StorageTypeLocal, "":
		path := cfg.StorageLocalPath
		if path == "" {
			path = "./protocols"
		}
		return NewLocalStorage(path)
	case StorageTypeS3:
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return nil, fmt.Errorf("s3 storage requires STORAGE_S3_BUCKET and STORAGE_S3_REGION")
		}
		return NewS3Storage(ctx, cfg.S3Bucket, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.StorageType)
	}
}

// objectKey lays documents out as study/year/month/uuid_filename.
func objectKey(studyID uuid.UUID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%02d/%s_%s",
		studyID.String(),
		now.Year(),
		now.Month(),
		uuid.New().String(),
		sanitizeFilename(filename),
	)
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", "..", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFilename(filename string) string {
	filename = filenameReplacer.Replace(strings.TrimSpace(filename))
	if filename == "" {
		return "protocol"
	}
	return filename
}
