package services

import (
	"bytes"
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Extracta/internal/core"
)

// ArchiveService copies uploaded documents to object storage before they are
// extracted, so a run can point back at its input.
type ArchiveService struct {
	storage core.ObjectClient
	bucket  string
	now     func() time.Time
}

// NewArchiveService returns nil when storage or bucket is missing; a nil
// service archives nothing.
func NewArchiveService(storage core.ObjectClient, bucket string) *ArchiveService {
	if storage == nil || bucket == "" {
		return nil
	}
	return &ArchiveService{storage: storage, bucket: bucket, now: time.Now}
}

// Archive uploads src's bytes and returns the object URL. Sources without
// in-memory data are left alone.
func (s *ArchiveService) Archive(ctx context.Context, src core.Source) (string, error) {
	if s == nil || src.Data == nil {
		return "", nil
	}
	key := s.objectKey(uuid.NewString(), src.Label)
	contentType := src.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.storage.UploadFile(ctx, s.bucket, key, bytes.NewReader(src.Data), contentType)
}

// objectKey creates a consistent S3 key layout.
func (s *ArchiveService) objectKey(id, filename string) string {
	filename = filepath.Base(strings.TrimSpace(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "." || filename == "/" || filename == "" {
		filename = "document"
	}
	return path.Join("uploads", s.now().UTC().Format("2006/01/02"), id, filename)
}
