package core

import (
	"context"
	"io"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectClient defines interactions with S3 or any object storage.
// It is abstract so sources and diagnostics dumps can target MinIO, GCS, etc.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// DocumentModel is a hosted model that turns a document into element JSON.
type DocumentModel interface {
	ExtractElements(ctx context.Context, mimeType string, data []byte, prompt string) (string, error)
}
