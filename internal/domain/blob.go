package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object, such as an archived capture.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads captures and trade exports to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart streams large captures in parts of at least partSize.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archived captures back for replay.
type BlobReader interface {
	// Get fails with ErrNotFound when nothing is stored at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
