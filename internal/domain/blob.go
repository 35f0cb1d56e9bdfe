package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores immutable objects (archived event history) in an
// object store.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader retrieves archived objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports the event history of settled markets to blob storage.
type Archiver interface {
	ArchiveSettled(ctx context.Context) (archived int, err error)
}
