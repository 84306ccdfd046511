package storage

import (
	"context"
	"io"
)

// BlobStorage is the holding area for fully assembled artifacts
type BlobStorage interface {
	// Store atomically saves content at the given path; partial writes are never visible
	Store(ctx context.Context, path string, content io.Reader) error

	// Retrieve gets content from the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path; deleting a missing path is not an error
	Delete(ctx context.Context, path string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of content at the given path
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns paths under the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
