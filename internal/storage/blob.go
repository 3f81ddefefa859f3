// Package storage provides document and blob persistence with pluggable
// backends.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors for blob storage operations.
var (
	ErrBlobNotFound = errors.New("blob not found")

	// ErrPresignUnsupported is returned by backends that cannot hand
	// out direct download URLs. Callers fall back to streaming through
	// the API.
	ErrPresignUnsupported = errors.New("presigned URLs not supported by this backend")
)

// BlobMetadata contains metadata about a stored blob.
type BlobMetadata struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ListOptions configures blob listing behavior.
type ListOptions struct {
	Prefix  string // Only return keys with this prefix
	MaxKeys int    // Maximum number of keys to return (0 = default limit)
}

// ListResult contains the results of a list operation.
type ListResult struct {
	Blobs     []BlobMetadata `json:"blobs"`
	Truncated bool           `json:"truncated"`
}

// BlobStore defines a provider-agnostic interface for vault file bytes.
// Implementations: FileBlobStore (local), S3BlobStore (AWS or
// S3-compatible).
type BlobStore interface {
	// Get retrieves a blob by key. Returns ErrBlobNotFound if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetReader returns a reader for streaming large blobs.
	// Caller must close the reader when done.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores a blob. Overwrites if exists.
	Put(ctx context.Context, key string, data []byte) error

	// PutReader stores a blob from a reader for streaming large blobs.
	PutReader(ctx context.Context, key string, r io.Reader, size int64) error

	// Delete removes a blob. No error if not found.
	Delete(ctx context.Context, key string) error

	// Exists checks if a blob exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Metadata returns metadata for a blob. Returns ErrBlobNotFound if not found.
	Metadata(ctx context.Context, key string) (*BlobMetadata, error)

	// List returns blobs matching the given options.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// PresignGet returns a time-limited direct download URL for the
	// blob, or ErrPresignUnsupported.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Close releases any resources held by the store.
	Close() error
}
