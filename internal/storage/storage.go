// Package storage provides blob storage for audio files and transcription
// results. It defines the BlobStore interface (port) for hexagonal
// architecture and implementations for S3-compatible object stores and
// in-memory testing.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	ContentType  string
	LastModified time.Time
}

// BlobStore defines the interface for durable blob storage. Keys are
// slash-separated paths within a single bucket; the worker stages objects
// to local disk before handing them to ffmpeg.
type BlobStore interface {
	// Upload stores the object under key, replacing any existing object.
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error

	// Download returns a reader for the object. The caller must close it.
	// Returns ErrObjectNotFound if the object does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns metadata for the object.
	// Returns ErrObjectNotFound if the object does not exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// PresignGet returns a time-limited URL for downloading the object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// EnsureBucket creates the backing bucket if it does not exist yet.
	EnsureBucket(ctx context.Context) error
}
