package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Storage is the object store receipts are archived to.
type Storage interface {
	// Put stores an object under key, replacing any previous content.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get opens the object stored under key. Returns ErrNotFound when missing.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Config holds S3/MinIO connection settings.
type Config struct {
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
}
