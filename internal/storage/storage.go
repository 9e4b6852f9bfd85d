// Package storage provides object retrieval with an Azure Blob Storage
// implementation. Buckets map to containers, keys to blob names.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the requested object or its bucket does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrAccessDenied indicates the caller is not authorized for the object.
	ErrAccessDenied = errors.New("object access denied")
	// ErrEmptyReference indicates an empty bucket or key was provided.
	ErrEmptyReference = errors.New("bucket and key must not be empty")
	// ErrInvalidKey indicates the key contains a path traversal segment.
	ErrInvalidKey = errors.New("key contains invalid path segment")
)

// IOError wraps a transient retrieval failure. The orchestrator may retry a
// stage that reports one; ErrNotFound and ErrAccessDenied it must not.
type IOError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ObjectStore is the retrieval capability consumed by the serialize stage.
type ObjectStore interface {
	// Fetch returns the raw bytes of the object at bucket/key.
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// ValidateReference rejects references no backend should ever see.
func ValidateReference(bucket, key string) error {
	if bucket == "" || key == "" {
		return ErrEmptyReference
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
