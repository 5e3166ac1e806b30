package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when nothing was saved under the key.
var ErrNotFound = errors.New("blob not found")

// BlobStore persists opaque values under string keys. Save overwrites the
// previous value wholesale.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}
