package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore holds the artifacts downloaded from the training server, keyed
// by slash separated paths.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error

	ListObjects(ctx context.Context, dir string) ([]Object, error)

	DeleteObjects(ctx context.Context, dir string) error
}
