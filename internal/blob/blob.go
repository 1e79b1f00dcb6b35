// Package blob abstracts the stores hosted landing pages are served from:
// a global assets namespace and a per-user drive namespace.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports a missing object.
var ErrNotFound = errors.New("blob: object not found")

// Object is one stored file. ContentType is the stored metadata value and
// may be empty, in which case callers derive it from the key extension.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store is a read-only blob namespace.
type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
}
