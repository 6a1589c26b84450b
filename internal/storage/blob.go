package storage

import (
	"context"
	"io"
)

// BlobStore persists uploaded files and returns a reference suitable for
// storing on the owning record.
type BlobStore interface {
	// Store writes content under a namespaced, collision-free key and
	// returns the reference.
	Store(ctx context.Context, namespace, filename string, content io.Reader) (string, error)
	// Remove deletes a previously stored blob. Used to undo an upload when
	// the surrounding operation fails.
	Remove(ctx context.Context, ref string) error
}
