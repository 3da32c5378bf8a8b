package board

import (
	"context"
	"io"
)

// Archive stores audit snapshots of the accident config and its history.
// Objects are addressed by name and written once.
type Archive interface {
	// Put stores the object read from r under name.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get retrieves the object stored under name and writes it to w.
	Get(ctx context.Context, name string, w io.Writer) error

	// List returns the names of all stored objects, oldest first.
	List(ctx context.Context) ([]string, error)
}
