// Package archive stores audit snapshots of the accident config and its
// reset history in memory, on the filesystem or in S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"safeboard/internal/board"
)

// MemoryArchive keeps objects in memory. Safe for concurrent use.
type MemoryArchive struct {
	name    string
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{name: name, objects: make(map[string][]byte)}
}

func (a *MemoryArchive) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.objects[name]; ok {
		return fmt.Errorf("object %s already exists", name)
	}
	a.objects[name] = data
	return nil
}

func (a *MemoryArchive) Get(ctx context.Context, name string, w io.Writer) error {
	a.mu.RLock()
	data, ok := a.objects[name]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("object not found: %s", name)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (a *MemoryArchive) List(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.objects))
	for n := range a.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

var _ board.Archive = (*MemoryArchive)(nil)
