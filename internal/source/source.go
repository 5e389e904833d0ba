// Package source resolves the opaque source references held by queue entries
// into readable bytes.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrUnknownSource is returned for references that resolve to nothing
var ErrUnknownSource = errors.New("unknown source reference")

// Resolver turns a source reference into a byte stream and its length
type Resolver interface {
	Resolve(ctx context.Context, ref string) (io.ReadCloser, int64, error)
}

// Chain tries each resolver in turn, moving on while the reference is unknown
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	for _, r := range c {
		rc, size, err := r.Resolve(ctx, ref)
		if !errors.Is(err, ErrUnknownSource) {
			return rc, size, err
		}
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrUnknownSource, ref)
}

// FileResolver treats references as file paths on fs
type FileResolver struct {
	fs afero.Fs
}

func NewFileResolver(fs afero.Fs) *FileResolver {
	return &FileResolver{fs: fs}
}

func (r *FileResolver) Resolve(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	info, err := r.fs.Stat(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrUnknownSource, ref, err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s is a directory", ErrUnknownSource, ref)
	}

	f, err := r.fs.Open(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	return f, info.Size(), nil
}

// MemoryResolver holds blobs in memory, keyed by generated references
type MemoryResolver struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{blobs: map[string][]byte{}}
}

// Put stores data and returns the reference it can be resolved by
func (r *MemoryResolver) Put(data []byte) string {
	ref := uuid.NewString()
	r.mu.Lock()
	r.blobs[ref] = data
	r.mu.Unlock()
	return ref
}

// Release forgets ref
func (r *MemoryResolver) Release(ref string) {
	r.mu.Lock()
	delete(r.blobs, ref)
	r.mu.Unlock()
}

func (r *MemoryResolver) Resolve(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	r.mu.RLock()
	data, ok := r.blobs[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownSource, ref)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}
