package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/polyforge/polyforge-backend/internal/storage"
)

// fakeBucket keeps uploaded artifacts in memory and hands out origin-shaped
// public URLs so CDN rewriting has a bucket segment to strip.
type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failAll  bool
	uploaded []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) key(kind storage.ArtifactKind, key string) string {
	return fmt.Sprintf("%s/%s", kind, key)
}

func (f *fakeBucket) Upload(ctx context.Context, kind storage.ArtifactKind, key string, r io.Reader) error {
	if f.failAll {
		return fmt.Errorf("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.key(kind, key)] = data
	f.uploaded = append(f.uploaded, f.key(kind, key))
	return nil
}

func (f *fakeBucket) Download(ctx context.Context, kind storage.ArtifactKind, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.key(kind, key)]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeBucket) Delete(ctx context.Context, kind storage.ArtifactKind, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, f.key(kind, key))
	return nil
}

func (f *fakeBucket) ListKeys(ctx context.Context, kind storage.ArtifactKind, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for k := range f.objects {
		if strings.HasPrefix(k, f.key(kind, prefix)) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeBucket) PublicURL(kind storage.ArtifactKind, key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/test-bucket/%s/%s", kind, key)
}

func (f *fakeBucket) object(kind storage.ArtifactKind, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.key(kind, key)]
	return data, ok
}
