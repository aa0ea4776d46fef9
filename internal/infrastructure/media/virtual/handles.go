package virtual

import (
	"fmt"
	"sync"

	"dubsync/internal/core/domain"

	"github.com/google/uuid"
)

const handlePrefix = "blob:dubsync/"

// HandleRegistry issues object-URL style handles for blobs.
type HandleRegistry struct {
	mu       sync.RWMutex
	blobs    map[domain.Handle]*domain.Blob
	created  int
	released int
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{blobs: make(map[domain.Handle]*domain.Blob)}
}

func (r *HandleRegistry) Create(blob *domain.Blob) domain.Handle {
	h := domain.Handle(handlePrefix + uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[h] = blob
	r.created++
	return h
}

func (r *HandleRegistry) Release(h domain.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[h]; !ok {
		return false
	}
	delete(r.blobs, h)
	r.released++
	return true
}

func (r *HandleRegistry) Resolve(h domain.Handle) (*domain.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blob, ok := r.blobs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrHandleInvalid, h)
	}
	return blob, nil
}

func (r *HandleRegistry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Counts returns how many handles were created and released over the
// registry's lifetime.
func (r *HandleRegistry) Counts() (created, released int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.created, r.released
}
