package hoststub

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/webflow/shareddata/internal/ddserrors"
)

// HandleContext mints and resolves the opaque handle strings a
// Shared-kind SerializableValue carries: the identifier referencing
// another attached shared object, resolved through the host rather
// than interpreted by the core.
type HandleContext interface {
	Mint(target any) string
	Resolve(handle string) (any, error)
}

const resolvedHandleCacheSize = 4096

// InMemoryHandleContext mints uuid-keyed handles for locally-created
// objects and serves resolution from a bounded LRU cache, sufficient
// for a single-process host (tests, cmd/ddsctl).
type InMemoryHandleContext struct {
	mu      sync.RWMutex
	targets map[string]any
	cache   *lru.Cache[string, any]
}

func NewInMemoryHandleContext() *InMemoryHandleContext {
	cache, err := lru.New[string, any](resolvedHandleCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// resolvedHandleCacheSize never is.
		panic(err)
	}
	return &InMemoryHandleContext{
		targets: make(map[string]any),
		cache:   cache,
	}
}

// Mint registers target under a freshly generated handle and returns
// it. The same target minted twice yields two distinct handles, since
// identity (not value equality) is what a Shared reference tracks.
func (h *InMemoryHandleContext) Mint(target any) string {
	handle := uuid.NewString()
	h.mu.Lock()
	h.targets[handle] = target
	h.mu.Unlock()
	h.cache.Add(handle, target)
	return handle
}

func (h *InMemoryHandleContext) Resolve(handle string) (any, error) {
	if target, ok := h.cache.Get(handle); ok {
		return target, nil
	}
	h.mu.RLock()
	target, ok := h.targets[handle]
	h.mu.RUnlock()
	if !ok {
		return nil, ddserrors.ErrUnresolvedHandle
	}
	h.cache.Add(handle, target)
	return target, nil
}
