package backend

import (
	"sync"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// ExclusiveBackend serializes every call into a backend that is not safe for
// concurrent use.
type ExclusiveBackend struct {
	mu    sync.Mutex
	inner domain.Backend
}

// Exclusive wraps b with a single mutex.
func Exclusive(b domain.Backend) *ExclusiveBackend {
	return &ExclusiveBackend{inner: b}
}

// Name returns the inner backend name.
func (e *ExclusiveBackend) Name() string { return e.inner.Name() }

// ExpectedInputSize returns the inner backend input size.
func (e *ExclusiveBackend) ExpectedInputSize() int { return e.inner.ExpectedInputSize() }

// Reconstruct holds the lock for the whole call.
func (e *ExclusiveBackend) Reconstruct(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inner.Reconstruct(input) //nolint:wrapcheck // transparent decorator
}

// Close waits for an in-flight call before releasing the inner backend.
func (e *ExclusiveBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inner.Close() //nolint:wrapcheck // transparent decorator
}
