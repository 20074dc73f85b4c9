package health

import "context"

// BackendProber is the inference backend under check.
type BackendProber interface {
	ExpectedInputSize() int
	Reconstruct(input []float32) ([]float32, error)
}

// CachePinger checks remote engine cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}
