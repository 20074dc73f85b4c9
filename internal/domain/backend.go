package domain

// Backend is the inference capability shared by every compute engine.
//
// Reconstruct maps a vector of exactly ExpectedInputSize elements to a vector of
// the same length. ExpectedInputSize is fixed at construction.
type Backend interface {
	Name() string
	ExpectedInputSize() int
	Reconstruct(input []float32) ([]float32, error)
	Close() error
}
