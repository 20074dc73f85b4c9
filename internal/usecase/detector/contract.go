package detector

// Reconstructor is the backend capability the detector scores against.
type Reconstructor interface {
	Reconstruct(input []float32) ([]float32, error)
}
