package portable

import (
	"fmt"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// ResolveInputSize returns the feature dimension of a model input shape.
// Shapes with two or more dimensions are batch-first, so the second dimension
// is used; rank-1 shapes use their only dimension.
func ResolveInputSize(dims []int64) (int, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("%w: input tensor has empty shape", domain.ErrInvalidModelShape)
	}

	featureDim := dims[0]
	if len(dims) > 1 {
		featureDim = dims[1]
	}
	if featureDim <= 0 {
		return 0, fmt.Errorf("%w: input tensor has non-static or invalid feature dimension %d",
			domain.ErrInvalidModelShape, featureDim)
	}

	return int(featureDim), nil
}

// Inspector resolves the expected input size of a model without opening a session.
type Inspector struct {
	runtime Runtime
}

// NewInspector creates an Inspector over rt.
func NewInspector(rt Runtime) *Inspector {
	return &Inspector{runtime: rt}
}

// InputSize returns the feature dimension of the model's first declared input.
func (i *Inspector) InputSize(modelPath string) (int, error) {
	info, err := i.runtime.Inspect(modelPath)
	if err != nil {
		return 0, fmt.Errorf("%w: read signature of %s: %w", domain.ErrInvalidModelShape, modelPath, err)
	}
	return inputSizeOf(info)
}

func inputSizeOf(info ModelInfo) (int, error) {
	if len(info.Inputs) == 0 {
		return 0, fmt.Errorf("%w: model declares no inputs", domain.ErrInvalidModelShape)
	}
	first := info.Inputs[0]
	if !first.IsTensor {
		return 0, fmt.Errorf("%w: model input %q is not a tensor", domain.ErrInvalidModelShape, first.Name)
	}
	return ResolveInputSize(first.Dims)
}
