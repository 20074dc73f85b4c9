// Package portable runs reconstruction through a general-purpose ONNX runtime.
package portable

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// Name identifies the portable backend.
const Name = "portable"

var _ domain.Backend = (*Backend)(nil)

// Backend reconstructs vectors with a portable model session.
// Reconstruct is safe for concurrent use.
type Backend struct {
	session     Session
	inputSize   int
	inputNames  []string
	outputNames []string
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// New loads the model at modelPath and opens a session on rt.
func New(modelPath string, rt Runtime, logger *zap.Logger) (*Backend, error) {
	abs, err := filepath.Abs(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: absolute path of %s: %w", domain.ErrModelNotFound, modelPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, abs)
	}

	info, err := rt.Inspect(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read signature of %s: %w", domain.ErrInvalidModelShape, abs, err)
	}

	inputSize, err := inputSizeOf(info)
	if err != nil {
		return nil, err
	}
	if len(info.Outputs) == 0 {
		return nil, fmt.Errorf("%w: model declares no outputs", domain.ErrInvalidModelShape)
	}

	inputNames := make([]string, len(info.Inputs))
	for i, in := range info.Inputs {
		inputNames[i] = in.Name
	}
	outputNames := make([]string, len(info.Outputs))
	for i, out := range info.Outputs {
		outputNames[i] = out.Name
	}

	// Only the first input is fed and only the first output is read.
	session, err := rt.Open(abs, inputNames[:1], outputNames[:1])
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", abs, err)
	}

	logger.Info("Portable backend ready",
		zap.String("model", abs),
		zap.Int("expected_input_size", inputSize),
		zap.Strings("inputs", inputNames),
		zap.Strings("outputs", outputNames),
	)

	return &Backend{
		session:     session,
		inputSize:   inputSize,
		inputNames:  inputNames,
		outputNames: outputNames,
		logger:      logger,
	}, nil
}

// Name returns "portable".
func (b *Backend) Name() string { return Name }

// ExpectedInputSize returns the feature dimension resolved from the model.
func (b *Backend) ExpectedInputSize() int { return b.inputSize }

// Reconstruct runs the model on a single-batch [1, n] tensor and returns the
// first n elements of the first output.
func (b *Backend) Reconstruct(input []float32) ([]float32, error) {
	if err := domain.CheckInputSize(input, b.inputSize); err != nil {
		return nil, err
	}

	outputs, err := b.session.Run(input, []int64{1, int64(b.inputSize)})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInferenceExecution, err)
	}
	if len(outputs) == 0 || outputs[0] == nil {
		return nil, fmt.Errorf("%w: model returned no output tensor", domain.ErrInferenceExecution)
	}
	if len(outputs[0]) < b.inputSize {
		return nil, fmt.Errorf("%w: output tensor has %d elements, expected at least %d",
			domain.ErrInferenceExecution, len(outputs[0]), b.inputSize)
	}

	reconstructed := make([]float32, b.inputSize)
	copy(reconstructed, outputs[0][:b.inputSize])
	return reconstructed, nil
}

// Close releases the session. Safe to call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.session != nil {
			b.closeErr = b.session.Close()
		}
	})
	if b.closeErr != nil {
		return fmt.Errorf("close portable backend: %w", b.closeErr)
	}
	return nil
}
