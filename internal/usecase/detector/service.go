// Package detector scores reconstruction error against a fixed threshold.
package detector

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
	"github.com/kailas-cloud/datasentinel/internal/metrics"
)

// Detector flags inputs whose reconstruction MSE exceeds the threshold.
// It holds no mutable state; concurrency safety is that of the backend.
type Detector struct {
	backend   Reconstructor
	threshold float64
	logger    *zap.Logger
}

// New creates a Detector.
func New(backend Reconstructor, threshold float64, logger *zap.Logger) *Detector {
	return &Detector{backend: backend, threshold: threshold, logger: logger}
}

// Threshold returns the configured threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Evaluate reconstructs input and classifies it. Backend errors are returned wrapped.
func (d *Detector) Evaluate(input []float32) (domain.DetectionResult, error) {
	reconstruction, err := d.backend.Reconstruct(input)
	if err != nil {
		return domain.DetectionResult{}, fmt.Errorf("reconstruct: %w", err)
	}

	if len(reconstruction) != len(input) {
		return domain.DetectionResult{}, fmt.Errorf("%w: reconstruction has %d elements, input %d",
			domain.ErrInferenceExecution, len(reconstruction), len(input))
	}

	mse := MeanSquaredError(input, reconstruction)
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return domain.DetectionResult{}, fmt.Errorf("%w: reconstruction error is %v",
			domain.ErrInferenceExecution, mse)
	}
	status := domain.StatusOK
	if mse > d.threshold {
		status = domain.StatusAnomaly
	}
	metrics.DetectionsTotal.WithLabelValues(status.String()).Inc()

	if status == domain.StatusAnomaly {
		d.logger.Info("Anomaly detected",
			zap.Float64("mse", mse),
			zap.Float64("threshold", d.threshold),
		)
	}

	return domain.DetectionResult{MSE: mse, Status: status}, nil
}

// MeanSquaredError averages squared differences over the first len(input)
// elements, accumulating in float64. Empty input yields 0.
func MeanSquaredError(input, reconstruction []float32) float64 {
	n := len(input)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		diff := float64(reconstruction[i]) - float64(input[i])
		sum += diff * diff
	}
	return sum / float64(n)
}
