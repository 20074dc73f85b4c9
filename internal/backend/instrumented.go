package backend

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
	"github.com/kailas-cloud/datasentinel/internal/metrics"
)

// InstrumentedBackend records Prometheus metrics and logs around Reconstruct.
type InstrumentedBackend struct {
	inner  domain.Backend
	logger *zap.Logger
}

// Instrumented wraps b with metrics and logging.
func Instrumented(b domain.Backend, logger *zap.Logger) *InstrumentedBackend {
	return &InstrumentedBackend{inner: b, logger: logger}
}

// Name returns the inner backend name.
func (i *InstrumentedBackend) Name() string { return i.inner.Name() }

// ExpectedInputSize returns the inner backend input size.
func (i *InstrumentedBackend) ExpectedInputSize() int { return i.inner.ExpectedInputSize() }

// Reconstruct delegates and records outcome and latency.
func (i *InstrumentedBackend) Reconstruct(input []float32) ([]float32, error) {
	name := i.inner.Name()
	start := time.Now()

	out, err := i.inner.Reconstruct(input)

	duration := time.Since(start)
	metrics.InferenceDuration.WithLabelValues(name).Observe(duration.Seconds())

	switch {
	case err == nil:
		metrics.InferenceRequestsTotal.WithLabelValues(name, "ok").Inc()
	case errors.Is(err, domain.ErrInputSizeMismatch):
		metrics.InferenceRequestsTotal.WithLabelValues(name, "invalid_input").Inc()
		i.logger.Debug("Rejected input",
			zap.String("backend", name),
			zap.Int("size", len(input)),
			zap.Error(err),
		)
		return nil, err //nolint:wrapcheck // transparent decorator
	default:
		metrics.InferenceRequestsTotal.WithLabelValues(name, "error").Inc()
		i.logger.Error("Reconstruct failed",
			zap.String("backend", name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err //nolint:wrapcheck // transparent decorator
	}

	i.logger.Debug("Reconstruct completed",
		zap.String("backend", name),
		zap.Duration("duration", duration),
	)
	return out, nil
}

// Close closes the inner backend.
func (i *InstrumentedBackend) Close() error {
	return i.inner.Close() //nolint:wrapcheck // transparent decorator
}
