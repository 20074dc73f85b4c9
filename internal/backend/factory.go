package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/backend/compiled"
	"github.com/kailas-cloud/datasentinel/internal/backend/portable"
	"github.com/kailas-cloud/datasentinel/internal/domain"
	"github.com/kailas-cloud/datasentinel/internal/engine"
	"github.com/kailas-cloud/datasentinel/internal/gpu"
)

// Accelerator is the GPU toolchain the compiled backend runs on.
type Accelerator struct {
	Runtime gpu.Runtime
	Device  gpu.Device
	Builder engine.Builder
}

// AcceleratorProvider opens the GPU toolchain. It is only called for KindCompiled.
type AcceleratorProvider func() (Accelerator, error)

// StoreProvider returns the engine store for a builder.
type StoreProvider func(builder engine.Builder) compiled.EngineStore

// Factory constructs backends from explicit collaborators.
type Factory struct {
	runtime     portable.Runtime
	accelerator AcceleratorProvider
	store       StoreProvider
	logger      *zap.Logger
}

// NewFactory creates a Factory. accelerator and store may be nil when only
// portable backends are built.
func NewFactory(
	runtime portable.Runtime,
	accelerator AcceleratorProvider,
	store StoreProvider,
	logger *zap.Logger,
) *Factory {
	return &Factory{
		runtime:     runtime,
		accelerator: accelerator,
		store:       store,
		logger:      logger,
	}
}

// New builds the backend of the given kind for modelPath. Construction errors
// are returned as-is and are fatal for the caller.
func (f *Factory) New(ctx context.Context, kind Kind, modelPath string) (domain.Backend, error) {
	logger := f.logger.With(zap.String("backend", kind.String()))

	switch kind {
	case KindPortable:
		b, err := portable.New(modelPath, f.runtime, logger)
		if err != nil {
			return nil, fmt.Errorf("portable backend: %w", err)
		}
		return b, nil

	case KindCompiled:
		if f.accelerator == nil || f.store == nil {
			return nil, fmt.Errorf("%w: compiled backend is not configured", domain.ErrUnsupportedBackend)
		}
		acc, err := f.accelerator()
		if err != nil {
			return nil, fmt.Errorf("open accelerator: %w", err)
		}
		b, err := compiled.New(ctx, modelPath, compiled.Deps{
			Store:   f.store(acc.Builder),
			Shapes:  portable.NewInspector(f.runtime),
			Runtime: acc.Runtime,
			Device:  acc.Device,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("compiled backend: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedBackend, kind)
	}
}
