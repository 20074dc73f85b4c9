// Package compiled runs anomaly-detection models as compiled GPU engines.
//
// A Backend owns device buffers, a stream and an execution context. It is not
// safe for concurrent use: callers serialize Reconstruct (see backend.Exclusive)
// or keep one instance per worker.
package compiled

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
	"github.com/kailas-cloud/datasentinel/internal/gpu"
)

// Name is the stable backend name.
const Name = "compiled"

const float32Size = 4

// EngineStore returns the path of a compiled engine for a model, building it on a miss.
type EngineStore interface {
	Ensure(ctx context.Context, modelPath string) (string, error)
}

// ShapeInspector resolves the expected input size from the portable model.
type ShapeInspector interface {
	InputSize(modelPath string) (int, error)
}

// Deps are the collaborators a compiled backend is built from.
type Deps struct {
	Store   EngineStore
	Shapes  ShapeInspector
	Runtime gpu.Runtime
	Device  gpu.Device
	Logger  *zap.Logger
}

// Backend executes a deserialized engine with fixed device buffers.
type Backend struct {
	inputSize    int
	inputName    string
	outputName   string
	inputVolume  int
	outputVolume int

	engine  gpu.Engine
	execCtx gpu.Context
	stream  gpu.Stream
	input   gpu.DevicePtr
	output  gpu.DevicePtr
	staging []float32

	resources *releaseStack
	logger    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// New loads (building if needed) the compiled engine for modelPath and prepares
// it for single-sample execution. Every resource acquired before a failure is
// released before New returns.
func New(ctx context.Context, modelPath string, deps Deps) (_ *Backend, err error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	modelAbs, err := filepath.Abs(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: absolute path of %s: %w", domain.ErrConfigInvalid, modelPath, err)
	}
	if _, err := os.Stat(modelAbs); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelAbs)
	}

	enginePath, err := deps.Store.Ensure(ctx, modelAbs)
	if err != nil {
		return nil, err
	}

	inputSize, err := deps.Shapes.InputSize(modelAbs)
	if err != nil {
		return nil, err
	}

	plan, err := os.ReadFile(filepath.Clean(enginePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: engine file %s disappeared", domain.ErrEngineIO, enginePath)
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrEngineIO, enginePath, err)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: engine file %s is empty", domain.ErrEngineIO, enginePath)
	}

	b := &Backend{
		inputSize: inputSize,
		resources: &releaseStack{},
		logger:    logger,
	}
	defer func() {
		if err != nil {
			if relErr := b.resources.unwind(); relErr != nil {
				logger.Warn("Failed to release compiled backend resources", zap.Error(relErr))
			}
		}
	}()

	if err := b.load(deps.Runtime, plan); err != nil {
		return nil, fmt.Errorf("load %s: %w", enginePath, err)
	}
	if err := b.bindIO(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", enginePath, err)
	}
	if err := b.allocate(deps.Device); err != nil {
		return nil, err
	}

	logger.Info("Compiled backend ready",
		zap.String("model", modelAbs),
		zap.String("engine", enginePath),
		zap.Int("input_size", inputSize),
		zap.String("input_tensor", b.inputName),
		zap.String("output_tensor", b.outputName),
		zap.Int("output_volume", b.outputVolume),
	)
	return b, nil
}

// load deserializes the plan and creates the execution context.
func (b *Backend) load(rt gpu.Runtime, plan []byte) error {
	engine, err := rt.Deserialize(plan)
	if err != nil {
		return fmt.Errorf("%w: deserialize engine: %w", domain.ErrEngineIO, err)
	}
	b.engine = engine
	b.resources.push("engine", engine.Close)

	execCtx, err := engine.NewContext()
	if err != nil {
		return fmt.Errorf("%w: create execution context: %w", domain.ErrEngineIO, err)
	}
	b.execCtx = execCtx
	b.resources.push("execution context", execCtx.Close)
	return nil
}

// bindIO selects the single input and output tensors and fixes the input shape.
func (b *Backend) bindIO() error {
	var inputs, outputs []gpu.TensorDesc
	for _, t := range b.engine.IOTensors() {
		switch t.Mode {
		case gpu.ModeInput:
			inputs = append(inputs, t)
		case gpu.ModeOutput:
			outputs = append(outputs, t)
		}
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("%w: expected 1 input and 1 output tensor, got %d and %d",
			domain.ErrInvalidEngineIO, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if in.DataType != gpu.Float32 || out.DataType != gpu.Float32 {
		return fmt.Errorf("%w: tensors must be float32, input %q is %s, output %q is %s",
			domain.ErrInvalidEngineIO, in.Name, in.DataType, out.Name, out.DataType)
	}

	var shape []int64
	switch len(in.Dims) {
	case 1:
		shape = []int64{int64(b.inputSize)}
	case 2:
		shape = []int64{1, int64(b.inputSize)}
	default:
		return fmt.Errorf("%w: input %q has rank %d, want 1 or 2",
			domain.ErrInvalidEngineIO, in.Name, len(in.Dims))
	}
	if err := b.execCtx.SetInputShape(in.Name, shape); err != nil {
		return fmt.Errorf("%w: set input shape %v: %w", domain.ErrInvalidEngineIO, shape, err)
	}

	inputVolume, err := b.resolvedVolume(in.Name)
	if err != nil {
		return err
	}
	if inputVolume < b.inputSize {
		return fmt.Errorf("%w: input %q holds %d elements, model expects %d",
			domain.ErrInvalidEngineIO, in.Name, inputVolume, b.inputSize)
	}
	outputVolume, err := b.resolvedVolume(out.Name)
	if err != nil {
		return err
	}

	b.inputName = in.Name
	b.outputName = out.Name
	b.inputVolume = inputVolume
	b.outputVolume = outputVolume
	return nil
}

func (b *Backend) resolvedVolume(name string) (int, error) {
	dims, err := b.execCtx.TensorShape(name)
	if err != nil {
		return 0, fmt.Errorf("%w: read shape of %q: %w", domain.ErrInvalidEngineIO, name, err)
	}
	volume, err := gpu.Volume(dims)
	if err != nil {
		return 0, fmt.Errorf("%w: tensor %q: %w", domain.ErrInvalidEngineIO, name, err)
	}
	return volume, nil
}

// allocate reserves device buffers sized to the resolved volumes and one stream.
func (b *Backend) allocate(device gpu.Device) error {
	input, err := device.Alloc(b.inputVolume * float32Size)
	if err != nil {
		return fmt.Errorf("%w: allocate input buffer (%d elements): %w", domain.ErrEngineIO, b.inputVolume, err)
	}
	b.input = input
	b.resources.push("input buffer", func() error { return device.Free(input) })

	output, err := device.Alloc(b.outputVolume * float32Size)
	if err != nil {
		return fmt.Errorf("%w: allocate output buffer (%d elements): %w", domain.ErrEngineIO, b.outputVolume, err)
	}
	b.output = output
	b.resources.push("output buffer", func() error { return device.Free(output) })

	stream, err := device.NewStream()
	if err != nil {
		return fmt.Errorf("%w: create stream: %w", domain.ErrEngineIO, err)
	}
	b.stream = stream
	b.resources.push("stream", stream.Close)

	b.staging = make([]float32, b.outputVolume)
	return nil
}

// Name returns "compiled".
func (b *Backend) Name() string { return Name }

// ExpectedInputSize returns the feature dimension fixed at construction.
func (b *Backend) ExpectedInputSize() int { return b.inputSize }

// Reconstruct runs one sample through the engine. Not safe for concurrent use.
func (b *Backend) Reconstruct(input []float32) ([]float32, error) {
	if err := domain.CheckInputSize(input, b.inputSize); err != nil {
		return nil, err
	}

	if err := b.stream.CopyToDevice(b.input, input); err != nil {
		return nil, fmt.Errorf("%w: copy input to device: %w", domain.ErrInferenceExecution, err)
	}
	if err := b.execute(); err != nil {
		// The input copy is already queued: drain it so the next call starts clean.
		if serr := b.stream.Synchronize(); serr != nil {
			err = errors.Join(err, fmt.Errorf("drain stream: %w", serr))
		}
		return nil, err
	}
	if err := b.stream.Synchronize(); err != nil {
		return nil, fmt.Errorf("%w: synchronize stream: %w", domain.ErrInferenceExecution, err)
	}

	if len(b.staging) < b.inputSize {
		return nil, fmt.Errorf("%w: output holds %d elements, expected at least %d",
			domain.ErrInferenceExecution, len(b.staging), b.inputSize)
	}
	out := make([]float32, b.inputSize)
	copy(out, b.staging)
	return out, nil
}

// execute binds the buffers, enqueues inference and queues the output copy.
func (b *Backend) execute() error {
	if err := b.execCtx.SetTensorAddress(b.inputName, b.input); err != nil {
		return fmt.Errorf("%w: bind input %q: %w", domain.ErrInferenceExecution, b.inputName, err)
	}
	if err := b.execCtx.SetTensorAddress(b.outputName, b.output); err != nil {
		return fmt.Errorf("%w: bind output %q: %w", domain.ErrInferenceExecution, b.outputName, err)
	}
	if err := b.execCtx.Enqueue(b.stream); err != nil {
		return fmt.Errorf("%w: enqueue: %w", domain.ErrInferenceExecution, err)
	}
	if err := b.stream.CopyFromDevice(b.staging, b.output); err != nil {
		return fmt.Errorf("%w: copy output to host: %w", domain.ErrInferenceExecution, err)
	}
	return nil
}

// Close releases the stream, device buffers, execution context and engine.
// It is safe to call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.resources.unwind()
	})
	if b.closeErr != nil {
		return fmt.Errorf("close compiled backend: %w", b.closeErr)
	}
	return nil
}
