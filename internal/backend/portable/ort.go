package portable

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// InitRuntime loads the ONNX Runtime shared library and initializes its
// environment. Only the first call has an effect. An empty libraryPath uses
// the platform default library name.
func InitRuntime(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return initErr
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("destroy onnxruntime environment: %w", err)
	}
	return nil
}

// ORT is the ONNX Runtime implementation of Runtime. InitRuntime must have
// succeeded before use.
type ORT struct {
	intraOpThreads int
}

var _ Runtime = (*ORT)(nil)

// NewORT creates an ONNX Runtime loader. intraOpThreads <= 0 means one thread.
func NewORT(intraOpThreads int) *ORT {
	if intraOpThreads <= 0 {
		intraOpThreads = 1
	}
	return &ORT{intraOpThreads: intraOpThreads}
}

// Inspect reads the declared inputs and outputs of a model file.
func (o *ORT) Inspect(modelPath string) (ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("read io info: %w", err)
	}
	return ModelInfo{
		Inputs:  toTensorInfo(inputs),
		Outputs: toTensorInfo(outputs),
	}, nil
}

// Open creates a session bound to the given input and output names.
func (o *ORT) Open(modelPath string, inputNames, outputNames []string) (Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer func() { _ = options.Destroy() }()

	if err := options.SetIntraOpNumThreads(o.intraOpThreads); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ortSession{session: session, outputs: len(outputNames)}, nil
}

func toTensorInfo(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = TensorInfo{
			Name:     info.Name,
			IsTensor: info.OrtValueType == ort.ONNXTypeTensor,
			Float32:  info.DataType == ort.TensorElementDataTypeFloat,
			Dims:     append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}

type ortSession struct {
	session *ort.DynamicAdvancedSession
	outputs int
}

// Run creates per-call tensors, so concurrent calls share nothing but the session.
func (s *ortSession) Run(input []float32, shape []int64) ([][]float32, error) {
	tensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = tensor.Destroy() }()

	// nil outputs are allocated by onnxruntime and owned by us afterwards.
	outputs := make([]ort.Value, s.outputs)
	if err := s.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	result := make([][]float32, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %d is %T, want float32 tensor", i, v)
		}
		result[i] = append([]float32(nil), t.GetData()...)
	}
	return result, nil
}

func (s *ortSession) Close() error {
	if err := s.session.Destroy(); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}
