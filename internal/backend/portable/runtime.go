package portable

// TensorInfo describes one declared model input or output.
type TensorInfo struct {
	Name     string
	IsTensor bool
	Float32  bool
	Dims     []int64
}

// ModelInfo is the declared signature of a portable model.
type ModelInfo struct {
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

// Runtime loads portable models.
type Runtime interface {
	Inspect(modelPath string) (ModelInfo, error)
	Open(modelPath string, inputNames, outputNames []string) (Session, error)
}

// Session executes a loaded model. Run must be safe for concurrent use and
// returns the requested outputs in order.
type Session interface {
	Run(input []float32, shape []int64) ([][]float32, error)
	Close() error
}
