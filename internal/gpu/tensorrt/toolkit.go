// Package tensorrt implements the gpu contract and the engine builder on top of
// CUDA and TensorRT. The native implementation is compiled only with the
// "tensorrt" build tag; other builds get a stub whose Open reports
// gpu.ErrUnavailable.
package tensorrt

import (
	"github.com/kailas-cloud/datasentinel/internal/engine"
	"github.com/kailas-cloud/datasentinel/internal/gpu"
)

// Options selects the device a Toolkit runs on.
type Options struct {
	DeviceID int
}

// Toolkit bundles the runtime, device and builder for one GPU.
type Toolkit struct {
	Runtime gpu.Runtime
	Device  gpu.Device
	Builder engine.Builder

	close func() error
}

// Close releases the process-level TensorRT runtime. Engines deserialized by
// it must be closed first.
func (t *Toolkit) Close() error {
	if t == nil || t.close == nil {
		return nil
	}
	fn := t.close
	t.close = nil
	return fn()
}
