// Package gpu defines the device and compiled-engine runtime contract the
// compiled backend executes on. Implementations live in subpackages.
package gpu

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the binary was built without GPU support or
// no device is present.
var ErrUnavailable = errors.New("gpu runtime unavailable")

// DevicePtr is an opaque device memory address. Zero means unallocated.
type DevicePtr uintptr

// DataType is the element type of an engine tensor.
type DataType int

// Element types reported by engines.
const (
	Float32 DataType = iota
	Float16
	Int8
	Int32
	Bool
	Other
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Bool:
		return "bool"
	default:
		return "other"
	}
}

// IOMode is the role of an engine tensor.
type IOMode int

// Tensor roles.
const (
	ModeNone IOMode = iota
	ModeInput
	ModeOutput
)

// TensorDesc describes one engine I/O tensor. Dims may contain -1 for dynamic dimensions.
type TensorDesc struct {
	Name     string
	Mode     IOMode
	DataType DataType
	Dims     []int64
}

// Volume returns the element count of a fully resolved shape.
func Volume(dims []int64) (int, error) {
	volume := 1
	for _, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("shape %v has dynamic or invalid dimensions", dims)
		}
		volume *= int(d)
	}
	return volume, nil
}

// Device allocates device memory and execution streams.
type Device interface {
	Alloc(bytes int) (DevicePtr, error)
	Free(ptr DevicePtr) error
	NewStream() (Stream, error)
}

// Stream orders asynchronous copies and kernel launches.
// Host slices handed to CopyFromDevice are filled by the time Synchronize returns.
type Stream interface {
	CopyToDevice(dst DevicePtr, src []float32) error
	CopyFromDevice(dst []float32, src DevicePtr) error
	Synchronize() error
	Close() error
}

// Runtime deserializes compiled execution plans.
type Runtime interface {
	Deserialize(plan []byte) (Engine, error)
}

// Engine is a deserialized execution plan.
type Engine interface {
	IOTensors() []TensorDesc
	NewContext() (Context, error)
	Close() error
}

// Context holds the mutable per-execution state of an engine: tensor shapes and
// bound addresses. It is not safe for concurrent use.
type Context interface {
	SetInputShape(name string, dims []int64) error
	TensorShape(name string) ([]int64, error)
	SetTensorAddress(name string, ptr DevicePtr) error
	Enqueue(stream Stream) error
	Close() error
}
