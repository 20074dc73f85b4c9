//go:build tensorrt

package tensorrt

/*
#cgo CXXFLAGS: -std=c++17 -I/usr/local/cuda/include
#cgo CFLAGS: -I/usr/local/cuda/include
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -lnvinfer -lnvonnxparser -lcudart -lstdc++

#include <stdlib.h>
#include <cuda_runtime_api.h>
#include "shim.h"

static const char* ds_cuda_error(cudaError_t err) {
	return cudaGetErrorString(err);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
	"github.com/kailas-cloud/datasentinel/internal/engine"
	"github.com/kailas-cloud/datasentinel/internal/gpu"
)

const float32Size = 4

// Open selects a CUDA device and creates the TensorRT runtime for it.
func Open(opts Options, logger *zap.Logger) (*Toolkit, error) {
	var count C.int
	if rc := C.cudaGetDeviceCount(&count); rc != C.cudaSuccess || count == 0 {
		return nil, fmt.Errorf("%w: no CUDA device", gpu.ErrUnavailable)
	}
	if opts.DeviceID < 0 || opts.DeviceID >= int(count) {
		return nil, fmt.Errorf("%w: device %d out of range (%d devices)", gpu.ErrUnavailable, opts.DeviceID, int(count))
	}

	dev := &device{id: C.int(opts.DeviceID)}
	var props C.struct_cudaDeviceProp
	if err := dev.do("cudaGetDeviceProperties", func() C.cudaError_t {
		return C.cudaGetDeviceProperties(&props, dev.id)
	}); err != nil {
		return nil, err
	}

	errBuf := newErrBuf()
	defer errBuf.free()
	var rtHandle C.ds_runtime
	if C.ds_runtime_create(&rtHandle, errBuf.ptr) != 0 {
		return nil, fmt.Errorf("%w: %s", gpu.ErrUnavailable, errBuf.String())
	}

	target := fmt.Sprintf("trt%d-sm%d%d", int(C.ds_trt_version()), int(props.major), int(props.minor))
	logger.Info("TensorRT runtime ready",
		zap.Int("device", opts.DeviceID),
		zap.String("device_name", C.GoString(&props.name[0])),
		zap.String("target", target),
	)

	rt := &trtRuntime{handle: rtHandle, device: dev}
	return &Toolkit{
		Runtime: rt,
		Device:  dev,
		Builder: &builder{device: dev, target: target},
		close: func() error {
			C.ds_runtime_destroy(rt.handle)
			return nil
		},
	}, nil
}

// --- errors ---

type errBuf struct {
	ptr *C.char
}

func newErrBuf() errBuf {
	p := (*C.char)(C.calloc(1, C.DS_ERR_LEN))
	return errBuf{ptr: p}
}

func (e errBuf) String() string { return C.GoString(e.ptr) }
func (e errBuf) free()          { C.free(unsafe.Pointer(e.ptr)) }

func cudaErr(op string, rc C.cudaError_t) error {
	if rc == C.cudaSuccess {
		return nil
	}
	return fmt.Errorf("%s: %s", op, C.GoString(C.ds_cuda_error(rc)))
}

// --- device ---

// device pins the calling goroutine's thread to its CUDA device for each call,
// since the CUDA current device is per OS thread.
type device struct {
	id C.int
}

func (d *device) do(op string, fn func() C.cudaError_t) error {
	unpin, err := d.pin()
	if err != nil {
		return err
	}
	defer unpin()
	return cudaErr(op, fn())
}

// pin locks the goroutine to its OS thread and makes d current on it.
// The returned func unlocks the thread.
func (d *device) pin() (func(), error) {
	runtime.LockOSThread()
	if err := cudaErr("cudaSetDevice", C.cudaSetDevice(d.id)); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return runtime.UnlockOSThread, nil
}

func (d *device) Alloc(bytes int) (gpu.DevicePtr, error) {
	if bytes <= 0 {
		return 0, fmt.Errorf("alloc %d bytes", bytes)
	}
	var p unsafe.Pointer
	if err := d.do("cudaMalloc", func() C.cudaError_t {
		return C.cudaMalloc(&p, C.size_t(bytes))
	}); err != nil {
		return 0, err
	}
	return gpu.DevicePtr(uintptr(p)), nil
}

func (d *device) Free(ptr gpu.DevicePtr) error {
	if ptr == 0 {
		return nil
	}
	return d.do("cudaFree", func() C.cudaError_t {
		return C.cudaFree(devicePointer(ptr))
	})
}

func (d *device) NewStream() (gpu.Stream, error) {
	s := &stream{device: d}
	if err := d.do("cudaStreamCreate", func() C.cudaError_t {
		return C.cudaStreamCreate(&s.handle)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func devicePointer(ptr gpu.DevicePtr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr)) //nolint:govet // device address, never Go memory
}

// --- stream ---

// stream stages host data in pinned buffers so asynchronous copies never
// reference Go memory after the cgo call returns.
type stream struct {
	device *device
	handle C.cudaStream_t

	pinnedIn  pinned
	pinnedOut pinned

	inFlight   bool
	pendingDst []float32
}

type pinned struct {
	ptr unsafe.Pointer
	n   int
}

func (s *stream) reserve(p *pinned, n int) error {
	if p.n >= n {
		return nil
	}
	if p.ptr != nil {
		if err := s.device.do("cudaFreeHost", func() C.cudaError_t { return C.cudaFreeHost(p.ptr) }); err != nil {
			return err
		}
		p.ptr, p.n = nil, 0
	}
	var ptr unsafe.Pointer
	if err := s.device.do("cudaMallocHost", func() C.cudaError_t {
		return C.cudaMallocHost(&ptr, C.size_t(n*float32Size))
	}); err != nil {
		return err
	}
	p.ptr, p.n = ptr, n
	return nil
}

func (s *stream) CopyToDevice(dst gpu.DevicePtr, src []float32) error {
	if s.inFlight {
		return errors.New("host-to-device copy already pending on stream")
	}
	if err := s.reserve(&s.pinnedIn, len(src)); err != nil {
		return err
	}
	copy(unsafe.Slice((*float32)(s.pinnedIn.ptr), len(src)), src)
	if err := s.device.do("cudaMemcpyAsync(HtoD)", func() C.cudaError_t {
		return C.cudaMemcpyAsync(devicePointer(dst), s.pinnedIn.ptr,
			C.size_t(len(src)*float32Size), C.cudaMemcpyHostToDevice, s.handle)
	}); err != nil {
		return err
	}
	s.inFlight = true
	return nil
}

func (s *stream) CopyFromDevice(dst []float32, src gpu.DevicePtr) error {
	if s.pendingDst != nil {
		return errors.New("device-to-host copy already pending on stream")
	}
	if err := s.reserve(&s.pinnedOut, len(dst)); err != nil {
		return err
	}
	if err := s.device.do("cudaMemcpyAsync(DtoH)", func() C.cudaError_t {
		return C.cudaMemcpyAsync(s.pinnedOut.ptr, devicePointer(src),
			C.size_t(len(dst)*float32Size), C.cudaMemcpyDeviceToHost, s.handle)
	}); err != nil {
		return err
	}
	s.pendingDst = dst
	return nil
}

func (s *stream) Synchronize() error {
	err := s.device.do("cudaStreamSynchronize", func() C.cudaError_t {
		return C.cudaStreamSynchronize(s.handle)
	})
	if err == nil && s.pendingDst != nil {
		copy(s.pendingDst, unsafe.Slice((*float32)(s.pinnedOut.ptr), len(s.pendingDst)))
	}
	s.inFlight = false
	s.pendingDst = nil
	return err
}

func (s *stream) Close() error {
	var errs []error
	for _, p := range []*pinned{&s.pinnedIn, &s.pinnedOut} {
		if p.ptr == nil {
			continue
		}
		ptr := p.ptr
		errs = append(errs, s.device.do("cudaFreeHost", func() C.cudaError_t { return C.cudaFreeHost(ptr) }))
		p.ptr, p.n = nil, 0
	}
	if s.handle != nil {
		h := s.handle
		errs = append(errs, s.device.do("cudaStreamDestroy", func() C.cudaError_t { return C.cudaStreamDestroy(h) }))
		s.handle = nil
	}
	return errors.Join(errs...)
}

// --- runtime and engine ---

type trtRuntime struct {
	handle C.ds_runtime
	device *device
}

func (r *trtRuntime) Deserialize(plan []byte) (gpu.Engine, error) {
	if len(plan) == 0 {
		return nil, errors.New("empty plan")
	}
	errBuf := newErrBuf()
	defer errBuf.free()

	unpin, err := r.device.pin()
	if err != nil {
		return nil, err
	}
	defer unpin()

	var handle C.ds_engine
	if C.ds_engine_deserialize(r.handle, unsafe.Pointer(&plan[0]), C.size_t(len(plan)), &handle, errBuf.ptr) != 0 {
		return nil, errors.New(errBuf.String())
	}
	return &trtEngine{handle: handle, device: r.device}, nil
}

type trtEngine struct {
	handle C.ds_engine
	device *device
	once   sync.Once
}

func (e *trtEngine) IOTensors() []gpu.TensorDesc {
	n := int(C.ds_engine_num_io(e.handle))
	out := make([]gpu.TensorDesc, 0, n)
	for i := 0; i < n; i++ {
		cname := C.ds_engine_io_name(e.handle, C.int(i))
		var dims [C.DS_MAX_DIMS]C.int64_t
		rank := int(C.ds_engine_io_dims(e.handle, cname, &dims[0]))
		out = append(out, gpu.TensorDesc{
			Name:     C.GoString(cname),
			Mode:     gpu.IOMode(C.ds_engine_io_mode(e.handle, cname)),
			DataType: gpu.DataType(C.ds_engine_io_dtype(e.handle, cname)),
			Dims:     goDims(dims[:], rank),
		})
	}
	return out
}

func (e *trtEngine) NewContext() (gpu.Context, error) {
	errBuf := newErrBuf()
	defer errBuf.free()

	unpin, err := e.device.pin()
	if err != nil {
		return nil, err
	}
	defer unpin()

	var handle C.ds_context
	if C.ds_context_create(e.handle, &handle, errBuf.ptr) != 0 {
		return nil, errors.New(errBuf.String())
	}
	return &trtContext{handle: handle, device: e.device, names: map[string]*C.char{}}, nil
}

func (e *trtEngine) Close() error {
	e.once.Do(func() { C.ds_engine_destroy(e.handle) })
	return nil
}

func goDims(dims []C.int64_t, rank int) []int64 {
	if rank < 0 {
		return nil
	}
	out := make([]int64, rank)
	for i := range out {
		out[i] = int64(dims[i])
	}
	return out
}

// --- execution context ---

type trtContext struct {
	handle C.ds_context
	device *device
	names  map[string]*C.char
	once   sync.Once
}

func (c *trtContext) cname(name string) *C.char {
	if p, ok := c.names[name]; ok {
		return p
	}
	p := C.CString(name)
	c.names[name] = p
	return p
}

func (c *trtContext) SetInputShape(name string, dims []int64) error {
	if len(dims) == 0 || len(dims) > C.DS_MAX_DIMS {
		return fmt.Errorf("rank %d not supported", len(dims))
	}
	errBuf := newErrBuf()
	defer errBuf.free()

	var cdims [C.DS_MAX_DIMS]C.int64_t
	for i, d := range dims {
		cdims[i] = C.int64_t(d)
	}
	if C.ds_context_set_input_shape(c.handle, c.cname(name), &cdims[0], C.int(len(dims)), errBuf.ptr) != 0 {
		return errors.New(errBuf.String())
	}
	return nil
}

func (c *trtContext) TensorShape(name string) ([]int64, error) {
	var dims [C.DS_MAX_DIMS]C.int64_t
	rank := int(C.ds_context_shape(c.handle, c.cname(name), &dims[0]))
	if rank < 0 {
		return nil, fmt.Errorf("shape of %q is not resolved", name)
	}
	return goDims(dims[:], rank), nil
}

func (c *trtContext) SetTensorAddress(name string, ptr gpu.DevicePtr) error {
	errBuf := newErrBuf()
	defer errBuf.free()
	if C.ds_context_set_address(c.handle, c.cname(name), devicePointer(ptr), errBuf.ptr) != 0 {
		return errors.New(errBuf.String())
	}
	return nil
}

func (c *trtContext) Enqueue(st gpu.Stream) error {
	s, ok := st.(*stream)
	if !ok {
		return fmt.Errorf("stream %T does not belong to this runtime", st)
	}
	errBuf := newErrBuf()
	defer errBuf.free()

	unpin, err := c.device.pin()
	if err != nil {
		return err
	}
	defer unpin()

	if C.ds_context_enqueue(c.handle, unsafe.Pointer(s.handle), errBuf.ptr) != 0 {
		return errors.New(errBuf.String())
	}
	return nil
}

func (c *trtContext) Close() error {
	c.once.Do(func() {
		C.ds_context_destroy(c.handle)
		for _, p := range c.names {
			C.free(unsafe.Pointer(p))
		}
		c.names = nil
	})
	return nil
}

// --- builder ---

type builder struct {
	device *device
	target string
}

var _ engine.Builder = (*builder)(nil)

func (b *builder) Target() string { return b.target }

// Build parses the ONNX model under explicit batch and serializes the optimized network.
func (b *builder) Build(modelPath string, opts engine.BuildOptions) ([]byte, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelPath)
	}

	cpath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cpath))
	errBuf := newErrBuf()
	defer errBuf.free()

	fastMath := C.int(0)
	if opts.FastMath {
		fastMath = 1
	}

	unpin, err := b.device.pin()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrEngineBuild, modelPath, err)
	}
	defer unpin()

	var plan unsafe.Pointer
	var planLen C.size_t
	if C.ds_build_plan(cpath, C.uint64_t(opts.WorkspaceBytes), fastMath, &plan, &planLen, errBuf.ptr) != 0 {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrEngineBuild, modelPath, errBuf.String())
	}
	defer C.ds_free_plan(plan)

	return C.GoBytes(plan, C.int(planLen)), nil
}
