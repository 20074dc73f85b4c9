package compiled

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/datasentinel/internal/gpu"
)

var errInjected = errors.New("injected failure")

// --- Fake GPU ---

// ledger counts live resources across all fakes of one test.
type ledger struct {
	live  map[string]int
	calls []string
}

func newLedger() *ledger { return &ledger{live: map[string]int{}} }

func (l *ledger) acquire(kind string) { l.live[kind]++ }
func (l *ledger) release(kind string) { l.live[kind]-- }
func (l *ledger) call(name string)    { l.calls = append(l.calls, name) }

func (l *ledger) leaked() map[string]int {
	out := map[string]int{}
	for k, v := range l.live {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

type fakeDevice struct {
	l         *ledger
	next      gpu.DevicePtr
	allocs    []int
	failAlloc int // 1-based index of the Alloc call to fail; 0 never
	failStrm  bool
	stream    *fakeStream
	memory    map[gpu.DevicePtr][]float32
}

func (d *fakeDevice) Alloc(bytes int) (gpu.DevicePtr, error) {
	d.allocs = append(d.allocs, bytes)
	if d.failAlloc == len(d.allocs) {
		return 0, errInjected
	}
	d.next += 0x1000
	d.memory[d.next] = make([]float32, bytes/float32Size)
	d.l.acquire("buffer")
	return d.next, nil
}

func (d *fakeDevice) Free(ptr gpu.DevicePtr) error {
	if _, ok := d.memory[ptr]; !ok {
		return errors.New("double free")
	}
	delete(d.memory, ptr)
	d.l.release("buffer")
	return nil
}

func (d *fakeDevice) NewStream() (gpu.Stream, error) {
	if d.failStrm {
		return nil, errInjected
	}
	d.l.acquire("stream")
	d.stream.device = d
	return d.stream, nil
}

// fakeStream queues ops until Synchronize. Like the CUDA stream it refuses a
// second copy in either direction until the stream has been synchronized.
type fakeStream struct {
	device      *fakeDevice
	failOn      string
	pending     []func()
	h2dPending  bool
	d2hPending  bool
	closeCalled int
}

func (s *fakeStream) CopyToDevice(dst gpu.DevicePtr, src []float32) error {
	s.device.l.call("h2d")
	if s.h2dPending {
		return errors.New("host-to-device copy already pending on stream")
	}
	if s.failOn == "h2d" {
		return errInjected
	}
	data := append([]float32(nil), src...)
	s.pending = append(s.pending, func() { copy(s.device.memory[dst], data) })
	s.h2dPending = true
	return nil
}

func (s *fakeStream) CopyFromDevice(dst []float32, src gpu.DevicePtr) error {
	s.device.l.call("d2h")
	if s.d2hPending {
		return errors.New("device-to-host copy already pending on stream")
	}
	if s.failOn == "d2h" {
		return errInjected
	}
	s.pending = append(s.pending, func() { copy(dst, s.device.memory[src]) })
	s.d2hPending = true
	return nil
}

// Synchronize always clears the stream, even when it reports a failure.
func (s *fakeStream) Synchronize() error {
	s.device.l.call("sync")
	ops := s.pending
	s.pending = nil
	s.h2dPending, s.d2hPending = false, false
	if s.failOn == "sync" {
		return errInjected
	}
	for _, op := range ops {
		op()
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.closeCalled++
	s.device.l.release("stream")
	return nil
}

type fakeRuntime struct {
	l         *ledger
	engine    *fakeEngine
	failDeser bool
	plans     [][]byte
}

func (r *fakeRuntime) Deserialize(plan []byte) (gpu.Engine, error) {
	r.plans = append(r.plans, plan)
	if r.failDeser {
		return nil, errInjected
	}
	r.l.acquire("engine")
	return r.engine, nil
}

type fakeEngine struct {
	l       *ledger
	tensors []gpu.TensorDesc
	ctx     *fakeContext
	failCtx bool
}

func (e *fakeEngine) IOTensors() []gpu.TensorDesc { return e.tensors }

func (e *fakeEngine) NewContext() (gpu.Context, error) {
	if e.failCtx {
		return nil, errInjected
	}
	e.l.acquire("context")
	return e.ctx, nil
}

func (e *fakeEngine) Close() error {
	e.l.release("engine")
	return nil
}

// fakeContext "computes" by scaling the bound input into the bound output.
type fakeContext struct {
	l          *ledger
	shapes     map[string][]int64
	resolve    func(name string, set []int64) []int64
	bound      map[string]gpu.DevicePtr
	failShape  bool
	failOn     string
	scale      float32
	inputName  string
	outputName string
}

func (c *fakeContext) SetInputShape(name string, dims []int64) error {
	if c.failShape {
		return errInjected
	}
	c.shapes[name] = dims
	return nil
}

func (c *fakeContext) TensorShape(name string) ([]int64, error) {
	if c.resolve != nil {
		return c.resolve(name, c.shapes[name]), nil
	}
	if dims, ok := c.shapes[name]; ok {
		return dims, nil
	}
	return c.shapes[c.inputName], nil
}

func (c *fakeContext) SetTensorAddress(name string, ptr gpu.DevicePtr) error {
	c.l.call("bind:" + name)
	if c.failOn == "bind" {
		return errInjected
	}
	c.bound[name] = ptr
	return nil
}

func (c *fakeContext) Enqueue(stream gpu.Stream) error {
	c.l.call("enqueue")
	if c.failOn == "enqueue" {
		return errInjected
	}
	s := stream.(*fakeStream)
	in, out := c.bound[c.inputName], c.bound[c.outputName]
	s.pending = append(s.pending, func() {
		src, dst := s.device.memory[in], s.device.memory[out]
		for i := range dst {
			if i < len(src) {
				dst[i] = src[i] * c.scale
			}
		}
	})
	return nil
}

func (c *fakeContext) Close() error {
	c.l.release("context")
	return nil
}

// --- Fake collaborators ---

type fakeStore struct {
	path  string
	err   error
	calls int
}

func (s *fakeStore) Ensure(context.Context, string) (string, error) {
	s.calls++
	return s.path, s.err
}

type fakeShapes struct {
	size int
	err  error
}

func (s fakeShapes) InputSize(string) (int, error) { return s.size, s.err }

// --- Fixture ---

type fixture struct {
	l       *ledger
	model   string
	store   *fakeStore
	shapes  fakeShapes
	runtime *fakeRuntime
	engine  *fakeEngine
	ctx     *fakeContext
	device  *fakeDevice
}

func newFixture(t *testing.T, inputSize int) *fixture {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	plan := filepath.Join(dir, "model.engine")
	if err := os.WriteFile(model, []byte("onnx"), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if err := os.WriteFile(plan, []byte("plan"), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	l := newLedger()
	ctx := &fakeContext{
		l:          l,
		shapes:     map[string][]int64{},
		bound:      map[string]gpu.DevicePtr{},
		scale:      1,
		inputName:  "input",
		outputName: "output",
	}
	engine := &fakeEngine{
		l: l,
		tensors: []gpu.TensorDesc{
			{Name: "input", Mode: gpu.ModeInput, DataType: gpu.Float32, Dims: []int64{-1, int64(inputSize)}},
			{Name: "output", Mode: gpu.ModeOutput, DataType: gpu.Float32, Dims: []int64{-1, int64(inputSize)}},
		},
		ctx: ctx,
	}
	return &fixture{
		l:       l,
		model:   model,
		store:   &fakeStore{path: plan},
		shapes:  fakeShapes{size: inputSize},
		runtime: &fakeRuntime{l: l, engine: engine},
		engine:  engine,
		ctx:     ctx,
		device:  &fakeDevice{l: l, stream: &fakeStream{}, memory: map[gpu.DevicePtr][]float32{}},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Store:   f.store,
		Shapes:  f.shapes,
		Runtime: f.runtime,
		Device:  f.device,
	}
}

func (f *fixture) build(t *testing.T) *Backend {
	t.Helper()
	b, err := New(context.Background(), f.model, f.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}
