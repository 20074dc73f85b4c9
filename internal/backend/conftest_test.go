package backend

import (
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/datasentinel/internal/backend/portable"
	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// mockBackend echoes its input. It records overlapping Reconstruct calls.
type mockBackend struct {
	name     string
	size     int
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	overlap  atomic.Bool
	closed   atomic.Int32
}

func (m *mockBackend) Name() string           { return m.name }
func (m *mockBackend) ExpectedInputSize() int { return m.size }

func (m *mockBackend) Reconstruct(input []float32) ([]float32, error) {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err := domain.CheckInputSize(input, m.size); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return append([]float32(nil), input...), nil
}

func (m *mockBackend) Close() error {
	m.closed.Add(1)
	return nil
}

type mockSession struct{}

func (mockSession) Run(input []float32, _ []int64) ([][]float32, error) {
	return [][]float32{append([]float32(nil), input...)}, nil
}
func (mockSession) Close() error { return nil }

type mockRuntime struct {
	dims []int64
}

func (m mockRuntime) Inspect(string) (portable.ModelInfo, error) {
	return portable.ModelInfo{
		Inputs:  []portable.TensorInfo{{Name: "input", IsTensor: true, Float32: true, Dims: m.dims}},
		Outputs: []portable.TensorInfo{{Name: "output", IsTensor: true, Float32: true, Dims: m.dims}},
	}, nil
}

func (m mockRuntime) Open(string, []string, []string) (portable.Session, error) {
	return mockSession{}, nil
}
