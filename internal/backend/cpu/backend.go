// Package cpu implements the reference CPU kernel set behind the
// tensor.Backend contract. Kernels are plain Go loops over float32 buffers,
// with GEMM-shaped work routed through gonum's blas32 and batch loops spread
// across cores via internal/parallel.
package cpu

import (
	"fmt"
	"sync"
	"time"

	rng "github.com/leesper/go_rng"

	"github.com/strand-ml/strand/internal/parallel"
	"github.com/strand-ml/strand/internal/tensor"
)

// Backend is the CPU implementation of tensor.Backend.
type Backend struct {
	device tensor.Device
	par    parallel.Config

	mu  sync.Mutex
	rng *rng.UniformGenerator
}

// New creates a CPU backend with default parallelism and a time-seeded RNG
// for dropout masks.
func New() *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
		rng:    rng.NewUniformGenerator(time.Now().UnixNano()),
	}
}

// NewSeeded creates a CPU backend whose dropout masks are reproducible.
func NewSeeded(seed int64) *Backend {
	b := New()
	b.rng = rng.NewUniformGenerator(seed)
	return b
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return b.device
}

// Sync is a no-op: every CPU kernel has completed by the time it returns.
func (b *Backend) Sync() {}

// uniform draws one value in [0, 1). The generator is not safe for
// concurrent use, so dropout serializes draws behind the mutex.
func (b *Backend) uniform() float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float32()
}

// wantFloat32 verifies the kernel dtype.
func wantFloat32(name string, ts ...*tensor.RawTensor) error {
	for _, t := range ts {
		if t != nil && t.DType() != tensor.Float32 {
			return fmt.Errorf("%s: need float32 tensors, got %s", name, t.DType())
		}
	}
	return nil
}

// want4D verifies an [N,C,H,W] input.
func want4D(name string, t *tensor.RawTensor) error {
	if len(t.Shape()) != 4 {
		return fmt.Errorf("%s: need 4D [N,C,H,W] input, got %dD %v", name, len(t.Shape()), t.Shape())
	}
	return nil
}

// want2D verifies an [N,C] input.
func want2D(name string, t *tensor.RawTensor) error {
	if len(t.Shape()) != 2 {
		return fmt.Errorf("%s: need 2D [N,C] input, got %dD %v", name, len(t.Shape()), t.Shape())
	}
	return nil
}

// newFloat32 allocates an output tensor, converting allocation failures
// into kernel errors.
func (b *Backend) newFloat32(name string, shape tensor.Shape) (*tensor.RawTensor, error) {
	out, err := tensor.NewRaw(shape, tensor.Float32, b.device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// scalar wraps a single float32 in a [1] tensor, the shape every loss
// kernel reduces to.
func (b *Backend) scalar(name string, v float32) (*tensor.RawTensor, error) {
	out, err := b.newFloat32(name, tensor.Shape{1})
	if err != nil {
		return nil, err
	}
	out.AsFloat32()[0] = v
	return out, nil
}
