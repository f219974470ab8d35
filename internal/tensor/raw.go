package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device a tensor lives on.
type Device int

// Supported compute devices. Only CPU kernels ship today; the constant set
// leaves room for asynchronous accelerator backends behind the same
// Backend contract.
const (
	CPU Device = iota
	CUDA
	Metal
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Metal:
		return "Metal"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the low-level tensor representation flowing between the
// executor and the kernels: a flat row-major buffer plus shape and type
// metadata.
//
// RawTensors are not reference counted. A forward/backward invocation owns
// its record array exclusively, so buffers are either freshly allocated by a
// kernel or handed over whole; Clone makes a deep copy when sharing would be
// ambiguous.
type RawTensor struct {
	data   []byte
	shape  Shape
	dtype  DataType
	device Device
}

// NewRaw allocates a zero-initialized tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		dtype:  dtype,
		device: device,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the size of the underlying buffer in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte buffer.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the buffer as []float32.
// Panics if the tensor's dtype is not Float32; calling it on the wrong
// dtype is a programmer error, not a runtime condition.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the buffer as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the buffer as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsBool interprets the buffer as []bool.
// Panics if the tensor's dtype is not Bool.
func (r *RawTensor) AsBool() []bool {
	if r.dtype != Bool {
		panic(fmt.Sprintf("tensor dtype is %s, not bool", r.dtype))
	}
	return unsafe.Slice((*bool)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	c := &RawTensor{
		data:   make([]byte, len(r.data)),
		shape:  r.shape.Clone(),
		dtype:  r.dtype,
		device: r.device,
	}
	copy(c.data, r.data)
	return c
}

// Reshape returns a view of the tensor with a new shape sharing the same
// buffer. The element counts must match.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			r.shape, r.NumElements(), shape, shape.NumElements())
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		dtype:  r.dtype,
		device: r.device,
	}, nil
}
