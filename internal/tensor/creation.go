package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Zeros allocates a float32 tensor filled with zeros.
func Zeros(shape Shape, device Device) *RawTensor {
	r, err := NewRaw(shape, Float32, device)
	if err != nil {
		panic(err) // shapes come from code, not input
	}
	return r
}

// Full allocates a float32 tensor filled with value.
func Full(shape Shape, value float32, device Device) *RawTensor {
	r := Zeros(shape, device)
	data := r.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return r
}

// Ones allocates a float32 tensor filled with ones.
func Ones(shape Shape, device Device) *RawTensor {
	return Full(shape, 1, device)
}

// FromFloat32 copies a slice into a new float32 tensor of the given shape.
func FromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	r, err := NewRaw(shape, Float32, device)
	if err != nil {
		return nil, err
	}
	copy(r.AsFloat32(), data)
	return r, nil
}

// FromInt32 copies a slice into a new int32 tensor of the given shape.
// Classification losses carry their target labels this way.
func FromInt32(data []int32, shape Shape, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	r, err := NewRaw(shape, Int32, device)
	if err != nil {
		return nil, err
	}
	copy(r.AsInt32(), data)
	return r, nil
}

// Randn allocates a float32 tensor with values drawn from a standard normal
// distribution via the Box-Muller transform. math/rand is deliberate: this
// seeds weights and test fixtures, nothing cryptographic.
func Randn(shape Shape, device Device) *RawTensor {
	r := Zeros(shape, device)
	data := r.AsFloat32()
	for i := 0; i < len(data); i += 2 {
		u1 := rand.Float64()
		u2 := rand.Float64()
		for u1 == 0 {
			u1 = rand.Float64()
		}
		mag := math.Sqrt(-2 * math.Log(u1))
		data[i] = float32(mag * math.Cos(2*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = float32(mag * math.Sin(2*math.Pi*u2))
		}
	}
	return r
}
