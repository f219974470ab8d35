// Copyright 2026 Strand ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for tensors in the Strand ML
// framework.
//
// The package defines the dense n-dimensional buffer every kernel and
// executor operates on, plus the Backend interface a compute device
// implements:
//   - RawTensor: shaped byte buffer with typed accessors
//   - Backend: the kernel contract of a compute device
//   - Shape, DataType, Device: core type definitions
//
// Example:
//
//	x := tensor.Zeros(tensor.Shape{2, 3}, tensor.CPU)
//	copy(x.AsFloat32(), data)
package tensor

import (
	"github.com/strand-ml/strand/internal/tensor"
)

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Bool    DataType = tensor.Bool
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} is a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// RawTensor is a dense buffer with a shape, a data type, and a device.
type RawTensor = tensor.RawTensor

// Backend is the kernel contract a compute device implements. Every
// pipeline operation dispatches through it.
type Backend = tensor.Backend

// NewRaw allocates an uninitialized tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Zeros allocates a float32 tensor filled with zeros.
func Zeros(shape Shape, device Device) *RawTensor {
	return tensor.Zeros(shape, device)
}

// Ones allocates a float32 tensor filled with ones.
func Ones(shape Shape, device Device) *RawTensor {
	return tensor.Ones(shape, device)
}

// Full allocates a float32 tensor filled with value.
func Full(shape Shape, value float32, device Device) *RawTensor {
	return tensor.Full(shape, value, device)
}

// FromFloat32 copies a slice into a new float32 tensor.
func FromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape, device)
}

// FromInt32 copies a slice into a new int32 tensor. Classification
// targets travel this way.
func FromInt32(data []int32, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromInt32(data, shape, device)
}

// Randn allocates a float32 tensor drawn from a standard normal
// distribution, for weight initialization.
func Randn(shape Shape, device Device) *RawTensor {
	return tensor.Randn(shape, device)
}
