// Copyright 2026 Strand ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeline exposes the linear-chain executor: forward and
// backward passes over a flat list of layers, with a shared record array
// holding activations, gradients, and per-layer timings.
//
// Example:
//
//	exec := pipeline.New(cpu.New())
//	layers := []pipeline.Layer{
//	    {Kind: pipeline.Conv, Weight: w, Bias: b, Stride: 1, Padding: 1},
//	    {Kind: pipeline.ReLU},
//	    {Kind: pipeline.LossSoftmaxLog, Targets: labels},
//	}
//	recs, err := exec.Forward(layers, input, nil, pipeline.Options{WillBackward: true})
//	if err != nil {
//	    ...
//	}
//	err = exec.Backward(layers, recs, seed, pipeline.Options{})
package pipeline

import (
	internal "github.com/strand-ml/strand/internal/pipeline"
)

// LayerKind identifies the operation a layer performs.
type LayerKind = internal.LayerKind

// Layer kinds.
const (
	Conv                 LayerKind = internal.Conv
	ConvTranspose        LayerKind = internal.ConvTranspose
	Pool                 LayerKind = internal.Pool
	Normalize            LayerKind = internal.Normalize
	SpatialNorm          LayerKind = internal.SpatialNorm
	BatchNorm            LayerKind = internal.BatchNorm
	ReLU                 LayerKind = internal.ReLU
	Sigmoid              LayerKind = internal.Sigmoid
	Tanh                 LayerKind = internal.Tanh
	LeakyReLU            LayerKind = internal.LeakyReLU
	Dropout              LayerKind = internal.Dropout
	Softmax              LayerKind = internal.Softmax
	LossLog              LayerKind = internal.LossLog
	LossSoftmaxLog       LayerKind = internal.LossSoftmaxLog
	LossMSE              LayerKind = internal.LossMSE
	LossBCE              LayerKind = internal.LossBCE
	LossPDist            LayerKind = internal.LossPDist
	LossGANGenerator     LayerKind = internal.LossGANGenerator
	LossGANDiscriminator LayerKind = internal.LossGANDiscriminator
	Offset               LayerKind = internal.Offset
	Reshape              LayerKind = internal.Reshape
	Scale                LayerKind = internal.Scale
	DotProduct           LayerKind = internal.DotProduct
	Custom               LayerKind = internal.Custom
)

// PoolMethod selects the reduction a Pool layer applies.
type PoolMethod = internal.PoolMethod

// Pool methods.
const (
	PoolMax PoolMethod = internal.PoolMax
	PoolAvg PoolMethod = internal.PoolAvg
)

// Layer describes one stage of a pipeline.
type Layer = internal.Layer

// CustomForward and CustomBackward implement a Custom layer.
type (
	CustomForward  = internal.CustomForward
	CustomBackward = internal.CustomBackward
)

// StateRecord holds the executor's state at one layer boundary.
type StateRecord = internal.StateRecord

// Options tunes one executor pass.
type Options = internal.Options

// Executor runs layer chains forward and backward.
type Executor = internal.Executor

// Typed errors the executor returns.
type (
	ConfigError = internal.ConfigError
	KernelError = internal.KernelError
	StateError  = internal.StateError
)

// Sentinel errors.
var (
	ErrEmptyPipeline       = internal.ErrEmptyPipeline
	ErrDropoutModeConflict = internal.ErrDropoutModeConflict
)

// New creates an Executor over the given backend.
var New = internal.New

// NewRecords allocates the n+1 empty records a chain of n layers needs.
var NewRecords = internal.NewRecords

// ChannelMean computes the per-channel mean of a 4D float32 batch.
var ChannelMean = internal.ChannelMean

// SubtractMean returns a copy of the input with per-channel means
// removed.
var SubtractMean = internal.SubtractMean
