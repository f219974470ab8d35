// Copyright 2026 Strand ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu exposes the pure-Go CPU backend.
package cpu

import (
	internalcpu "github.com/strand-ml/strand/internal/backend/cpu"
	"github.com/strand-ml/strand/tensor"
)

// Backend is the CPU implementation of the kernel contract. Convolutions
// and projections run through BLAS; everything else is plain Go with a
// shared worker pool.
type Backend = internalcpu.Backend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend with a time-seeded dropout generator.
func New() *Backend {
	return internalcpu.New()
}

// NewSeeded creates a CPU backend whose dropout masks are reproducible.
func NewSeeded(seed int64) *Backend {
	return internalcpu.NewSeeded(seed)
}
