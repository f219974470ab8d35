// Copyright 2026 Strand ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim exposes the optimizers that update layer parameters from
// the gradients a backward pass records.
package optim

import (
	internal "github.com/strand-ml/strand/internal/optim"
)

// Optimizer updates layer parameters from recorded gradients.
type Optimizer = internal.Optimizer

// SGD is stochastic gradient descent with optional momentum and weight
// decay.
type SGD = internal.SGD

// SGDConfig configures SGD.
type SGDConfig = internal.SGDConfig

// Adam is adaptive moment estimation.
type Adam = internal.Adam

// AdamConfig configures Adam.
type AdamConfig = internal.AdamConfig

// NewSGD creates an SGD optimizer.
var NewSGD = internal.NewSGD

// NewAdam creates an Adam optimizer.
var NewAdam = internal.NewAdam

// ZeroGrad clears every gradient held in records.
var ZeroGrad = internal.ZeroGrad
