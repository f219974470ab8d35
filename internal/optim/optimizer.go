// Package optim implements gradient-descent parameter updates over the
// records a backward pass leaves behind.
//
// An optimizer walks the layer list, pairs each learnable parameter with
// the gradient recorded next to it, and updates the parameter in place:
//
//	recs, _ := exec.Forward(layers, input, nil, opts)
//	_ = exec.Backward(layers, recs, seed, opts)
//	_ = opt.Step(layers, recs)
//	optim.ZeroGrad(recs)
package optim

import (
	"fmt"

	"github.com/strand-ml/strand/internal/pipeline"
	"github.com/strand-ml/strand/internal/tensor"
)

// Optimizer updates layer parameters from recorded gradients.
type Optimizer interface {
	// Step applies one update. Layers without recorded parameter
	// gradients are skipped.
	Step(layers []pipeline.Layer, records []pipeline.StateRecord) error

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR changes the learning rate, for scheduling.
	SetLR(lr float32)
}

// ZeroGrad clears every gradient the records hold, activation and
// parameter alike, so the next backward pass starts clean.
func ZeroGrad(records []pipeline.StateRecord) {
	for i := range records {
		records[i].Gradient = nil
		records[i].ParamGrads = nil
	}
}

// layerParams lists a layer's learnable parameters in the order the
// executor records their gradients: weight then bias, skipping nil.
func layerParams(l *pipeline.Layer) []*tensor.RawTensor {
	if l.Kind == pipeline.Offset {
		return []*tensor.RawTensor{l.Bias}
	}
	var params []*tensor.RawTensor
	if l.Weight != nil {
		params = append(params, l.Weight)
	}
	if l.Bias != nil {
		params = append(params, l.Bias)
	}
	return params
}

// pairings yields matched (param, grad) slices for one layer, or an error
// when the recorded gradients cannot belong to its parameters.
func pairings(i int, l *pipeline.Layer, rec *pipeline.StateRecord) ([]*tensor.RawTensor, []*tensor.RawTensor, error) {
	if len(rec.ParamGrads) == 0 {
		return nil, nil, nil
	}
	params := layerParams(l)
	if len(params) != len(rec.ParamGrads) {
		return nil, nil, fmt.Errorf("layer %d (%s): %d parameters but %d recorded gradients",
			i, l.Kind, len(params), len(rec.ParamGrads))
	}
	for j, p := range params {
		g := rec.ParamGrads[j]
		if !p.Shape().Equal(g.Shape()) {
			return nil, nil, fmt.Errorf("layer %d (%s): parameter %d shape %v, gradient shape %v",
				i, l.Kind, j, p.Shape(), g.Shape())
		}
	}
	return params, rec.ParamGrads, nil
}
