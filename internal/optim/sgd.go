package optim

import (
	"github.com/strand-ml/strand/internal/pipeline"
	"github.com/strand-ml/strand/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
//
// Update rule without momentum:
//
//	param = param - lr * (grad + decay*param)
//
// With momentum:
//
//	velocity = momentum * velocity + grad + decay*param
//	param = param - lr * velocity
type SGD struct {
	lr       float32
	momentum float32
	decay    float32

	// Velocity buffers, keyed by the parameter tensor they shadow.
	velocities map[*tensor.RawTensor][]float32
}

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LR          float32 // learning rate (default 0.01)
	Momentum    float32 // momentum factor in [0,1)
	WeightDecay float32 // L2 penalty coefficient
}

// NewSGD creates an SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		lr:         config.LR,
		momentum:   config.Momentum,
		decay:      config.WeightDecay,
		velocities: make(map[*tensor.RawTensor][]float32),
	}
}

// Step updates every parameter that has a gradient in records.
func (s *SGD) Step(layers []pipeline.Layer, records []pipeline.StateRecord) error {
	for i := range layers {
		params, grads, err := pairings(i, &layers[i], &records[i+1])
		if err != nil {
			return err
		}
		for j, p := range params {
			s.update(p, grads[j])
		}
	}
	return nil
}

func (s *SGD) update(param, grad *tensor.RawTensor) {
	p := param.AsFloat32()
	g := grad.AsFloat32()

	if s.momentum == 0 {
		for k := range p {
			p[k] -= s.lr * (g[k] + s.decay*p[k])
		}
		return
	}

	v, ok := s.velocities[param]
	if !ok {
		v = make([]float32, len(p))
		s.velocities[param] = v
	}
	for k := range p {
		v[k] = s.momentum*v[k] + g[k] + s.decay*p[k]
		p[k] -= s.lr * v[k]
	}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 { return s.lr }

// SetLR updates the learning rate, for scheduling.
func (s *SGD) SetLR(lr float32) { s.lr = lr }
