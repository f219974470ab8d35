package optim

import (
	"github.com/chewxy/math32"

	"github.com/strand-ml/strand/internal/pipeline"
	"github.com/strand-ml/strand/internal/tensor"
)

// Adam implements adaptive moment estimation (Kingma & Ba, 2014).
//
// Update rule:
//
//	m = beta1*m + (1-beta1)*grad
//	v = beta2*v + (1-beta2)*grad^2
//	mHat = m / (1 - beta1^t)
//	vHat = v / (1 - beta2^t)
//	param = param - lr * mHat / (sqrt(vHat) + eps)
type Adam struct {
	lr    float32
	beta1 float32
	beta2 float32
	eps   float32
	t     int

	m map[*tensor.RawTensor][]float32
	v map[*tensor.RawTensor][]float32
}

// AdamConfig holds configuration for the Adam optimizer. Zero fields take
// the usual defaults: lr 0.001, betas (0.9, 0.999), eps 1e-8.
type AdamConfig struct {
	LR    float32
	Betas [2]float32
	Eps   float32
}

// NewAdam creates an Adam optimizer.
func NewAdam(config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas == [2]float32{} {
		config.Betas = [2]float32{0.9, 0.999}
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		lr:    config.LR,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
		m:     make(map[*tensor.RawTensor][]float32),
		v:     make(map[*tensor.RawTensor][]float32),
	}
}

// Step updates every parameter that has a gradient in records. The bias
// correction timestep advances once per call, not per parameter.
func (a *Adam) Step(layers []pipeline.Layer, records []pipeline.StateRecord) error {
	a.t++
	c1 := 1 - math32.Pow(a.beta1, float32(a.t))
	c2 := 1 - math32.Pow(a.beta2, float32(a.t))

	for i := range layers {
		params, grads, err := pairings(i, &layers[i], &records[i+1])
		if err != nil {
			return err
		}
		for j, p := range params {
			a.update(p, grads[j], c1, c2)
		}
	}
	return nil
}

func (a *Adam) update(param, grad *tensor.RawTensor, c1, c2 float32) {
	p := param.AsFloat32()
	g := grad.AsFloat32()

	m, ok := a.m[param]
	if !ok {
		m = make([]float32, len(p))
		a.m[param] = m
	}
	v, ok := a.v[param]
	if !ok {
		v = make([]float32, len(p))
		a.v[param] = v
	}

	for k := range p {
		m[k] = a.beta1*m[k] + (1-a.beta1)*g[k]
		v[k] = a.beta2*v[k] + (1-a.beta2)*g[k]*g[k]
		mHat := m[k] / c1
		vHat := v[k] / c2
		p[k] -= a.lr * mHat / (math32.Sqrt(vHat) + a.eps)
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 { return a.lr }

// SetLR updates the learning rate, for scheduling.
func (a *Adam) SetLR(lr float32) { a.lr = lr }
