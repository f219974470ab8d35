package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/strand-ml/strand/internal/tensor"
)

// lossEpsilon clamps probabilities away from 0 and 1 before taking logs.
const lossEpsilon = 1e-6

// Every loss kernel reduces to a [1] scalar; the backward entry points
// return the elementwise input gradient scaled by the incoming scalar
// output gradient.

func checkClassLoss(name string, input, targets *tensor.RawTensor) (n, c int, err error) {
	if err = wantFloat32(name, input); err != nil {
		return
	}
	if err = want2D(name, input); err != nil {
		return
	}
	n, c = input.Shape()[0], input.Shape()[1]
	if targets == nil || targets.DType() != tensor.Int32 {
		err = fmt.Errorf("%s: need int32 class targets", name)
		return
	}
	if targets.NumElements() != n {
		err = fmt.Errorf("%s: %d targets for batch of %d", name, targets.NumElements(), n)
		return
	}
	for _, t := range targets.AsInt32() {
		if t < 0 || int(t) >= c {
			err = fmt.Errorf("%s: class %d outside [0, %d)", name, t, c)
			return
		}
	}
	return
}

func checkPairLoss(name string, input, targets *tensor.RawTensor) error {
	if err := wantFloat32(name, input, targets); err != nil {
		return err
	}
	if targets == nil || !input.Shape().Equal(targets.Shape()) {
		return fmt.Errorf("%s: targets must match input shape %v", name, input.Shape())
	}
	return nil
}

func scalarGrad(name string, outputGrad *tensor.RawTensor) (float32, error) {
	if outputGrad == nil || outputGrad.DType() != tensor.Float32 || outputGrad.NumElements() != 1 {
		return 0, fmt.Errorf("%s: output gradient must be a [1] float32 tensor", name)
	}
	return outputGrad.AsFloat32()[0], nil
}

// LogLoss computes the mean negative log likelihood of probability inputs:
// -(1/N) sum log x[n, target_n].
func (b *Backend) LogLoss(input, targets *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, c, err := checkClassLoss("logloss", input, targets)
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	td := targets.AsInt32()
	var loss float32
	for r := 0; r < n; r++ {
		loss -= math32.Log(math32.Max(x[r*c+int(td[r])], lossEpsilon))
	}
	return b.scalar("logloss", loss/float32(n))
}

// LogLossBackward puts -g/(N*x) at each target coordinate.
func (b *Backend) LogLossBackward(input, targets, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, c, err := checkClassLoss("logloss backward", input, targets)
	if err != nil {
		return nil, err
	}
	g, err := scalarGrad("logloss backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("logloss backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	td := targets.AsInt32()
	dxd := dx.AsFloat32()
	for r := 0; r < n; r++ {
		i := r*c + int(td[r])
		dxd[i] = -g / (float32(n) * math32.Max(x[i], lossEpsilon))
	}
	return dx, nil
}

// SoftmaxLogLoss fuses softmax with the log loss, taking raw logits:
// (1/N) sum (logsumexp(x_n) - x[n, target_n]).
func (b *Backend) SoftmaxLogLoss(input, targets *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, c, err := checkClassLoss("softmaxlogloss", input, targets)
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	td := targets.AsInt32()
	var loss float32
	for r := 0; r < n; r++ {
		row := x[r*c : (r+1)*c]
		loss += logSumExp(row) - row[td[r]]
	}
	return b.scalar("softmaxlogloss", loss/float32(n))
}

// SoftmaxLogLossBackward: dx = g*(softmax(x) - onehot)/N.
func (b *Backend) SoftmaxLogLossBackward(input, targets, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, c, err := checkClassLoss("softmaxlogloss backward", input, targets)
	if err != nil {
		return nil, err
	}
	g, err := scalarGrad("softmaxlogloss backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("softmaxlogloss backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	td := targets.AsInt32()
	dxd := dx.AsFloat32()
	scale := g / float32(n)
	for r := 0; r < n; r++ {
		row := x[r*c : (r+1)*c]
		lse := logSumExp(row)
		for i := 0; i < c; i++ {
			p := math32.Exp(row[i] - lse)
			dxd[r*c+i] = scale * p
		}
		dxd[r*c+int(td[r])] -= scale
	}
	return dx, nil
}

// MSELoss computes mean((x-t)²) over all elements.
func (b *Backend) MSELoss(input, targets *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("mse", input, targets); err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	var loss float32
	for i := range x {
		d := x[i] - t[i]
		loss += d * d
	}
	return b.scalar("mse", loss/float32(len(x)))
}

// MSELossBackward: dx = 2g(x-t)/numel.
func (b *Backend) MSELossBackward(input, targets, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("mse backward", input, targets); err != nil {
		return nil, err
	}
	g, err := scalarGrad("mse backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("mse backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	dxd := dx.AsFloat32()
	scale := 2 * g / float32(len(x))
	for i := range x {
		dxd[i] = scale * (x[i] - t[i])
	}
	return dx, nil
}

// BCELoss computes the mean binary cross entropy of probability inputs
// against targets in [0,1].
func (b *Backend) BCELoss(input, targets *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("bce", input, targets); err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	var loss float32
	for i := range x {
		p := clampProb(x[i])
		loss -= t[i]*math32.Log(p) + (1-t[i])*math32.Log(1-p)
	}
	return b.scalar("bce", loss/float32(len(x)))
}

// BCELossBackward: dx = g(x-t)/(x(1-x)numel) with x clamped.
func (b *Backend) BCELossBackward(input, targets, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("bce backward", input, targets); err != nil {
		return nil, err
	}
	g, err := scalarGrad("bce backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("bce backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	dxd := dx.AsFloat32()
	scale := g / float32(len(x))
	for i := range x {
		p := clampProb(x[i])
		dxd[i] = scale * (p - t[i]) / (p * (1 - p))
	}
	return dx, nil
}

// PDistLoss computes mean(|x-t|^p) without the final root.
func (b *Backend) PDistLoss(input, targets *tensor.RawTensor, p float32) (*tensor.RawTensor, error) {
	if err := checkPairLoss("pdist", input, targets); err != nil {
		return nil, err
	}
	if p <= 0 {
		return nil, fmt.Errorf("pdist: exponent %v must be positive", p)
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	var loss float32
	for i := range x {
		loss += math32.Pow(math32.Abs(x[i]-t[i]), p)
	}
	return b.scalar("pdist", loss/float32(len(x)))
}

// PDistLossBackward: dx = g*p*|d|^(p-1)*sign(d)/numel.
func (b *Backend) PDistLossBackward(input, targets *tensor.RawTensor, p float32, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("pdist backward", input, targets); err != nil {
		return nil, err
	}
	if p <= 0 {
		return nil, fmt.Errorf("pdist backward: exponent %v must be positive", p)
	}
	g, err := scalarGrad("pdist backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("pdist backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	dxd := dx.AsFloat32()
	scale := g * p / float32(len(x))
	for i := range x {
		d := x[i] - t[i]
		m := scale * math32.Pow(math32.Abs(d), p-1)
		if d < 0 {
			m = -m
		}
		dxd[i] = m
	}
	return dx, nil
}

// GANGeneratorLoss is the non-saturating generator objective over the
// discriminator's logits: mean(softplus(-x)) = mean(-log sigmoid(x)).
func (b *Backend) GANGeneratorLoss(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := wantFloat32("ganloss", input); err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	var loss float32
	for _, v := range x {
		loss += softplus(-v)
	}
	return b.scalar("ganloss", loss/float32(len(x)))
}

// GANGeneratorLossBackward: dx = g*(sigmoid(x)-1)/numel.
func (b *Backend) GANGeneratorLossBackward(input, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := wantFloat32("ganloss backward", input); err != nil {
		return nil, err
	}
	g, err := scalarGrad("ganloss backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("ganloss backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	dxd := dx.AsFloat32()
	scale := g / float32(len(x))
	for i, v := range x {
		dxd[i] = scale * (sigmoid(v) - 1)
	}
	return dx, nil
}

// GANDiscriminatorLoss is binary cross entropy on raw logits with
// real/fake targets: mean(softplus(x) - t*x).
func (b *Backend) GANDiscriminatorLoss(input, targets *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("gandiscloss", input, targets); err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	var loss float32
	for i, v := range x {
		loss += softplus(v) - t[i]*v
	}
	return b.scalar("gandiscloss", loss/float32(len(x)))
}

// GANDiscriminatorLossBackward: dx = g*(sigmoid(x)-t)/numel.
func (b *Backend) GANDiscriminatorLossBackward(input, targets, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkPairLoss("gandiscloss backward", input, targets); err != nil {
		return nil, err
	}
	g, err := scalarGrad("gandiscloss backward", outputGrad)
	if err != nil {
		return nil, err
	}
	dx, err := b.newFloat32("gandiscloss backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	t := targets.AsFloat32()
	dxd := dx.AsFloat32()
	scale := g / float32(len(x))
	for i, v := range x {
		dxd[i] = scale * (sigmoid(v) - t[i])
	}
	return dx, nil
}

func clampProb(p float32) float32 {
	if p < lossEpsilon {
		return lossEpsilon
	}
	if p > 1-lossEpsilon {
		return 1 - lossEpsilon
	}
	return p
}

func logSumExp(row []float32) float32 {
	m := math32.Inf(-1)
	for _, v := range row {
		if v > m {
			m = v
		}
	}
	var s float32
	for _, v := range row {
		s += math32.Exp(v - m)
	}
	return m + math32.Log(s)
}
