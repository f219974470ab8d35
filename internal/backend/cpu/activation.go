package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/strand-ml/strand/internal/tensor"
)

// elementwise allocates an output tensor and maps f over the input.
func (b *Backend) elementwise(name string, input *tensor.RawTensor, f func(float32) float32) (*tensor.RawTensor, error) {
	if err := wantFloat32(name, input); err != nil {
		return nil, err
	}
	out, err := b.newFloat32(name, input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	y := out.AsFloat32()
	for i, v := range x {
		y[i] = f(v)
	}
	return out, nil
}

// elementwiseGrad maps grad = f(ref, dy) over matching tensors.
func (b *Backend) elementwiseGrad(name string, ref, outputGrad *tensor.RawTensor, f func(ref, dy float32) float32) (*tensor.RawTensor, error) {
	if err := wantFloat32(name, ref, outputGrad); err != nil {
		return nil, err
	}
	if !ref.Shape().Equal(outputGrad.Shape()) {
		return nil, fmt.Errorf("%s: gradient shape %v != activation shape %v", name, outputGrad.Shape(), ref.Shape())
	}
	out, err := b.newFloat32(name, ref.Shape())
	if err != nil {
		return nil, err
	}
	r := ref.AsFloat32()
	dy := outputGrad.AsFloat32()
	dx := out.AsFloat32()
	for i := range r {
		dx[i] = f(r[i], dy[i])
	}
	return out, nil
}

// ReLU computes max(0, x).
func (b *Backend) ReLU(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.elementwise("relu", input, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// ReLUBackward masks the gradient where the activation is non-positive.
// Because max(0,x) preserves the sign pattern, the mask works whether
// activation is the layer's input or its output, which is what lets the
// executor reclaim the input activation for this kind.
func (b *Backend) ReLUBackward(activation, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.elementwiseGrad("relu backward", activation, outputGrad, func(a, dy float32) float32 {
		if a > 0 {
			return dy
		}
		return 0
	})
}

// LeakyReLU computes x for x > 0 and slope*x otherwise.
func (b *Backend) LeakyReLU(input *tensor.RawTensor, slope float32) (*tensor.RawTensor, error) {
	return b.elementwise("leakyrelu", input, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return slope * v
	})
}

// LeakyReLUBackward scales the gradient by slope on the negative side.
// Unlike ReLU this needs the true input: the output of a leaky unit does
// not recover which side of zero produced it once slope scaling applied.
func (b *Backend) LeakyReLUBackward(input, outputGrad *tensor.RawTensor, slope float32) (*tensor.RawTensor, error) {
	return b.elementwiseGrad("leakyrelu backward", input, outputGrad, func(v, dy float32) float32 {
		if v > 0 {
			return dy
		}
		return slope * dy
	})
}

// Sigmoid computes 1/(1+exp(-x)).
func (b *Backend) Sigmoid(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.elementwise("sigmoid", input, sigmoid)
}

// SigmoidBackward differentiates from the forward output: dx = y*(1-y)*dy.
func (b *Backend) SigmoidBackward(output, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.elementwiseGrad("sigmoid backward", output, outputGrad, func(y, dy float32) float32 {
		return y * (1 - y) * dy
	})
}

// Tanh computes the hyperbolic tangent.
func (b *Backend) Tanh(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.elementwise("tanh", input, math32.Tanh)
}

// TanhBackward differentiates from the forward output: dx = (1-y²)*dy.
func (b *Backend) TanhBackward(output, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.elementwiseGrad("tanh backward", output, outputGrad, func(y, dy float32) float32 {
		return (1 - y*y) * dy
	})
}

// Softmax normalizes each row of an [N,C] input into a distribution,
// shifting by the row maximum for stability.
func (b *Backend) Softmax(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := wantFloat32("softmax", input); err != nil {
		return nil, err
	}
	if err := want2D("softmax", input); err != nil {
		return nil, err
	}
	out, err := b.newFloat32("softmax", input.Shape())
	if err != nil {
		return nil, err
	}
	n, c := input.Shape()[0], input.Shape()[1]
	x := input.AsFloat32()
	y := out.AsFloat32()
	for r := 0; r < n; r++ {
		row := x[r*c : (r+1)*c]
		ymax := math32.Inf(-1)
		for _, v := range row {
			if v > ymax {
				ymax = v
			}
		}
		var sum float32
		yrow := y[r*c : (r+1)*c]
		for i, v := range row {
			yrow[i] = math32.Exp(v - ymax)
			sum += yrow[i]
		}
		for i := range yrow {
			yrow[i] /= sum
		}
	}
	return out, nil
}

// SoftmaxBackward differentiates from the forward output:
// dx_i = y_i * (dy_i - sum_j dy_j*y_j) per row.
func (b *Backend) SoftmaxBackward(output, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := wantFloat32("softmax backward", output, outputGrad); err != nil {
		return nil, err
	}
	if err := want2D("softmax backward", output); err != nil {
		return nil, err
	}
	if !output.Shape().Equal(outputGrad.Shape()) {
		return nil, fmt.Errorf("softmax backward: gradient shape %v != output shape %v", outputGrad.Shape(), output.Shape())
	}
	out, err := b.newFloat32("softmax backward", output.Shape())
	if err != nil {
		return nil, err
	}
	n, c := output.Shape()[0], output.Shape()[1]
	y := output.AsFloat32()
	dy := outputGrad.AsFloat32()
	dx := out.AsFloat32()
	for r := 0; r < n; r++ {
		var dot float32
		for i := 0; i < c; i++ {
			dot += dy[r*c+i] * y[r*c+i]
		}
		for i := 0; i < c; i++ {
			dx[r*c+i] = y[r*c+i] * (dy[r*c+i] - dot)
		}
	}
	return out, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// softplus computes log(1+exp(x)) without overflowing for large |x|.
func softplus(x float32) float32 {
	return math32.Max(x, 0) + math32.Log1p(math32.Exp(-math32.Abs(x)))
}
