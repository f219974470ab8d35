package cpu

import (
	"fmt"

	"github.com/strand-ml/strand/internal/tensor"
)

// Dropout draws a fresh Bernoulli keep-mask, zeroes the dropped elements
// and scales survivors by 1/(1-rate) so expectations are unchanged. The
// mask is returned so backward (and frozen-mask replays) can reuse it.
func (b *Backend) Dropout(input *tensor.RawTensor, rate float32) (*tensor.RawTensor, *tensor.RawTensor, error) {
	if err := wantFloat32("dropout", input); err != nil {
		return nil, nil, err
	}
	if rate < 0 || rate >= 1 {
		return nil, nil, fmt.Errorf("dropout: rate %v outside [0, 1)", rate)
	}
	mask, err := b.newFloat32("dropout", input.Shape())
	if err != nil {
		return nil, nil, err
	}
	keep := 1 / (1 - rate)
	md := mask.AsFloat32()
	for i := range md {
		if b.uniform() >= rate {
			md[i] = keep
		}
	}
	out, err := b.DropoutMask(input, mask)
	if err != nil {
		return nil, nil, err
	}
	return out, mask, nil
}

// DropoutMask reapplies a previously drawn mask bit for bit.
func (b *Backend) DropoutMask(input, mask *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := wantFloat32("dropout", input, mask); err != nil {
		return nil, err
	}
	if !input.Shape().Equal(mask.Shape()) {
		return nil, fmt.Errorf("dropout: mask shape %v != input shape %v", mask.Shape(), input.Shape())
	}
	out, err := b.newFloat32("dropout", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	md := mask.AsFloat32()
	y := out.AsFloat32()
	for i := range x {
		y[i] = x[i] * md[i]
	}
	return out, nil
}

// DropoutBackward routes the gradient through the surviving elements.
func (b *Backend) DropoutBackward(mask, outputGrad *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.DropoutMask(outputGrad, mask)
}
