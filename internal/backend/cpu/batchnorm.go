package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/strand-ml/strand/internal/parallel"
	"github.com/strand-ml/strand/internal/tensor"
)

// batchNormEpsilon keeps sigma away from zero for constant channels.
const batchNormEpsilon = 1e-4

// bnormDims accepts [N,C,H,W] or [N,C] inputs and returns the channel
// count, the per-channel plane size and the batch size.
func bnormDims(name string, input, gain, bias *tensor.RawTensor) (n, c, plane int, err error) {
	if err = wantFloat32(name, input, gain, bias); err != nil {
		return
	}
	s := input.Shape()
	switch len(s) {
	case 2:
		n, c, plane = s[0], s[1], 1
	case 4:
		n, c, plane = s[0], s[1], s[2]*s[3]
	default:
		err = fmt.Errorf("%s: need [N,C] or [N,C,H,W] input, got %v", name, s)
		return
	}
	if gain != nil && gain.NumElements() != c {
		err = fmt.Errorf("%s: gain has %d elements, want %d", name, gain.NumElements(), c)
		return
	}
	if bias != nil && bias.NumElements() != c {
		err = fmt.Errorf("%s: bias has %d elements, want %d", name, bias.NumElements(), c)
	}
	return
}

// BatchNorm normalizes each channel by moments computed from the batch and
// returns those moments as a [2,C] tensor (mean row, sigma row) for the
// backward pass.
func (b *Backend) BatchNorm(input, gain, bias *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor, error) {
	n, c, plane, err := bnormDims("bnorm", input, gain, bias)
	if err != nil {
		return nil, nil, err
	}
	moments, err := b.newFloat32("bnorm", tensor.Shape{2, c})
	if err != nil {
		return nil, nil, err
	}

	x := input.AsFloat32()
	md := moments.AsFloat32()
	count := float32(n * plane)

	for ci := 0; ci < c; ci++ {
		var sum, sq float32
		for bi := 0; bi < n; bi++ {
			row := x[(bi*c+ci)*plane : (bi*c+ci+1)*plane]
			for _, v := range row {
				sum += v
				sq += v * v
			}
		}
		mean := sum / count
		md[ci] = mean
		md[c+ci] = math32.Sqrt(sq/count-mean*mean+batchNormEpsilon)
	}

	out, err := b.BatchNormMoments(input, gain, bias, moments)
	if err != nil {
		return nil, nil, err
	}
	return out, moments, nil
}

// BatchNormMoments normalizes against externally supplied moments, the
// inference-time variant driven by running statistics.
func (b *Backend) BatchNormMoments(input, gain, bias, moments *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, c, plane, err := bnormDims("bnorm", input, gain, bias)
	if err != nil {
		return nil, err
	}
	if moments == nil || !moments.Shape().Equal(tensor.Shape{2, c}) {
		return nil, fmt.Errorf("bnorm: moments must be [2,%d]", c)
	}
	out, err := b.newFloat32("bnorm", input.Shape())
	if err != nil {
		return nil, err
	}

	x := input.AsFloat32()
	y := out.AsFloat32()
	md := moments.AsFloat32()
	gd := gain.AsFloat32()
	bd := bias.AsFloat32()

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		scale := gd[ci] / md[c+ci]
		shift := bd[ci] - scale*md[ci]
		base := (bi*c + ci) * plane
		for i := 0; i < plane; i++ {
			y[base+i] = x[base+i]*scale + shift
		}
	})
	return out, nil
}

// BatchNormBackward computes gradients w.r.t. input, gain and bias using
// the moments produced in forward (or the layer's fixed moments).
//
// With xhat = (x-mean)/sigma over count elements per channel:
//
//	dgain = sum(dy*xhat)   dbias = sum(dy)
//	dx = gain/sigma * (dy - dbias/count - xhat*dgain/count)
func (b *Backend) BatchNormBackward(input, gain, outputGrad, moments *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, error) {
	n, c, plane, err := bnormDims("bnorm backward", input, gain, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if !outputGrad.Shape().Equal(input.Shape()) {
		return nil, nil, nil, fmt.Errorf("bnorm backward: gradient shape %v != input shape %v", outputGrad.Shape(), input.Shape())
	}
	if moments == nil || !moments.Shape().Equal(tensor.Shape{2, c}) {
		return nil, nil, nil, fmt.Errorf("bnorm backward: moments must be [2,%d]", c)
	}

	dx, err := b.newFloat32("bnorm backward", input.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	dg, err := b.newFloat32("bnorm backward", tensor.Shape{c})
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := b.newFloat32("bnorm backward", tensor.Shape{c})
	if err != nil {
		return nil, nil, nil, err
	}

	x := input.AsFloat32()
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()
	dgd := dg.AsFloat32()
	dbd := db.AsFloat32()
	md := moments.AsFloat32()
	gd := gain.AsFloat32()
	count := float32(n * plane)

	parallel.For(c, b.par, func(ci int) {
		mean, sigma := md[ci], md[c+ci]
		var sumDy, sumDyXhat float32
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ci) * plane
			for i := 0; i < plane; i++ {
				xhat := (x[base+i] - mean) / sigma
				sumDy += dy[base+i]
				sumDyXhat += dy[base+i] * xhat
			}
		}
		dgd[ci] = sumDyXhat
		dbd[ci] = sumDy

		scale := gd[ci] / sigma
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ci) * plane
			for i := 0; i < plane; i++ {
				xhat := (x[base+i] - mean) / sigma
				dxd[base+i] = scale * (dy[base+i] - sumDy/count - xhat*sumDyXhat/count)
			}
		}
	})
	return dx, dg, db, nil
}
