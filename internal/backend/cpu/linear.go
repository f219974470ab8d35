package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/strand-ml/strand/internal/tensor"
)

// offsetDims accepts [N,C] or [N,C,H,W] inputs.
func offsetDims(name string, input, bias *tensor.RawTensor) (n, c, plane int, err error) {
	if err = wantFloat32(name, input, bias); err != nil {
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
	if bias != nil && bias.NumElements() != c {
		err = fmt.Errorf("%s: bias has %d elements, want %d", name, bias.NumElements(), c)
	}
	return
}

// Offset adds a per-channel bias.
func (b *Backend) Offset(input, bias *tensor.RawTensor) (*tensor.RawTensor, error) {
	n, c, plane, err := offsetDims("offset", input, bias)
	if err != nil {
		return nil, err
	}
	if bias == nil {
		return nil, fmt.Errorf("offset: bias tensor required")
	}
	out, err := b.newFloat32("offset", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	bd := bias.AsFloat32()
	y := out.AsFloat32()
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			base := (bi*c + ci) * plane
			for i := 0; i < plane; i++ {
				y[base+i] = x[base+i] + bd[ci]
			}
		}
	}
	return out, nil
}

// OffsetBackward passes the gradient through unchanged and reduces it per
// channel for the bias.
func (b *Backend) OffsetBackward(input, outputGrad *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor, error) {
	n, c, plane, err := offsetDims("offset backward", input, nil)
	if err != nil {
		return nil, nil, err
	}
	if !outputGrad.Shape().Equal(input.Shape()) {
		return nil, nil, fmt.Errorf("offset backward: gradient shape %v != input shape %v", outputGrad.Shape(), input.Shape())
	}
	db, err := b.newFloat32("offset backward", tensor.Shape{c})
	if err != nil {
		return nil, nil, err
	}
	dy := outputGrad.AsFloat32()
	dbd := db.AsFloat32()
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			base := (bi*c + ci) * plane
			var s float32
			for i := 0; i < plane; i++ {
				s += dy[base+i]
			}
			dbd[ci] += s
		}
	}
	return outputGrad.Clone(), db, nil
}

// Scale multiplies by a scalar.
func (b *Backend) Scale(input *tensor.RawTensor, alpha float32) (*tensor.RawTensor, error) {
	return b.elementwise("scale", input, func(v float32) float32 {
		return alpha * v
	})
}

// ScaleBackward scales the gradient by the same factor.
func (b *Backend) ScaleBackward(outputGrad *tensor.RawTensor, alpha float32) (*tensor.RawTensor, error) {
	return b.elementwise("scale backward", outputGrad, func(v float32) float32 {
		return alpha * v
	})
}

// DotProduct applies the linear map y = x@W (+ bias): input [N,K],
// weight [K,M], bias [M] or nil, output [N,M].
func (b *Backend) DotProduct(input, weight, bias *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := wantFloat32("dotprod", input, weight, bias); err != nil {
		return nil, err
	}
	if err := want2D("dotprod", input); err != nil {
		return nil, err
	}
	if len(weight.Shape()) != 2 {
		return nil, fmt.Errorf("dotprod: need 2D [K,M] weight, got %v", weight.Shape())
	}
	n, k := input.Shape()[0], input.Shape()[1]
	kw, m := weight.Shape()[0], weight.Shape()[1]
	if k != kw {
		return nil, fmt.Errorf("dotprod: input features %d != weight rows %d", k, kw)
	}
	if bias != nil && bias.NumElements() != m {
		return nil, fmt.Errorf("dotprod: bias has %d elements, want %d", bias.NumElements(), m)
	}

	out, err := b.newFloat32("dotprod", tensor.Shape{n, m})
	if err != nil {
		return nil, err
	}
	xm := blas32.General{Rows: n, Cols: k, Stride: k, Data: input.AsFloat32()}
	wm := blas32.General{Rows: k, Cols: m, Stride: m, Data: weight.AsFloat32()}
	ym := blas32.General{Rows: n, Cols: m, Stride: m, Data: out.AsFloat32()}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, xm, wm, 0, ym)

	if bias != nil {
		bd := bias.AsFloat32()
		y := out.AsFloat32()
		for r := 0; r < n; r++ {
			for i := 0; i < m; i++ {
				y[r*m+i] += bd[i]
			}
		}
	}
	return out, nil
}

// DotProductBackward: dx = dy@Wᵀ, dW = xᵀ@dy, db = column sums of dy.
func (b *Backend) DotProductBackward(input, weight, outputGrad *tensor.RawTensor, withBias bool) (*tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, error) {
	if err := wantFloat32("dotprod backward", input, weight, outputGrad); err != nil {
		return nil, nil, nil, err
	}
	n, k := input.Shape()[0], input.Shape()[1]
	_, m := weight.Shape()[0], weight.Shape()[1]
	if !outputGrad.Shape().Equal(tensor.Shape{n, m}) {
		return nil, nil, nil, fmt.Errorf("dotprod backward: gradient shape %v, want [%d %d]", outputGrad.Shape(), n, m)
	}

	dx, err := b.newFloat32("dotprod backward", input.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	dw, err := b.newFloat32("dotprod backward", weight.Shape())
	if err != nil {
		return nil, nil, nil, err
	}

	xm := blas32.General{Rows: n, Cols: k, Stride: k, Data: input.AsFloat32()}
	wm := blas32.General{Rows: k, Cols: m, Stride: m, Data: weight.AsFloat32()}
	gm := blas32.General{Rows: n, Cols: m, Stride: m, Data: outputGrad.AsFloat32()}
	dxm := blas32.General{Rows: n, Cols: k, Stride: k, Data: dx.AsFloat32()}
	dwm := blas32.General{Rows: k, Cols: m, Stride: m, Data: dw.AsFloat32()}

	blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm, wm, 0, dxm)
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, xm, gm, 0, dwm)

	var db *tensor.RawTensor
	if withBias {
		db, err = b.newFloat32("dotprod backward", tensor.Shape{m})
		if err != nil {
			return nil, nil, nil, err
		}
		dy := outputGrad.AsFloat32()
		dbd := db.AsFloat32()
		for r := 0; r < n; r++ {
			for i := 0; i < m; i++ {
				dbd[i] += dy[r*m+i]
			}
		}
	}
	return dx, dw, db, nil
}
