package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/strand-ml/strand/internal/parallel"
	"github.com/strand-ml/strand/internal/tensor"
)

// Conv2D performs 2D convolution via im2col + GEMM.
//
// input [N,C,H,W], weight [K,C,KH,KW], bias [K] or nil, output [N,K,HO,WO]
// with HO = (H + 2*padding - KH)/stride + 1 and likewise WO.
func (b *Backend) Conv2D(input, weight, bias *tensor.RawTensor, stride, padding int) (*tensor.RawTensor, error) {
	if err := wantFloat32("conv2d", input, weight, bias); err != nil {
		return nil, err
	}
	if err := want4D("conv2d", input); err != nil {
		return nil, err
	}
	if len(weight.Shape()) != 4 {
		return nil, fmt.Errorf("conv2d: need 4D [K,C,KH,KW] weight, got %v", weight.Shape())
	}

	n, c, h, w := dims4(input)
	k, ck, kh, kw := dims4(weight)
	if ck != c {
		return nil, fmt.Errorf("conv2d: input channels %d != weight channels %d", c, ck)
	}
	if bias != nil && bias.NumElements() != k {
		return nil, fmt.Errorf("conv2d: bias has %d elements, want %d", bias.NumElements(), k)
	}
	if stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("conv2d: invalid stride %d / padding %d", stride, padding)
	}

	ho := (h+2*padding-kh)/stride + 1
	wo := (w+2*padding-kw)/stride + 1
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("conv2d: window [%d %d] stride %d padding %d does not fit input [%d %d]", kh, kw, stride, padding, h, w)
	}

	out, err := b.newFloat32("conv2d", tensor.Shape{n, k, ho, wo})
	if err != nil {
		return nil, err
	}

	x := input.AsFloat32()
	wt := weight.AsFloat32()
	y := out.AsFloat32()
	ckk := c * kh * kw
	plane := ho * wo

	wmat := blas32.General{Rows: k, Cols: ckk, Stride: ckk, Data: wt}

	parallel.For(n, b.par, func(bi int) {
		col := make([]float32, ckk*plane)
		im2col(col, x[bi*c*h*w:(bi+1)*c*h*w], c, h, w, kh, kw, ho, wo, stride, padding)

		cmat := blas32.General{Rows: ckk, Cols: plane, Stride: plane, Data: col}
		ymat := blas32.General{Rows: k, Cols: plane, Stride: plane, Data: y[bi*k*plane : (bi+1)*k*plane]}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, wmat, cmat, 0, ymat)
	})

	if bias != nil {
		bd := bias.AsFloat32()
		for bi := 0; bi < n; bi++ {
			for ki := 0; ki < k; ki++ {
				yk := y[(bi*k+ki)*plane : (bi*k+ki+1)*plane]
				for i := range yk {
					yk[i] += bd[ki]
				}
			}
		}
	}
	return out, nil
}

// im2col unrolls one image's patches into a [C*KH*KW, HO*WO] column matrix.
func im2col(col, x []float32, c, h, w, kh, kw, ho, wo, stride, padding int) {
	plane := ho * wo
	for ci := 0; ci < c; ci++ {
		for i := 0; i < kh; i++ {
			for j := 0; j < kw; j++ {
				row := (ci*kh+i)*kw + j
				dst := col[row*plane : (row+1)*plane]
				for oh := 0; oh < ho; oh++ {
					ih := oh*stride - padding + i
					if ih < 0 || ih >= h {
						continue // row stays zero
					}
					for ow := 0; ow < wo; ow++ {
						iw := ow*stride - padding + j
						if iw < 0 || iw >= w {
							continue
						}
						dst[oh*wo+ow] = x[(ci*h+ih)*w+iw]
					}
				}
			}
		}
	}
}

// Conv2DBackward computes gradients w.r.t. input, weight and bias.
//
// The input gradient is a full (transposed) convolution of the output
// gradient with the kernel; the weight gradient correlates input patches
// with the output gradient.
func (b *Backend) Conv2DBackward(input, weight, outputGrad *tensor.RawTensor, stride, padding int, withBias bool) (*tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, error) {
	if err := wantFloat32("conv2d backward", input, weight, outputGrad); err != nil {
		return nil, nil, nil, err
	}
	if err := want4D("conv2d backward", input); err != nil {
		return nil, nil, nil, err
	}
	n, c, h, w := dims4(input)
	k, _, kh, kw := dims4(weight)
	gn, gk, ho, wo := dims4(outputGrad)
	if gn != n || gk != k {
		return nil, nil, nil, fmt.Errorf("conv2d backward: output gradient %v does not match input %v / weight %v", outputGrad.Shape(), input.Shape(), weight.Shape())
	}

	dx, err := b.newFloat32("conv2d backward", input.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	dw, err := b.newFloat32("conv2d backward", weight.Shape())
	if err != nil {
		return nil, nil, nil, err
	}

	x := input.AsFloat32()
	wt := weight.AsFloat32()
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()
	dwd := dw.AsFloat32()

	// Input gradient: scatter each output gradient through the kernel.
	parallel.For(n, b.par, func(bi int) {
		dxb := dxd[bi*c*h*w : (bi+1)*c*h*w]
		dyb := dy[bi*k*ho*wo : (bi+1)*k*ho*wo]
		for ki := 0; ki < k; ki++ {
			wk := wt[ki*c*kh*kw : (ki+1)*c*kh*kw]
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					g := dyb[(ki*ho+oh)*wo+ow]
					if g == 0 {
						continue
					}
					for ci := 0; ci < c; ci++ {
						for i := 0; i < kh; i++ {
							ih := oh*stride - padding + i
							if ih < 0 || ih >= h {
								continue
							}
							for j := 0; j < kw; j++ {
								iw := ow*stride - padding + j
								if iw < 0 || iw >= w {
									continue
								}
								dxb[(ci*h+ih)*w+iw] += g * wk[(ci*kh+i)*kw+j]
							}
						}
					}
				}
			}
		}
	})

	// Weight gradient: accumulated sequentially over the batch to keep the
	// shared dw buffer race free.
	for bi := 0; bi < n; bi++ {
		xb := x[bi*c*h*w : (bi+1)*c*h*w]
		dyb := dy[bi*k*ho*wo : (bi+1)*k*ho*wo]
		for ki := 0; ki < k; ki++ {
			dwk := dwd[ki*c*kh*kw : (ki+1)*c*kh*kw]
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					g := dyb[(ki*ho+oh)*wo+ow]
					if g == 0 {
						continue
					}
					for ci := 0; ci < c; ci++ {
						for i := 0; i < kh; i++ {
							ih := oh*stride - padding + i
							if ih < 0 || ih >= h {
								continue
							}
							for j := 0; j < kw; j++ {
								iw := ow*stride - padding + j
								if iw < 0 || iw >= w {
									continue
								}
								dwk[(ci*kh+i)*kw+j] += g * xb[(ci*h+ih)*w+iw]
							}
						}
					}
				}
			}
		}
	}

	var db *tensor.RawTensor
	if withBias {
		db, err = b.newFloat32("conv2d backward", tensor.Shape{k})
		if err != nil {
			return nil, nil, nil, err
		}
		dbd := db.AsFloat32()
		for bi := 0; bi < n; bi++ {
			for ki := 0; ki < k; ki++ {
				base := (bi*k + ki) * ho * wo
				var s float32
				for i := 0; i < ho*wo; i++ {
					s += dy[base+i]
				}
				dbd[ki] += s
			}
		}
	}
	return dx, dw, db, nil
}

// dims4 unpacks a 4D shape.
func dims4(t *tensor.RawTensor) (int, int, int, int) {
	s := t.Shape()
	return s[0], s[1], s[2], s[3]
}
