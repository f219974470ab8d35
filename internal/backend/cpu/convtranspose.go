package cpu

import (
	"fmt"

	"github.com/strand-ml/strand/internal/parallel"
	"github.com/strand-ml/strand/internal/tensor"
)

// ConvTranspose2D performs the transpose (fractionally strided) convolution.
//
// input [N,C,H,W], weight [C,K,KH,KW] (input channels lead), bias [K] or
// nil, output [N,K,HO,WO] with HO = (H-1)*stride - 2*padding + KH.
func (b *Backend) ConvTranspose2D(input, weight, bias *tensor.RawTensor, stride, padding int) (*tensor.RawTensor, error) {
	if err := wantFloat32("convt", input, weight, bias); err != nil {
		return nil, err
	}
	if err := want4D("convt", input); err != nil {
		return nil, err
	}
	if len(weight.Shape()) != 4 {
		return nil, fmt.Errorf("convt: need 4D [C,K,KH,KW] weight, got %v", weight.Shape())
	}

	n, c, h, w := dims4(input)
	cw, k, kh, kw := dims4(weight)
	if cw != c {
		return nil, fmt.Errorf("convt: input channels %d != weight channels %d", c, cw)
	}
	if bias != nil && bias.NumElements() != k {
		return nil, fmt.Errorf("convt: bias has %d elements, want %d", bias.NumElements(), k)
	}
	if stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("convt: invalid stride %d / padding %d", stride, padding)
	}

	ho := (h-1)*stride - 2*padding + kh
	wo := (w-1)*stride - 2*padding + kw
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("convt: output [%d %d] collapses for input [%d %d]", ho, wo, h, w)
	}

	out, err := b.newFloat32("convt", tensor.Shape{n, k, ho, wo})
	if err != nil {
		return nil, err
	}

	x := input.AsFloat32()
	wt := weight.AsFloat32()
	y := out.AsFloat32()

	parallel.For(n, b.par, func(bi int) {
		xb := x[bi*c*h*w : (bi+1)*c*h*w]
		yb := y[bi*k*ho*wo : (bi+1)*k*ho*wo]
		for ci := 0; ci < c; ci++ {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					v := xb[(ci*h+hi)*w+wi]
					if v == 0 {
						continue
					}
					for ki := 0; ki < k; ki++ {
						wk := wt[(ci*k+ki)*kh*kw : (ci*k+ki+1)*kh*kw]
						for i := 0; i < kh; i++ {
							oh := hi*stride - padding + i
							if oh < 0 || oh >= ho {
								continue
							}
							for j := 0; j < kw; j++ {
								ow := wi*stride - padding + j
								if ow < 0 || ow >= wo {
									continue
								}
								yb[(ki*ho+oh)*wo+ow] += v * wk[i*kw+j]
							}
						}
					}
				}
			}
		}
	})

	if bias != nil {
		bd := bias.AsFloat32()
		for bi := 0; bi < n; bi++ {
			for ki := 0; ki < k; ki++ {
				yk := y[(bi*k+ki)*ho*wo : (bi*k+ki+1)*ho*wo]
				for i := range yk {
					yk[i] += bd[ki]
				}
			}
		}
	}
	return out, nil
}

// ConvTranspose2DBackward computes gradients w.r.t. input, weight and bias.
// The input gradient of a transposed convolution is an ordinary gather
// convolution of the output gradient with the same kernel.
func (b *Backend) ConvTranspose2DBackward(input, weight, outputGrad *tensor.RawTensor, stride, padding int, withBias bool) (*tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, error) {
	if err := wantFloat32("convt backward", input, weight, outputGrad); err != nil {
		return nil, nil, nil, err
	}
	if err := want4D("convt backward", input); err != nil {
		return nil, nil, nil, err
	}
	n, c, h, w := dims4(input)
	_, k, kh, kw := dims4(weight)
	gn, gk, ho, wo := dims4(outputGrad)
	if gn != n || gk != k {
		return nil, nil, nil, fmt.Errorf("convt backward: output gradient %v does not match input %v / weight %v", outputGrad.Shape(), input.Shape(), weight.Shape())
	}

	dx, err := b.newFloat32("convt backward", input.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	dw, err := b.newFloat32("convt backward", weight.Shape())
	if err != nil {
		return nil, nil, nil, err
	}

	x := input.AsFloat32()
	wt := weight.AsFloat32()
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()
	dwd := dw.AsFloat32()

	parallel.For(n, b.par, func(bi int) {
		dxb := dxd[bi*c*h*w : (bi+1)*c*h*w]
		dyb := dy[bi*k*ho*wo : (bi+1)*k*ho*wo]
		for ci := 0; ci < c; ci++ {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					var s float32
					for ki := 0; ki < k; ki++ {
						wk := wt[(ci*k+ki)*kh*kw : (ci*k+ki+1)*kh*kw]
						for i := 0; i < kh; i++ {
							oh := hi*stride - padding + i
							if oh < 0 || oh >= ho {
								continue
							}
							for j := 0; j < kw; j++ {
								ow := wi*stride - padding + j
								if ow < 0 || ow >= wo {
									continue
								}
								s += dyb[(ki*ho+oh)*wo+ow] * wk[i*kw+j]
							}
						}
					}
					dxb[(ci*h+hi)*w+wi] = s
				}
			}
		}
	})

	for bi := 0; bi < n; bi++ {
		xb := x[bi*c*h*w : (bi+1)*c*h*w]
		dyb := dy[bi*k*ho*wo : (bi+1)*k*ho*wo]
		for ci := 0; ci < c; ci++ {
			for ki := 0; ki < k; ki++ {
				dwk := dwd[(ci*k+ki)*kh*kw : (ci*k+ki+1)*kh*kw]
				for hi := 0; hi < h; hi++ {
					for wi := 0; wi < w; wi++ {
						v := xb[(ci*h+hi)*w+wi]
						if v == 0 {
							continue
						}
						for i := 0; i < kh; i++ {
							oh := hi*stride - padding + i
							if oh < 0 || oh >= ho {
								continue
							}
							for j := 0; j < kw; j++ {
								ow := wi*stride - padding + j
								if ow < 0 || ow >= wo {
									continue
								}
								dwk[i*kw+j] += v * dyb[(ki*ho+oh)*wo+ow]
							}
						}
					}
				}
			}
		}
	}

	var db *tensor.RawTensor
	if withBias {
		db, err = b.newFloat32("convt backward", tensor.Shape{k})
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
