package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/strand-ml/strand/internal/parallel"
	"github.com/strand-ml/strand/internal/tensor"
)

// poolDims validates pooling arguments and computes output spatial size.
func poolDims(name string, input *tensor.RawTensor, size, stride int) (n, c, h, w, ho, wo int, err error) {
	if err = wantFloat32(name, input); err != nil {
		return
	}
	if err = want4D(name, input); err != nil {
		return
	}
	if size <= 0 || stride <= 0 {
		err = fmt.Errorf("%s: invalid window %d / stride %d", name, size, stride)
		return
	}
	n, c, h, w = dims4(input)
	if size > h || size > w {
		err = fmt.Errorf("%s: window %d exceeds input [%d %d]", name, size, h, w)
		return
	}
	ho = (h-size)/stride + 1
	wo = (w-size)/stride + 1
	return
}

// MaxPool2D takes the maximum over square windows.
func (b *Backend) MaxPool2D(input *tensor.RawTensor, size, stride int) (*tensor.RawTensor, error) {
	n, c, h, w, ho, wo, err := poolDims("maxpool", input, size, stride)
	if err != nil {
		return nil, err
	}
	out, err := b.newFloat32("maxpool", tensor.Shape{n, c, ho, wo})
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	y := out.AsFloat32()

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		xp := x[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		yp := y[(bi*c+ci)*ho*wo : (bi*c+ci+1)*ho*wo]
		for oh := 0; oh < ho; oh++ {
			for ow := 0; ow < wo; ow++ {
				best := math32.Inf(-1)
				for i := 0; i < size; i++ {
					for j := 0; j < size; j++ {
						v := xp[(oh*stride+i)*w+ow*stride+j]
						if v > best {
							best = v
						}
					}
				}
				yp[oh*wo+ow] = best
			}
		}
	})
	return out, nil
}

// MaxPool2DBackward routes each output gradient to the first maximal
// element of its window, recomputing the argmax from the forward input.
func (b *Backend) MaxPool2DBackward(input, outputGrad *tensor.RawTensor, size, stride int) (*tensor.RawTensor, error) {
	n, c, h, w, ho, wo, err := poolDims("maxpool backward", input, size, stride)
	if err != nil {
		return nil, err
	}
	if !outputGrad.Shape().Equal(tensor.Shape{n, c, ho, wo}) {
		return nil, fmt.Errorf("maxpool backward: gradient shape %v, want [%d %d %d %d]", outputGrad.Shape(), n, c, ho, wo)
	}
	dx, err := b.newFloat32("maxpool backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		xp := x[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		dyp := dy[(bi*c+ci)*ho*wo : (bi*c+ci+1)*ho*wo]
		dxp := dxd[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		for oh := 0; oh < ho; oh++ {
			for ow := 0; ow < wo; ow++ {
				best := math32.Inf(-1)
				argI, argJ := 0, 0
				for i := 0; i < size; i++ {
					for j := 0; j < size; j++ {
						v := xp[(oh*stride+i)*w+ow*stride+j]
						if v > best {
							best, argI, argJ = v, i, j
						}
					}
				}
				dxp[(oh*stride+argI)*w+ow*stride+argJ] += dyp[oh*wo+ow]
			}
		}
	})
	return dx, nil
}

// AvgPool2D averages over square windows.
func (b *Backend) AvgPool2D(input *tensor.RawTensor, size, stride int) (*tensor.RawTensor, error) {
	n, c, h, w, ho, wo, err := poolDims("avgpool", input, size, stride)
	if err != nil {
		return nil, err
	}
	out, err := b.newFloat32("avgpool", tensor.Shape{n, c, ho, wo})
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	y := out.AsFloat32()
	inv := 1 / float32(size*size)

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		xp := x[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		yp := y[(bi*c+ci)*ho*wo : (bi*c+ci+1)*ho*wo]
		for oh := 0; oh < ho; oh++ {
			for ow := 0; ow < wo; ow++ {
				var s float32
				for i := 0; i < size; i++ {
					for j := 0; j < size; j++ {
						s += xp[(oh*stride+i)*w+ow*stride+j]
					}
				}
				yp[oh*wo+ow] = s * inv
			}
		}
	})
	return out, nil
}

// AvgPool2DBackward spreads each output gradient uniformly over its window.
func (b *Backend) AvgPool2DBackward(input, outputGrad *tensor.RawTensor, size, stride int) (*tensor.RawTensor, error) {
	n, c, h, w, ho, wo, err := poolDims("avgpool backward", input, size, stride)
	if err != nil {
		return nil, err
	}
	if !outputGrad.Shape().Equal(tensor.Shape{n, c, ho, wo}) {
		return nil, fmt.Errorf("avgpool backward: gradient shape %v, want [%d %d %d %d]", outputGrad.Shape(), n, c, ho, wo)
	}
	dx, err := b.newFloat32("avgpool backward", input.Shape())
	if err != nil {
		return nil, err
	}
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()
	inv := 1 / float32(size*size)

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		dyp := dy[(bi*c+ci)*ho*wo : (bi*c+ci+1)*ho*wo]
		dxp := dxd[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		for oh := 0; oh < ho; oh++ {
			for ow := 0; ow < wo; ow++ {
				g := dyp[oh*wo+ow] * inv
				for i := 0; i < size; i++ {
					for j := 0; j < size; j++ {
						dxp[(oh*stride+i)*w+ow*stride+j] += g
					}
				}
			}
		}
	})
	return dx, nil
}
