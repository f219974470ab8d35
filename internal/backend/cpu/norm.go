package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/strand-ml/strand/internal/parallel"
	"github.com/strand-ml/strand/internal/tensor"
)

// Both normalization kernels compute y = x * (kappa + alpha*S)^-beta where
// S sums squared values over a window centered on the current position:
// across channels for ChannelNorm, across a spatial patch for SpatialNorm.
// The window of width W extends (W-1)/2 below and the remainder above.

func normWindow(window int) (lo, hi int) {
	lo = (window - 1) / 2
	return lo, window - 1 - lo
}

func checkNormArgs(name string, input *tensor.RawTensor, window int, beta float32) error {
	if err := wantFloat32(name, input); err != nil {
		return err
	}
	if err := want4D(name, input); err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("%s: invalid window %d", name, window)
	}
	if beta <= 0 {
		return fmt.Errorf("%s: invalid exponent %v", name, beta)
	}
	return nil
}

// ChannelNorm applies local response normalization across channels.
func (b *Backend) ChannelNorm(input *tensor.RawTensor, window int, kappa, alpha, beta float32) (*tensor.RawTensor, error) {
	if err := checkNormArgs("channelnorm", input, window, beta); err != nil {
		return nil, err
	}
	n, c, h, w := dims4(input)
	out, err := b.newFloat32("channelnorm", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	y := out.AsFloat32()
	lo, hi := normWindow(window)
	plane := h * w

	parallel.For(n, b.par, func(bi int) {
		xb := x[bi*c*plane : (bi+1)*c*plane]
		yb := y[bi*c*plane : (bi+1)*c*plane]
		for pi := 0; pi < plane; pi++ {
			for t := 0; t < c; t++ {
				var s float32
				for q := max(0, t-lo); q <= min(c-1, t+hi); q++ {
					v := xb[q*plane+pi]
					s += v * v
				}
				z := kappa + alpha*s
				yb[t*plane+pi] = xb[t*plane+pi] * math32.Pow(z, -beta)
			}
		}
	})
	return out, nil
}

// ChannelNormBackward computes the input gradient of ChannelNorm.
//
// dx_t = dy_t * z_t^-beta
//   - 2*alpha*beta * x_t * sum over q whose window contains t of
//     dy_q * x_q * z_q^(-beta-1)
func (b *Backend) ChannelNormBackward(input, outputGrad *tensor.RawTensor, window int, kappa, alpha, beta float32) (*tensor.RawTensor, error) {
	if err := checkNormArgs("channelnorm backward", input, window, beta); err != nil {
		return nil, err
	}
	if !outputGrad.Shape().Equal(input.Shape()) {
		return nil, fmt.Errorf("channelnorm backward: gradient shape %v != input shape %v", outputGrad.Shape(), input.Shape())
	}
	n, c, h, w := dims4(input)
	dx, err := b.newFloat32("channelnorm backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()
	lo, hi := normWindow(window)
	plane := h * w

	parallel.For(n, b.par, func(bi int) {
		xb := x[bi*c*plane : (bi+1)*c*plane]
		dyb := dy[bi*c*plane : (bi+1)*c*plane]
		dxb := dxd[bi*c*plane : (bi+1)*c*plane]
		z := make([]float32, c)
		for pi := 0; pi < plane; pi++ {
			for t := 0; t < c; t++ {
				var s float32
				for q := max(0, t-lo); q <= min(c-1, t+hi); q++ {
					v := xb[q*plane+pi]
					s += v * v
				}
				z[t] = kappa + alpha*s
			}
			for t := 0; t < c; t++ {
				g := dyb[t*plane+pi] * math32.Pow(z[t], -beta)
				// t sits in q's window iff q-lo <= t <= q+hi.
				var s float32
				for q := max(0, t-hi); q <= min(c-1, t+lo); q++ {
					s += dyb[q*plane+pi] * xb[q*plane+pi] * math32.Pow(z[q], -beta-1)
				}
				dxb[t*plane+pi] = g - 2*alpha*beta*xb[t*plane+pi]*s
			}
		}
	})
	return dx, nil
}

// SpatialNorm applies the same normalization over a square spatial window
// inside each channel plane.
func (b *Backend) SpatialNorm(input *tensor.RawTensor, window int, kappa, alpha, beta float32) (*tensor.RawTensor, error) {
	if err := checkNormArgs("spnorm", input, window, beta); err != nil {
		return nil, err
	}
	n, c, h, w := dims4(input)
	out, err := b.newFloat32("spnorm", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	y := out.AsFloat32()
	lo, hi := normWindow(window)

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		xp := x[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		yp := y[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		for hh := 0; hh < h; hh++ {
			for ww := 0; ww < w; ww++ {
				var s float32
				for i := max(0, hh-lo); i <= min(h-1, hh+hi); i++ {
					for j := max(0, ww-lo); j <= min(w-1, ww+hi); j++ {
						v := xp[i*w+j]
						s += v * v
					}
				}
				z := kappa + alpha*s
				yp[hh*w+ww] = xp[hh*w+ww] * math32.Pow(z, -beta)
			}
		}
	})
	return out, nil
}

// SpatialNormBackward computes the input gradient of SpatialNorm; the
// structure mirrors ChannelNormBackward with the window membership
// reversed along both spatial axes.
func (b *Backend) SpatialNormBackward(input, outputGrad *tensor.RawTensor, window int, kappa, alpha, beta float32) (*tensor.RawTensor, error) {
	if err := checkNormArgs("spnorm backward", input, window, beta); err != nil {
		return nil, err
	}
	if !outputGrad.Shape().Equal(input.Shape()) {
		return nil, fmt.Errorf("spnorm backward: gradient shape %v != input shape %v", outputGrad.Shape(), input.Shape())
	}
	n, c, h, w := dims4(input)
	dx, err := b.newFloat32("spnorm backward", input.Shape())
	if err != nil {
		return nil, err
	}
	x := input.AsFloat32()
	dy := outputGrad.AsFloat32()
	dxd := dx.AsFloat32()
	lo, hi := normWindow(window)

	parallel.ForBatchChannel(n, c, b.par, func(bi, ci int) {
		xp := x[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		dyp := dy[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		dxp := dxd[(bi*c+ci)*h*w : (bi*c+ci+1)*h*w]
		z := make([]float32, h*w)
		for hh := 0; hh < h; hh++ {
			for ww := 0; ww < w; ww++ {
				var s float32
				for i := max(0, hh-lo); i <= min(h-1, hh+hi); i++ {
					for j := max(0, ww-lo); j <= min(w-1, ww+hi); j++ {
						v := xp[i*w+j]
						s += v * v
					}
				}
				z[hh*w+ww] = kappa + alpha*s
			}
		}
		for hh := 0; hh < h; hh++ {
			for ww := 0; ww < w; ww++ {
				g := dyp[hh*w+ww] * math32.Pow(z[hh*w+ww], -beta)
				var s float32
				for i := max(0, hh-hi); i <= min(h-1, hh+lo); i++ {
					for j := max(0, ww-hi); j <= min(w-1, ww+lo); j++ {
						s += dyp[i*w+j] * xp[i*w+j] * math32.Pow(z[i*w+j], -beta-1)
					}
				}
				dxp[hh*w+ww] = g - 2*alpha*beta*xp[hh*w+ww]*s
			}
		}
	})
	return dx, nil
}
