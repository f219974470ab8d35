package pipeline

import (
	"github.com/strand-ml/strand/internal/tensor"
)

// forwardFn computes a layer's output from its input, returning aux state
// the backward pass will need (nil for most kinds).
type forwardFn func(b tensor.Backend, l *Layer, in *tensor.RawTensor, aux *tensor.RawTensor, opts Options) (out, newAux *tensor.RawTensor, err error)

// backwardFn computes a layer's input gradient and parameter gradients.
// in and out are the activations recorded around the layer; for kinds whose
// backward works from the output side, in may be nil.
type backwardFn func(b tensor.Backend, l *Layer, in, out, aux, outGrad *tensor.RawTensor) (inGrad *tensor.RawTensor, paramGrads []*tensor.RawTensor, err error)

var forwardTable = map[LayerKind]forwardFn{
	Conv: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.Conv2D(in, l.Weight, l.Bias, l.Stride, l.Padding)
		return out, nil, err
	},
	ConvTranspose: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.ConvTranspose2D(in, l.Weight, l.Bias, l.Stride, l.Padding)
		return out, nil, err
	},
	Pool: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		var out *tensor.RawTensor
		var err error
		if l.Pool == PoolAvg {
			out, err = b.AvgPool2D(in, l.PoolSize, l.poolStride())
		} else {
			out, err = b.MaxPool2D(in, l.PoolSize, l.poolStride())
		}
		return out, nil, err
	},
	Normalize: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.ChannelNorm(in, l.NormWindow, l.NormKappa, l.NormAlpha, l.NormBeta)
		return out, nil, err
	},
	SpatialNorm: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.SpatialNorm(in, l.NormWindow, l.NormKappa, l.NormAlpha, l.NormBeta)
		return out, nil, err
	},
	BatchNorm: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		if l.Moments != nil {
			out, err := b.BatchNormMoments(in, l.Weight, l.Bias, l.Moments)
			return out, nil, err
		}
		out, moments, err := b.BatchNorm(in, l.Weight, l.Bias)
		return out, moments, err
	},
	ReLU: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.ReLU(in)
		return out, nil, err
	},
	LeakyReLU: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.LeakyReLU(in, l.Slope)
		return out, nil, err
	},
	Sigmoid: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.Sigmoid(in)
		return out, nil, err
	},
	Tanh: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.Tanh(in)
		return out, nil, err
	},
	Softmax: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.Softmax(in)
		return out, nil, err
	},
	Dropout: func(b tensor.Backend, l *Layer, in, aux *tensor.RawTensor, opts Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		switch {
		case opts.DisableDropout:
			return in.Clone(), nil, nil
		case opts.FreezeDropout:
			if aux == nil {
				return nil, nil, errMissingMask
			}
			out, err := b.DropoutMask(in, aux)
			return out, aux, err
		default:
			out, mask, err := b.Dropout(in, l.Rate)
			return out, mask, err
		}
	},
	LossLog: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.LogLoss(in, l.Targets)
		return out, nil, err
	},
	LossSoftmaxLog: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.SoftmaxLogLoss(in, l.Targets)
		return out, nil, err
	},
	LossMSE: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.MSELoss(in, l.Targets)
		return out, nil, err
	},
	LossBCE: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.BCELoss(in, l.Targets)
		return out, nil, err
	},
	LossPDist: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.PDistLoss(in, l.Targets, l.P)
		return out, nil, err
	},
	LossGANGenerator: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.GANGeneratorLoss(in)
		return out, nil, err
	},
	LossGANDiscriminator: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.GANDiscriminatorLoss(in, l.Targets)
		return out, nil, err
	},
	Offset: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.Offset(in, l.Bias)
		return out, nil, err
	},
	Reshape: func(_ tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		shape, err := resolveShape(l.NewShape, in.NumElements())
		if err != nil {
			return nil, nil, err
		}
		out, err := in.Clone().Reshape(shape)
		return out, nil, err
	},
	Scale: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.Scale(in, l.Alpha)
		return out, nil, err
	},
	DotProduct: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		out, err := b.DotProduct(in, l.Weight, l.Bias)
		return out, nil, err
	},
	Custom: func(b tensor.Backend, l *Layer, in, _ *tensor.RawTensor, _ Options) (*tensor.RawTensor, *tensor.RawTensor, error) {
		return l.Forward(b, l, in)
	},
}

var backwardTable = map[LayerKind]backwardFn{
	Conv: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, dw, db, err := b.Conv2DBackward(in, l.Weight, g, l.Stride, l.Padding, l.Bias != nil)
		return dx, paramGrads(dw, db), err
	},
	ConvTranspose: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, dw, db, err := b.ConvTranspose2DBackward(in, l.Weight, g, l.Stride, l.Padding, l.Bias != nil)
		return dx, paramGrads(dw, db), err
	},
	Pool: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		var dx *tensor.RawTensor
		var err error
		if l.Pool == PoolAvg {
			dx, err = b.AvgPool2DBackward(in, g, l.PoolSize, l.poolStride())
		} else {
			dx, err = b.MaxPool2DBackward(in, g, l.PoolSize, l.poolStride())
		}
		return dx, nil, err
	},
	Normalize: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.ChannelNormBackward(in, g, l.NormWindow, l.NormKappa, l.NormAlpha, l.NormBeta)
		return dx, nil, err
	},
	SpatialNorm: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.SpatialNormBackward(in, g, l.NormWindow, l.NormKappa, l.NormAlpha, l.NormBeta)
		return dx, nil, err
	},
	BatchNorm: func(b tensor.Backend, l *Layer, in, _, aux, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		moments := l.Moments
		if moments == nil {
			moments = aux
		}
		if moments == nil {
			return nil, nil, errMissingMoments
		}
		dx, dg, db, err := b.BatchNormBackward(in, l.Weight, g, moments)
		return dx, paramGrads(dg, db), err
	},
	ReLU: func(b tensor.Backend, _ *Layer, in, out, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		// The mask is recoverable from whichever side survived
		// reclamation.
		side := in
		if side == nil {
			side = out
		}
		dx, err := b.ReLUBackward(side, g)
		return dx, nil, err
	},
	LeakyReLU: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.LeakyReLUBackward(in, g, l.Slope)
		return dx, nil, err
	},
	Sigmoid: func(b tensor.Backend, _ *Layer, _, out, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.SigmoidBackward(out, g)
		return dx, nil, err
	},
	Tanh: func(b tensor.Backend, _ *Layer, _, out, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.TanhBackward(out, g)
		return dx, nil, err
	},
	Softmax: func(b tensor.Backend, _ *Layer, _, out, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.SoftmaxBackward(out, g)
		return dx, nil, err
	},
	Dropout: func(b tensor.Backend, _ *Layer, _, _, aux, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		if aux == nil {
			// Disabled dropout ran as identity.
			return g.Clone(), nil, nil
		}
		dx, err := b.DropoutBackward(aux, g)
		return dx, nil, err
	},
	LossLog: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.LogLossBackward(in, l.Targets, g)
		return dx, nil, err
	},
	LossSoftmaxLog: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.SoftmaxLogLossBackward(in, l.Targets, g)
		return dx, nil, err
	},
	LossMSE: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.MSELossBackward(in, l.Targets, g)
		return dx, nil, err
	},
	LossBCE: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.BCELossBackward(in, l.Targets, g)
		return dx, nil, err
	},
	LossPDist: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.PDistLossBackward(in, l.Targets, l.P, g)
		return dx, nil, err
	},
	LossGANGenerator: func(b tensor.Backend, _ *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.GANGeneratorLossBackward(in, g)
		return dx, nil, err
	},
	LossGANDiscriminator: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.GANDiscriminatorLossBackward(in, l.Targets, g)
		return dx, nil, err
	},
	Offset: func(b tensor.Backend, _ *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, db, err := b.OffsetBackward(in, g)
		return dx, []*tensor.RawTensor{db}, err
	},
	Reshape: func(_ tensor.Backend, _ *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := g.Clone().Reshape(in.Shape())
		return dx, nil, err
	},
	Scale: func(b tensor.Backend, l *Layer, _, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, err := b.ScaleBackward(g, l.Alpha)
		return dx, nil, err
	},
	DotProduct: func(b tensor.Backend, l *Layer, in, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		dx, dw, db, err := b.DotProductBackward(in, l.Weight, g, l.Bias != nil)
		return dx, paramGrads(dw, db), err
	},
	Custom: func(b tensor.Backend, l *Layer, in, _, aux, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
		if l.Backward == nil {
			return nil, nil, errNoCustomBackward
		}
		return l.Backward(b, l, in, aux, g)
	},
}

func paramGrads(dw, db *tensor.RawTensor) []*tensor.RawTensor {
	if db == nil {
		return []*tensor.RawTensor{dw}
	}
	return []*tensor.RawTensor{dw, db}
}

// resolveShape expands a single -1 entry so the target holds n elements.
func resolveShape(target []int, n int) (tensor.Shape, error) {
	out := make(tensor.Shape, len(target))
	infer := -1
	known := 1
	for i, d := range target {
		out[i] = d
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, errShapeInfer
			}
			infer = i
		case d <= 0:
			return nil, errShapeInfer
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || n%known != 0 {
			return nil, errShapeInfer
		}
		out[infer] = n / known
	}
	return out, nil
}
