package pipeline

import (
	"github.com/strand-ml/strand/internal/tensor"
)

// PoolMethod selects the reduction a Pool layer applies over each window.
type PoolMethod int

const (
	PoolMax PoolMethod = iota
	PoolAvg
)

func (m PoolMethod) String() string {
	if m == PoolAvg {
		return "avg"
	}
	return "max"
}

// CustomForward computes a custom layer's output from its input. It may
// return aux state the backward pass needs (nil when it needs none).
type CustomForward func(b tensor.Backend, l *Layer, input *tensor.RawTensor) (output, aux *tensor.RawTensor, err error)

// CustomBackward computes a custom layer's input gradient, plus parameter
// gradients in weight-then-bias order (nil or empty when it has none).
type CustomBackward func(b tensor.Backend, l *Layer, input, aux, outputGrad *tensor.RawTensor) (inputGrad *tensor.RawTensor, paramGrads []*tensor.RawTensor, err error)

// Layer describes one stage of a pipeline. Only the fields its Kind reads
// are meaningful; validation catches missing ones before the kernel runs.
type Layer struct {
	Kind LayerKind

	// Name labels the layer in errors and logs. Optional.
	Name string

	// Weight and Bias are the learnable parameters of Conv,
	// ConvTranspose, BatchNorm (gain in Weight), Offset (bias only),
	// and DotProduct. A nil Bias skips the bias term where the kernel
	// allows it.
	Weight *tensor.RawTensor
	Bias   *tensor.RawTensor

	// Conv / ConvTranspose geometry.
	Stride  int
	Padding int

	// Pool geometry. PoolStride falls back to PoolSize when zero.
	Pool       PoolMethod
	PoolSize   int
	PoolStride int

	// Normalize (cross-channel) and SpatialNorm window.
	NormWindow int
	NormKappa  float32
	NormAlpha  float32
	NormBeta   float32

	// Moments, when set on a BatchNorm layer, switches it to the fixed
	// statistics path (inference). Shape [2,C]: mean row then sigma row.
	Moments *tensor.RawTensor

	// Dropout rate in [0,1): the fraction of units zeroed.
	Rate float32

	// LeakyReLU negative-side slope.
	Slope float32

	// Scale multiplier.
	Alpha float32

	// Targets feeds the loss kinds: class indices [N] int32 for LogLoss
	// and SoftmaxLogLoss, dense tensors otherwise. LossGANGenerator
	// ignores it.
	Targets *tensor.RawTensor

	// P is the exponent of LossPDist.
	P float32

	// NewShape is the Reshape target. One entry may be -1 to infer.
	NewShape []int

	// RememberOutput pins this layer's output against reclamation.
	RememberOutput bool

	// Forward and Backward implement a Custom layer.
	Forward  CustomForward
	Backward CustomBackward
}

func (l *Layer) poolStride() int {
	if l.PoolStride > 0 {
		return l.PoolStride
	}
	return l.PoolSize
}

// validate checks the fields layer i's kernel will read. i is only used
// for error context.
func (l *Layer) validate(i int) error {
	switch l.Kind {
	case Conv, ConvTranspose, DotProduct:
		if l.Weight == nil {
			return configErr(i, l.Kind, "missing weight")
		}
		if l.Stride < 0 || l.Padding < 0 {
			return configErr(i, l.Kind, "negative stride or padding")
		}
	case Pool:
		if l.PoolSize <= 0 {
			return configErr(i, l.Kind, "pool size must be positive, got %d", l.PoolSize)
		}
		if l.Pool != PoolMax && l.Pool != PoolAvg {
			return configErr(i, l.Kind, "unknown pool method %d", int(l.Pool))
		}
	case Normalize, SpatialNorm:
		if l.NormWindow <= 0 {
			return configErr(i, l.Kind, "window must be positive, got %d", l.NormWindow)
		}
	case BatchNorm:
		if l.Weight == nil || l.Bias == nil {
			return configErr(i, l.Kind, "missing gain or bias")
		}
	case Offset:
		if l.Bias == nil {
			return configErr(i, l.Kind, "missing bias")
		}
	case Dropout:
		if l.Rate < 0 || l.Rate >= 1 {
			return configErr(i, l.Kind, "rate must be in [0,1), got %g", l.Rate)
		}
	case Reshape:
		if len(l.NewShape) == 0 {
			return configErr(i, l.Kind, "missing target shape")
		}
	case LossLog, LossSoftmaxLog, LossMSE, LossBCE, LossPDist, LossGANDiscriminator:
		if l.Targets == nil {
			return configErr(i, l.Kind, "missing targets")
		}
	case Custom:
		if l.Forward == nil {
			return configErr(i, l.Kind, "missing forward function")
		}
	case ReLU, LeakyReLU, Sigmoid, Tanh, Softmax, Scale, LossGANGenerator:
		// No required fields.
	default:
		return configErr(i, l.Kind, "unknown layer kind %d", int(l.Kind))
	}
	return nil
}
