// Package pipeline implements the chain executor: it drives an ordered list
// of layer descriptors forward through their kernels, optionally drives the
// matching backward pass in reverse, and owns the per-position state records
// and the memory, accumulation and truncation policies around them.
package pipeline

// LayerKind identifies a layer's kernel in the closed dispatch set.
type LayerKind int

// The closed set of layer kinds. Custom is the single open extension
// point: a layer of that kind carries its own forward/backward handles.
const (
	Conv LayerKind = iota
	ConvTranspose
	Pool
	Normalize // cross-channel local response normalization
	SpatialNorm
	BatchNorm
	ReLU
	Sigmoid
	Tanh
	LeakyReLU
	Dropout
	Softmax
	LossLog
	LossSoftmaxLog
	LossMSE
	LossBCE
	LossPDist
	LossGANGenerator
	LossGANDiscriminator
	Offset
	Reshape
	Scale
	DotProduct
	Custom
)

// String returns the kernel name for a kind.
func (k LayerKind) String() string {
	switch k {
	case Conv:
		return "conv"
	case ConvTranspose:
		return "convt"
	case Pool:
		return "pool"
	case Normalize:
		return "normalize"
	case SpatialNorm:
		return "spnorm"
	case BatchNorm:
		return "bnorm"
	case ReLU:
		return "relu"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	case LeakyReLU:
		return "leakyrelu"
	case Dropout:
		return "dropout"
	case Softmax:
		return "softmax"
	case LossLog:
		return "logloss"
	case LossSoftmaxLog:
		return "softmaxlogloss"
	case LossMSE:
		return "mseloss"
	case LossBCE:
		return "bceloss"
	case LossPDist:
		return "pdistloss"
	case LossGANGenerator:
		return "ganloss"
	case LossGANDiscriminator:
		return "gandiscloss"
	case Offset:
		return "offset"
	case Reshape:
		return "reshape"
	case Scale:
		return "scale"
	case DotProduct:
		return "dotprod"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// IsLoss reports whether the kind reduces to a scalar objective. Loss
// outputs are exempt from memory reclamation: the scalar is what callers
// read back.
func (k LayerKind) IsLoss() bool {
	switch k {
	case LossLog, LossSoftmaxLog, LossMSE, LossBCE, LossPDist,
		LossGANGenerator, LossGANDiscriminator:
		return true
	}
	return false
}
