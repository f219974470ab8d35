package tensor

// Backend is the kernel contract consumed by the pipeline executor: one
// forward entry point per layer kind and, where the kind is differentiable,
// a matching backward entry point.
//
// Every kernel returns freshly allocated tensors and reports shape or
// parameter violations as errors; the executor wraps those with the layer
// index and kind. Kernels operate on Float32 tensors (Int32 for class-label
// targets) and never retain references to their arguments.
//
// Backends are free to parallelize internally. Sync blocks until any
// asynchronous work issued by previous kernel calls has completed; the CPU
// backend is synchronous and implements it as a no-op.
type Backend interface {
	// Convolution. input [N,C,H,W], weight [K,C,KH,KW], bias [K] or nil.
	Conv2D(input, weight, bias *RawTensor, stride, padding int) (*RawTensor, error)
	// Conv2DBackward returns gradients w.r.t. input, weight and (when
	// withBias) bias, given the gradient w.r.t. the convolution output.
	Conv2DBackward(input, weight, outputGrad *RawTensor, stride, padding int, withBias bool) (inputGrad, weightGrad, biasGrad *RawTensor, err error)

	// Transposed convolution. weight [C,K,KH,KW]: input channels first.
	ConvTranspose2D(input, weight, bias *RawTensor, stride, padding int) (*RawTensor, error)
	ConvTranspose2DBackward(input, weight, outputGrad *RawTensor, stride, padding int, withBias bool) (inputGrad, weightGrad, biasGrad *RawTensor, err error)

	// Pooling over square windows.
	MaxPool2D(input *RawTensor, size, stride int) (*RawTensor, error)
	MaxPool2DBackward(input, outputGrad *RawTensor, size, stride int) (*RawTensor, error)
	AvgPool2D(input *RawTensor, size, stride int) (*RawTensor, error)
	AvgPool2DBackward(input, outputGrad *RawTensor, size, stride int) (*RawTensor, error)

	// Cross-channel (local response) normalization:
	// y = x * (kappa + alpha*S)^-beta with S summed over a channel window.
	ChannelNorm(input *RawTensor, window int, kappa, alpha, beta float32) (*RawTensor, error)
	ChannelNormBackward(input, outputGrad *RawTensor, window int, kappa, alpha, beta float32) (*RawTensor, error)

	// Spatial normalization: same form with S summed over a spatial window
	// within each channel plane.
	SpatialNorm(input *RawTensor, window int, kappa, alpha, beta float32) (*RawTensor, error)
	SpatialNormBackward(input, outputGrad *RawTensor, window int, kappa, alpha, beta float32) (*RawTensor, error)

	// Batch normalization. gain and bias have shape [C]. BatchNorm computes
	// the moments from the batch and returns them as a [2,C] tensor
	// (mean row, then sigma row) for the backward pass; BatchNormMoments
	// normalizes against externally supplied running moments instead.
	BatchNorm(input, gain, bias *RawTensor) (output, moments *RawTensor, err error)
	BatchNormMoments(input, gain, bias, moments *RawTensor) (*RawTensor, error)
	BatchNormBackward(input, gain, outputGrad, moments *RawTensor) (inputGrad, gainGrad, biasGrad *RawTensor, err error)

	// Elementwise activations. Sigmoid, Tanh and Softmax differentiate from
	// their own output; ReLU's mask is recoverable from either side of the
	// layer, which is what permits reclaiming its input activation.
	ReLU(input *RawTensor) (*RawTensor, error)
	ReLUBackward(activation, outputGrad *RawTensor) (*RawTensor, error)
	LeakyReLU(input *RawTensor, slope float32) (*RawTensor, error)
	LeakyReLUBackward(input, outputGrad *RawTensor, slope float32) (*RawTensor, error)
	Sigmoid(input *RawTensor) (*RawTensor, error)
	SigmoidBackward(output, outputGrad *RawTensor) (*RawTensor, error)
	Tanh(input *RawTensor) (*RawTensor, error)
	TanhBackward(output, outputGrad *RawTensor) (*RawTensor, error)
	Softmax(input *RawTensor) (*RawTensor, error)
	SoftmaxBackward(output, outputGrad *RawTensor) (*RawTensor, error)

	// Dropout. Dropout draws a fresh Bernoulli keep-mask and returns it;
	// DropoutMask reapplies a previously drawn mask bit for bit.
	Dropout(input *RawTensor, rate float32) (output, mask *RawTensor, err error)
	DropoutMask(input, mask *RawTensor) (*RawTensor, error)
	DropoutBackward(mask, outputGrad *RawTensor) (*RawTensor, error)

	// Losses reduce a [N,C] input to a scalar [1] tensor. Backward entry
	// points scale the elementwise derivative by the incoming (scalar)
	// output gradient. LogLoss and SoftmaxLogLoss take [N] int32 class
	// targets; the others take float targets shaped like the input. The
	// adversarial losses operate on raw logits.
	LogLoss(input, targets *RawTensor) (*RawTensor, error)
	LogLossBackward(input, targets, outputGrad *RawTensor) (*RawTensor, error)
	SoftmaxLogLoss(input, targets *RawTensor) (*RawTensor, error)
	SoftmaxLogLossBackward(input, targets, outputGrad *RawTensor) (*RawTensor, error)
	MSELoss(input, targets *RawTensor) (*RawTensor, error)
	MSELossBackward(input, targets, outputGrad *RawTensor) (*RawTensor, error)
	BCELoss(input, targets *RawTensor) (*RawTensor, error)
	BCELossBackward(input, targets, outputGrad *RawTensor) (*RawTensor, error)
	PDistLoss(input, targets *RawTensor, p float32) (*RawTensor, error)
	PDistLossBackward(input, targets *RawTensor, p float32, outputGrad *RawTensor) (*RawTensor, error)
	GANGeneratorLoss(input *RawTensor) (*RawTensor, error)
	GANGeneratorLossBackward(input, outputGrad *RawTensor) (*RawTensor, error)
	GANDiscriminatorLoss(input, targets *RawTensor) (*RawTensor, error)
	GANDiscriminatorLossBackward(input, targets, outputGrad *RawTensor) (*RawTensor, error)

	// Offset adds a per-channel bias; Scale multiplies by a scalar;
	// DotProduct is the linear map [N,K] x [K,M] (+ bias [M]).
	Offset(input, bias *RawTensor) (*RawTensor, error)
	OffsetBackward(input, outputGrad *RawTensor) (inputGrad, biasGrad *RawTensor, err error)
	Scale(input *RawTensor, alpha float32) (*RawTensor, error)
	ScaleBackward(outputGrad *RawTensor, alpha float32) (*RawTensor, error)
	DotProduct(input, weight, bias *RawTensor) (*RawTensor, error)
	DotProductBackward(input, weight, outputGrad *RawTensor, withBias bool) (inputGrad, weightGrad, biasGrad *RawTensor, err error)

	// Metadata and the optional completion barrier.
	Name() string
	Device() Device
	Sync()
}
