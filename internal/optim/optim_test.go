package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ml/strand/internal/backend/cpu"
	"github.com/strand-ml/strand/internal/pipeline"
	"github.com/strand-ml/strand/internal/tensor"
)

// fitChain builds a small regression pipeline and returns the pieces a
// training loop needs.
func fitChain(t *testing.T) (*pipeline.Executor, []pipeline.Layer, *tensor.RawTensor) {
	t.Helper()
	weight := tensor.Zeros(tensor.Shape{2, 2}, tensor.CPU)
	w := weight.AsFloat32()
	w[0], w[1], w[2], w[3] = 0.5, -0.25, 0.75, 0.1

	targets, err := tensor.FromFloat32([]float32{1, -1, 0.5, 0.25}, tensor.Shape{2, 2}, tensor.CPU)
	require.NoError(t, err)

	layers := []pipeline.Layer{
		{Kind: pipeline.DotProduct, Weight: weight, Bias: tensor.Zeros(tensor.Shape{2}, tensor.CPU)},
		{Kind: pipeline.LossMSE, Targets: targets},
	}
	input, err := tensor.FromFloat32([]float32{1, 2, -1, 0.5}, tensor.Shape{2, 2}, tensor.CPU)
	require.NoError(t, err)
	return pipeline.New(cpu.NewSeeded(3)), layers, input
}

func seed(t *testing.T) *tensor.RawTensor {
	t.Helper()
	s, err := tensor.FromFloat32([]float32{1}, tensor.Shape{1}, tensor.CPU)
	require.NoError(t, err)
	return s
}

func trainStep(t *testing.T, e *pipeline.Executor, layers []pipeline.Layer, input *tensor.RawTensor, opt Optimizer) float32 {
	t.Helper()
	recs, err := e.Forward(layers, input, nil, pipeline.Options{WillBackward: true})
	require.NoError(t, err)
	loss := recs[len(layers)].Activation.AsFloat32()[0]
	require.NoError(t, e.Backward(layers, recs, seed(t), pipeline.Options{}))
	require.NoError(t, opt.Step(layers, recs))
	ZeroGrad(recs)
	return loss
}

func TestSGDReducesLoss(t *testing.T) {
	e, layers, input := fitChain(t)
	opt := NewSGD(SGDConfig{LR: 0.1})

	first := trainStep(t, e, layers, input, opt)
	var last float32
	for i := 0; i < 20; i++ {
		last = trainStep(t, e, layers, input, opt)
	}
	assert.Less(t, last, first)
	assert.Less(t, last, first/4, "plain SGD on a linear problem converges fast")
}

func TestSGDMomentumReducesLoss(t *testing.T) {
	e, layers, input := fitChain(t)
	opt := NewSGD(SGDConfig{LR: 0.05, Momentum: 0.9})

	first := trainStep(t, e, layers, input, opt)
	var last float32
	for i := 0; i < 40; i++ {
		last = trainStep(t, e, layers, input, opt)
	}
	assert.Less(t, last, first)
}

func TestAdamReducesLoss(t *testing.T) {
	e, layers, input := fitChain(t)
	opt := NewAdam(AdamConfig{LR: 0.05})

	first := trainStep(t, e, layers, input, opt)
	var last float32
	for i := 0; i < 40; i++ {
		last = trainStep(t, e, layers, input, opt)
	}
	assert.Less(t, last, first)
}

func TestSGDDefaults(t *testing.T) {
	opt := NewSGD(SGDConfig{})
	assert.Equal(t, float32(0.01), opt.GetLR())
	opt.SetLR(0.5)
	assert.Equal(t, float32(0.5), opt.GetLR())
}

func TestAdamDefaults(t *testing.T) {
	opt := NewAdam(AdamConfig{})
	assert.Equal(t, float32(0.001), opt.GetLR())
	assert.Equal(t, float32(0.9), opt.beta1)
	assert.Equal(t, float32(0.999), opt.beta2)
}

func TestZeroGradClearsRecords(t *testing.T) {
	e, layers, input := fitChain(t)
	recs, err := e.Forward(layers, input, nil, pipeline.Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, recs, seed(t), pipeline.Options{}))
	require.NotNil(t, recs[0].Gradient)

	ZeroGrad(recs)
	for i := range recs {
		assert.Nil(t, recs[i].Gradient)
		assert.Empty(t, recs[i].ParamGrads)
	}
}

func TestStepRejectsMismatchedGradients(t *testing.T) {
	e, layers, input := fitChain(t)
	recs, err := e.Forward(layers, input, nil, pipeline.Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, recs, seed(t), pipeline.Options{}))

	// Detach the bias: the recorded gradients no longer line up.
	layers[0].Bias = nil
	err = NewSGD(SGDConfig{LR: 0.1}).Step(layers, recs)
	require.Error(t, err)
}
