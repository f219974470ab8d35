package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ml/strand/internal/backend/cpu"
	"github.com/strand-ml/strand/internal/tensor"
)

func testExec() *Executor {
	return New(cpu.NewSeeded(7))
}

func f32(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(data, shape, tensor.CPU)
	require.NoError(t, err)
	return r
}

func i32(t *testing.T, data []int32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromInt32(data, shape, tensor.CPU)
	require.NoError(t, err)
	return r
}

func scalarOne(t *testing.T) *tensor.RawTensor {
	return f32(t, []float32{1}, 1)
}

// patterned fills a shape with a deterministic mix of signs and
// magnitudes so gradients have no accidental structure.
func patterned(t *testing.T, shape ...int) *tensor.RawTensor {
	r := tensor.Zeros(shape, tensor.CPU)
	data := r.AsFloat32()
	for i := range data {
		data[i] = float32((i%7)-3) * 0.25
	}
	return r
}

// regressionChain is a small but complete differentiable pipeline:
// affine projection, rectifier, mean squared error.
func regressionChain(t *testing.T) ([]Layer, *tensor.RawTensor) {
	weight := patterned(t, 3, 4)
	bias := f32(t, []float32{0.1, -0.2, 0.3, 0}, 4)
	targets := patterned(t, 2, 4)
	layers := []Layer{
		{Kind: DotProduct, Weight: weight, Bias: bias},
		{Kind: ReLU},
		{Kind: LossMSE, Targets: targets},
	}
	input := f32(t, []float32{0.5, -1, 2, 0.25, 1.5, -0.75}, 2, 3)
	return layers, input
}

func TestClassificationChain(t *testing.T) {
	layers := []Layer{
		{Kind: DotProduct, Weight: patterned(t, 3, 4), Name: "proj"},
		{Kind: LossSoftmaxLog, Targets: i32(t, []int32{1, 2}, 2)},
	}
	input := patterned(t, 2, 3)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	loss := recs[2].Activation.AsFloat32()[0]
	assert.Greater(t, loss, float32(0))

	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{}))
	require.NotNil(t, recs[0].Gradient)
	require.Len(t, recs[1].ParamGrads, 1, "no bias, no bias gradient")
	assert.Equal(t, tensor.Shape{3, 4}, recs[1].ParamGrads[0].Shape())
}

func TestForwardFillsAllBoundaries(t *testing.T) {
	layers, input := regressionChain(t)
	recs, err := testExec().Forward(layers, input, nil, Options{})
	require.NoError(t, err)
	require.Len(t, recs, len(layers)+1)
	for i := range recs {
		assert.NotNil(t, recs[i].Activation, "boundary %d", i)
	}
	assert.Equal(t, tensor.Shape{1}, recs[3].Activation.Shape())
	var spent time.Duration
	for i := range recs {
		spent += recs[i].ForwardTime
	}
	assert.Greater(t, spent.Nanoseconds(), int64(0))
}

func TestForwardEmptyChain(t *testing.T) {
	_, err := testExec().Forward(nil, nil, nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyPipeline)
}

func TestForwardRecordsLengthMismatch(t *testing.T) {
	layers, input := regressionChain(t)
	_, err := testExec().Forward(layers, input, make([]StateRecord, 2), Options{})
	require.Error(t, err)
}

func TestForwardResumptionSkipsComputedLayers(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	full, err := e.Forward(layers, input, nil, Options{})
	require.NoError(t, err)

	// Resume from a copy with the final boundary cleared and the input
	// gone: only the loss layer should run again, reading the
	// still-present boundary 2.
	partial := NewRecords(len(layers))
	for i := range full {
		partial[i].Activation = full[i].Activation
	}
	partial[0].Activation = nil
	partial[3].Activation = nil

	resumed, err := e.Forward(layers, nil, partial, Options{})
	require.NoError(t, err)
	assert.Nil(t, resumed[0].Activation, "skipped layers never touch their inputs")
	for i := 1; i < len(full); i++ {
		diff := cmp.Diff(full[i].Activation.AsFloat32(), resumed[i].Activation.AsFloat32())
		assert.Empty(t, diff, "boundary %d", i)
	}
}

func TestForwardResumptionMissingInput(t *testing.T) {
	layers, _ := regressionChain(t)
	_, err := testExec().Forward(layers, nil, nil, Options{})
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, serr.Layer)
}

func TestForwardUnknownKind(t *testing.T) {
	layers := []Layer{{Kind: LayerKind(99)}}
	_, err := testExec().Forward(layers, patterned(t, 1, 2), nil, Options{})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, cerr.Layer)
}

func TestBackwardUnknownKindFailsBeforeAnyKernel(t *testing.T) {
	layers, input := regressionChain(t)
	recs, err := testExec().Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)

	bad := append([]Layer{{Kind: LayerKind(99)}}, layers...)
	badRecs := NewRecords(len(bad))
	copy(badRecs[1:], recs)
	err = testExec().Backward(bad, badRecs, scalarOne(t), Options{})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, cerr.Layer)
	// The layers that could have run must not have produced gradients.
	assert.Nil(t, badRecs[3].Gradient)
	assert.Empty(t, badRecs[2].ParamGrads)
}

func TestBackwardGradientMatchesFiniteDifferences(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{}))
	require.NotNil(t, recs[0].Gradient)
	require.Len(t, recs[1].ParamGrads, 2)

	lossAt := func(x *tensor.RawTensor) float32 {
		r, err := e.Forward(layers, x, nil, Options{})
		require.NoError(t, err)
		return r[len(layers)].Activation.AsFloat32()[0]
	}

	const eps = 1e-2
	data := input.AsFloat32()
	grad := recs[0].Gradient.AsFloat32()
	for j := range data {
		orig := data[j]
		data[j] = orig + eps
		plus := lossAt(input)
		data[j] = orig - eps
		minus := lossAt(input)
		data[j] = orig
		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, grad[j], 2e-2, "input element %d", j)
	}
}

func TestBackwardParamGradFiniteDifferences(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{}))

	lossNow := func() float32 {
		r, err := e.Forward(layers, input, nil, Options{})
		require.NoError(t, err)
		return r[len(layers)].Activation.AsFloat32()[0]
	}

	const eps = 1e-2
	w := layers[0].Weight.AsFloat32()
	dw := recs[1].ParamGrads[0].AsFloat32()
	for j := range w {
		orig := w[j]
		w[j] = orig + eps
		plus := lossNow()
		w[j] = orig - eps
		minus := lossNow()
		w[j] = orig
		numeric := float64((plus - minus) / (2 * eps))
		if math.Abs(numeric-float64(dw[j])) > 2e-2 {
			t.Errorf("weight %d: numeric %.4f, analytic %.4f", j, numeric, dw[j])
		}
	}
}

func TestBackwardAccumulateDoublesGradients(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{}))

	once := append([]float32(nil), recs[1].ParamGrads[0].AsFloat32()...)
	onceInput := append([]float32(nil), recs[0].Gradient.AsFloat32()...)

	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{Accumulate: true}))
	for j, v := range recs[1].ParamGrads[0].AsFloat32() {
		assert.InDelta(t, 2*once[j], v, 1e-6)
	}
	// Boundary gradients are overwritten, not accumulated: they feed the
	// chain within one pass.
	for j, v := range recs[0].Gradient.AsFloat32() {
		assert.InDelta(t, onceInput[j], v, 1e-6)
	}
}

func TestBackwardDepthLimitsWork(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{BackPropDepth: 2}))

	// The loss and rectifier ran; the projection did not.
	assert.NotNil(t, recs[1].Gradient)
	assert.Nil(t, recs[0].Gradient)
	assert.Empty(t, recs[1].ParamGrads)
}

func TestConserveMemoryInferenceDropsIntermediates(t *testing.T) {
	layers, input := regressionChain(t)
	recs, err := testExec().Forward(layers, input, nil, Options{ConserveMemory: true})
	require.NoError(t, err)

	assert.NotNil(t, recs[0].Activation, "network input survives")
	assert.Nil(t, recs[1].Activation)
	assert.NotNil(t, recs[2].Activation, "loss input survives for score readout")
	assert.NotNil(t, recs[3].Activation, "final output survives")
}

func TestConserveMemoryKeepsBackwardNeeds(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{ConserveMemory: true, WillBackward: true})
	require.NoError(t, err)

	// Only the rectifier's input may go; its backward reads the output
	// side instead.
	assert.Nil(t, recs[1].Activation)
	assert.NotNil(t, recs[2].Activation)

	require.NoError(t, e.Backward(layers, recs, scalarOne(t), Options{ConserveMemory: true}))
	require.NotNil(t, recs[0].Gradient)
	require.Len(t, recs[1].ParamGrads, 2)
	// Consumed gradients are released as the pass walks down.
	assert.Nil(t, recs[3].Gradient)
	assert.Nil(t, recs[2].Gradient)
}

func TestConserveMemoryMatchesPlainGradients(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()

	plain, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, plain, scalarOne(t), Options{}))

	lean, err := e.Forward(layers, input, nil, Options{ConserveMemory: true, WillBackward: true})
	require.NoError(t, err)
	require.NoError(t, e.Backward(layers, lean, scalarOne(t), Options{ConserveMemory: true}))

	diff := cmp.Diff(plain[0].Gradient.AsFloat32(), lean[0].Gradient.AsFloat32())
	assert.Empty(t, diff)
	diff = cmp.Diff(plain[1].ParamGrads[0].AsFloat32(), lean[1].ParamGrads[0].AsFloat32())
	assert.Empty(t, diff)
}

func TestSingleRectifier(t *testing.T) {
	layers := []Layer{{Kind: ReLU}}
	input := f32(t, []float32{-1, 1, 1, -1, -1, 1}, 2, 3)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{})
	require.NoError(t, err)
	for j, v := range recs[1].Activation.AsFloat32() {
		want := float32(0)
		if input.AsFloat32()[j] > 0 {
			want = input.AsFloat32()[j]
		}
		assert.Equal(t, want, v, "element %d", j)
	}

	require.NoError(t, e.Backward(layers, recs, tensor.Ones(input.Shape(), tensor.CPU), Options{}))
	for j, v := range recs[0].Gradient.AsFloat32() {
		want := float32(0)
		if input.AsFloat32()[j] > 0 {
			want = 1
		}
		assert.Equal(t, want, v, "element %d", j)
	}
}

func TestConserveMemoryKeepsRectifierOutputs(t *testing.T) {
	layers := []Layer{
		{Kind: DotProduct, Weight: patterned(t, 3, 4)},
		{Kind: ReLU},
		{Kind: DotProduct, Weight: patterned(t, 4, 2)},
		{Kind: Tanh},
	}
	input := patterned(t, 2, 3)
	recs, err := testExec().Forward(layers, input, nil, Options{ConserveMemory: true})
	require.NoError(t, err)

	assert.Nil(t, recs[1].Activation)
	assert.NotNil(t, recs[2].Activation, "rectifier output survives")
	assert.Nil(t, recs[3].Activation)
	assert.NotNil(t, recs[4].Activation)
}

func TestRememberOutputPinsActivation(t *testing.T) {
	layers := []Layer{
		{Kind: DotProduct, Weight: patterned(t, 3, 4), RememberOutput: true},
		{Kind: Scale, Alpha: 2},
		{Kind: Tanh},
	}
	input := patterned(t, 2, 3)
	recs, err := testExec().Forward(layers, input, nil, Options{ConserveMemory: true})
	require.NoError(t, err)
	assert.NotNil(t, recs[1].Activation, "pinned")
	assert.Nil(t, recs[2].Activation)
	assert.NotNil(t, recs[3].Activation)
}

func TestDropoutModes(t *testing.T) {
	layers := []Layer{{Kind: Dropout, Rate: 0.5}}
	input := tensor.Ones(tensor.Shape{4, 8}, tensor.CPU)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{})
	require.NoError(t, err)
	require.NotNil(t, recs[1].Aux, "training pass records its mask")
	first := append([]float32(nil), recs[1].Activation.AsFloat32()...)

	// Frozen: same mask, same output.
	frozen, err := e.Forward(layers, input, []StateRecord{{}, {Aux: recs[1].Aux}}, Options{FreezeDropout: true})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, frozen[1].Activation.AsFloat32()))

	// Disabled: identity, and the stale mask is cleared so backward is
	// identity too.
	off, err := e.Forward(layers, input, []StateRecord{{}, {Aux: recs[1].Aux}}, Options{DisableDropout: true})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(input.AsFloat32(), off[1].Activation.AsFloat32()))
	assert.Nil(t, off[1].Aux)

	require.NoError(t, e.Backward(layers, off, tensor.Ones(tensor.Shape{4, 8}, tensor.CPU), Options{}))
	for _, v := range off[0].Gradient.AsFloat32() {
		assert.Equal(t, float32(1), v)
	}
}

func TestDropoutFreezeWithoutMask(t *testing.T) {
	layers := []Layer{{Kind: Dropout, Rate: 0.5}}
	input := tensor.Ones(tensor.Shape{2, 2}, tensor.CPU)
	_, err := testExec().Forward(layers, input, nil, Options{FreezeDropout: true})
	var kerr *KernelError
	require.ErrorAs(t, err, &kerr)
	assert.True(t, errors.Is(err, errMissingMask))
}

func TestDropoutModeConflict(t *testing.T) {
	layers := []Layer{{Kind: Dropout, Rate: 0.5}}
	input := tensor.Ones(tensor.Shape{2, 2}, tensor.CPU)
	_, err := testExec().Forward(layers, input, nil, Options{DisableDropout: true, FreezeDropout: true})
	assert.ErrorIs(t, err, ErrDropoutModeConflict)
}

func TestReshapeRoundTrip(t *testing.T) {
	layers := []Layer{
		{Kind: Reshape, NewShape: []int{2, -1}},
		{Kind: Scale, Alpha: 3},
	}
	input := patterned(t, 1, 2, 2, 3)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 6}, recs[1].Activation.Shape())

	require.NoError(t, e.Backward(layers, recs, tensor.Ones(tensor.Shape{2, 6}, tensor.CPU), Options{}))
	assert.Equal(t, input.Shape(), recs[0].Gradient.Shape())
	for _, v := range recs[0].Gradient.AsFloat32() {
		assert.Equal(t, float32(3), v)
	}
}

func TestCustomLayerRoundTrip(t *testing.T) {
	// A hand-rolled doubling layer with its own backward.
	double := Layer{
		Kind: Custom,
		Forward: func(b tensor.Backend, _ *Layer, in *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor, error) {
			out, err := b.Scale(in, 2)
			return out, nil, err
		},
		Backward: func(b tensor.Backend, _ *Layer, _, _, g *tensor.RawTensor) (*tensor.RawTensor, []*tensor.RawTensor, error) {
			dx, err := b.Scale(g, 2)
			return dx, nil, err
		},
	}
	layers := []Layer{double}
	input := patterned(t, 2, 3)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{WillBackward: true})
	require.NoError(t, err)
	for j, v := range recs[1].Activation.AsFloat32() {
		assert.Equal(t, 2*input.AsFloat32()[j], v)
	}

	require.NoError(t, e.Backward(layers, recs, tensor.Ones(input.Shape(), tensor.CPU), Options{}))
	for _, v := range recs[0].Gradient.AsFloat32() {
		assert.Equal(t, float32(2), v)
	}
}

func TestCustomLayerWithoutBackward(t *testing.T) {
	layers := []Layer{{
		Kind: Custom,
		Forward: func(_ tensor.Backend, _ *Layer, in *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor, error) {
			return in.Clone(), nil, nil
		},
	}}
	input := patterned(t, 2, 2)
	e := testExec()

	recs, err := e.Forward(layers, input, nil, Options{})
	require.NoError(t, err)

	err = e.Backward(layers, recs, tensor.Ones(input.Shape(), tensor.CPU), Options{})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestBackwardMissingActivation(t *testing.T) {
	layers, input := regressionChain(t)
	e := testExec()
	recs, err := e.Forward(layers, input, nil, Options{})
	require.NoError(t, err)
	recs[0].Activation = nil

	err = e.Backward(layers, recs, scalarOne(t), Options{})
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, serr.Layer)
}

func TestLayerValidation(t *testing.T) {
	input := patterned(t, 1, 2)
	cases := []struct {
		name  string
		layer Layer
	}{
		{"conv without weight", Layer{Kind: Conv}},
		{"pool without size", Layer{Kind: Pool}},
		{"norm without window", Layer{Kind: Normalize}},
		{"dropout rate one", Layer{Kind: Dropout, Rate: 1}},
		{"loss without targets", Layer{Kind: LossMSE}},
		{"reshape without shape", Layer{Kind: Reshape}},
		{"custom without forward", Layer{Kind: Custom}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testExec().Forward([]Layer{tc.layer}, input, nil, Options{})
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
		})
	}
}

func TestKernelErrorCarriesLayerContext(t *testing.T) {
	// A 2D input reaches a convolution, which wants 4D.
	layers := []Layer{{Kind: Conv, Weight: patterned(t, 1, 1, 2, 2)}}
	_, err := testExec().Forward(layers, patterned(t, 2, 3), nil, Options{})
	var kerr *KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, 0, kerr.Layer)
	assert.Equal(t, Conv, kerr.Kind)
	assert.NotNil(t, kerr.Unwrap())
}
