package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ml/strand/internal/tensor"
)

func TestMSELoss(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, tensor.CPU)
	targets, _ := tensor.FromFloat32([]float32{1, 1, 3, 2}, tensor.Shape{2, 2}, tensor.CPU)

	loss, err := b.MSELoss(x, targets)
	require.NoError(t, err)
	// Squared errors: 0, 1, 0, 4 -> mean 1.25.
	assert.InDelta(t, 1.25, loss.AsFloat32()[0], 1e-6)

	dx, err := b.MSELossBackward(x, targets, scalarOne())
	require.NoError(t, err)
	assert.InDelta(t, 0, dx.AsFloat32()[0], 1e-6)
	assert.InDelta(t, 0.5, dx.AsFloat32()[1], 1e-6)
	assert.InDelta(t, 1, dx.AsFloat32()[3], 1e-6)
}

func TestLogLoss(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{0.5, 0.5, 0.9, 0.1}, tensor.Shape{2, 2}, tensor.CPU)
	targets, _ := tensor.FromInt32([]int32{0, 0}, tensor.Shape{2}, tensor.CPU)

	loss, err := b.LogLoss(x, targets)
	require.NoError(t, err)
	want := -(math.Log(0.5) + math.Log(0.9)) / 2
	assert.InDelta(t, want, float64(loss.AsFloat32()[0]), 1e-5)

	dx, err := b.LogLossBackward(x, targets, scalarOne())
	require.NoError(t, err)
	assert.InDelta(t, -1/(2*0.5), dx.AsFloat32()[0], 1e-5)
	assert.InDelta(t, 0, dx.AsFloat32()[1], 1e-6) // non-target class untouched
}

func TestSoftmaxLogLossMatchesComposition(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{1, 2, 3, -1, 0, 1}, tensor.Shape{2, 3}, tensor.CPU)
	targets, _ := tensor.FromInt32([]int32{2, 0}, tensor.Shape{2}, tensor.CPU)

	fused, err := b.SoftmaxLogLoss(x, targets)
	require.NoError(t, err)

	probs, err := b.Softmax(x)
	require.NoError(t, err)
	composed, err := b.LogLoss(probs, targets)
	require.NoError(t, err)

	assert.InDelta(t, composed.AsFloat32()[0], fused.AsFloat32()[0], 1e-5)
}

func TestBCELoss(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{0.8, 0.2}, tensor.Shape{1, 2}, tensor.CPU)
	targets, _ := tensor.FromFloat32([]float32{1, 0}, tensor.Shape{1, 2}, tensor.CPU)

	loss, err := b.BCELoss(x, targets)
	require.NoError(t, err)
	want := -(math.Log(0.8) + math.Log(0.8)) / 2
	assert.InDelta(t, want, float64(loss.AsFloat32()[0]), 1e-5)
}

func TestBCELossClampsExtremes(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{0, 1}, tensor.Shape{1, 2}, tensor.CPU)
	targets, _ := tensor.FromFloat32([]float32{1, 0}, tensor.Shape{1, 2}, tensor.CPU)

	loss, err := b.BCELoss(x, targets)
	require.NoError(t, err)
	assert.False(t, math.IsInf(float64(loss.AsFloat32()[0]), 0))
	assert.False(t, math.IsNaN(float64(loss.AsFloat32()[0])))
}

func TestPDistLoss(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{1, -1, 2, 0}, tensor.Shape{2, 2}, tensor.CPU)
	targets, _ := tensor.FromFloat32([]float32{0, 0, 0, 0}, tensor.Shape{2, 2}, tensor.CPU)

	// p=2 reduces to mean squared difference.
	loss, err := b.PDistLoss(x, targets, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, loss.AsFloat32()[0], 1e-5)

	// p=1 is the mean absolute difference; gradient is the sign pattern.
	dx, err := b.PDistLossBackward(x, targets, 1, scalarOne())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, dx.AsFloat32()[0], 1e-5)
	assert.InDelta(t, -0.25, dx.AsFloat32()[1], 1e-5)

	_, err = b.PDistLoss(x, targets, -1)
	assert.Error(t, err)
}

func TestClassLossRejectsBadTargets(t *testing.T) {
	b := New()
	x := tensor.Zeros(tensor.Shape{2, 3}, tensor.CPU)

	outOfRange, _ := tensor.FromInt32([]int32{0, 3}, tensor.Shape{2}, tensor.CPU)
	_, err := b.SoftmaxLogLoss(x, outOfRange)
	assert.Error(t, err)

	wrongCount, _ := tensor.FromInt32([]int32{0, 1, 1}, tensor.Shape{3}, tensor.CPU)
	_, err = b.LogLoss(x, wrongCount)
	assert.Error(t, err)

	_, err = b.LogLoss(x, nil)
	assert.Error(t, err)
}

func TestGANDiscriminatorLossAtZeroLogits(t *testing.T) {
	b := New()
	x := tensor.Zeros(tensor.Shape{1, 4}, tensor.CPU)
	targets, _ := tensor.FromFloat32([]float32{1, 0, 1, 0}, tensor.Shape{1, 4}, tensor.CPU)

	loss, err := b.GANDiscriminatorLoss(x, targets)
	require.NoError(t, err)
	// softplus(0) = log 2 regardless of target.
	assert.InDelta(t, math.Log(2), float64(loss.AsFloat32()[0]), 1e-5)
}
