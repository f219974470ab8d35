package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ml/strand/internal/tensor"
)

func TestMaxPool2DForward(t *testing.T) {
	b := New()
	// 4x4 plane, 2x2 windows, stride 2.
	x, err := tensor.FromFloat32([]float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		-1, -2, 0, 0,
		-3, -4, 9, 0,
	}, tensor.Shape{1, 1, 4, 4}, tensor.CPU)
	require.NoError(t, err)

	y, err := b.MaxPool2D(x, 2, 2)
	require.NoError(t, err)
	assert.True(t, y.Shape().Equal(tensor.Shape{1, 1, 2, 2}))
	assert.Equal(t, []float32{4, 8, -1, 9}, y.AsFloat32())
}

func TestMaxPool2DBackwardRoutesToArgmax(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		-1, -2, 0, 0,
		-3, -4, 9, 0,
	}, tensor.Shape{1, 1, 4, 4}, tensor.CPU)
	dy, _ := tensor.FromFloat32([]float32{10, 20, 30, 40}, tensor.Shape{1, 1, 2, 2}, tensor.CPU)

	dx, err := b.MaxPool2DBackward(x, dy, 2, 2)
	require.NoError(t, err)
	want := []float32{
		0, 0, 0, 0,
		0, 10, 0, 20,
		30, 0, 0, 0,
		0, 0, 40, 0,
	}
	assert.Equal(t, want, dx.AsFloat32())
}

func TestAvgPool2DForward(t *testing.T) {
	b := New()
	x, _ := tensor.FromFloat32([]float32{
		1, 3, 5, 7,
		1, 3, 5, 7,
		2, 2, 8, 8,
		2, 2, 8, 8,
	}, tensor.Shape{1, 1, 4, 4}, tensor.CPU)

	y, err := b.AvgPool2D(x, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 6, 2, 8}, y.AsFloat32())
}

func TestPoolRejectsOversizedWindow(t *testing.T) {
	b := New()
	x := tensor.Zeros(tensor.Shape{1, 1, 3, 3}, tensor.CPU)
	_, err := b.MaxPool2D(x, 5, 1)
	assert.Error(t, err)
	_, err = b.AvgPool2D(x, 5, 1)
	assert.Error(t, err)
}
