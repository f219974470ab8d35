package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ml/strand/internal/tensor"
)

func TestDropoutMaskStructure(t *testing.T) {
	b := NewSeeded(7)
	x := tensor.Ones(tensor.Shape{1000}, tensor.CPU)

	y, mask, err := b.Dropout(x, 0.5)
	require.NoError(t, err)

	md := mask.AsFloat32()
	yd := y.AsFloat32()
	kept := 0
	for i := range md {
		switch md[i] {
		case 0:
			assert.Zero(t, yd[i])
		case 2: // 1/(1-0.5)
			assert.InDelta(t, 2, yd[i], 1e-6)
			kept++
		default:
			t.Fatalf("mask element %d = %v, want 0 or 2", i, md[i])
		}
	}
	// Keep ratio should be near 1-rate; a wide band keeps this robust.
	assert.Greater(t, kept, 350)
	assert.Less(t, kept, 650)
}

func TestDropoutFrozenMaskReplays(t *testing.T) {
	b := NewSeeded(11)
	x, _ := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{6}, tensor.CPU)

	y1, mask, err := b.Dropout(x, 0.3)
	require.NoError(t, err)
	y2, err := b.DropoutMask(x, mask)
	require.NoError(t, err)
	assert.Equal(t, y1.AsFloat32(), y2.AsFloat32())
}

func TestDropoutBackwardUsesMask(t *testing.T) {
	b := New()
	mask, _ := tensor.FromFloat32([]float32{0, 2, 2, 0}, tensor.Shape{4}, tensor.CPU)
	dy, _ := tensor.FromFloat32([]float32{5, 5, 7, 7}, tensor.Shape{4}, tensor.CPU)

	dx, err := b.DropoutBackward(mask, dy)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 10, 14, 0}, dx.AsFloat32())
}

func TestDropoutRejectsBadRate(t *testing.T) {
	b := New()
	x := tensor.Ones(tensor.Shape{4}, tensor.CPU)
	_, _, err := b.Dropout(x, 1)
	assert.Error(t, err)
	_, _, err = b.Dropout(x, -0.1)
	assert.Error(t, err)
}
