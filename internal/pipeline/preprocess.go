package pipeline

import (
	"fmt"

	"github.com/strand-ml/strand/internal/tensor"
)

// ChannelMean computes the per-channel mean of a [N,C,H,W] float32 batch,
// the statistic usually subtracted from inputs before the first layer.
func ChannelMean(input *tensor.RawTensor) ([]float32, error) {
	if input.DType() != tensor.Float32 || len(input.Shape()) != 4 {
		return nil, fmt.Errorf("channel mean expects a 4D float32 tensor, got %s %v", input.DType(), input.Shape())
	}
	shape := input.Shape()
	n, c, plane := shape[0], shape[1], shape[2]*shape[3]
	data := input.AsFloat32()
	mean := make([]float64, c)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			base := (b*c + ch) * plane
			for j := 0; j < plane; j++ {
				mean[ch] += float64(data[base+j])
			}
		}
	}
	out := make([]float32, c)
	count := float64(n * plane)
	for ch := range mean {
		out[ch] = float32(mean[ch] / count)
	}
	return out, nil
}

// SubtractMean returns a copy of input with mean[c] removed from every
// element of channel c.
func SubtractMean(input *tensor.RawTensor, mean []float32) (*tensor.RawTensor, error) {
	if input.DType() != tensor.Float32 || len(input.Shape()) != 4 {
		return nil, fmt.Errorf("subtract mean expects a 4D float32 tensor, got %s %v", input.DType(), input.Shape())
	}
	shape := input.Shape()
	if len(mean) != shape[1] {
		return nil, fmt.Errorf("mean has %d channels, input has %d", len(mean), shape[1])
	}
	out := input.Clone()
	n, c, plane := shape[0], shape[1], shape[2]*shape[3]
	data := out.AsFloat32()
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			base := (b*c + ch) * plane
			m := mean[ch]
			for j := 0; j < plane; j++ {
				data[base+j] -= m
			}
		}
	}
	return out, nil
}
