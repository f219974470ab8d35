package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
//
// Convolutional kernels use the [N, C, H, W] convention: batch, channels,
// height, width. The loss kernels expect [N, C].
type Shape []int

// NumElements returns the total number of elements for the shape.
// A zero-length shape is a scalar with one element.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension %d at axis %d (must be > 0)", dim, i)
		}
	}
	return nil
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	copy(c, s)
	return c
}
