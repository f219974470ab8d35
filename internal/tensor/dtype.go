// Package tensor provides the core tensor types for the Strand executor.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types.
//
// Float32 is the numeric type of every kernel; Int32 carries class-label
// targets for the classification losses.
const (
	Float32 DataType = iota
	Float64
	Int32
	Bool
)

// Size returns the byte size of one element of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64:
		return 8
	case Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}
