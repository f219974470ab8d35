package pipeline

import (
	"time"

	"github.com/strand-ml/strand/internal/tensor"
)

// StateRecord carries everything the executor knows about one boundary
// between layers. Records[i] holds the input of layer i; Records[n] holds
// the final output of an n-layer chain. A nil tensor means "not computed"
// (skipped, reclaimed, or outside the requested depth), which is distinct
// from a real zero-valued tensor.
type StateRecord struct {
	// Activation is the tensor flowing forward across this boundary.
	Activation *tensor.RawTensor

	// Gradient is the derivative of the pipeline output with respect to
	// Activation, filled by Backward.
	Gradient *tensor.RawTensor

	// ParamGrads holds the derivatives with respect to the producing
	// layer's parameters, in weight-then-bias order. It belongs to the
	// layer whose output this record holds, so Records[i+1].ParamGrads
	// are layer i's parameter gradients. Records[0] never has any.
	ParamGrads []*tensor.RawTensor

	// Aux is per-layer working state a kernel needs to invert itself:
	// the dropout mask, or batch moments computed on the fly.
	Aux *tensor.RawTensor

	// ForwardTime and BackwardTime accumulate wall-clock time spent in
	// the kernel that produced this record.
	ForwardTime  time.Duration
	BackwardTime time.Duration
}

// NewRecords allocates the n+1 empty records a chain of n layers needs.
func NewRecords(n int) []StateRecord {
	return make([]StateRecord, n+1)
}
