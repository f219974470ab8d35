package pipeline

import (
	"fmt"
	"time"

	"github.com/strand-ml/strand/internal/tensor"
)

// Executor runs a linear chain of layers forward and backward over a
// shared record array. It owns no state of its own beyond the backend, so
// a single Executor can serve any number of pipelines concurrently as
// long as the record arrays are distinct.
type Executor struct {
	backend tensor.Backend
}

// New creates an Executor over the given backend.
func New(b tensor.Backend) *Executor {
	return &Executor{backend: b}
}

// Backend returns the backend the executor dispatches to.
func (e *Executor) Backend() tensor.Backend {
	return e.backend
}

// Forward evaluates the chain on input, filling records[i+1] with the
// output of layer i. A nil records allocates a fresh array; passing a
// partially filled one resumes the pass, skipping every layer whose
// output is already present. A nil input is allowed when records[0] (or
// a later boundary covering the whole remaining chain) is already set.
//
// The returned slice is records itself unless a fresh array was
// allocated.
func (e *Executor) Forward(layers []Layer, input *tensor.RawTensor, records []StateRecord, opts Options) ([]StateRecord, error) {
	n := len(layers)
	if n == 0 {
		return nil, ErrEmptyPipeline
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if records == nil {
		records = NewRecords(n)
	} else if len(records) != n+1 {
		return nil, fmt.Errorf("records length %d does not match %d layers", len(records), n)
	}
	for i := range layers {
		if err := layers[i].validate(i); err != nil {
			return nil, err
		}
	}

	if input != nil {
		records[0].Activation = input
	}

	for i := 0; i < n; i++ {
		l := &layers[i]
		if records[i+1].Activation != nil {
			// Already computed on a previous pass.
			continue
		}
		in := records[i].Activation
		if in == nil {
			return records, stateErr(i, l.Kind, "input activation missing")
		}

		fn := forwardTable[l.Kind]
		start := time.Now()
		out, aux, err := fn(e.backend, l, in, records[i+1].Aux, opts)
		if err != nil {
			return records, kernelErr(i, l.Kind, err)
		}
		if opts.Sync {
			e.backend.Sync()
		}
		records[i+1].ForwardTime += time.Since(start)
		records[i+1].Activation = out
		// Overwriting with nil matters: a disabled-dropout pass must not
		// leave a stale mask for Backward to apply.
		records[i+1].Aux = aux

		if reclaimable(layers, i, opts) {
			records[i].Activation = nil
		}
	}
	return records, nil
}

// reclaimable reports whether records[i], the input of the layer just
// executed, can be dropped. The network input is never dropped, and a
// loss layer keeps its input so callers can still read the scores it
// reduced. With a backward pass pending only a rectifier may shed its
// input, and only when the producing layer's backward does not read its
// own output.
func reclaimable(layers []Layer, i int, opts Options) bool {
	if !opts.ConserveMemory || i == 0 || layers[i].Kind.IsLoss() {
		return false
	}
	prev := &layers[i-1]
	if prev.RememberOutput || prev.Kind.IsLoss() {
		return false
	}
	if !opts.WillBackward {
		// Rectifier outputs stay: they are the one boundary a later
		// resumed backward can still differentiate through.
		return prev.Kind != ReLU
	}
	return layers[i].Kind == ReLU && !needsOutputForBackward(prev.Kind)
}

// needsOutputForBackward reports whether a kind's backward reads the
// activation on its output side.
func needsOutputForBackward(k LayerKind) bool {
	switch k {
	case ReLU, Sigmoid, Tanh, Softmax:
		return true
	}
	return false
}

// needsInputForBackward reports whether a kind's backward reads the
// activation on its input side. ReLU is listed false: it accepts either
// side and the executor checks it separately.
func needsInputForBackward(k LayerKind) bool {
	switch k {
	case ReLU, Sigmoid, Tanh, Softmax, Dropout, Scale:
		return false
	}
	return true
}

// Backward pushes outputGrad from the final record toward the input,
// filling records[i].Gradient and, for parameterized layers,
// records[i+1].ParamGrads. Records must come from a Forward call over the
// same layers. A nil outputGrad reuses the gradient already seeded at the
// final record.
//
// With Accumulate set, parameter gradients add into whatever the records
// already hold; boundary gradients are always overwritten. BackPropDepth
// > 0 stops after that many layers counted from the output.
func (e *Executor) Backward(layers []Layer, records []StateRecord, outputGrad *tensor.RawTensor, opts Options) error {
	n := len(layers)
	if n == 0 {
		return ErrEmptyPipeline
	}
	if err := opts.validate(); err != nil {
		return err
	}
	if len(records) != n+1 {
		return fmt.Errorf("records length %d does not match %d layers", len(records), n)
	}
	lowest := 0
	if opts.BackPropDepth > 0 && opts.BackPropDepth < n {
		lowest = n - opts.BackPropDepth
	}
	for i := lowest; i < n; i++ {
		l := &layers[i]
		if err := l.validate(i); err != nil {
			return err
		}
		if l.Kind == Custom && l.Backward == nil {
			return configErr(i, l.Kind, "missing backward function")
		}
		if _, ok := backwardTable[l.Kind]; !ok {
			return configErr(i, l.Kind, "no backward form")
		}
	}

	if outputGrad != nil {
		records[n].Gradient = outputGrad
	}
	if records[n].Gradient == nil {
		return stateErr(n-1, layers[n-1].Kind, "no output gradient to propagate")
	}

	for i := n - 1; i >= lowest; i-- {
		l := &layers[i]
		g := records[i+1].Gradient
		if g == nil {
			return stateErr(i, l.Kind, "gradient missing at output boundary")
		}
		in := records[i].Activation
		out := records[i+1].Activation
		switch {
		case l.Kind == ReLU && in == nil && out == nil:
			return stateErr(i, l.Kind, "both activations reclaimed")
		case needsInputForBackward(l.Kind) && in == nil && l.Kind != Custom:
			return stateErr(i, l.Kind, "input activation reclaimed")
		case needsOutputForBackward(l.Kind) && l.Kind != ReLU && out == nil:
			return stateErr(i, l.Kind, "output activation reclaimed")
		}

		fn := backwardTable[l.Kind]
		start := time.Now()
		dx, pgrads, err := fn(e.backend, l, in, out, records[i+1].Aux, g)
		if err != nil {
			return kernelErr(i, l.Kind, err)
		}
		if opts.Sync {
			e.backend.Sync()
		}
		records[i+1].BackwardTime += time.Since(start)

		// Accumulate applies to parameter gradients only. Boundary
		// gradients are always overwritten: they feed the next layer
		// down within this same pass.
		records[i].Gradient = dx
		if err := storeParamGrads(&records[i+1], pgrads, opts.Accumulate); err != nil {
			return stateErr(i, l.Kind, "parameter gradients: %v", err)
		}

		if opts.ConserveMemory {
			records[i+1].Gradient = nil
		}
	}
	return nil
}

func storeParamGrads(rec *StateRecord, pgrads []*tensor.RawTensor, acc bool) error {
	if len(pgrads) == 0 {
		return nil
	}
	if !acc || len(rec.ParamGrads) != len(pgrads) {
		rec.ParamGrads = pgrads
		return nil
	}
	for j, pg := range pgrads {
		if err := accumulate(rec.ParamGrads[j], pg); err != nil {
			return err
		}
	}
	return nil
}

// accumulate adds src into dst element by element.
func accumulate(dst, src *tensor.RawTensor) error {
	if !dst.Shape().Equal(src.Shape()) {
		return fmt.Errorf("cannot accumulate %v into %v", src.Shape(), dst.Shape())
	}
	if dst.DType() != tensor.Float32 || src.DType() != tensor.Float32 {
		return fmt.Errorf("accumulate expects float32 gradients")
	}
	d := dst.AsFloat32()
	for j, v := range src.AsFloat32() {
		d[j] += v
	}
	return nil
}
