package pipeline

// Options tunes one executor pass. The zero value asks for a plain
// training-style pass: keep every activation, fresh dropout masks, fresh
// gradients, full depth.
type Options struct {
	// ConserveMemory lets Forward release intermediate activations that
	// no later computation needs. Boundaries a backward pass will need
	// survive, as do rectifier inputs (their backward works from the
	// output side) and anything a layer pins with RememberOutput.
	ConserveMemory bool

	// WillBackward tells Forward that a backward pass over the same
	// records is coming, which restricts what ConserveMemory may drop.
	WillBackward bool

	// Sync inserts a backend barrier after every layer so per-layer
	// timings measure the kernel rather than queue submission.
	Sync bool

	// DisableDropout runs dropout layers as identity, the inference
	// setting. FreezeDropout reuses the mask already present in the
	// record instead of drawing a fresh one. At most one may be set.
	DisableDropout bool
	FreezeDropout  bool

	// Accumulate adds parameter gradients into whatever the records
	// already hold instead of overwriting, for gradient accumulation
	// across sub-batches.
	Accumulate bool

	// BackPropDepth limits Backward to the last BackPropDepth layers.
	// Zero means unbounded.
	BackPropDepth int
}

func (o Options) validate() error {
	if o.DisableDropout && o.FreezeDropout {
		return ErrDropoutModeConflict
	}
	return nil
}
