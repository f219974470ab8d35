// Package parallel provides the loop-splitting helper the CPU kernels use
// to spread batch work across cores. This parallelism is internal to a
// kernel call: the pipeline above it stays strictly sequential.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a kernel loop is split.
type Config struct {
	Enabled   bool // run iterations across goroutines
	Workers   int  // goroutine count
	MinElems  int  // below this iteration count, stay sequential
}

// DefaultConfig sizes workers to the CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:  n > 1,
		Workers:  n,
		MinElems: 4,
	}
}

// For runs f(i) for i in [0, n), split across workers when that pays off.
// f must not touch another iteration's output.
func For(n int, cfg Config, f func(i int)) {
	if !cfg.Enabled || n < cfg.MinElems || cfg.Workers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := (n + cfg.Workers - 1) / cfg.Workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatchChannel runs f(n, c) over a batch x channels grid, the iteration
// shape of most convolutional kernels.
func ForBatchChannel(batch, channels int, cfg Config, f func(n, c int)) {
	For(batch*channels, cfg, func(k int) {
		f(k/channels, k%channels)
	})
}
