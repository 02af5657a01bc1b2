package orchestrator

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// BatchResult pairs one batch query with its outcome, in input order.
type BatchResult struct {
	Prompt string
	Result *Result
	Err    error
}

// ProcessParallel runs a batch with simple bounded parallelism: the input is
// partitioned into fixed-size chunks and each chunk's items run concurrently,
// with the whole chunk awaited before the next begins. This is a predictable
// primitive, not a general scheduler.
func (o *Orchestrator) ProcessParallel(ctx context.Context, prompts []string, concurrency int, opts Options) []BatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]BatchResult, len(prompts))

	offset := 0
	for _, chunk := range lo.Chunk(prompts, concurrency) {
		var wg sync.WaitGroup
		for i, prompt := range chunk {
			wg.Add(1)
			go func(idx int, p string) {
				defer wg.Done()
				res, err := o.Process(ctx, p, opts)
				results[idx] = BatchResult{Prompt: p, Result: res, Err: err}
			}(offset+i, prompt)
		}
		wg.Wait()
		offset += len(chunk)
	}
	return results
}
