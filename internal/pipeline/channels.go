package pipeline

import (
	"context"
	"sync"

	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// Merge fans several event streams into one. Order within one input is
// kept; there is no ordering across inputs. The output closes once every
// input is closed or ctx is done.
func Merge(ctx context.Context, inputs ...<-chan *vfile.File) <-chan *vfile.File {
	out := make(chan *vfile.File)

	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for _, in := range inputs {
		go func(in <-chan *vfile.File) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case f, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- f:
					case <-ctx.Done():
						return
					}
				}
			}
		}(in)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
