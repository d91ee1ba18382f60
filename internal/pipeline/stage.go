// Package pipeline provides the composable stages the sync and build flows
// are assembled from.
//
// A Stage consumes one VirtualFile and produces zero or more. Stages are
// combined by plain function composition:
//   - Chain runs stages in sequence, feeding every output to the next stage
//   - Filter and Map drop or rewrite files
//   - DoAction and Tee run side effects without changing the stream
//   - Parallel broadcasts a file to several branches and joins their output
//
// Run drives a Stage from a channel of events on a KeyedQueue so that the
// causal chain of one package is strictly sequential while packages proceed
// concurrently.
package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// Stage transforms one file into zero or more files.
type Stage interface {
	Process(ctx context.Context, file *vfile.File) ([]*vfile.File, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, file *vfile.File) ([]*vfile.File, error)

// Process calls fn.
func (fn StageFunc) Process(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
	return fn(ctx, file)
}

// Pass is the identity stage.
var Pass Stage = StageFunc(func(_ context.Context, file *vfile.File) ([]*vfile.File, error) {
	return []*vfile.File{file}, nil
})

// Chain runs stages in order. The first error stops the chain for that file.
func Chain(stages ...Stage) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		current := []*vfile.File{file}
		for _, stage := range stages {
			var next []*vfile.File
			for _, f := range current {
				out, err := stage.Process(ctx, f)
				if err != nil {
					return nil, err
				}
				next = append(next, out...)
			}
			if len(next) == 0 {
				return nil, nil
			}
			current = next
		}
		return current, nil
	})
}

// Filter keeps files for which keep returns true.
func Filter(keep func(ctx context.Context, file *vfile.File) bool) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		if !keep(ctx, file) {
			return nil, nil
		}
		return []*vfile.File{file}, nil
	})
}

// Map rewrites each file. Returning a nil file drops it.
func Map(fn func(ctx context.Context, file *vfile.File) (*vfile.File, error)) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		out, err := fn(ctx, file)
		if err != nil || out == nil {
			return nil, err
		}
		return []*vfile.File{out}, nil
	})
}

// DoAction runs fn and passes the file through unchanged.
func DoAction(fn func(ctx context.Context, file *vfile.File) error) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		if err := fn(ctx, file); err != nil {
			return nil, err
		}
		return []*vfile.File{file}, nil
	})
}

// Tee runs side on a copy of the file and passes the original through.
// The side branch output is discarded; its error is returned after the
// original has been forwarded.
func Tee(side Stage) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		_, err := side.Process(ctx, file.Clone())
		return []*vfile.File{file}, err
	})
}

// Parallel broadcasts a copy of the file to every branch, runs the
// branches concurrently and joins their outputs in branch order. A failing
// branch does not cancel its siblings.
func Parallel(branches ...Stage) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		outputs := make([][]*vfile.File, len(branches))
		errs := make([]error, len(branches))

		var g errgroup.Group
		for i, branch := range branches {
			i, branch := i, branch
			input := file
			if len(branches) > 1 {
				input = file.Clone()
			}
			g.Go(func() error {
				outputs[i], errs[i] = branch.Process(ctx, input)
				return nil
			})
		}
		_ = g.Wait()

		var joined []*vfile.File
		for _, out := range outputs {
			joined = append(joined, out...)
		}
		return joined, errors.Join(errs...)
	})
}

// Switch routes a file to the stage registered for its key. Files whose
// key has no stage are dropped.
func Switch[K comparable](key func(ctx context.Context, file *vfile.File) K, routes map[K]Stage) Stage {
	return StageFunc(func(ctx context.Context, file *vfile.File) ([]*vfile.File, error) {
		stage, ok := routes[key(ctx, file)]
		if !ok {
			return nil, nil
		}
		return stage.Process(ctx, file)
	})
}
