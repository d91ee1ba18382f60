//go:build property

package watcher

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/wpbuilder/internal/vfile"
)

var kinds = []vfile.Event{vfile.EventAdd, vfile.EventChange, vfile.EventUnlink, vfile.EventAddDir, vfile.EventUnlinkDir}

// TestDebouncerProperties validates in-order coalescing of event bursts.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	replay := func(paths, kindIdx []int) ([]Pending, map[string]vfile.Event, map[string]int) {
		d := NewDebouncer()
		last := make(map[string]vfile.Event)
		lastPos := make(map[string]int)
		n := len(paths)
		if len(kindIdx) < n {
			n = len(kindIdx)
		}
		for i := 0; i < n; i++ {
			path := fmt.Sprintf("/src/p%d", paths[i])
			kind := kinds[kindIdx[i]]
			d.Add(path, kind)
			last[path] = kind
			lastPos[path] = i
		}
		return d.Drain(), last, lastPos
	}

	properties.Property("each path appears once with its last event", prop.ForAll(
		func(paths, kindIdx []int) bool {
			drained, last, _ := replay(paths, kindIdx)
			if len(drained) != len(last) {
				return false
			}
			seen := make(map[string]bool)
			for _, p := range drained {
				if seen[p.Path] || last[p.Path] != p.Kind {
					return false
				}
				seen[p.Path] = true
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.IntRange(0, len(kinds)-1)),
	))

	properties.Property("events are ordered by last occurrence", prop.ForAll(
		func(paths, kindIdx []int) bool {
			drained, _, lastPos := replay(paths, kindIdx)
			for i := 1; i < len(drained); i++ {
				if lastPos[drained[i-1].Path] >= lastPos[drained[i].Path] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.IntRange(0, len(kinds)-1)),
	))

	properties.TestingRun(t)
}
