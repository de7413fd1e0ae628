// Package ports picks collision-free listen ports inside a template's
// declared range.
package ports

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrPortExhaustion is returned when no free port was found after the
// probe budget.
var ErrPortExhaustion = errors.New("port range exhausted")

// probeBudget bounds the random search. Random probing instead of a linear
// scan avoids clustering when many templates share a range and keeps the
// common mostly-empty-range case O(1).
const probeBudget = 100

// UsedPortsReader is the slice of the store the allocator needs.
type UsedPortsReader interface {
	UsedPorts(nodeID uint) (map[int]bool, error)
}

// Allocator allocates listen ports for a node's inbounds.
type Allocator struct {
	Store UsedPortsReader
}

// Allocate returns a port in [start, end] not currently used by the node.
// The range is normalized first: inverted bounds are swapped and both ends
// clamped to [1, 65535]. Used ports are re-read at call time so concurrent
// duplicate runs converge instead of compounding.
func (a Allocator) Allocate(nodeID uint, start, end int) (int, error) {
	used, err := a.Store.UsedPorts(nodeID)
	if err != nil {
		return 0, fmt.Errorf("read used ports: %w", err)
	}
	return Pick(used, start, end)
}

// Pick draws up to probeBudget uniform candidates from the normalized
// range and returns the first free one.
func Pick(used map[int]bool, start, end int) (int, error) {
	start, end = Normalize(start, end)
	span := end - start + 1
	for i := 0; i < probeBudget; i++ {
		p := start + rand.Intn(span)
		if !used[p] {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in [%d, %d] after %d probes", ErrPortExhaustion, start, end, probeBudget)
}

// Normalize swaps inverted bounds and clamps both into [1, 65535].
func Normalize(start, end int) (int, int) {
	if start > end {
		start, end = end, start
	}
	if start < 1 {
		start = 1
	}
	if end > 65535 {
		end = 65535
	}
	if end < start {
		end = start
	}
	return start, end
}
