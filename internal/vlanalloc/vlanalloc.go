// Package vlanalloc allocates 802.1Q VLAN IDs to users within a fixed
// range, one allocator per challenge.
package vlanalloc

import (
	"fmt"
	"sync"
)

const (
	// MinVLAN and MaxVLAN bound the allocatable range, inclusive.
	MinVLAN = 10
	MaxVLAN = 4000

	rangeSize = MaxVLAN - MinVLAN + 1
)

// ExhaustionError reports that a challenge's VLAN range is fully
// allocated.
type ExhaustionError struct {
	Min, Max int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("vlan range [%d, %d] exhausted", e.Min, e.Max)
}

// Allocator hands out unique VLAN IDs in [MinVLAN, MaxVLAN]. It is a
// deterministic bitmap over the range rather than the randomized-retry
// scheme of the original implementation: a rotating cursor finds the next
// free slot in O(rangeSize) worst case and never loops indefinitely.
type Allocator struct {
	mu     sync.Mutex
	inUse  []bool
	cursor int
	count  int
}

// New returns an empty Allocator over [MinVLAN, MaxVLAN].
func New() *Allocator {
	return &Allocator{inUse: make([]bool, rangeSize)}
}

// Allocate reserves and returns the next free VLAN ID, or *ExhaustionError
// if the range is full.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count >= rangeSize {
		return 0, &ExhaustionError{Min: MinVLAN, Max: MaxVLAN}
	}

	for i := 0; i < rangeSize; i++ {
		idx := (a.cursor + i) % rangeSize
		if !a.inUse[idx] {
			a.inUse[idx] = true
			a.count++
			a.cursor = (idx + 1) % rangeSize
			return idx + MinVLAN, nil
		}
	}

	// count was wrong somehow; treat as exhaustion rather than panic.
	return 0, &ExhaustionError{Min: MinVLAN, Max: MaxVLAN}
}

// Release frees a previously-allocated VLAN ID. Idempotent: releasing an
// ID that is not currently in use, or out of range, is a no-op.
func (a *Allocator) Release(vlan int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if vlan < MinVLAN || vlan > MaxVLAN {
		return
	}
	idx := vlan - MinVLAN
	if a.inUse[idx] {
		a.inUse[idx] = false
		a.count--
	}
}

// InUse reports whether vlan is currently allocated.
func (a *Allocator) InUse(vlan int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if vlan < MinVLAN || vlan > MaxVLAN {
		return false
	}
	return a.inUse[vlan-MinVLAN]
}

// Count returns the number of currently-allocated VLAN IDs.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
