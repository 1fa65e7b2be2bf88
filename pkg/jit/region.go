// Package jit holds machine code in executable memory. It stands in for the
// JIT compiler that hands raw code addresses to the trampoline builder, and
// ships a few hand-assembled routines per architecture.
package jit

import (
	"fmt"
	"sync"
)

// Region is an executable mapping holding one routine.
type Region struct {
	mem  []byte
	addr uint64
	size int

	once sync.Once
	err  error
}

// Address returns the entry point of the code.
func (r *Region) Address() uint64 { return r.addr }

// Size returns the number of code bytes.
func (r *Region) Size() int { return r.size }

// Release unmaps the region. Calling any trampoline bound to it afterwards
// is undefined behaviour. Release is idempotent.
func (r *Region) Release() error {
	r.once.Do(func() {
		if err := r.unmap(); err != nil {
			r.err = fmt.Errorf("jit: munmap code region: %w", err)
		}
		r.mem = nil
	})
	return r.err
}
