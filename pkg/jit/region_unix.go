//go:build linux || darwin || freebsd || netbsd || openbsd

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Map copies code into a fresh anonymous mapping and flips it to
// read+execute. The region stays mapped until Release.
func Map(code []byte) (*Region, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("jit: empty code")
	}

	pageSize := unix.Getpagesize()
	size := ((len(code) + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap code region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nil, fmt.Errorf("jit: mprotect code region: %w", err)
	}

	release = false
	return &Region{
		mem:  mem,
		addr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
		size: len(code),
	}, nil
}

func (r *Region) unmap() error {
	return unix.Munmap(r.mem)
}
